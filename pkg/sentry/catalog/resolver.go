package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	model "github.com/tigerroll/sentry/pkg/sentry/core/domain/model"
	metrics "github.com/tigerroll/sentry/pkg/sentry/core/metrics"
	exception "github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"
)

// cacheEntry is one cached definition with its fetch time.
type cacheEntry struct {
	def       *model.BatchDefinition
	fetchedAt time.Time
}

// Resolver maps user-facing batch names to catalog definitions. Definitions
// are cached with a TTL, and concurrent cache misses for the same name are
// collapsed into a single fetch.
type Resolver struct {
	client   Client
	ttl      time.Duration
	aliases  map[string]string // normalized alias -> canonical name
	recorder metrics.MetricRecorder
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group
}

// NewResolver creates a Resolver from the catalog configuration.
func NewResolver(cfg *config.Config, client Client, recorder metrics.MetricRecorder) *Resolver {
	aliases := make(map[string]string, len(cfg.Sentry.Catalog.Aliases))
	for alias, canonical := range cfg.Sentry.Catalog.Aliases {
		aliases[normalizeName(alias)] = canonical
	}
	return &Resolver{
		client:   client,
		ttl:      time.Duration(cfg.Sentry.Catalog.TTLSeconds) * time.Second,
		aliases:  aliases,
		recorder: recorder,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// normalizeName uppercases the name and folds runs of whitespace and
// hyphens into single spaces, so "SNU-Strategic", "snu strategic", and
// "SNU  STRATEGIC" all key the same alias entry.
func normalizeName(name string) string {
	fields := strings.FieldsFunc(strings.ToUpper(name), func(r rune) bool {
		return r == '-' || unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

// ResolveName maps a user-facing batch name to its canonical catalog name.
//
// Lookup is case-insensitive and whitespace/hyphen-normalized. When no
// alias matches exactly, the input is accepted if it is a substring of an
// alias or of a canonical name, so "deriv" lands on TB-Derivatives.
func (r *Resolver) ResolveName(userInput string) (string, error) {
	normalized := normalizeName(userInput)
	if normalized == "" {
		return "", exception.Newf(moduleName, exception.KindUnknownBatch, "empty batch name")
	}

	if canonical, ok := r.aliases[normalized]; ok {
		return canonical, nil
	}

	// Substring fallback, deterministic over sorted aliases. The input must
	// sit inside an alias or canonical name, never the other way around, so
	// a short alias cannot swallow a longer distinct batch name.
	keys := make([]string, 0, len(r.aliases))
	for k := range r.aliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		canonical := r.aliases[k]
		if strings.Contains(k, normalized) || strings.Contains(normalizeName(canonical), normalized) {
			return canonical, nil
		}
	}

	return "", exception.Newf(moduleName, exception.KindUnknownBatch,
		"unknown batch '%s'; valid names: %s", userInput, strings.Join(r.KnownNames(), ", "))
}

// KnownNames returns the sorted user-facing alias names.
func (r *Resolver) KnownNames() []string {
	names := make([]string, 0, len(r.aliases))
	for alias := range r.aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	return names
}

// CanonicalNames returns the sorted set of distinct canonical catalog names.
func (r *Resolver) CanonicalNames() []string {
	seen := make(map[string]struct{})
	for _, canonical := range r.aliases {
		seen[canonical] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a user-facing name to its canonical name and returns the
// cached or freshly fetched definition for it.
func (r *Resolver) Resolve(ctx context.Context, userInput string) (*model.BatchDefinition, error) {
	canonical, err := r.ResolveName(userInput)
	if err != nil {
		return nil, err
	}
	return r.GetDefinition(ctx, canonical)
}

// GetDefinition returns the definition for a canonical catalog name, serving
// from cache while the entry is fresh. Concurrent misses for the same name
// share one upstream fetch.
func (r *Resolver) GetDefinition(ctx context.Context, canonical string) (*model.BatchDefinition, error) {
	if def, ok := r.cacheGet(canonical); ok {
		r.recorder.RecordCacheHit(ctx, canonical)
		logger.Debugf("Catalog cache hit for '%s'", canonical)
		return def, nil
	}
	r.recorder.RecordCacheMiss(ctx, canonical)

	result, err, _ := r.group.Do(canonical, func() (interface{}, error) {
		// Another caller may have populated the cache while we queued.
		if def, ok := r.cacheGet(canonical); ok {
			return def, nil
		}
		def, err := r.fetch(ctx, canonical)
		if err != nil {
			return nil, err
		}
		r.cacheSet(canonical, def)
		return def, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.BatchDefinition), nil
}

func (r *Resolver) fetch(ctx context.Context, canonical string) (*model.BatchDefinition, error) {
	logger.Infof("Fetching catalog definition for '%s'", canonical)
	raw, err := r.client.FetchDefinition(ctx, canonical)
	if err != nil {
		return nil, err
	}
	return ParseDefinition(raw, canonical)
}

func (r *Resolver) cacheGet(canonical string) (*model.BatchDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[canonical]
	if !ok || r.now().Sub(entry.fetchedAt) >= r.ttl {
		return nil, false
	}
	return entry.def, true
}

func (r *Resolver) cacheSet(canonical string, def *model.BatchDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[canonical] = cacheEntry{def: def, fetchedAt: r.now()}
}

// Invalidate clears the cache entry for one canonical name.
func (r *Resolver) Invalidate(canonical string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, canonical)
}

// InvalidateAll clears the whole definition cache.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cacheEntry)
}

// PrefetchAll warms the cache for every known canonical name. Individual
// fetch failures are collected and do not stop the remaining prefetches.
func (r *Resolver) PrefetchAll(ctx context.Context) error {
	var result *multierror.Error
	for _, canonical := range r.CanonicalNames() {
		def, err := r.GetDefinition(ctx, canonical)
		if err != nil {
			logger.Warnf("Failed to pre-fetch '%s': %v", canonical, err)
			result = multierror.Append(result, err)
			continue
		}
		logger.Infof("Pre-fetched: %s (%d datasets)", canonical, len(def.Datasets))
	}
	return result.ErrorOrNil()
}

// ResolveSliceFilter maps a fuzzy user slice reference to actual slice names
// for one dataset. The reference matches against catalog slices with spaces
// and hyphens normalized to underscores, so "EMEA" matches every EMEA slice.
func ResolveSliceFilter(def *model.BatchDefinition, datasetID, userRef string) []string {
	dataset := def.FindDataset(datasetID)
	if dataset == nil {
		return []string{}
	}
	normalized := strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_").Replace(userRef))
	matched := []string{}
	for _, slice := range dataset.AllSlices() {
		candidate := strings.ToUpper(strings.ReplaceAll(slice, "-", "_"))
		if strings.Contains(candidate, normalized) {
			matched = append(matched, slice)
		}
	}
	return matched
}
