package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	model "github.com/tigerroll/sentry/pkg/sentry/core/domain/model"
	metrics "github.com/tigerroll/sentry/pkg/sentry/core/metrics"
	exception "github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
)

// fakeClient serves canned definitions and counts upstream fetches.
type fakeClient struct {
	calls int64
	delay time.Duration
	fail  map[string]error
}

func (c *fakeClient) FetchDefinition(ctx context.Context, essentialName string) ([]byte, error) {
	atomic.AddInt64(&c.calls, 1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if err, ok := c.fail[essentialName]; ok {
		return nil, err
	}
	return []byte(fmt.Sprintf(`{
		"GLOBAL": {
			"%s": {
				"essentialName": "%s",
				"displayName": "%s",
				"context": "GLOBAL",
				"schemaJson": {
					"datasets": [
						{"datasetId": "ds_one", "sequenceOrder": 1,
						 "sliceGroups": {"REGIONS": ["AWS_AGG_EMEA", "AWS_AGG_APAC"]}}
					]
				}
			}
		}
	}`, essentialName, essentialName, essentialName)), nil
}

func newTestResolver(client Client) *Resolver {
	return NewResolver(config.NewConfig(), client, metrics.NewNoOpMetricRecorder())
}

func TestResolveName_AliasTable(t *testing.T) {
	r := newTestResolver(&fakeClient{})

	tests := []struct {
		input string
		want  string
	}{
		{"DERIV", "TB-Derivatives"},
		{"deriv", "TB-Derivatives"},
		{"  Deriv ", "TB-Derivatives"},
		{"6G", "6G-FR2052a-E2E"},
		{"fr2052a", "6G-FR2052a-E2E"},
		{"SNU", "SNU"},
	}
	for _, tt := range tests {
		got, err := r.ResolveName(tt.input)
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestResolveName_SubstringFallback(t *testing.T) {
	r := newTestResolver(&fakeClient{})

	// Input is a fragment of an alias.
	got, err := r.ResolveName("pbsyn")
	require.NoError(t, err)
	assert.Equal(t, "PBSynthetics", got)

	// Input is a fragment of a canonical name.
	got, err = r.ResolveName("tb-collateral")
	require.NoError(t, err)
	assert.Equal(t, "TB-Collateral", got)

	// A whole utterance is not a batch name; name extraction happens at
	// classification, and a short alias must never swallow surrounding text.
	_, err = r.ResolveName("the DERIV batch")
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindUnknownBatch))
}

func TestResolveName_WhitespaceHyphenInvariance(t *testing.T) {
	r := newTestResolver(&fakeClient{})

	tests := []struct {
		input string
		want  string
	}{
		{"SNU STRATEGIC", "SNU-Strategic"},
		{"SNU-STRATEGIC", "SNU-Strategic"},
		{"snu-strategic", "SNU-Strategic"},
		{"SNU  Strategic", "SNU-Strategic"},
		{"SNU-REG-STRATEGIC", "SNU-REG-STRATEGIC"},
		{"snu reg strategic", "SNU-REG-STRATEGIC"},
		{"SNU", "SNU"},
	}
	for _, tt := range tests {
		got, err := r.ResolveName(tt.input)
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestResolveName_Unknown(t *testing.T) {
	r := newTestResolver(&fakeClient{})

	_, err := r.ResolveName("NOPE-NOT-A-BATCH")
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindUnknownBatch))
	// The rejection names the valid aliases for the user.
	assert.Contains(t, err.Error(), "DERIV")
}

func TestGetDefinition_CachesWithinTTL(t *testing.T) {
	client := &fakeClient{}
	r := newTestResolver(client)

	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := r.GetDefinition(ctx, "TB-Derivatives")
	require.NoError(t, err)
	_, err = r.GetDefinition(ctx, "TB-Derivatives")
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&client.calls))

	// Advance past the TTL; the next lookup refetches.
	now = now.Add(301 * time.Second)
	_, err = r.GetDefinition(ctx, "TB-Derivatives")
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&client.calls))
}

func TestGetDefinition_SingleFlight(t *testing.T) {
	client := &fakeClient{delay: 50 * time.Millisecond}
	r := newTestResolver(client)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.GetDefinition(context.Background(), "SNU")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&client.calls))
}

func TestInvalidate(t *testing.T) {
	client := &fakeClient{}
	r := newTestResolver(client)

	ctx := context.Background()
	_, err := r.GetDefinition(ctx, "UPC")
	require.NoError(t, err)

	r.Invalidate("UPC")

	_, err = r.GetDefinition(ctx, "UPC")
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&client.calls))
}

func TestPrefetchAll_CollectsFailures(t *testing.T) {
	client := &fakeClient{fail: map[string]error{
		"SNU": fmt.Errorf("upstream down"),
	}}
	r := newTestResolver(client)

	err := r.PrefetchAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")

	// The failure did not stop other names from being cached.
	_, ok := r.cacheGet("TB-Derivatives")
	assert.True(t, ok)
	_, ok = r.cacheGet("SNU")
	assert.False(t, ok)
}

func TestResolveSliceFilter(t *testing.T) {
	def := &model.BatchDefinition{
		Name: "TB-Derivatives",
		Datasets: []model.DatasetDef{
			{
				DatasetID:     "deriv_aggregation",
				SequenceOrder: 1,
				SliceGroups: map[string][]string{
					"DERIV": {"AWS_OTC_DERIV_AGG_EMEA", "AWS_OTC_DERIV_AGG_APAC", "AWS-OTC-DERIV-AGG-NA"},
				},
			},
		},
	}

	assert.Equal(t, []string{"AWS_OTC_DERIV_AGG_EMEA"},
		ResolveSliceFilter(def, "deriv_aggregation", "EMEA"))

	// Hyphen and space differences are normalized on both sides.
	assert.Equal(t, []string{"AWS-OTC-DERIV-AGG-NA"},
		ResolveSliceFilter(def, "deriv_aggregation", "agg na"))

	assert.Empty(t, ResolveSliceFilter(def, "missing_dataset", "EMEA"))
	assert.Empty(t, ResolveSliceFilter(def, "deriv_aggregation", "LATAM"))
}
