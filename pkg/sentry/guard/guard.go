// Package guard validates and bounds ad-hoc (Tier 2) queries before they
// ever touch a store. The pipeline is fail-closed: a candidate that cannot
// be fully understood is rejected, never passed through.
package guard

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/sentry/pkg/sentry/adaptor/database"
	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	metrics "github.com/tigerroll/sentry/pkg/sentry/core/metrics"
	exception "github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"
)

const moduleName = "guard"

// forbiddenKeywords are the data-mutation, schema-mutation, and
// privilege-grant verbs that disqualify a candidate outright, wherever
// they appear in the text.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "REPLACE", "MERGE", "UPSERT",
	"DROP", "ALTER", "CREATE", "TRUNCATE", "RENAME",
	"GRANT", "REVOKE",
	"CALL", "EXECUTE", "EXEC", "PREPARE",
	"LOCK", "UNLOCK", "SET", "USE",
	"LOAD", "OUTFILE", "INFILE", "HANDLER", "SHUTDOWN",
}

// wordPattern extracts identifier-like tokens for keyword scanning.
var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// tablePattern captures the identifier following FROM or JOIN. Quoted or
// qualified names intentionally do not match; they fail the whitelist
// check, which is the safe direction.
var tablePattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+(\x60?[A-Za-z_][A-Za-z0-9_.]*\x60?)`)

// limitPattern captures an existing LIMIT clause and its row count.
var limitPattern = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)(?:\s*,\s*\d+|\s+OFFSET\s+\d+)?\s*$`)

// SafeQuery is a candidate that passed every validation rule. The SQL it
// carries always includes a row cap.
type SafeQuery struct {
	SQL    string
	Tables []string
}

// Guard validates ad-hoc query candidates and executes the survivors
// against a read-only store connection.
type Guard struct {
	store     *gorm.DB
	recorder  metrics.MetricRecorder
	whitelist map[string]struct{}
	rowLimit  int
	timeout   time.Duration
}

// NewGuard creates a Guard over the workflow/task stores.
func NewGuard(cfg *config.Config, stores *database.Stores, recorder metrics.MetricRecorder) *Guard {
	whitelist := make(map[string]struct{}, len(cfg.Sentry.Guard.TableWhitelist))
	for _, table := range cfg.Sentry.Guard.TableWhitelist {
		whitelist[strings.ToUpper(table)] = struct{}{}
	}
	return &Guard{
		store:     stores.Workflow,
		recorder:  recorder,
		whitelist: whitelist,
		rowLimit:  cfg.Sentry.Guard.RowLimit,
		timeout:   time.Duration(cfg.Sentry.Guard.TimeoutSeconds) * time.Second,
	}
}

// Validate checks a candidate query against every rule and returns it as a
// SafeQuery with a row cap in place. Any rejection, including a parsing
// ambiguity, is a ValidationError and the candidate is never executed.
func (g *Guard) Validate(ctx context.Context, candidate string) (*SafeQuery, error) {
	reject := func(reason string) (*SafeQuery, error) {
		g.recorder.RecordGuardRejection(ctx, reason)
		logger.Warnf("Rejected ad-hoc query (%s): %s", reason, candidate)
		return nil, exception.Newf(moduleName, exception.KindValidation,
			"query rejected: %s", reason)
	}

	stripped, ok := stripComments(candidate)
	if !ok {
		return reject("unterminated comment")
	}
	stripped = strings.TrimSpace(stripped)
	if stripped == "" {
		return reject("empty statement")
	}

	// Exactly one statement. A trailing semicolon is tolerated; an interior
	// one is a second statement.
	trimmed := strings.TrimSuffix(stripped, ";")
	if strings.Contains(trimmed, ";") {
		return reject("multiple statements")
	}
	trimmed = strings.TrimSpace(trimmed)

	// Read-only selection only.
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return reject("not a read-only selection")
	}

	// Forbidden keyword scan over every token, case-insensitive. String
	// literals are not excluded; a keyword smuggled inside one still
	// rejects, which errs on the closed side.
	for _, word := range wordPattern.FindAllString(trimmed, -1) {
		upper := strings.ToUpper(word)
		for _, forbidden := range forbiddenKeywords {
			if upper == forbidden {
				return reject(fmt.Sprintf("forbidden keyword %s", forbidden))
			}
		}
	}

	// Every referenced table must be whitelisted. Failing to find any table
	// reference means we could not understand the query; that is a
	// rejection, not a pass.
	tables := referencedTables(trimmed)
	if len(tables) == 0 {
		return reject("unable to determine referenced tables")
	}
	for _, table := range tables {
		if strings.ContainsAny(table, ".`") {
			return reject(fmt.Sprintf("unsupported table reference %s", table))
		}
		if _, ok := g.whitelist[strings.ToUpper(table)]; !ok {
			return reject(fmt.Sprintf("table %s is not whitelisted", table))
		}
	}

	// Row cap: clamp an existing LIMIT, inject one when absent.
	capped := g.applyRowCap(trimmed)

	return &SafeQuery{SQL: capped, Tables: tables}, nil
}

// Execute runs a validated query against the read-only store under the hard
// statement timeout and returns the rows as generic maps.
func (g *Guard) Execute(ctx context.Context, safe *SafeQuery) ([]map[string]interface{}, error) {
	if safe == nil || safe.SQL == "" {
		return nil, exception.Newf(moduleName, exception.KindValidation, "no validated query to execute")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	var rows []map[string]interface{}
	err := g.store.WithContext(ctx).Raw(safe.SQL).Scan(&rows).Error
	g.recorder.RecordToolCall(ctx, "tier2_execute", time.Since(started), err != nil)
	if err != nil {
		return nil, exception.FromDBError(moduleName, "tier2_execute", err)
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return rows, nil
}

// stripComments removes -- line comments and /* */ block comments. The
// second return is false when a block comment never closes.
func stripComments(input string) (string, bool) {
	var b strings.Builder
	i := 0
	for i < len(input) {
		if strings.HasPrefix(input[i:], "--") {
			end := strings.IndexByte(input[i:], '\n')
			if end < 0 {
				break
			}
			i += end
			continue
		}
		if strings.HasPrefix(input[i:], "/*") {
			end := strings.Index(input[i:], "*/")
			if end < 0 {
				return "", false
			}
			// Replace the comment with a space so tokens never merge.
			b.WriteByte(' ')
			i += end + 2
			continue
		}
		b.WriteByte(input[i])
		i++
	}
	return b.String(), true
}

// referencedTables extracts the identifiers following FROM and JOIN.
func referencedTables(query string) []string {
	matches := tablePattern.FindAllStringSubmatch(query, -1)
	seen := make(map[string]struct{})
	var tables []string
	for _, m := range matches {
		table := m[1]
		if _, ok := seen[table]; ok {
			continue
		}
		seen[table] = struct{}{}
		tables = append(tables, table)
	}
	return tables
}

// applyRowCap clamps an existing LIMIT to the configured cap, or appends
// one when the query carries none.
func (g *Guard) applyRowCap(query string) string {
	if m := limitPattern.FindStringSubmatch(query); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n <= g.rowLimit {
			return query
		}
		return limitPattern.ReplaceAllString(query, fmt.Sprintf("LIMIT %d", g.rowLimit))
	}
	return fmt.Sprintf("%s LIMIT %d", query, g.rowLimit)
}
