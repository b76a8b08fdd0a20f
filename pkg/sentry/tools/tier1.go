// Package tools implements the Tier 1 parameterized queries against the
// monitoring stores. The caller's job is parameter extraction; these tools
// own the SQL.
//
// Every query filters on business date where applicable, carries a row cap,
// and binds parameters through placeholders, never string interpolation.
package tools

import (
	"context"
	"sort"
	"strings"
	"time"

	exception "github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"

	"github.com/tigerroll/sentry/pkg/sentry/adaptor/database"
	"github.com/tigerroll/sentry/pkg/sentry/aggregate"
	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	model "github.com/tigerroll/sentry/pkg/sentry/core/domain/model"
	metrics "github.com/tigerroll/sentry/pkg/sentry/core/metrics"
)

const moduleName = "tools"

// BatchStatusRow is one latest-run row returned by GetBatchStatus.
type BatchStatusRow struct {
	model.ExecutionRecord
	// ProcessingType is the trigger type rendered through the fixed mapping.
	ProcessingType string `json:"processing_type" gorm:"-"`
}

// BatchStatusResult is the outcome of GetBatchStatus.
type BatchStatusResult struct {
	Rows    []BatchStatusRow `json:"rows"`
	Summary map[string]int   `json:"summary"`
	Total   int              `json:"total"`
}

// TaskDetailsResult is the outcome of GetTaskDetails.
type TaskDetailsResult struct {
	Tasks   []model.TaskRecord `json:"tasks"`
	Summary map[string]int     `json:"summary"`
	Total   int                `json:"total"`
}

// SliceSummary is the latest run of one slice.
type SliceSummary struct {
	Status         string `json:"status"`
	ProcessingType string `json:"processing_type,omitempty"`
	RunID          string `json:"run_id,omitempty"`
	CreatedDate    string `json:"created_date,omitempty"`
	UpdatedDate    string `json:"updated_date,omitempty"`
	TotalRuns      int    `json:"total_runs"`
}

// SliceStatusResult is the outcome of GetSliceStatus.
type SliceStatusResult struct {
	Slices map[string]SliceSummary `json:"slices"`
	Total  int                     `json:"total"`
}

// ToolSet executes the Tier 1 parameterized queries.
type ToolSet struct {
	stores     *database.Stores
	aggregator *aggregate.Aggregator
	recorder   metrics.MetricRecorder

	rowLimit        int
	timeout         time.Duration
	historyMaxDates int
}

// NewToolSet creates a ToolSet bound to the monitoring stores.
func NewToolSet(cfg *config.Config, stores *database.Stores, aggregator *aggregate.Aggregator, recorder metrics.MetricRecorder) *ToolSet {
	return &ToolSet{
		stores:          stores,
		aggregator:      aggregator,
		recorder:        recorder,
		rowLimit:        cfg.Sentry.Query.RowLimit,
		timeout:         time.Duration(cfg.Sentry.Query.TimeoutSeconds) * time.Second,
		historyMaxDates: cfg.Sentry.Query.HistoryMaxDates,
	}
}

// triggerFor maps a user-supplied processing type onto the workflow store's
// trigger classification. Unknown or empty values yield no filter at all
// rather than a guessed one.
func triggerFor(processingType string) (string, bool) {
	p, ok := model.ParseProcessingType(strings.ToUpper(strings.TrimSpace(processingType)))
	if !ok {
		return "", false
	}
	return model.TriggerForProcessingType(p)
}

// clampLimit caps a requested limit at the configured row cap. A missing or
// non-positive limit gets the cap itself.
func (t *ToolSet) clampLimit(limit int) int {
	if limit <= 0 || limit > t.rowLimit {
		return t.rowLimit
	}
	return limit
}

// observe records the tool call and wraps the underlying store error.
// A missing table is a deployment problem, not a transient upstream one,
// and is classified separately so it is not retried as connectivity.
func (t *ToolSet) observe(ctx context.Context, tool string, started time.Time, err error) error {
	t.recorder.RecordToolCall(ctx, tool, time.Since(started), err != nil)
	if err != nil {
		logger.Errorf("%s failed: %v", tool, err)
		if database.IsTableMissing(err) {
			return exception.Newf(moduleName, exception.KindInternal,
				"%s queried a table missing from the store; check the store configuration", tool, err)
		}
		return exception.FromDBError(moduleName, tool, err)
	}
	return nil
}

const batchStatusColumns = `WORKFLOW_RUN_INSTANCE_KEY, WORKFLOW_ID, DAG_ID, DAG_RUN_ID,
       STATUS, STATUS_DETAIL, TRIGGER_TYPE, CREATED_DATE, UPDATED_DATE,
       OUTPUT_DATASET_ID, BUSINESS_DATE`

// GetBatchStatus returns the latest run per (dataset, trigger type) for the
// given datasets and business date.
func (t *ToolSet) GetBatchStatus(ctx context.Context, datasetIDs []string, businessDate, processingType string, statusFilter []string, limit int) (*BatchStatusResult, error) {
	if len(datasetIDs) == 0 {
		return &BatchStatusResult{Rows: []BatchStatusRow{}, Summary: map[string]int{}}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	started := time.Now()

	inner := `SELECT ` + batchStatusColumns + `,
       ROW_NUMBER() OVER(
           PARTITION BY OUTPUT_DATASET_ID, TRIGGER_TYPE
           ORDER BY CREATED_DATE DESC
       ) AS rn
FROM WORKFLOW_RUN_INSTANCE
WHERE BUSINESS_DATE = ? AND OUTPUT_DATASET_ID IN ?`
	args := []interface{}{businessDate, datasetIDs}

	if trigger, ok := triggerFor(processingType); ok {
		inner += ` AND TRIGGER_TYPE = ?`
		args = append(args, trigger)
	}

	query := `SELECT * FROM (` + inner + `) ranked WHERE rn = 1`
	if len(statusFilter) > 0 {
		query += ` AND STATUS IN ?`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY CREATED_DATE DESC LIMIT ?`
	args = append(args, t.clampLimit(limit))

	var records []model.ExecutionRecord
	err := t.stores.Workflow.WithContext(ctx).Raw(query, args...).Scan(&records).Error
	if err = t.observe(ctx, "get_batch_status", started, err); err != nil {
		return nil, err
	}

	result := &BatchStatusResult{
		Rows:    make([]BatchStatusRow, 0, len(records)),
		Summary: map[string]int{},
		Total:   len(records),
	}
	for _, rec := range records {
		result.Summary[string(rec.Status)]++
		result.Rows = append(result.Rows, BatchStatusRow{
			ExecutionRecord: rec,
			ProcessingType:  string(rec.ProcessingType()),
		})
	}
	return result, nil
}

// GetTaskDetails drills down from a failed run to its individual tasks.
// The run identifier in the workflow store joins the task store by exact
// equality with task_instance.run_id.
func (t *ToolSet) GetTaskDetails(ctx context.Context, runID string, stateFilter []string) (*TaskDetailsResult, error) {
	if runID == "" {
		return &TaskDetailsResult{Tasks: []model.TaskRecord{}, Summary: map[string]int{}}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	started := time.Now()

	query := `SELECT task_id, dag_id, run_id, state, duration, start_date, end_date,
       try_number, hostname, operator
FROM task_instance
WHERE run_id = ?`
	args := []interface{}{runID}

	if len(stateFilter) > 0 {
		query += ` AND state IN ?`
		args = append(args, stateFilter)
	}
	query += ` ORDER BY start_date LIMIT ?`
	args = append(args, t.rowLimit)

	var tasks []model.TaskRecord
	err := t.stores.Task.WithContext(ctx).Raw(query, args...).Scan(&tasks).Error
	if err = t.observe(ctx, "get_task_details", started, err); err != nil {
		return nil, err
	}

	result := &TaskDetailsResult{
		Tasks:   tasks,
		Summary: map[string]int{},
		Total:   len(tasks),
	}
	if result.Tasks == nil {
		result.Tasks = []model.TaskRecord{}
	}
	for _, task := range tasks {
		result.Summary[task.State]++
	}
	return result, nil
}

// GetSliceStatus reports the latest run per slice of one dataset. The slice
// patterns must come from the catalog definition; run identifiers are never
// parsed to discover slices.
func (t *ToolSet) GetSliceStatus(ctx context.Context, datasetID, businessDate string, slicePatterns []string, processingType string) (*SliceStatusResult, error) {
	if len(slicePatterns) == 0 {
		return &SliceStatusResult{Slices: map[string]SliceSummary{}}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	started := time.Now()

	query := `SELECT ` + batchStatusColumns + `
FROM WORKFLOW_RUN_INSTANCE
WHERE BUSINESS_DATE = ?
  AND OUTPUT_DATASET_ID = ?
  AND (`
	args := []interface{}{businessDate, datasetID}
	for i, pattern := range slicePatterns {
		if i > 0 {
			query += ` OR `
		}
		query += `DAG_RUN_ID LIKE ?`
		args = append(args, "%"+pattern+"%")
	}
	query += `)`

	if trigger, ok := triggerFor(processingType); ok {
		query += ` AND TRIGGER_TYPE = ?`
		args = append(args, trigger)
	}
	query += ` ORDER BY CREATED_DATE DESC LIMIT ?`
	args = append(args, t.rowLimit)

	var records []model.ExecutionRecord
	err := t.stores.Workflow.WithContext(ctx).Raw(query, args...).Scan(&records).Error
	if err = t.observe(ctx, "get_slice_status", started, err); err != nil {
		return nil, err
	}

	// Each row belongs to the first pattern its run identifier contains;
	// rows arrive newest first, so the first row per pattern is its latest.
	grouped := make(map[string][]model.ExecutionRecord, len(slicePatterns))
	for _, rec := range records {
		for _, pattern := range slicePatterns {
			if containsPattern(rec.RunID, pattern) {
				grouped[pattern] = append(grouped[pattern], rec)
				break
			}
		}
	}

	result := &SliceStatusResult{
		Slices: make(map[string]SliceSummary, len(slicePatterns)),
		Total:  len(records),
	}
	for _, pattern := range slicePatterns {
		rows := grouped[pattern]
		if len(rows) == 0 {
			result.Slices[pattern] = SliceSummary{Status: "NOT_STARTED"}
			continue
		}
		latest := rows[0]
		summary := SliceSummary{
			Status:         string(latest.Status),
			ProcessingType: string(latest.ProcessingType()),
			RunID:          latest.RunID,
			CreatedDate:    latest.CreatedDate.Format(time.RFC3339),
			TotalRuns:      len(rows),
		}
		if latest.UpdatedDate != nil {
			summary.UpdatedDate = latest.UpdatedDate.Format(time.RFC3339)
		}
		result.Slices[pattern] = summary
	}
	return result, nil
}

func containsPattern(runID, pattern string) bool {
	return pattern != "" && strings.Contains(runID, pattern)
}

// FetchExecutionRecords fetches every record for the given datasets and
// business date, for latest-per-slice reduction by the aggregator.
func (t *ToolSet) FetchExecutionRecords(ctx context.Context, datasetIDs []string, businessDate, processingType string) ([]model.ExecutionRecord, error) {
	if len(datasetIDs) == 0 {
		return []model.ExecutionRecord{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	started := time.Now()

	query := `SELECT ` + batchStatusColumns + `
FROM WORKFLOW_RUN_INSTANCE
WHERE BUSINESS_DATE = ? AND OUTPUT_DATASET_ID IN ?`
	args := []interface{}{businessDate, datasetIDs}

	if trigger, ok := triggerFor(processingType); ok {
		query += ` AND TRIGGER_TYPE = ?`
		args = append(args, trigger)
	}
	query += ` ORDER BY CREATED_DATE DESC LIMIT ?`
	args = append(args, t.rowLimit)

	var records []model.ExecutionRecord
	err := t.stores.Workflow.WithContext(ctx).Raw(query, args...).Scan(&records).Error
	if err = t.observe(ctx, "fetch_execution_records", started, err); err != nil {
		return nil, err
	}
	if records == nil {
		records = []model.ExecutionRecord{}
	}
	return records, nil
}

// GetBatchProgress fetches the batch's execution records and delegates the
// sequence-aware classification to the aggregator.
func (t *ToolSet) GetBatchProgress(ctx context.Context, def *model.BatchDefinition, businessDate, processingType string) (*aggregate.BatchProgress, error) {
	records, err := t.FetchExecutionRecords(ctx, def.DatasetIDs(), businessDate, processingType)
	if err != nil {
		return nil, err
	}
	return t.aggregator.Aggregate(def, records, businessDate, processingType), nil
}

// DateStats is the per-date runtime summary of GetHistoricalRuns.
type DateStats struct {
	BusinessDate string  `json:"business_date"`
	RunCount     int     `json:"run_count"`
	MinMinutes   int     `json:"min_minutes"`
	MaxMinutes   int     `json:"max_minutes"`
	AvgMinutes   float64 `json:"avg_minutes"`
}

// OverallStats summarizes runtimes across the whole look-back window.
type OverallStats struct {
	P50Minutes  int     `json:"p50_minutes"`
	P90Minutes  int     `json:"p90_minutes"`
	P95Minutes  int     `json:"p95_minutes"`
	AvgMinutes  float64 `json:"avg_minutes"`
	SampleCount int     `json:"sample_count"`
}

// HistoryResult is the outcome of GetHistoricalRuns.
type HistoryResult struct {
	History []DateStats  `json:"history"`
	Stats   OverallStats `json:"stats"`
	// AnomalousDates lists business dates whose average runtime exceeded
	// twice the overall median despite succeeding.
	AnomalousDates []string `json:"anomalous_dates,omitempty"`
}

// historyRow is the raw scan target of the history query.
type historyRow struct {
	BusinessDate    string `gorm:"column:BUSINESS_DATE"`
	DurationMinutes *int   `gorm:"column:duration_minutes"`
}

// GetHistoricalRuns computes per-date runtime statistics over the N most
// recent business dates with successful runs of one dataset.
func (t *ToolSet) GetHistoricalRuns(ctx context.Context, datasetID string, lastNDates int, processingType string) (*HistoryResult, error) {
	if lastNDates <= 0 || lastNDates > t.historyMaxDates {
		lastNDates = t.historyMaxDates
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	started := time.Now()

	triggerClause := ``
	triggerArgs := []interface{}{}
	if trigger, ok := triggerFor(processingType); ok {
		triggerClause = ` AND TRIGGER_TYPE = ?`
		triggerArgs = append(triggerArgs, trigger)
	}

	// MySQL rejects LIMIT directly inside an IN subquery (error 1235), so
	// the recent-dates selection goes through a derived table.
	datesQuery := `SELECT BUSINESS_DATE FROM (
    SELECT DISTINCT BUSINESS_DATE
    FROM WORKFLOW_RUN_INSTANCE
    WHERE OUTPUT_DATASET_ID = ?
      AND STATUS = 'SUCCESS'` + triggerClause + `
    ORDER BY BUSINESS_DATE DESC
    LIMIT ?
) recent_dates`

	query := `SELECT BUSINESS_DATE,
       TIMESTAMPDIFF(MINUTE, CREATED_DATE, UPDATED_DATE) AS duration_minutes
FROM WORKFLOW_RUN_INSTANCE
WHERE OUTPUT_DATASET_ID = ?
  AND STATUS = 'SUCCESS'
  AND BUSINESS_DATE IN (` + datesQuery + `)` + triggerClause + `
ORDER BY BUSINESS_DATE DESC, CREATED_DATE DESC
LIMIT ?`

	// Placeholder order: outer dataset, inner dataset, inner trigger,
	// inner limit, outer trigger, outer limit.
	args := []interface{}{datasetID, datasetID}
	args = append(args, triggerArgs...)
	args = append(args, lastNDates)
	args = append(args, triggerArgs...)
	args = append(args, t.rowLimit)

	var rows []historyRow
	err := t.stores.Workflow.WithContext(ctx).Raw(query, args...).Scan(&rows).Error
	if err = t.observe(ctx, "get_historical_runs", started, err); err != nil {
		return nil, err
	}

	byDate := make(map[string][]int)
	for _, row := range rows {
		if row.DurationMinutes == nil {
			continue
		}
		byDate[row.BusinessDate] = append(byDate[row.BusinessDate], *row.DurationMinutes)
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	result := &HistoryResult{History: []DateStats{}}
	var allDurations []int
	for _, date := range dates {
		durations := byDate[date]
		allDurations = append(allDurations, durations...)
		minD, maxD, sum := durations[0], durations[0], 0
		for _, d := range durations {
			if d < minD {
				minD = d
			}
			if d > maxD {
				maxD = d
			}
			sum += d
		}
		result.History = append(result.History, DateStats{
			BusinessDate: date,
			RunCount:     len(durations),
			MinMinutes:   minD,
			MaxMinutes:   maxD,
			AvgMinutes:   round1(float64(sum) / float64(len(durations))),
		})
	}

	if len(allDurations) > 0 {
		sort.Ints(allDurations)
		n := len(allDurations)
		sum := 0
		for _, d := range allDurations {
			sum += d
		}
		result.Stats = OverallStats{
			P50Minutes:  allDurations[n/2],
			P90Minutes:  allDurations[percentileIndex(n, 0.9)],
			P95Minutes:  allDurations[percentileIndex(n, 0.95)],
			AvgMinutes:  round1(float64(sum) / float64(n)),
			SampleCount: n,
		}
		// A date averaging more than twice the overall median is flagged
		// even though every run on it succeeded.
		if result.Stats.P50Minutes > 0 {
			threshold := 2 * float64(result.Stats.P50Minutes)
			for _, ds := range result.History {
				if ds.AvgMinutes > threshold {
					result.AnomalousDates = append(result.AnomalousDates, ds.BusinessDate)
				}
			}
		}
	}
	return result, nil
}

func percentileIndex(n int, p float64) int {
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
