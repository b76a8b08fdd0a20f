package tools

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/sentry/pkg/sentry/adaptor/database"
	"github.com/tigerroll/sentry/pkg/sentry/aggregate"
	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	model "github.com/tigerroll/sentry/pkg/sentry/core/domain/model"
	metrics "github.com/tigerroll/sentry/pkg/sentry/core/metrics"
	exception "github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
)

var testNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

// setupToolSet wires a ToolSet against mocked workflow and task stores.
func setupToolSet(t *testing.T) (*ToolSet, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	workflowSQL, workflowMock, err := sqlmock.New()
	require.NoError(t, err)
	workflowDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      workflowSQL,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	taskSQL, taskMock, err := sqlmock.New()
	require.NoError(t, err)
	taskDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      taskSQL,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	stores := &database.Stores{Workflow: workflowDB, Task: taskDB}
	ts := NewToolSet(config.NewConfig(), stores, aggregate.NewAggregator(), metrics.NewNoOpMetricRecorder())
	return ts, workflowMock, taskMock
}

func executionColumns() []string {
	return []string{
		"WORKFLOW_RUN_INSTANCE_KEY", "WORKFLOW_ID", "DAG_ID", "DAG_RUN_ID",
		"STATUS", "STATUS_DETAIL", "TRIGGER_TYPE", "CREATED_DATE", "UPDATED_DATE",
		"OUTPUT_DATASET_ID", "BUSINESS_DATE",
	}
}

func TestGetBatchStatus_LatestPerDatasetAndTrigger(t *testing.T) {
	ts, workflowMock, _ := setupToolSet(t)

	rows := sqlmock.NewRows(executionColumns()).
		AddRow("k1", "wf1", "dag_deriv", "FGW_deriv_20260828_1", "SUCCESS", "",
			"ProcessTrigger", testNow.Add(-time.Hour), testNow.Add(-30*time.Minute),
			"deriv_agg", "2026-08-28").
		AddRow("k2", "wf1", "dag_ingest", "FGW_ingest_20260828_1", "FAILED", "step timeout",
			"ProcessTrigger", testNow.Add(-2*time.Hour), testNow.Add(-time.Hour),
			"deriv_ingest", "2026-08-28")

	workflowMock.ExpectQuery(`ROW_NUMBER\(\) OVER`).
		WillReturnRows(rows)

	result, err := ts.GetBatchStatus(context.Background(),
		[]string{"deriv_agg", "deriv_ingest"}, "2026-08-28", "PRELIM", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, map[string]int{"SUCCESS": 1, "FAILED": 1}, result.Summary)
	// Trigger classification renders through the fixed mapping.
	assert.Equal(t, "PRELIM", result.Rows[0].ProcessingType)
	assert.NoError(t, workflowMock.ExpectationsWereMet())
}

func TestGetBatchStatus_EmptyDatasetList(t *testing.T) {
	ts, workflowMock, _ := setupToolSet(t)

	result, err := ts.GetBatchStatus(context.Background(), nil, "2026-08-28", "", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	// No datasets means no query at all.
	assert.NoError(t, workflowMock.ExpectationsWereMet())
}

func TestGetBatchStatus_ClampsLimit(t *testing.T) {
	ts, workflowMock, _ := setupToolSet(t)

	workflowMock.ExpectQuery(`ROW_NUMBER\(\) OVER`).
		WithArgs("2026-08-28", "deriv_agg", 500).
		WillReturnRows(sqlmock.NewRows(executionColumns()))

	_, err := ts.GetBatchStatus(context.Background(),
		[]string{"deriv_agg"}, "2026-08-28", "", nil, 9999)
	require.NoError(t, err)
	assert.NoError(t, workflowMock.ExpectationsWereMet())
}

func TestGetBatchStatus_ConnectivityError(t *testing.T) {
	ts, workflowMock, _ := setupToolSet(t)

	workflowMock.ExpectQuery(`ROW_NUMBER\(\) OVER`).
		WillReturnError(assert.AnError)

	_, err := ts.GetBatchStatus(context.Background(),
		[]string{"deriv_agg"}, "2026-08-28", "", nil, 0)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConnectivity))
}

func TestGetBatchStatus_MissingTableIsMisconfiguration(t *testing.T) {
	ts, workflowMock, _ := setupToolSet(t)

	workflowMock.ExpectQuery(`ROW_NUMBER\(\) OVER`).
		WillReturnError(&mysqldriver.MySQLError{
			Number: 1146, Message: "Table 'lenz.WORKFLOW_RUN_INSTANCE' doesn't exist",
		})

	_, err := ts.GetBatchStatus(context.Background(),
		[]string{"deriv_agg"}, "2026-08-28", "", nil, 0)
	require.Error(t, err)
	// A missing table is a deployment defect, not an upstream outage.
	assert.True(t, exception.IsKind(err, exception.KindInternal))
	assert.False(t, exception.IsKind(err, exception.KindConnectivity))
}

func TestGetTaskDetails(t *testing.T) {
	ts, _, taskMock := setupToolSet(t)

	start := testNow.Add(-time.Hour)
	end := testNow.Add(-50 * time.Minute)
	duration := 600.0
	rows := sqlmock.NewRows([]string{
		"task_id", "dag_id", "run_id", "state", "duration",
		"start_date", "end_date", "try_number", "hostname", "operator",
	}).
		AddRow("extract", "dag_deriv", "FGW_deriv_20260828_1", "success", duration, start, end, 1, "worker-1", "PythonOperator").
		AddRow("transform", "dag_deriv", "FGW_deriv_20260828_1", "failed", nil, end, nil, 2, "worker-2", "PythonOperator")

	taskMock.ExpectQuery(`FROM task_instance`).
		WithArgs("FGW_deriv_20260828_1", 500).
		WillReturnRows(rows)

	result, err := ts.GetTaskDetails(context.Background(), "FGW_deriv_20260828_1", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, map[string]int{"success": 1, "failed": 1}, result.Summary)
	assert.Equal(t, "extract", result.Tasks[0].TaskID)
	assert.NoError(t, taskMock.ExpectationsWereMet())
}

func TestGetTaskDetails_EmptyRunID(t *testing.T) {
	ts, _, taskMock := setupToolSet(t)

	result, err := ts.GetTaskDetails(context.Background(), "", []string{"failed"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.NoError(t, taskMock.ExpectationsWereMet())
}

func TestGetSliceStatus_GroupsBySlicePattern(t *testing.T) {
	ts, workflowMock, _ := setupToolSet(t)

	rows := sqlmock.NewRows(executionColumns()).
		AddRow("k1", "wf1", "dag_deriv", "FGW_deriv_20260828_EMEA_2", "SUCCESS", "",
			"ProcessTrigger", testNow.Add(-time.Hour), testNow.Add(-30*time.Minute),
			"deriv_agg", "2026-08-28").
		AddRow("k2", "wf1", "dag_deriv", "FGW_deriv_20260828_EMEA_1", "FAILED", "",
			"ProcessTrigger", testNow.Add(-3*time.Hour), testNow.Add(-2*time.Hour),
			"deriv_agg", "2026-08-28")

	workflowMock.ExpectQuery(`DAG_RUN_ID LIKE`).
		WillReturnRows(rows)

	result, err := ts.GetSliceStatus(context.Background(),
		"deriv_agg", "2026-08-28", []string{"EMEA", "APAC"}, "")
	require.NoError(t, err)

	// EMEA has two runs; the newest one decides.
	emea := result.Slices["EMEA"]
	assert.Equal(t, "SUCCESS", emea.Status)
	assert.Equal(t, 2, emea.TotalRuns)
	assert.Equal(t, "FGW_deriv_20260828_EMEA_2", emea.RunID)

	// APAC got no rows at all.
	assert.Equal(t, "NOT_STARTED", result.Slices["APAC"].Status)
	assert.Equal(t, 0, result.Slices["APAC"].TotalRuns)
}

func TestGetBatchProgress_DelegatesToAggregator(t *testing.T) {
	ts, workflowMock, _ := setupToolSet(t)

	def := &model.BatchDefinition{
		Name: "TB-Derivatives",
		Datasets: []model.DatasetDef{
			{DatasetID: "deriv_ingest", SequenceOrder: 0, SliceGroups: map[string][]string{}},
			{DatasetID: "deriv_agg", SequenceOrder: 1, SliceGroups: map[string][]string{}},
		},
	}

	rows := sqlmock.NewRows(executionColumns()).
		AddRow("k1", "wf1", "dag_ingest", "FGW_ingest_20260828_1", "SUCCESS", "",
			"ProcessTrigger", testNow.Add(-2*time.Hour), testNow.Add(-time.Hour),
			"deriv_ingest", "2026-08-28").
		AddRow("k2", "wf1", "dag_deriv", "FGW_deriv_20260828_1", "FAILED", "",
			"ProcessTrigger", testNow.Add(-time.Hour), testNow.Add(-30*time.Minute),
			"deriv_agg", "2026-08-28")

	workflowMock.ExpectQuery(`FROM WORKFLOW_RUN_INSTANCE`).
		WillReturnRows(rows)

	progress, err := ts.GetBatchProgress(context.Background(), def, "2026-08-28", "PRELIM")
	require.NoError(t, err)

	assert.Equal(t, aggregate.StatusFailed, progress.Status)
	assert.Equal(t, 1, progress.SuccessfulDatasets)
	assert.Equal(t, 2, progress.TotalDatasets)
}

func TestGetHistoricalRuns_Stats(t *testing.T) {
	ts, workflowMock, _ := setupToolSet(t)

	rows := sqlmock.NewRows([]string{"BUSINESS_DATE", "duration_minutes"}).
		AddRow("2026-08-28", 30).
		AddRow("2026-08-28", 40).
		AddRow("2026-08-27", 20).
		AddRow("2026-08-27", nil)

	// The recent-dates LIMIT must sit inside a derived table; MySQL refuses
	// LIMIT directly under IN (error 1235).
	workflowMock.ExpectQuery(`IN \(SELECT BUSINESS_DATE FROM \((?s:.*)LIMIT \?\s*\) recent_dates\)`).
		WithArgs("deriv_agg", "deriv_agg", "ProcessTrigger", 10, "ProcessTrigger", 500).
		WillReturnRows(rows)

	result, err := ts.GetHistoricalRuns(context.Background(), "deriv_agg", 10, "PRELIM")
	require.NoError(t, err)

	require.Len(t, result.History, 2)
	assert.Equal(t, "2026-08-28", result.History[0].BusinessDate)
	assert.Equal(t, 2, result.History[0].RunCount)
	assert.Equal(t, 30, result.History[0].MinMinutes)
	assert.Equal(t, 40, result.History[0].MaxMinutes)
	assert.InDelta(t, 35.0, result.History[0].AvgMinutes, 0.01)

	assert.Equal(t, 3, result.Stats.SampleCount)
	assert.Equal(t, 30, result.Stats.P50Minutes)
	assert.InDelta(t, 30.0, result.Stats.AvgMinutes, 0.01)
	assert.Empty(t, result.AnomalousDates)
}

func TestGetHistoricalRuns_FlagsSlowDates(t *testing.T) {
	ts, workflowMock, _ := setupToolSet(t)

	rows := sqlmock.NewRows([]string{"BUSINESS_DATE", "duration_minutes"}).
		AddRow("2026-08-28", 95).
		AddRow("2026-08-27", 30).
		AddRow("2026-08-26", 28).
		AddRow("2026-08-25", 32)

	workflowMock.ExpectQuery(`TIMESTAMPDIFF\(MINUTE`).
		WillReturnRows(rows)

	result, err := ts.GetHistoricalRuns(context.Background(), "deriv_agg", 10, "PRELIM")
	require.NoError(t, err)

	// 95 minutes against a 30/32 median is a successful-but-slow outlier.
	assert.Equal(t, []string{"2026-08-28"}, result.AnomalousDates)
}

func TestTriggerFor_FixedMapping(t *testing.T) {
	tests := []struct {
		input   string
		trigger string
		ok      bool
	}{
		{"PRELIM", "ProcessTrigger", true},
		{"prelim", "ProcessTrigger", true},
		{"FINAL", "RerunTrigger", true},
		{"MANUAL", "ManualTrigger", true},
		{"", "", false},
		{"NIGHTLY", "", false},
	}
	for _, tt := range tests {
		trigger, ok := triggerFor(tt.input)
		assert.Equal(t, tt.ok, ok, "input %q", tt.input)
		assert.Equal(t, tt.trigger, trigger, "input %q", tt.input)
	}
}
