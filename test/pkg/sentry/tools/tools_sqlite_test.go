// Package tools_test exercises the Tier 1 tools and the Tier 2 guard
// end-to-end against a real SQL engine, using an in-memory SQLite database
// in place of the operational MySQL stores.
package tools_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/sentry/pkg/sentry/adaptor/database"
	"github.com/tigerroll/sentry/pkg/sentry/aggregate"
	"github.com/tigerroll/sentry/pkg/sentry/guard"
	"github.com/tigerroll/sentry/pkg/sentry/tools"

	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	model "github.com/tigerroll/sentry/pkg/sentry/core/domain/model"
	metrics "github.com/tigerroll/sentry/pkg/sentry/core/metrics"
)

var testNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

const workflowDDL = `CREATE TABLE WORKFLOW_RUN_INSTANCE (
	WORKFLOW_RUN_INSTANCE_KEY TEXT PRIMARY KEY,
	WORKFLOW_ID TEXT,
	DAG_ID TEXT,
	DAG_RUN_ID TEXT,
	STATUS TEXT,
	STATUS_DETAIL TEXT,
	TRIGGER_TYPE TEXT,
	CREATED_DATE DATETIME,
	UPDATED_DATE DATETIME,
	OUTPUT_DATASET_ID TEXT,
	BUSINESS_DATE TEXT
)`

const taskDDL = `CREATE TABLE task_instance (
	task_id TEXT,
	dag_id TEXT,
	run_id TEXT,
	state TEXT,
	duration REAL,
	start_date DATETIME,
	end_date DATETIME,
	try_number INTEGER,
	hostname TEXT,
	operator TEXT
)`

// setupStores opens one in-memory database and serves it as both the
// workflow and task store.
func setupStores(t *testing.T) *database.Stores {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(workflowDDL).Error)
	require.NoError(t, db.Exec(taskDDL).Error)

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return &database.Stores{Workflow: db, Task: db}
}

func insertRun(t *testing.T, stores *database.Stores, key, runID, status, trigger, datasetID, businessDate string, created time.Time, updated time.Time) {
	err := stores.Workflow.Exec(
		`INSERT INTO WORKFLOW_RUN_INSTANCE VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, "wf-1", "dag_"+datasetID, runID, status, "", trigger,
		created, updated, datasetID, businessDate,
	).Error
	require.NoError(t, err)
}

func insertTask(t *testing.T, stores *database.Stores, taskID, runID, state string, tryNumber int) {
	err := stores.Task.Exec(
		`INSERT INTO task_instance VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, "dag_deriv_agg", runID, state, 120.5,
		testNow.Add(-time.Hour), testNow.Add(-30*time.Minute), tryNumber,
		"worker-3", "SparkSubmitOperator",
	).Error
	require.NoError(t, err)
}

func newToolSet(stores *database.Stores) *tools.ToolSet {
	return tools.NewToolSet(config.NewConfig(), stores, aggregate.NewAggregator(), metrics.NewNoOpMetricRecorder())
}

func derivativesDefinition() *model.BatchDefinition {
	return &model.BatchDefinition{
		Name:        "TB-Derivatives",
		DisplayName: "DERIVATIVES",
		Context:     "GLOBAL",
		Datasets: []model.DatasetDef{
			{DatasetID: "deriv_ingest", SequenceOrder: 0, SliceGroups: map[string][]string{"slices": {"EMEA", "APAC"}}},
			{DatasetID: "deriv_agg", SequenceOrder: 1, SliceGroups: map[string][]string{"slices": {"EMEA", "APAC"}}},
		},
	}
}

func TestBatchProgress_EndToEnd(t *testing.T) {
	stores := setupStores(t)
	ts := newToolSet(stores)

	// Step 0 fully succeeded, step 1 failed on EMEA and never ran for APAC.
	insertRun(t, stores, "k1", "FGW_deriv_ingest_20260828_EMEA_1", "SUCCESS", "ProcessTrigger",
		"deriv_ingest", "2026-08-28", testNow.Add(-4*time.Hour), testNow.Add(-3*time.Hour))
	insertRun(t, stores, "k2", "FGW_deriv_ingest_20260828_APAC_1", "SUCCESS", "ProcessTrigger",
		"deriv_ingest", "2026-08-28", testNow.Add(-4*time.Hour), testNow.Add(-3*time.Hour))
	insertRun(t, stores, "k3", "FGW_deriv_agg_20260828_EMEA_1", "FAILED", "ProcessTrigger",
		"deriv_agg", "2026-08-28", testNow.Add(-2*time.Hour), testNow.Add(-time.Hour))
	// A run from another date must never leak in.
	insertRun(t, stores, "k4", "FGW_deriv_agg_20260827_EMEA_1", "SUCCESS", "ProcessTrigger",
		"deriv_agg", "2026-08-27", testNow.Add(-26*time.Hour), testNow.Add(-25*time.Hour))

	progress, err := ts.GetBatchProgress(context.Background(), derivativesDefinition(), "2026-08-28", "PRELIM")
	require.NoError(t, err)

	assert.Equal(t, aggregate.StatusFailed, progress.Status)
	assert.True(t, progress.PartialFailure)
	assert.Equal(t, 1, progress.SuccessfulDatasets)
	assert.Equal(t, 2, progress.TotalDatasets)

	require.Len(t, progress.Steps, 2)
	assert.Equal(t, aggregate.StatusSuccess, progress.Steps[0].Status)
	assert.Equal(t, aggregate.StatusFailed, progress.Steps[1].Status)
}

func TestTaskDetails_EndToEnd(t *testing.T) {
	stores := setupStores(t)
	ts := newToolSet(stores)

	insertTask(t, stores, "load_positions", "FGW_deriv_agg_20260828_EMEA_1", "failed", 3)
	insertTask(t, stores, "validate", "FGW_deriv_agg_20260828_EMEA_1", "success", 1)
	insertTask(t, stores, "other_run_task", "FGW_other_1", "failed", 1)

	details, err := ts.GetTaskDetails(context.Background(), "FGW_deriv_agg_20260828_EMEA_1", []string{"failed"})
	require.NoError(t, err)

	require.Equal(t, 1, details.Total)
	assert.Equal(t, "load_positions", details.Tasks[0].TaskID)
	assert.Equal(t, map[string]int{"failed": 1}, details.Summary)
}

func TestGuard_EndToEnd(t *testing.T) {
	stores := setupStores(t)
	g := guard.NewGuard(config.NewConfig(), stores, metrics.NewNoOpMetricRecorder())

	insertRun(t, stores, "k1", "FGW_deriv_agg_20260828_EMEA_1", "FAILED", "ProcessTrigger",
		"deriv_agg", "2026-08-28", testNow.Add(-2*time.Hour), testNow.Add(-time.Hour))
	insertRun(t, stores, "k2", "FGW_deriv_agg_20260828_APAC_1", "SUCCESS", "ProcessTrigger",
		"deriv_agg", "2026-08-28", testNow.Add(-2*time.Hour), testNow.Add(-time.Hour))

	safe, err := g.Validate(context.Background(),
		"SELECT STATUS, DAG_RUN_ID FROM WORKFLOW_RUN_INSTANCE WHERE BUSINESS_DATE = '2026-08-28' AND STATUS = 'FAILED'")
	require.NoError(t, err)

	rows, err := g.Execute(context.Background(), safe)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "FAILED", rows[0]["STATUS"])

	// A write statement is refused outright.
	_, err = g.Validate(context.Background(), "DELETE FROM WORKFLOW_RUN_INSTANCE")
	assert.Error(t, err)
}
