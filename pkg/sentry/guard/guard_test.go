package guard

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/sentry/pkg/sentry/adaptor/database"
	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	metrics "github.com/tigerroll/sentry/pkg/sentry/core/metrics"
	exception "github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
)

func setupGuard(t *testing.T) (*Guard, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	stores := &database.Stores{Workflow: gormDB, Task: gormDB}
	return NewGuard(config.NewConfig(), stores, metrics.NewNoOpMetricRecorder()), mock
}

func assertRejected(t *testing.T, g *Guard, candidate string) {
	t.Helper()
	safe, err := g.Validate(context.Background(), candidate)
	require.Error(t, err, "candidate %q", candidate)
	assert.Nil(t, safe)
	assert.True(t, exception.IsKind(err, exception.KindValidation), "candidate %q", candidate)
}

func TestValidate_AcceptsWellFormedSelection(t *testing.T) {
	g, _ := setupGuard(t)

	safe, err := g.Validate(context.Background(),
		"SELECT STATUS, OUTPUT_DATASET_ID FROM WORKFLOW_RUN_INSTANCE WHERE BUSINESS_DATE = '2026-08-28'")
	require.NoError(t, err)

	// A row cap is injected when none was present.
	assert.Contains(t, safe.SQL, "LIMIT 500")
	assert.Equal(t, []string{"WORKFLOW_RUN_INSTANCE"}, safe.Tables)
}

func TestValidate_KeepsSmallerExistingLimit(t *testing.T) {
	g, _ := setupGuard(t)

	safe, err := g.Validate(context.Background(),
		"SELECT STATUS FROM WORKFLOW_RUN_INSTANCE LIMIT 10")
	require.NoError(t, err)
	assert.Contains(t, safe.SQL, "LIMIT 10")
}

func TestValidate_ClampsOversizedLimit(t *testing.T) {
	g, _ := setupGuard(t)

	safe, err := g.Validate(context.Background(),
		"SELECT STATUS FROM WORKFLOW_RUN_INSTANCE LIMIT 100000")
	require.NoError(t, err)
	assert.Contains(t, safe.SQL, "LIMIT 500")
	assert.NotContains(t, safe.SQL, "100000")
}

func TestValidate_RejectsForbiddenKeywords(t *testing.T) {
	g, _ := setupGuard(t)

	candidates := []string{
		"DROP TABLE WORKFLOW_RUN_INSTANCE",
		"SELECT * FROM WORKFLOW_RUN_INSTANCE WHERE 1=1; DELETE FROM task_instance",
		"select * from WORKFLOW_RUN_INSTANCE union select * from mysql.user where Grant_priv='Y'",
		"SELECT grant_option FROM WORKFLOW_RUN_INSTANCE", // token GRANT_OPTION is fine, but:
	}
	// The last candidate is actually legal: grant_option is one token, not GRANT.
	for _, candidate := range candidates[:3] {
		assertRejected(t, g, candidate)
	}
	_, err := g.Validate(context.Background(), candidates[3])
	assert.NoError(t, err)
}

func TestValidate_KeywordCaseAndCommentsDoNotHide(t *testing.T) {
	g, _ := setupGuard(t)

	assertRejected(t, g, "SELECT * FROM WORKFLOW_RUN_INSTANCE WHERE 1=1; dRoP TABLE x")
	// A keyword split by a block comment reassembles into plain tokens after
	// stripping; the statement still carries DROP.
	assertRejected(t, g, "SELECT * FROM WORKFLOW_RUN_INSTANCE /* hide */ ; DROP /*x*/ TABLE t")
}

func TestValidate_RejectsMultipleStatements(t *testing.T) {
	g, _ := setupGuard(t)
	assertRejected(t, g, "SELECT * FROM WORKFLOW_RUN_INSTANCE; SELECT * FROM task_instance;")
}

func TestValidate_SpecimenInjectionNeverExecutes(t *testing.T) {
	g, mock := setupGuard(t)

	assertRejected(t, g, "SELECT * FROM WORKFLOW_RUN_INSTANCE; DROP TABLE x;")

	// Nothing was sent to the store.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidate_RejectsNonWhitelistedTable(t *testing.T) {
	g, _ := setupGuard(t)
	assertRejected(t, g, "SELECT * FROM mysql_user")
	assertRejected(t, g, "SELECT * FROM WORKFLOW_RUN_INSTANCE w JOIN secrets s ON w.DAG_RUN_ID = s.id")
}

func TestValidate_FailsClosedOnAmbiguity(t *testing.T) {
	g, _ := setupGuard(t)

	// No FROM clause at all: referenced tables cannot be determined.
	assertRejected(t, g, "SELECT 1")
	// Unterminated block comment.
	assertRejected(t, g, "SELECT * FROM WORKFLOW_RUN_INSTANCE /* never closed")
	// Qualified table names are not understood, so they are rejected.
	assertRejected(t, g, "SELECT * FROM other_db.WORKFLOW_RUN_INSTANCE")
	// Not a selection.
	assertRejected(t, g, "SHOW TABLES")
	assertRejected(t, g, "")
}

func TestValidate_AllowsWhitelistedJoin(t *testing.T) {
	g, _ := setupGuard(t)

	safe, err := g.Validate(context.Background(),
		`SELECT w.STATUS, t.task_id
		 FROM WORKFLOW_RUN_INSTANCE w
		 JOIN task_instance t ON t.run_id = w.DAG_RUN_ID
		 WHERE w.BUSINESS_DATE = '2026-08-28'`)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"WORKFLOW_RUN_INSTANCE", "task_instance"}, safe.Tables)
}

func TestExecute_ReturnsRows(t *testing.T) {
	g, mock := setupGuard(t)

	mock.ExpectQuery(`SELECT STATUS FROM WORKFLOW_RUN_INSTANCE`).
		WillReturnRows(sqlmock.NewRows([]string{"STATUS"}).AddRow("SUCCESS").AddRow("FAILED"))

	safe, err := g.Validate(context.Background(), "SELECT STATUS FROM WORKFLOW_RUN_INSTANCE")
	require.NoError(t, err)

	rows, err := g.Execute(context.Background(), safe)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "SUCCESS", rows[0]["STATUS"])
}

func TestExecute_RefusesUnvalidatedInput(t *testing.T) {
	g, mock := setupGuard(t)

	_, err := g.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}
