package llm

import (
	"context"
	"fmt"
	"strings"
)

const sqlGeneratorPrompt = `You are the SQL analyst for SENTRY, an SRE batch monitoring platform.

Draft ONE read-only MySQL SELECT statement that answers the user's analytical question.

## Hard rules
- Exactly one SELECT statement. Nothing else, no comments.
- Only these tables exist: WORKFLOW_RUN_INSTANCE (columns: WORKFLOW_RUN_INSTANCE_KEY, WORKFLOW_ID, DAG_ID, DAG_RUN_ID, STATUS, STATUS_DETAIL, TRIGGER_TYPE, CREATED_DATE, UPDATED_DATE, OUTPUT_DATASET_ID, BUSINESS_DATE) and task_instance (columns: task_id, dag_id, run_id, state, duration, start_date, end_date, try_number, hostname, operator).
- The two tables join on task_instance.run_id = WORKFLOW_RUN_INSTANCE.DAG_RUN_ID.
- Filter on BUSINESS_DATE whenever the question is date-scoped.
- Filter datasets ONLY by the exact OUTPUT_DATASET_ID values given below. Never invent dataset ids and never use LIKE patterns to guess batch membership.
- TRIGGER_TYPE values: ProcessTrigger = PRELIM, RerunTrigger = FINAL, ManualTrigger = MANUAL.
- Include a LIMIT.

## Facts
%s

Return ONLY the SQL statement — no markdown, no explanation.`

// SQLGenerator drafts Tier 2 candidate queries. Its output is a candidate
// only; the guard decides whether it runs.
type SQLGenerator struct {
	client *Client
}

// NewSQLGenerator creates a SQLGenerator over the shared client.
func NewSQLGenerator(client *Client) *SQLGenerator {
	return &SQLGenerator{client: client}
}

// Facts carries the resolved identifiers injected into the prompt as
// literal values.
type Facts struct {
	BatchName      string
	DatasetIDs     []string
	BusinessDate   string
	ProcessingType string
}

func (f Facts) render() string {
	var b strings.Builder
	if f.BatchName != "" {
		fmt.Fprintf(&b, "Batch: %s\n", f.BatchName)
	}
	if len(f.DatasetIDs) > 0 {
		fmt.Fprintf(&b, "OUTPUT_DATASET_ID values for this batch: %s\n", strings.Join(f.DatasetIDs, ", "))
	}
	if f.BusinessDate != "" {
		fmt.Fprintf(&b, "Business date: %s\n", f.BusinessDate)
	}
	if f.ProcessingType != "" {
		fmt.Fprintf(&b, "Processing type: %s\n", f.ProcessingType)
	}
	if b.Len() == 0 {
		return "(none)"
	}
	return b.String()
}

// Generate drafts a candidate query for the question given the resolved
// facts.
func (g *SQLGenerator) Generate(ctx context.Context, question string, facts Facts) (string, error) {
	raw, err := g.client.complete(ctx, fmt.Sprintf(sqlGeneratorPrompt, facts.render()), question)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}
