package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"
)

// Classification is the classifier's verdict on one user message.
type Classification struct {
	Intent         string `json:"intent"`
	BatchName      string `json:"batch_name"`
	BusinessDate   string `json:"business_date"`
	ProcessingType string `json:"processing_type"`
	SliceRef       string `json:"slice_ref"`
	RunID          string `json:"run_id"`
}

const classifierPrompt = `You are the intent classifier for SENTRY, an SRE batch monitoring platform that tracks batch processing workflows ("Essentials" / "Asset Classes").

Given the user's message (and any prior conversation context), classify it into EXACTLY ONE intent and extract relevant entities.

## Intents

- **status_check** — User wants overall status of a batch/essential.
  Examples: "How is derivatives doing?", "What's the status of 6G?", "Is SNU complete?"

- **rca_drilldown** — User wants to investigate failures or errors.
  Examples: "What failed in derivatives?", "Why did 6G fail?", "Show me errors in SNU"

- **task_detail** — User wants task-level details for a specific DAG run.
  Examples: "Show me the tasks for this dag run", "What tasks failed?"

- **prediction** — User wants to predict when a batch will finish.
  Examples: "When will derivatives finish?", "ETA for 6G?"

- **general_query** — Analytical or ad-hoc questions about data / history.
  Examples: "How long did derivatives take last week?", "Compare today vs yesterday"

- **out_of_scope** — Not related to batch monitoring.
  Examples: "What's the weather?", "Tell me a joke"

## Entity Extraction

Extract these entities if present in the message (or carried from prior context):

- **batch_name**: The batch / essential / asset class mentioned (e.g. "derivatives", "6G", "SNU", "collateral"). Use the raw user term, not the catalog name.
- **business_date**: A date reference like "today", "yesterday", "2026-02-21". Convert relative dates using today = %s.
- **processing_type**: "PRELIM" or "FINAL" if explicitly mentioned, else null.
- **slice_ref**: A slice reference if mentioned (e.g. "EMEA", "NA", "APAC").
- **run_id**: An exact run identifier if the user pasted one, else null.

## Response Format

Return ONLY valid JSON — no markdown, no explanation:
{
  "intent": "<one of the intents above>",
  "batch_name": "<string or null>",
  "business_date": "<YYYY-MM-DD or null>",
  "processing_type": "<PRELIM|FINAL or null>",
  "slice_ref": "<string or null>",
  "run_id": "<string or null>"
}`

// Classifier maps free-form user messages onto routing intents.
type Classifier struct {
	client *Client
}

// NewClassifier creates a Classifier over the shared client.
func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

// Classify determines the intent and entities of one user message. A
// malformed completion degrades to out_of_scope rather than failing the
// turn.
func (c *Classifier) Classify(ctx context.Context, message, today string) (*Classification, error) {
	raw, err := c.client.complete(ctx, fmt.Sprintf(classifierPrompt, today), message)
	if err != nil {
		return nil, err
	}
	result, err := parseClassification(raw)
	if err != nil {
		logger.Warnf("Intent classifier returned non-JSON: %s", raw)
		return &Classification{Intent: "out_of_scope"}, nil
	}
	logger.Infof("Classified intent: %s", result.Intent)
	return result, nil
}

// parseClassification decodes the classifier completion, tolerating JSON
// nulls for absent entities.
func parseClassification(raw string) (*Classification, error) {
	var parsed struct {
		Intent         string  `json:"intent"`
		BatchName      *string `json:"batch_name"`
		BusinessDate   *string `json:"business_date"`
		ProcessingType *string `json:"processing_type"`
		SliceRef       *string `json:"slice_ref"`
		RunID          *string `json:"run_id"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, err
	}
	result := &Classification{Intent: strings.TrimSpace(parsed.Intent)}
	if result.Intent == "" {
		result.Intent = "out_of_scope"
	}
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return strings.TrimSpace(*s)
	}
	result.BatchName = deref(parsed.BatchName)
	result.BusinessDate = deref(parsed.BusinessDate)
	result.ProcessingType = deref(parsed.ProcessingType)
	result.SliceRef = deref(parsed.SliceRef)
	result.RunID = deref(parsed.RunID)
	return result, nil
}
