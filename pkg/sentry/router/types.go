// Package router orchestrates one conversational turn as an explicit state
// machine: classify the message, resolve the batch, execute Tier 1 or
// guarded Tier 2 queries, aggregate, respond. Every terminal state produces
// a response; no error escapes unhandled.
package router

import (
	"context"

	"github.com/tigerroll/sentry/pkg/sentry/llm"
)

// State names one node of the per-turn state machine.
type State string

const (
	StateClassify     State = "CLASSIFY"
	StateResolveBatch State = "RESOLVE_BATCH"
	StateFetchTier1   State = "FETCH_TIER1"
	StateFetchTier2   State = "FETCH_TIER2"
	StateAggregate    State = "AGGREGATE"
	StateRespond      State = "RESPOND"
)

// Intent is the classified purpose of a user message.
type Intent string

const (
	IntentStatusCheck  Intent = "status_check"
	IntentRCADrilldown Intent = "rca_drilldown"
	IntentTaskDetail   Intent = "task_detail"
	IntentPrediction   Intent = "prediction"
	IntentGeneralQuery Intent = "general_query"
	IntentOutOfScope   Intent = "out_of_scope"
)

// Classifier determines intent and entities for one message.
type Classifier interface {
	Classify(ctx context.Context, message, today string) (*llm.Classification, error)
}

// Synthesizer turns structured results into user-facing prose.
type Synthesizer interface {
	Synthesize(ctx context.Context, structuredContext string) (*llm.Synthesis, error)
}

// SQLGenerator drafts Tier 2 candidate queries from an analytical question
// and resolved literal facts.
type SQLGenerator interface {
	Generate(ctx context.Context, question string, facts llm.Facts) (string, error)
}

// Request is one inbound chat turn.
type Request struct {
	Message        string `json:"message"`
	ThreadID       string `json:"thread_id"`
	BusinessDate   string `json:"business_date,omitempty"`
	ProcessingType string `json:"processing_type,omitempty"`
}

// ToolCall records one tool invocation made during a turn.
type ToolCall struct {
	Tool       string                 `json:"tool"`
	Input      map[string]interface{} `json:"input"`
	DurationMs int64                  `json:"duration_ms"`
}

// StructuredData carries the machine-readable part of a response.
type StructuredData struct {
	// Type is one of batch_status, task_details, rca_analysis,
	// historical_comparison, text_only.
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Response is the terminal result of one turn.
type Response struct {
	ThreadID         string          `json:"thread_id"`
	Intent           Intent          `json:"intent"`
	Text             string          `json:"text"`
	StructuredData   *StructuredData `json:"structured_data,omitempty"`
	ToolCalls        []ToolCall      `json:"tool_calls"`
	SuggestedQueries []string        `json:"suggested_queries"`
	// Incomplete marks a result where one sub-fetch failed while others
	// succeeded; the partial result is returned, not discarded.
	Incomplete bool `json:"incomplete,omitempty"`
	// IsError marks a turn whose text describes a failure.
	IsError bool `json:"is_error,omitempty"`
}

// EventType names one lifecycle event of the streaming surface.
type EventType string

const (
	EventNodeStart  EventType = "node_start"
	EventNodeEnd    EventType = "node_end"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventResponse   EventType = "response"
)

// Event is one ordered lifecycle event reflecting a state transition.
type Event struct {
	Type    EventType   `json:"type"`
	Name    string      `json:"name,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// EmitFunc receives lifecycle events during a turn. A nil EmitFunc
// disables streaming.
type EmitFunc func(Event)
