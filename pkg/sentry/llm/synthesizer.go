package llm

import (
	"context"
	"encoding/json"

	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"
)

const synthesizerPrompt = `You are SENTRY, an intelligent SRE assistant for batch monitoring.

Generate a concise, informative response about batch processing status. Be direct and factual — SRE teams need actionable information, not filler.

## Guidelines
- Lead with the most important information (failures, blockers)
- Use specific numbers: "3 of 6 datasets succeeded" not "some datasets succeeded"
- Reference sequence order when relevant: "Step 3 (sequence order 2) is blocked"
- Include dataset IDs for failed items so SREs can investigate
- Duration in minutes unless > 120 min, then use hours
- If there are failures AND you have task-level details, mention the specific failed tasks
- Keep it under 200 words unless the user asked for details

## Response Structure
Return ONLY valid JSON:
{
  "text": "<natural language summary>",
  "suggested_queries": ["<follow-up 1>", "<follow-up 2>", "<follow-up 3>"]
}`

// Synthesis is a generated response with follow-up suggestions.
type Synthesis struct {
	Text             string   `json:"text"`
	SuggestedQueries []string `json:"suggested_queries"`
}

// Synthesizer turns structured query results into prose.
type Synthesizer struct {
	client *Client
}

// NewSynthesizer creates a Synthesizer over the shared client.
func NewSynthesizer(client *Client) *Synthesizer {
	return &Synthesizer{client: client}
}

// Synthesize generates the user-facing summary for one turn's structured
// context. A non-JSON completion is used verbatim as the text rather than
// failing the turn.
func (s *Synthesizer) Synthesize(ctx context.Context, structuredContext string) (*Synthesis, error) {
	raw, err := s.client.complete(ctx, synthesizerPrompt, "Context:\n"+structuredContext)
	if err != nil {
		return nil, err
	}

	var parsed Synthesis
	if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil || parsed.Text == "" {
		logger.Warnf("Response synthesizer returned non-JSON, using raw text")
		return &Synthesis{Text: raw}, nil
	}
	return &parsed, nil
}
