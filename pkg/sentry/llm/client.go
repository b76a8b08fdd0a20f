// Package llm wraps the OpenAI-compatible collaborator used for intent
// classification, ad-hoc SQL drafting, and response synthesis. Every call
// runs with temperature 0 so structure-to-text mapping stays deterministic.
package llm

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	exception "github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
)

const moduleName = "llm"

// Client is the thin chat-completion wrapper the higher-level collaborators
// share.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient creates a Client from the LLM configuration. A non-empty
// endpoint overrides the provider default, for gateway deployments.
func NewClient(cfg *config.Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.Sentry.LLM.APIKey)
	if cfg.Sentry.LLM.Endpoint != "" {
		clientConfig.BaseURL = cfg.Sentry.LLM.Endpoint
	}
	return &Client{
		api:   openai.NewClientWithConfig(clientConfig),
		model: cfg.Sentry.LLM.Model,
	}
}

// complete sends one system+user exchange and returns the raw completion
// text with any markdown fences stripped.
func (c *Client) complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", exception.New(moduleName, "completion timed out", exception.KindTimeout, err)
		}
		return "", exception.New(moduleName, "completion request failed", exception.KindConnectivity, err)
	}
	if len(resp.Choices) == 0 {
		return "", exception.Newf(moduleName, exception.KindConnectivity, "completion returned no choices")
	}
	return stripFences(resp.Choices[0].Message.Content), nil
}

// stripFences removes a surrounding ```json ... ``` markdown fence, which
// some models add despite instructions not to.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		raw = raw[idx+1:]
	} else {
		raw = strings.TrimPrefix(raw, "```")
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}
