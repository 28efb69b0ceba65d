package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/fault"
)

// AnthropicClient talks to the Anthropic Messages API. Proposals come back
// as native tool calls. System prompt, tool definition, and conversation
// prefix all carry prompt-cache breakpoints so repeated turns only pay for
// the new suffix.
type AnthropicClient struct {
	client anthropic.Client
	log    zerolog.Logger
}

// NewAnthropicClient creates a client. baseURL overrides the API endpoint
// when non-empty, which tests use to point at a local server. SDK-internal
// retries are disabled; retry.go owns the retry policy.
func NewAnthropicClient(apiKey, baseURL string, logger zerolog.Logger) *AnthropicClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), log: logger}
}

// Name implements Client.
func (c *AnthropicClient) Name() string { return ProviderAnthropic }

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	p := req.Params.withDefaults()
	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(p.MaxTokens),
		Messages:    c.buildMessages(req),
		Tools:       c.buildTools(),
		Temperature: anthropic.Float(p.Temperature),
		TopP:        anthropic.Float(p.TopP),
	}
	if blocks := c.buildSystemBlocks(req); len(blocks) > 0 {
		params.System = blocks
	}

	msg, err := c.client.Messages.New(cctx, params)
	if err != nil {
		return Response{}, fault.Wrap(fault.KindTransport, err, "anthropic completion")
	}

	resp := Response{
		Usage: TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			CachedTokens:     int(msg.Usage.CacheReadInputTokens),
		},
	}
	var texts []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "tool_use":
			if block.Name == proposalToolName {
				resp.Proposal = json.RawMessage(block.Input)
			}
		}
	}
	resp.Text = strings.TrimSpace(strings.Join(texts, "\n"))

	c.log.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Int("cached_tokens", resp.Usage.CachedTokens).
		Bool("proposal", resp.HasProposal()).
		Msg("anthropic completion done")
	return resp, nil
}

// Ping implements Client. Listing models verifies endpoint and credentials
// without consuming completion tokens.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	_, err := c.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)})
	if err != nil {
		return fault.Wrap(fault.KindTransport, err, "anthropic ping")
	}
	return nil
}

// buildSystemBlocks converts the system prompt into blocks, each with a
// cache_control breakpoint.
func (c *AnthropicClient) buildSystemBlocks(req Request) []anthropic.TextBlockParam {
	if req.System == "" {
		return nil
	}
	return []anthropic.TextBlockParam{{
		Text:         req.System,
		CacheControl: anthropic.NewCacheControlEphemeralParam(),
	}}
}

// buildTools returns the single proposal tool. As the last (only) tool it
// carries the cache breakpoint that covers the whole tool section.
func (c *AnthropicClient) buildTools() []anthropic.ToolUnionParam {
	tool := anthropic.ToolParam{
		Name:        proposalToolName,
		Description: anthropic.String(proposalToolDescription),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: proposalProperties(),
			Required:   proposalRequired,
		},
		CacheControl: anthropic.NewCacheControlEphemeralParam(),
	}
	return []anthropic.ToolUnionParam{{OfTool: &tool}}
}

// buildMessages converts history plus the current prompt. The penultimate
// message's last content block gets a cache breakpoint so the shared
// conversation prefix is cached across turns.
func (c *AnthropicClient) buildMessages(req Request) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, m := range req.History {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		default:
			// System markers in history become user-visible notes; the API
			// only accepts user and assistant turns here.
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		}
	}
	if req.Prompt != "" {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))
	}

	if len(messages) >= 2 {
		prev := &messages[len(messages)-2]
		if n := len(prev.Content); n > 0 && prev.Content[n-1].OfText != nil {
			prev.Content[n-1].OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
	}
	return messages
}
