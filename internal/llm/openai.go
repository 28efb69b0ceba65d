package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/fault"
)

// OpenAIClient talks to the OpenAI Responses API. Proposals come back as
// function calls.
type OpenAIClient struct {
	client openai.Client
	log    zerolog.Logger
}

// NewOpenAIClient creates a client. baseURL overrides the API endpoint when
// non-empty, which tests and OpenAI-compatible gateways use. SDK-internal
// retries are disabled; retry.go owns the retry policy.
func NewOpenAIClient(apiKey, baseURL string, logger zerolog.Logger) *OpenAIClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{client: openai.NewClient(opts...), log: logger}
}

// Name implements Client.
func (c *OpenAIClient) Name() string { return ProviderOpenAI }

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	p := req.Params.withDefaults()
	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	params := responses.ResponseNewParams{
		Model:           shared.ResponsesModel(req.Model),
		Input:           responses.ResponseNewParamsInputUnion{OfInputItemList: c.buildInput(req)},
		Tools:           c.buildTools(),
		Temperature:     openai.Float(p.Temperature),
		TopP:            openai.Float(p.TopP),
		MaxOutputTokens: openai.Int(int64(p.MaxTokens)),
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}

	apiResp, err := c.client.Responses.New(cctx, params)
	if err != nil {
		return Response{}, fault.Wrap(fault.KindTransport, err, "openai completion")
	}

	resp := c.parseOutput(apiResp)
	c.log.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Int("cached_tokens", resp.Usage.CachedTokens).
		Bool("proposal", resp.HasProposal()).
		Msg("openai completion done")
	return resp, nil
}

// Ping implements Client.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	_, err := c.client.Models.List(ctx)
	if err != nil {
		return fault.Wrap(fault.KindTransport, err, "openai ping")
	}
	return nil
}

// buildInput converts history plus the current prompt into Responses API
// input items. Assistant turns are fed back as completed output messages so
// the API sees them as its own prior output.
func (c *OpenAIClient) buildInput(req Request) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(req.History)+1)
	for _, m := range req.History {
		switch m.Role {
		case RoleAssistant:
			items = append(items, responses.ResponseInputItemUnionParam{
				OfOutputMessage: &responses.ResponseOutputMessageParam{
					Content: []responses.ResponseOutputMessageContentUnionParam{
						{OfOutputText: &responses.ResponseOutputTextParam{Text: m.Text}},
					},
					Status: responses.ResponseOutputMessageStatusCompleted,
				},
			})
		case RoleSystem:
			items = append(items, easyMessage(responses.EasyInputMessageRoleSystem, m.Text))
		default:
			items = append(items, easyMessage(responses.EasyInputMessageRoleUser, m.Text))
		}
	}
	if req.Prompt != "" {
		items = append(items, easyMessage(responses.EasyInputMessageRoleUser, req.Prompt))
	}
	return items
}

func easyMessage(role responses.EasyInputMessageRole, text string) responses.ResponseInputItemUnionParam {
	return responses.ResponseInputItemUnionParam{
		OfMessage: &responses.EasyInputMessageParam{
			Role:    role,
			Content: responses.EasyInputMessageContentUnionParam{OfString: openai.String(text)},
		},
	}
}

// buildTools returns the single proposal function tool.
func (c *OpenAIClient) buildTools() []responses.ToolUnionParam {
	fn := responses.FunctionToolParam{
		Name:        proposalToolName,
		Description: openai.String(proposalToolDescription),
		Parameters: map[string]any{
			"type":       "object",
			"properties": proposalProperties(),
			"required":   proposalRequired,
		},
		Strict: openai.Bool(false),
	}
	return []responses.ToolUnionParam{{OfFunction: &fn}}
}

// parseOutput flattens the response output items into text plus an optional
// proposal.
func (c *OpenAIClient) parseOutput(apiResp *responses.Response) Response {
	resp := Response{
		Usage: TokenUsage{
			PromptTokens:     int(apiResp.Usage.InputTokens),
			CompletionTokens: int(apiResp.Usage.OutputTokens),
			CachedTokens:     int(apiResp.Usage.InputTokensDetails.CachedTokens),
		},
	}
	var texts []string
	for _, item := range apiResp.Output {
		switch item.Type {
		case "message":
			for _, content := range item.Content {
				if content.Type == "output_text" {
					texts = append(texts, content.Text)
				}
			}
		case "function_call":
			if item.Name == proposalToolName {
				resp.Proposal = json.RawMessage(item.Arguments)
			}
		}
	}
	resp.Text = strings.TrimSpace(strings.Join(texts, "\n"))
	return resp
}
