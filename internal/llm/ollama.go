package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/fault"
)

// DefaultOllamaURL is where a local Ollama daemon listens.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient talks to a local Ollama daemon over its chat API. Local
// models have no native tool calling here, so proposals are extracted from
// fenced JSON blocks in the completion text.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewOllamaClient creates a client. baseURL defaults to the local daemon.
func NewOllamaClient(baseURL string, logger zerolog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		log:        logger,
	}
}

// Name implements Client.
func (c *OllamaClient) Name() string { return ProviderOllama }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// Complete implements Client.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (Response, error) {
	p := req.Params.withDefaults()
	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	messages := make([]ollamaMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.History {
		role := m.Role
		if role == RoleSystem {
			// The system slot is taken; markers ride along as user notes.
			role = RoleUser
		}
		messages = append(messages, ollamaMessage{Role: role, Content: m.Text})
	}
	if req.Prompt != "" {
		messages = append(messages, ollamaMessage{Role: RoleUser, Content: req.Prompt})
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   false,
		Options: &ollamaOptions{
			Temperature: p.Temperature,
			TopP:        p.TopP,
			NumPredict:  p.MaxTokens,
		},
	})
	if err != nil {
		return Response{}, fault.Wrap(fault.KindTransport, err, "marshal ollama request")
	}

	httpReq, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Response{}, fault.Wrap(fault.KindTransport, err, "build ollama request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fault.Wrap(fault.KindTransport, err, "ollama completion")
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fault.Wrap(fault.KindTransport, err, "read ollama response")
	}
	if httpResp.StatusCode != http.StatusOK {
		return Response{}, fault.Newf(fault.KindTransport, "ollama returned %d: %s", httpResp.StatusCode, truncateForLog(string(respBody)))
	}

	var chat ollamaChatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return Response{}, fault.Wrap(fault.KindTransport, err, "decode ollama response")
	}

	resp := Response{
		Usage: TokenUsage{
			PromptTokens:     chat.PromptEvalCount,
			CompletionTokens: chat.EvalCount,
		},
	}
	if proposal, remaining, ok := ExtractProposal(chat.Message.Content); ok {
		resp.Proposal = proposal
		resp.Text = remaining
	} else {
		resp.Text = chat.Message.Content
	}

	c.log.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Bool("proposal", resp.HasProposal()).
		Msg("ollama completion done")
	return resp, nil
}

// Ping implements Client by hitting the model listing endpoint.
func (c *OllamaClient) Ping(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fault.Wrap(fault.KindTransport, err, "build ollama ping")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindTransport, err, "ollama unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fault.Newf(fault.KindTransport, "ollama ping returned %d", resp.StatusCode)
	}
	return nil
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
