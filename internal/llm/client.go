// Package llm talks to the model providers. Every provider exposes the same
// Client surface: one blocking completion call that may carry a structured
// action proposal, and a cheap connectivity probe. Provider selection and
// retry live in factory.go and retry.go.
package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Provider names accepted by the factory.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Message roles on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Default sampling parameters applied when a Params field is zero.
const (
	DefaultTemperature = 0.1
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 2000
	DefaultTimeout     = 120 * time.Second
)

// Message is one prior conversation turn.
type Message struct {
	Role string
	Text string
}

// Params are the sampling knobs for one completion.
type Params struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
	Timeout     time.Duration
}

// withDefaults fills zero fields.
func (p Params) withDefaults() Params {
	if p.Temperature <= 0 {
		p.Temperature = DefaultTemperature
	}
	if p.TopP <= 0 {
		p.TopP = DefaultTopP
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

// Request is one completion call. History is oldest first and does not
// include Prompt, which is the current user turn.
type Request struct {
	Model   string
	System  string
	Prompt  string
	History []Message
	Params  Params
}

// TokenUsage reports what the call cost.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	CachedTokens     int
}

// Response is the assistant's reply. Proposal is the raw JSON envelope when
// the model proposed actions; nil means a plain conversational answer.
// Proposal content is NOT validated here, the action package does that.
type Response struct {
	Text     string
	Proposal json.RawMessage
	Usage    TokenUsage
}

// HasProposal reports whether the model proposed actions.
func (r Response) HasProposal() bool {
	return len(r.Proposal) > 0
}

// Client is one model provider.
type Client interface {
	// Complete runs one blocking completion.
	Complete(ctx context.Context, req Request) (Response, error)
	// Ping checks connectivity and credentials without burning tokens
	// where the provider allows it.
	Ping(ctx context.Context) error
	// Name identifies the provider in logs and status output.
	Name() string
}

// proposalToolName is the function-calling tool providers expose so the
// model can return a structured proposal instead of prose.
const proposalToolName = "propose"

const proposalToolDescription = "Propose project changes: files to create, modify, or delete, shell commands to run, and to-do list updates. Use this whenever the user asks you to change the project; answer in plain text otherwise."

// proposalProperties is the JSON schema body shared by every provider's tool
// definition. It mirrors the envelope the action package validates.
func proposalProperties() map[string]any {
	return map[string]any{
		"summary": map[string]any{
			"type":        "string",
			"description": "One or two sentences describing the proposal, shown to the user before confirmation.",
		},
		"actions": map[string]any{
			"type":        "array",
			"description": "Ordered actions to perform after user approval.",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"kind": map[string]any{
						"type": "string",
						"enum": []string{"create_file", "modify_file", "delete_file", "run_command"},
					},
					"target": map[string]any{
						"type":        "string",
						"description": "Relative file path for file actions. Omit for run_command.",
					},
					"payload": map[string]any{
						"type":        "string",
						"description": "Full file content for create/modify, the command line for run_command. Omit for delete_file.",
					},
					"build": map[string]any{
						"type":        "boolean",
						"description": "Set true on a run_command that builds the project, enabling automatic fix attempts on failure.",
					},
				},
				"required": []string{"kind"},
			},
		},
		"todos": map[string]any{
			"type":        "array",
			"description": "Full or partial to-do list update.",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
					"done":        map[string]any{"type": "boolean"},
				},
				"required": []string{"description"},
			},
		},
	}
}

var proposalRequired = []string{"summary"}

// fencedJSON matches a ```json fenced block; models without native tool
// calling return proposals this way.
var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ExtractProposal pulls a proposal envelope out of plain completion text.
// A fenced ```json block wins; failing that, a response that is nothing but
// a JSON object mentioning actions or todos is treated as the envelope.
// remaining is the text with the extracted block removed.
func ExtractProposal(text string) (proposal json.RawMessage, remaining string, ok bool) {
	if m := fencedJSON.FindStringSubmatchIndex(text); m != nil {
		proposal = json.RawMessage(text[m[2]:m[3]])
		remaining = strings.TrimSpace(text[:m[0]] + text[m[1]:])
		return proposal, remaining, true
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &probe); err == nil {
			_, hasActions := probe["actions"]
			_, hasTodos := probe["todos"]
			if hasActions || hasTodos {
				return json.RawMessage(trimmed), "", true
			}
		}
	}
	return nil, text, false
}
