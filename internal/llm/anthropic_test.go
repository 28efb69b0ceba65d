package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Unit tests for cache_control placement in request builders ---

func TestBuildSystemBlocks_CacheControl(t *testing.T) {
	c := NewAnthropicClient("test-key", "", zerolog.Nop())

	blocks := c.buildSystemBlocks(Request{System: "You are a development assistant."})

	require.Len(t, blocks, 1)
	assert.Equal(t, "ephemeral", string(blocks[0].CacheControl.Type))
}

func TestBuildSystemBlocks_EmptySystemMeansNoBlocks(t *testing.T) {
	c := NewAnthropicClient("test-key", "", zerolog.Nop())
	assert.Empty(t, c.buildSystemBlocks(Request{}))
}

func TestBuildTools_ProposalToolCarriesCacheControl(t *testing.T) {
	c := NewAnthropicClient("test-key", "", zerolog.Nop())

	defs := c.buildTools()

	require.Len(t, defs, 1)
	require.NotNil(t, defs[0].OfTool)
	assert.Equal(t, proposalToolName, defs[0].OfTool.Name)
	assert.Equal(t, "ephemeral", string(defs[0].OfTool.CacheControl.Type))
}

func TestBuildMessages_CacheBreakpointOnPenultimate(t *testing.T) {
	c := NewAnthropicClient("test-key", "", zerolog.Nop())

	messages := c.buildMessages(Request{
		History: []Message{
			{Role: RoleUser, Text: "set up the project"},
			{Role: RoleAssistant, Text: "Done."},
		},
		Prompt: "now add tests",
	})

	require.Len(t, messages, 3)

	penultimate := messages[len(messages)-2]
	require.NotEmpty(t, penultimate.Content)
	cc := penultimate.Content[len(penultimate.Content)-1].GetCacheControl()
	require.NotNil(t, cc)
	assert.Equal(t, "ephemeral", string(cc.Type))
}

func TestBuildMessages_SingleMessageGetsNoBreakpoint(t *testing.T) {
	c := NewAnthropicClient("test-key", "", zerolog.Nop())

	messages := c.buildMessages(Request{Prompt: "hello"})
	require.Len(t, messages, 1)
}

func TestBuildMessages_SystemMarkersBecomeUserNotes(t *testing.T) {
	c := NewAnthropicClient("test-key", "", zerolog.Nop())

	messages := c.buildMessages(Request{
		History: []Message{{Role: RoleSystem, Text: "history compacted: 5 earlier turns archived"}},
		Prompt:  "continue",
	})

	require.Len(t, messages, 2)
	assert.Equal(t, "user", string(messages[0].Role))
}

// --- HTTP interception tests ---

func fakeAnthropicText(text string) string {
	return fmt.Sprintf(`{
		"id": "msg_test",
		"type": "message",
		"role": "assistant",
		"model": "claude-haiku-4-5-20251001",
		"content": [{"type": "text", "text": %q}],
		"stop_reason": "end_turn",
		"stop_sequence": null,
		"usage": {
			"input_tokens": 100,
			"output_tokens": 10,
			"cache_creation_input_tokens": 80,
			"cache_read_input_tokens": 0,
			"cache_creation": {"ephemeral_5m_input_tokens": 80, "ephemeral_1h_input_tokens": 0}
		}
	}`, text)
}

const fakeAnthropicProposal = `{
	"id": "msg_test",
	"type": "message",
	"role": "assistant",
	"model": "claude-haiku-4-5-20251001",
	"content": [
		{"type": "text", "text": "I'll create the file."},
		{"type": "tool_use", "id": "toolu_1", "name": "propose", "input": {
			"summary": "Create hello.py",
			"actions": [{"kind": "create_file", "target": "hello.py", "payload": "print('hi')\n"}]
		}}
	],
	"stop_reason": "tool_use",
	"stop_sequence": null,
	"usage": {
		"input_tokens": 200,
		"output_tokens": 50,
		"cache_creation_input_tokens": 0,
		"cache_read_input_tokens": 150,
		"cache_creation": {"ephemeral_5m_input_tokens": 0, "ephemeral_1h_input_tokens": 0}
	}
}`

func anthropicTestServer(t *testing.T, response string, captured *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, response)
	}))
}

func TestComplete_CacheControlSentInSystemBlock(t *testing.T) {
	var captured map[string]interface{}
	server := anthropicTestServer(t, fakeAnthropicText("Hello!"), &captured)
	defer server.Close()

	c := NewAnthropicClient("test-key", server.URL, zerolog.Nop())
	_, err := c.Complete(context.Background(), Request{
		Model:  "claude-haiku-4-5-20251001",
		System: "You are a development assistant.",
		Prompt: "hi",
	})
	require.NoError(t, err)

	systemBlocks, ok := captured["system"].([]interface{})
	require.True(t, ok, "system field must be present")
	require.Len(t, systemBlocks, 1)
	block := systemBlocks[0].(map[string]interface{})
	cc, ok := block["cache_control"].(map[string]interface{})
	require.True(t, ok, "system block must have cache_control")
	assert.Equal(t, "ephemeral", cc["type"])
}

func TestComplete_ProposalToolSentWithSchema(t *testing.T) {
	var captured map[string]interface{}
	server := anthropicTestServer(t, fakeAnthropicText("Hello!"), &captured)
	defer server.Close()

	c := NewAnthropicClient("test-key", server.URL, zerolog.Nop())
	_, err := c.Complete(context.Background(), Request{Model: "claude-haiku-4-5-20251001", Prompt: "hi"})
	require.NoError(t, err)

	toolsList, ok := captured["tools"].([]interface{})
	require.True(t, ok, "tools field must be present")
	require.Len(t, toolsList, 1)

	tool := toolsList[0].(map[string]interface{})
	assert.Equal(t, "propose", tool["name"])

	cc, ok := tool["cache_control"].(map[string]interface{})
	require.True(t, ok, "proposal tool must have cache_control")
	assert.Equal(t, "ephemeral", cc["type"])

	schema := tool["input_schema"].(map[string]interface{})
	props := schema["properties"].(map[string]interface{})
	assert.Contains(t, props, "summary")
	assert.Contains(t, props, "actions")
	assert.Contains(t, props, "todos")
}

func TestComplete_TextResponse(t *testing.T) {
	server := anthropicTestServer(t, fakeAnthropicText("The build failed because of a typo."), nil)
	defer server.Close()

	c := NewAnthropicClient("test-key", server.URL, zerolog.Nop())
	resp, err := c.Complete(context.Background(), Request{Model: "claude-haiku-4-5-20251001", Prompt: "why?"})
	require.NoError(t, err)

	assert.Equal(t, "The build failed because of a typo.", resp.Text)
	assert.False(t, resp.HasProposal())
	assert.Equal(t, 100, resp.Usage.PromptTokens)
	assert.Equal(t, 10, resp.Usage.CompletionTokens)
}

func TestComplete_ToolUseBecomesProposal(t *testing.T) {
	server := anthropicTestServer(t, fakeAnthropicProposal, nil)
	defer server.Close()

	c := NewAnthropicClient("test-key", server.URL, zerolog.Nop())
	resp, err := c.Complete(context.Background(), Request{Model: "claude-haiku-4-5-20251001", Prompt: "make hello.py"})
	require.NoError(t, err)

	require.True(t, resp.HasProposal())
	assert.Equal(t, "I'll create the file.", resp.Text)

	var envelope struct {
		Summary string `json:"summary"`
		Actions []struct {
			Kind   string `json:"kind"`
			Target string `json:"target"`
		} `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(resp.Proposal, &envelope))
	assert.Equal(t, "Create hello.py", envelope.Summary)
	require.Len(t, envelope.Actions, 1)
	assert.Equal(t, "create_file", envelope.Actions[0].Kind)
	assert.Equal(t, "hello.py", envelope.Actions[0].Target)
}

func TestComplete_CachedTokensReported(t *testing.T) {
	server := anthropicTestServer(t, fakeAnthropicProposal, nil)
	defer server.Close()

	c := NewAnthropicClient("test-key", server.URL, zerolog.Nop())
	resp, err := c.Complete(context.Background(), Request{Model: "claude-haiku-4-5-20251001", Prompt: "go"})
	require.NoError(t, err)

	assert.Equal(t, 150, resp.Usage.CachedTokens)
}

func TestComplete_ServerErrorIsTransportFault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"overloaded"}}`)
	}))
	defer server.Close()

	c := NewAnthropicClient("test-key", server.URL, zerolog.Nop())
	_, err := c.Complete(context.Background(), Request{Model: "claude-haiku-4-5-20251001", Prompt: "hi"})
	require.Error(t, err)
}
