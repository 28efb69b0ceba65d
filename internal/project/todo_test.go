package project

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilworks/anvil/internal/fault"
)

func TestParseTodoUpdates_Valid(t *testing.T) {
	raw := json.RawMessage(`[
		{"description": "create app.py", "done": false},
		{"description": "add tests", "done": true}
	]`)
	items, err := ParseTodoUpdates(raw)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "create app.py", items[0].Description)
	assert.False(t, items[0].Done)
	assert.True(t, items[1].Done)
}

func TestParseTodoUpdates_InvalidJSON(t *testing.T) {
	_, err := ParseTodoUpdates(json.RawMessage(`{not json`))
	require.Error(t, err)
	assert.Equal(t, fault.KindMalformedProposal, fault.KindOf(err))
}

func TestParseTodoUpdates_Empty(t *testing.T) {
	_, err := ParseTodoUpdates(json.RawMessage(`[]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")
}

func TestParseTodoUpdates_BlankDescription(t *testing.T) {
	_, err := ParseTodoUpdates(json.RawMessage(`[{"description": "", "done": false}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "description must not be empty")
}

func TestParseTodoUpdates_DuplicateDescription(t *testing.T) {
	raw := json.RawMessage(`[
		{"description": "same", "done": false},
		{"description": "same", "done": true}
	]`)
	_, err := ParseTodoUpdates(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestParseTodoUpdates_NotAnArray(t *testing.T) {
	_, err := ParseTodoUpdates(json.RawMessage(`{"description": "x"}`))
	require.Error(t, err)
	assert.Equal(t, fault.KindMalformedProposal, fault.KindOf(err))
}

func TestFormatTodoList(t *testing.T) {
	out := FormatTodoList([]TodoItem{
		{Description: "first"},
		{Description: "second", Done: true},
	})
	assert.Contains(t, out, "[ ] first")
	assert.Contains(t, out, "[x] second")

	assert.Equal(t, "(no todo items)", FormatTodoList(nil))
}
