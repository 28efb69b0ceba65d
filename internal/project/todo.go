package project

import (
	"encoding/json"
	"fmt"

	"github.com/anvilworks/anvil/internal/fault"
)

// ParseTodoUpdates validates a raw todo update from a model proposal.
// The update is a JSON array of {"description", "done"} objects. Validation
// fails closed: an empty array, a blank description, or a duplicate within
// the batch rejects the whole update and nothing is applied.
func ParseTodoUpdates(raw json.RawMessage) ([]TodoItem, error) {
	var items []struct {
		Description string `json:"description"`
		Done        bool   `json:"done"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fault.Wrap(fault.KindMalformedProposal, err, "todos: invalid JSON")
	}
	if len(items) == 0 {
		return nil, fault.New(fault.KindMalformedProposal, "todos array must not be empty")
	}

	seen := make(map[string]bool, len(items))
	out := make([]TodoItem, len(items))
	for i, it := range items {
		if it.Description == "" {
			return nil, fault.Newf(fault.KindMalformedProposal, "todo %d: description must not be empty", i+1)
		}
		if seen[it.Description] {
			return nil, fault.Newf(fault.KindMalformedProposal, "todo %d: duplicate description %q", i+1, it.Description)
		}
		seen[it.Description] = true
		out[i] = TodoItem{Description: it.Description, Done: it.Done}
	}
	return out, nil
}

// FormatTodoList renders the todo list for display and prompts.
func FormatTodoList(items []TodoItem) string {
	if len(items) == 0 {
		return "(no todo items)"
	}
	out := ""
	for i, it := range items {
		mark := " "
		if it.Done {
			mark = "x"
		}
		out += fmt.Sprintf("%2d. [%s] %s\n", i+1, mark, it.Description)
	}
	return out
}
