// Package project holds the durable record of one project: goal,
// conversation history, todo list, file and build logs, and status. The
// record is owned by a single coordination goroutine and persisted as one
// JSON document under the project root after every mutation.
package project

import "time"

// Status describes what the orchestrator is doing with this project.
// It tracks confirmation and build transitions; it is never set on its own.
type Status string

const (
	StatusIdle                 Status = "idle"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusBuilding             Status = "building"
	StatusError                Status = "error"
)

// Role identifies the author of a history turn.
type Role string

const (
	RoleOperator  Role = "operator"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one entry of the conversation history. History is append-only and
// never reordered.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TodoItem is one tracked task. Items are appended by assistant proposals and
// marked done by completion signals; they are never removed.
type TodoItem struct {
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

// FileOperation is the kind of a resolved file action.
type FileOperation string

const (
	FileOpCreate FileOperation = "create"
	FileOpModify FileOperation = "modify"
	FileOpDelete FileOperation = "delete"
)

// FileLogEntry records one resolved file action. Approved reflects the
// operator's decision; Failed is set when an approved operation could not be
// applied.
type FileLogEntry struct {
	Path      string        `json:"path"`
	Operation FileOperation `json:"operation"`
	Timestamp time.Time     `json:"timestamp"`
	Approved  bool          `json:"approved"`
	Failed    bool          `json:"failed,omitempty"`
}

// BuildLogEntry records one shell command run. Cancelled marks runs the
// operator interrupted; TimedOut marks runs stopped by the command timeout.
// Both synthesize ExitCode -1.
type BuildLogEntry struct {
	Command   string    `json:"command"`
	ExitCode  int       `json:"exitCode"`
	Stdout    string    `json:"stdout"`
	Stderr    string    `json:"stderr"`
	Timestamp time.Time `json:"timestamp"`
	Cancelled bool      `json:"cancelled,omitempty"`
	TimedOut  bool      `json:"timedOut,omitempty"`
}

// Context is the persisted project record. One instance per project root;
// all mutation goes through the Store.
type Context struct {
	Goal      string          `json:"goal"`
	History   []Turn          `json:"history"`
	TodoList  []TodoItem      `json:"todoList"`
	FileLog   []FileLogEntry  `json:"fileLog"`
	BuildLog  []BuildLogEntry `json:"buildLog"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func newContext(now time.Time) *Context {
	return &Context{
		History:   []Turn{},
		TodoList:  []TodoItem{},
		FileLog:   []FileLogEntry{},
		BuildLog:  []BuildLogEntry{},
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DoneCount returns how many todo items are marked done.
func (c *Context) DoneCount() int {
	n := 0
	for _, t := range c.TodoList {
		if t.Done {
			n++
		}
	}
	return n
}
