package instructions

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anvilworks/anvil/internal/project"
)

func TestRenderSnapshot_CoversAllSections(t *testing.T) {
	snap := project.Snapshot{
		Goal:   "build a flask app",
		Status: project.StatusIdle,
		TodoList: []project.TodoItem{
			{Description: "create app.py", Done: true},
			{Description: "add tests", Done: false},
		},
		RecentHistory: []project.Turn{
			{Role: project.RoleOperator, Text: "set up the project"},
			{Role: project.RoleAssistant, Text: "Done, app.py created."},
		},
		HistoryLen: 2,
		Files:      []string{"app.py", "requirements.txt"},
		LastBuild: &project.BuildLogEntry{
			Command:  "python app.py",
			ExitCode: 0,
		},
	}

	out := RenderSnapshot(snap)

	assert.Contains(t, out, "Goal: build a flask app")
	assert.Contains(t, out, "Status: idle")
	assert.Contains(t, out, "[x] create app.py")
	assert.Contains(t, out, "[ ] add tests")
	assert.Contains(t, out, "operator: set up the project")
	assert.Contains(t, out, "assistant: Done, app.py created.")
	assert.Contains(t, out, "- app.py")
	assert.Contains(t, out, "- requirements.txt")
	assert.Contains(t, out, "Last build: `python app.py` exited 0")
}

func TestRenderSnapshot_EmptyProject(t *testing.T) {
	out := RenderSnapshot(project.Snapshot{Status: project.StatusIdle})

	assert.Contains(t, out, "Goal: (not set)")
	assert.NotContains(t, out, "To-do list")
	assert.NotContains(t, out, "Recent conversation")
	assert.NotContains(t, out, "Project files")
	assert.NotContains(t, out, "Last build")
}

func TestRenderSnapshot_NotesDroppedHistory(t *testing.T) {
	snap := project.Snapshot{
		Status:        project.StatusIdle,
		RecentHistory: []project.Turn{{Role: project.RoleOperator, Text: "latest"}},
		HistoryLen:    12,
	}

	out := RenderSnapshot(snap)
	assert.Contains(t, out, "last 1 of 12 turns")
}

func TestRenderSnapshot_TruncatedFileListingIsFlagged(t *testing.T) {
	snap := project.Snapshot{
		Status:         project.StatusIdle,
		Files:          []string{"a.go", "b.go"},
		FilesTruncated: true,
	}

	out := RenderSnapshot(snap)
	assert.Contains(t, out, "listing truncated")
}

func TestRenderSnapshot_FailedBuildIncludesOutputTail(t *testing.T) {
	snap := project.Snapshot{
		Status: project.StatusError,
		LastBuild: &project.BuildLogEntry{
			Command:  "go build ./...",
			ExitCode: 2,
			Stderr:   "main.go:10: undefined: foo",
		},
	}

	out := RenderSnapshot(snap)
	assert.Contains(t, out, "exited 2")
	assert.Contains(t, out, "undefined: foo")
}

func TestRenderSnapshot_CancelledBuildIsMarked(t *testing.T) {
	snap := project.Snapshot{
		Status: project.StatusIdle,
		LastBuild: &project.BuildLogEntry{
			Command:   "npm test",
			ExitCode:  -1,
			Cancelled: true,
		},
	}

	out := RenderSnapshot(snap)
	assert.Contains(t, out, "(cancelled)")
}

func TestRenderSnapshot_LongTurnsAreExcerpted(t *testing.T) {
	long := strings.Repeat("x", 2*maxTurnExcerpt)
	snap := project.Snapshot{
		Status:        project.StatusIdle,
		RecentHistory: []project.Turn{{Role: project.RoleAssistant, Text: long}},
		HistoryLen:    1,
	}

	out := RenderSnapshot(snap)
	assert.Less(t, len(out), len(long))
	assert.Contains(t, out, "...")
}

func TestBuildTurnPrompt_AppendsOperatorRequest(t *testing.T) {
	snap := project.Snapshot{Goal: "g", Status: project.StatusIdle}

	out := BuildTurnPrompt(snap, "add a README")

	assert.Contains(t, out, "## Project state")
	assert.Contains(t, out, "## Operator request")
	assert.True(t, strings.HasSuffix(out, "add a README"))
}

func TestSystemPrompt_OverrideWins(t *testing.T) {
	assert.Equal(t, defaultSystemPrompt, SystemPrompt(""))
	assert.Equal(t, "custom", SystemPrompt("custom"))
}

func TestSystemPrompt_DescribesProposalEnvelope(t *testing.T) {
	p := SystemPrompt("")
	for _, needle := range []string{"summary", "actions", "todos", "create_file", "modify_file", "delete_file", "run_command", `"build": true`} {
		assert.Contains(t, p, needle)
	}
}

func TestComposeSessionNotes(t *testing.T) {
	notes := ComposeSessionNotes("/work/demo", false)
	assert.Contains(t, notes, "Project root: /work/demo")
	assert.Contains(t, notes, "every action requires operator confirmation")

	notes = ComposeSessionNotes("/work/demo", true)
	assert.Contains(t, notes, "safe commands")
	assert.Contains(t, notes, "always require confirmation")
}
