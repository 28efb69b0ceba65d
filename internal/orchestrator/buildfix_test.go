package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilworks/anvil/internal/fault"
	"github.com/anvilworks/anvil/internal/fileop"
	"github.com/anvilworks/anvil/internal/instructions"
	"github.com/anvilworks/anvil/internal/llm"
	"github.com/anvilworks/anvil/internal/project"
	"github.com/anvilworks/anvil/internal/shell"
)

// fakeClient replays scripted completions, recording every request.
type fakeClient struct {
	responses []llm.Response
	errs      []error
	requests  []llm.Request
}

func (c *fakeClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	i := len(c.requests)
	c.requests = append(c.requests, req)
	var resp llm.Response
	if i < len(c.responses) {
		resp = c.responses[i]
	}
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	return resp, err
}

func (c *fakeClient) Ping(ctx context.Context) error { return nil }
func (c *fakeClient) Name() string                   { return "scripted" }

func proposalResponse(t *testing.T, kind, target, payload string) llm.Response {
	t.Helper()
	env := map[string]any{
		"summary": "proposed fix",
		"actions": []map[string]any{{"kind": kind, "target": target, "payload": payload}},
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return llm.Response{Proposal: raw}
}

func newTestLoop(store *project.Store, runner CommandRunner, client llm.Client, prompter Prompter, maxAttempts int) *Loop {
	gate := NewGate(GateOptions{
		Store:    store,
		Files:    fileop.New(store.Dir()),
		Runner:   runner,
		Prompter: prompter,
		Logger:   zerolog.Nop(),
	})
	return NewLoop(LoopOptions{
		Store:       store,
		Runner:      runner,
		Client:      client,
		Gate:        gate,
		Prompter:    prompter,
		Model:       "test-model",
		System:      "You fix builds.",
		MaxAttempts: maxAttempts,
		Logger:      zerolog.Nop(),
	})
}

func TestLoop_SucceedsOnFirstRun(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{results: []shell.Result{{ExitCode: 0, Stdout: "ok\n"}}}
	client := &fakeClient{}
	loop := newTestLoop(store, runner, client, &scriptedPrompter{}, 0)

	result, err := loop.Run(context.Background(), "make")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, client.requests, "a passing build asks the model nothing")
	assert.Len(t, store.BuildLog(), 1)
	assert.Equal(t, project.StatusIdle, store.Status())
}

func TestLoop_AppliesFixThenSucceeds(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{results: []shell.Result{
		{ExitCode: 1, Stderr: "main.go:3: undefined: foo\n"},
		{ExitCode: 0},
	}}
	client := &fakeClient{responses: []llm.Response{
		proposalResponse(t, "create_file", "fix.go", "package main\n"),
	}}
	prompter := &scriptedPrompter{decisions: []Decision{DecisionApprove}}
	loop := newTestLoop(store, runner, client, prompter, 0)

	result, err := loop.Run(context.Background(), "go build ./...")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, []string{"go build ./...", "go build ./..."}, runner.commands)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "You fix builds.", req.System)
	assert.Contains(t, req.Prompt, "go build ./...")
	assert.Contains(t, req.Prompt, "undefined: foo")
	assert.Contains(t, req.Prompt, "Fix attempt 1 of 3")

	assert.FileExists(t, store.Dir()+"/fix.go")
	assert.Len(t, store.BuildLog(), 2)
	assert.Equal(t, project.StatusIdle, store.Status())
}

func TestLoop_AlwaysFailingBuildExhausts(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{results: []shell.Result{
		{ExitCode: 1, Stderr: "boom one\n"},
		{ExitCode: 1, Stderr: "boom two\n"},
		{ExitCode: 1, Stderr: "boom three\n"},
	}}
	client := &fakeClient{responses: []llm.Response{
		proposalResponse(t, "create_file", "fix1.go", "a"),
		proposalResponse(t, "create_file", "fix2.go", "b"),
	}}
	loop := newTestLoop(store, runner, client, &scriptedPrompter{}, 0)

	result, err := loop.Run(context.Background(), "make")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, result.State)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Diagnostic, "boom three")
	assert.Len(t, runner.commands, 3, "the loop never runs past maxAttempts")
	assert.Len(t, client.requests, 2, "no proposal is requested once attempts are spent")
	assert.Len(t, store.BuildLog(), 3)
	assert.Equal(t, project.StatusError, store.Status())
}

func TestLoop_IdenticalFixExhaustsEarly(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{results: []shell.Result{
		{ExitCode: 1, Stderr: "boom\n"},
		{ExitCode: 1, Stderr: "boom\n"},
	}}
	client := &fakeClient{responses: []llm.Response{
		proposalResponse(t, "create_file", "same.go", "identical content"),
		proposalResponse(t, "create_file", "same.go", "identical content"),
	}}
	prompter := &scriptedPrompter{}
	loop := newTestLoop(store, runner, client, prompter, 5)

	result, err := loop.Run(context.Background(), "make")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, result.State)
	assert.Len(t, runner.commands, 2, "the repeated fix is never applied or re-run")
	assert.Len(t, client.requests, 2)
	assert.True(t, prompter.displayed("identical"))
	assert.Equal(t, project.StatusError, store.Status())
}

func TestLoop_AbortedFixApprovalExhausts(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{results: []shell.Result{{ExitCode: 1, Stderr: "err\n"}}}
	client := &fakeClient{responses: []llm.Response{
		proposalResponse(t, "create_file", "fix.go", "x"),
	}}
	prompter := &scriptedPrompter{decisions: []Decision{DecisionAbort}}
	loop := newTestLoop(store, runner, client, prompter, 0)

	result, err := loop.Run(context.Background(), "make")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, result.State)
	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, runner.commands, 1)
	assert.NoFileExists(t, store.Dir()+"/fix.go")
}

func TestLoop_ModelFailureExhausts(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{results: []shell.Result{{ExitCode: 1, Stderr: "err\n"}}}
	client := &fakeClient{errs: []error{fault.New(fault.KindTransport, "model unreachable")}}
	prompter := &scriptedPrompter{}
	loop := newTestLoop(store, runner, client, prompter, 0)

	result, err := loop.Run(context.Background(), "make")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, result.State)
	assert.True(t, prompter.displayed("No usable fix"))
	assert.Equal(t, project.StatusError, store.Status())
}

func TestLoop_TextOnlyReplyExhausts(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{results: []shell.Result{{ExitCode: 1, Stderr: "err\n"}}}
	client := &fakeClient{responses: []llm.Response{
		{Text: "This failure is environmental; I cannot fix it from here."},
	}}
	prompter := &scriptedPrompter{}
	loop := newTestLoop(store, runner, client, prompter, 0)

	result, err := loop.Run(context.Background(), "make")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, result.State)
	assert.True(t, prompter.displayed("environmental"), "the model's explanation is shown")
}

func TestLoop_ShellStartFailureExhausts(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{errs: []error{fault.New(fault.KindShell, "start process: exec format error")}}
	loop := newTestLoop(store, runner, &fakeClient{}, &scriptedPrompter{}, 0)

	result, err := loop.Run(context.Background(), "make")
	require.Error(t, err)
	assert.Equal(t, fault.KindShell, fault.KindOf(err))

	assert.Equal(t, StateExhausted, result.State)
	assert.Equal(t, -1, result.ExitCode)

	log := store.BuildLog()
	require.Len(t, log, 1)
	assert.Equal(t, -1, log[0].ExitCode)
	assert.Contains(t, log[0].Stderr, "exec format error")
	assert.Equal(t, project.StatusError, store.Status())
}

func TestLoop_CancelledRunEndsQuietly(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{results: []shell.Result{
		{ExitCode: -1, Cancelled: true, Stderr: "command cancelled by operator"},
	}}
	client := &fakeClient{}
	loop := newTestLoop(store, runner, client, &scriptedPrompter{}, 0)

	result, err := loop.Run(context.Background(), "make")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, result.State)
	assert.True(t, result.Cancelled)
	assert.Empty(t, client.requests, "no fix is proposed for a cancelled run")

	log := store.BuildLog()
	require.Len(t, log, 1)
	assert.True(t, log[0].Cancelled)
	assert.Equal(t, project.StatusIdle, store.Status(), "cancellation is not an error state")
}

func TestLoop_SilentFailureStillDiagnoses(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{results: []shell.Result{
		{ExitCode: 1},
		{ExitCode: 0},
	}}
	client := &fakeClient{responses: []llm.Response{
		proposalResponse(t, "create_file", "fix.go", "x"),
	}}
	loop := newTestLoop(store, runner, client, &scriptedPrompter{}, 0)

	result, err := loop.Run(context.Background(), "exit 1")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)

	log := store.BuildLog()
	require.Len(t, log, 2)
	assert.Equal(t, 1, log[0].ExitCode)

	require.Len(t, client.requests, 1)
	assert.Contains(t, client.requests[0].Prompt, "Exit code: 1")
	assert.Contains(t, client.requests[0].Prompt, "The command produced no output.")
}

func TestLoop_HaltedFixApplicationExhausts(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{results: []shell.Result{{ExitCode: 1, Stderr: "err\n"}}}
	client := &fakeClient{responses: []llm.Response{
		proposalResponse(t, "modify_file", "missing.txt", "x"),
	}}
	prompter := &scriptedPrompter{decisions: []Decision{DecisionApprove}}
	loop := newTestLoop(store, runner, client, prompter, 0)

	result, err := loop.Run(context.Background(), "make")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, result.State)
	assert.Len(t, runner.commands, 1, "a half-applied fix is never re-run")
	assert.Equal(t, project.StatusError, store.Status())

	fileLog := store.FileLog()
	require.Len(t, fileLog, 1)
	assert.True(t, fileLog[0].Failed)
}

func TestLoop_RespectsConfiguredMaxAttempts(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{results: []shell.Result{{ExitCode: 1, Stderr: "err\n"}}}
	client := &fakeClient{}
	loop := newTestLoop(store, runner, client, &scriptedPrompter{}, 1)

	result, err := loop.Run(context.Background(), "make")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, result.State)
	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, runner.commands, 1)
	assert.Empty(t, client.requests, "a single-attempt budget leaves no room to propose")
}

func TestLoop_NextStepsParsesSuggestions(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{responses: []llm.Response{
		{Text: "1. Check that the linker is installed\n2. Run make clean first"},
	}}
	loop := newTestLoop(store, &fakeRunner{}, client, &scriptedPrompter{}, 0)

	steps := loop.NextSteps(context.Background(), "make", BuildResult{ExitCode: 2, Diagnostic: "linker exploded"})
	assert.Equal(t, []string{"Check that the linker is installed", "Run make clean first"}, steps)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, instructions.NextStepsSystemPrompt, req.System)
	assert.Contains(t, req.Prompt, "make")
	assert.Contains(t, req.Prompt, "linker exploded")
	assert.Equal(t, nextStepsMaxTokens, req.Params.MaxTokens)
}

func TestLoop_NextStepsFailureReturnsNil(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{errs: []error{fault.New(fault.KindTransport, "down")}}
	loop := newTestLoop(store, &fakeRunner{}, client, &scriptedPrompter{}, 0)

	steps := loop.NextSteps(context.Background(), "make", BuildResult{ExitCode: 1})
	assert.Nil(t, steps)
}
