// Package cli is the interactive session: a readline loop that sends
// operator utterances to the model, routes proposals through the
// confirmation gate and build-fix loop, and renders everything against the
// shared project store. Model calls run on a background worker so Ctrl+C
// stays responsive; all store mutation happens on the loop goroutine.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/action"
	"github.com/anvilworks/anvil/internal/fault"
	"github.com/anvilworks/anvil/internal/instructions"
	"github.com/anvilworks/anvil/internal/llm"
	"github.com/anvilworks/anvil/internal/orchestrator"
	"github.com/anvilworks/anvil/internal/project"
	"github.com/anvilworks/anvil/internal/safety"
)

const (
	// A second Ctrl+C inside this window ends the session.
	doubleInterruptWindow = 2 * time.Second

	// pingTimeout bounds the provider probe behind the status built-in.
	pingTimeout = 5 * time.Second
)

const helpText = `Commands:
  help              this summary
  status            project and session status
  todo              the to-do list
  files             file operations performed on this project
  ls                project file listing
  goal <text>       set or show the project goal
  build <command>   run a command through the build-fix loop
  clear             reset conversation history
  exit | quit | q   leave the session
Anything else is sent to the model.`

// Options configure a session.
type Options struct {
	Store  *project.Store
	Client llm.Client
	Files  orchestrator.FileApplier
	Runner orchestrator.CommandRunner
	Policy *safety.Policy

	Provider string
	Model    string
	// SystemOverride replaces the built-in system prompt when set.
	SystemOverride   string
	Params           llm.Params
	AutoApprove      bool
	MaxBuildAttempts int
	CommandTimeout   time.Duration

	// Message is dispatched as the first utterance before the prompt loop.
	Message string

	NoMarkdown bool
	NoColor    bool

	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer

	Logger zerolog.Logger
}

// App is one interactive session.
type App struct {
	opts   Options
	store  *project.Store
	client llm.Client
	worker *worker
	gate   *orchestrator.Gate
	loop   *orchestrator.Loop

	renderer *Renderer
	spinner  *Spinner

	// system is the composed system prompt, byte-identical across turns.
	system string

	rl    *readline.Instance
	sigCh chan os.Signal

	lastInterruptTime time.Time
	interruptMu       sync.Mutex

	sessionTokens int
	turnCount     int
	quitting      bool

	log zerolog.Logger
}

// NewApp assembles a session around an open store and provider client.
func NewApp(opts Options) *App {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	a := &App{
		opts:     opts,
		store:    opts.Store,
		client:   opts.Client,
		worker:   newWorker(opts.Client, opts.Logger),
		renderer: NewRenderer(opts.Stdout, opts.NoColor, opts.NoMarkdown),
		spinner:  NewSpinner(opts.Stderr),
		sigCh:    make(chan os.Signal, 1),
		log:      opts.Logger,
	}

	a.system = instructions.SystemPrompt(opts.SystemOverride)
	if notes := instructions.ComposeSessionNotes(opts.Store.Dir(), opts.AutoApprove); notes != "" {
		a.system += "\n\n" + notes
	}
	return a
}

// wire builds the confirmation gate and build-fix loop around a prompter.
// Split from NewApp because the interactive prompter needs the readline
// instance, which Run creates.
func (a *App) wire(p orchestrator.Prompter) {
	a.gate = orchestrator.NewGate(orchestrator.GateOptions{
		Store:          a.store,
		Files:          a.opts.Files,
		Runner:         a.opts.Runner,
		Prompter:       p,
		Policy:         a.opts.Policy,
		AutoApprove:    a.opts.AutoApprove,
		CommandTimeout: a.opts.CommandTimeout,
		Logger:         a.log,
	})
	a.loop = orchestrator.NewLoop(orchestrator.LoopOptions{
		Store:          a.store,
		Runner:         a.opts.Runner,
		Client:         a.client,
		Gate:           a.gate,
		Prompter:       p,
		Model:          a.opts.Model,
		System:         a.system,
		Params:         a.opts.Params,
		MaxAttempts:    a.opts.MaxBuildAttempts,
		CommandTimeout: a.opts.CommandTimeout,
		Logger:         a.log,
	})
}

// Run drives the session until exit, EOF, or a fatal store failure.
func (a *App) Run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptDefault,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	a.rl = rl
	defer rl.Close()

	a.wire(NewConsole(rl, a.renderer))

	signal.Notify(a.sigCh, syscall.SIGINT)
	defer signal.Stop(a.sigCh)

	a.renderer.Banner(a.store.Dir(), a.store.Goal(), a.store.HistoryLen())
	a.log.Info().Str("dir", a.store.Dir()).Str("model", a.opts.Model).Msg("session started")

	if msg := strings.TrimSpace(a.opts.Message); msg != "" {
		fmt.Fprintln(a.opts.Stdout, promptDefault+msg)
		if err := a.dispatch(msg); err != nil {
			return err
		}
	}

	for !a.quitting {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			a.idleInterrupt()
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		handled, err := a.builtin(line)
		if err != nil {
			return err
		}
		if handled {
			continue
		}
		if err := a.dispatch(line); err != nil {
			return err
		}
	}

	a.renderer.Notice("Bye.")
	a.log.Info().Int("turns", a.turnCount).Int("tokens", a.sessionTokens).Msg("session ended")
	return nil
}

// builtin intercepts session commands. handled is false when the line is a
// model utterance; the error return covers store failures, which end the
// session.
func (a *App) builtin(line string) (handled bool, err error) {
	cmd, arg := splitCommand(line)
	switch cmd {
	case "help":
		a.renderer.Plain(helpText)
	case "status":
		a.showStatus()
	case "todo":
		a.renderer.Plain(project.FormatTodoList(a.store.Todos()))
	case "files":
		a.renderer.Plain(fileLogText(a.store.FileLog()))
	case "ls":
		a.showListing()
	case "goal":
		if arg == "" {
			if g := a.store.Goal(); g != "" {
				a.renderer.Plain("Goal: " + g)
			} else {
				a.renderer.Plain("No goal set. Use 'goal <text>' to set one.")
			}
			return true, nil
		}
		if err := a.store.SetGoal(arg); err != nil {
			return true, err
		}
		a.renderer.Notice("Goal updated.")
	case "build":
		if arg == "" {
			a.renderer.Notice("Usage: build <command>")
			return true, nil
		}
		return true, a.runBuild(arg)
	case "clear":
		if err := a.store.ClearHistory("operator clear"); err != nil {
			return true, err
		}
		a.renderer.Notice("Conversation history cleared.")
	case "exit", "quit", "q":
		a.quitting = true
	default:
		return false, nil
	}
	return true, nil
}

// splitCommand separates the built-in keyword from its argument.
func splitCommand(line string) (cmd, arg string) {
	cmd, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (a *App) showStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	reach := "reachable"
	if err := a.client.Ping(ctx); err != nil {
		reach = "unreachable: " + err.Error()
	}
	a.renderer.Plain(statusText(a.store, a.client.Name(), a.opts.Model, reach, a.sessionTokens, a.turnCount))
}

func (a *App) showListing() {
	snap := a.store.Snapshot()
	if len(snap.Files) == 0 {
		a.renderer.Plain("(no project files)")
		return
	}
	var b strings.Builder
	for _, f := range snap.Files {
		b.WriteString(f)
		b.WriteByte('\n')
	}
	if snap.FilesTruncated {
		fmt.Fprintf(&b, "... listing truncated at %d files\n", len(snap.Files))
	}
	a.renderer.Plain(strings.TrimRight(b.String(), "\n"))
}

// dispatch runs one model turn: record the utterance, call the model off
// the loop goroutine, then interpret the reply. Only store failures
// propagate; everything else is reported and the prompt comes back.
func (a *App) dispatch(line string) error {
	if err := a.store.AddTurn(project.RoleOperator, line); err != nil {
		return err
	}

	resp, err := a.complete(a.turnRequest(line))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.renderer.Notice("Request cancelled.")
			return nil
		}
		a.reportError(err)
		return nil
	}
	return a.interpret(resp)
}

// turnRequest assembles the completion request: prior turns as native
// history, the project snapshot and current utterance in the prompt.
func (a *App) turnRequest(line string) llm.Request {
	snap := a.store.Snapshot()

	recent := snap.RecentHistory
	// The utterance was just recorded; it rides in Prompt, not History.
	if n := len(recent); n > 0 && recent[n-1].Role == project.RoleOperator && recent[n-1].Text == line {
		recent = recent[:n-1]
	}
	history := historyMessages(recent)
	snap.RecentHistory = nil

	return llm.Request{
		Model:   a.opts.Model,
		System:  a.system,
		Prompt:  instructions.BuildTurnPrompt(snap, line),
		History: history,
		Params:  a.opts.Params,
	}
}

// historyMessages converts stored turns to wire messages. System markers
// become user notes; providers reserve the system role for the prompt.
func historyMessages(turns []project.Turn) []llm.Message {
	if len(turns) == 0 {
		return nil
	}
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == project.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Text: t.Text})
	}
	return msgs
}

// complete runs one model call with a spinner, watching for Ctrl+C: the
// first press cancels the call, a second within the window ends the session.
func (a *App) complete(req llm.Request) (llm.Response, error) {
	a.drainSignals()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := a.worker.complete(ctx, req)
	a.spinner.Start("Thinking...")
	defer a.spinner.Stop()

	for {
		select {
		case res := <-ch:
			return res.resp, res.err
		case <-a.sigCh:
			if a.secondInterrupt() {
				a.quitting = true
			} else {
				a.spinner.SetMessage("Cancelling... (Ctrl+C again to exit)")
			}
			cancel()
		}
	}
}

// interpret routes one model reply: plain text goes to the transcript, a
// proposal through todo merge, the confirmation gate, and any approved
// build commands through the build-fix loop.
func (a *App) interpret(resp llm.Response) error {
	a.turnCount++
	a.sessionTokens += resp.Usage.PromptTokens + resp.Usage.CompletionTokens

	if !resp.HasProposal() {
		if resp.Text == "" {
			a.renderer.Notice("(empty response)")
			return nil
		}
		if err := a.store.AddTurn(project.RoleAssistant, resp.Text); err != nil {
			return err
		}
		a.renderer.Assistant(resp.Text)
		a.statusLine()
		return nil
	}

	prop, err := action.ParseProposal(resp.Proposal)
	if err != nil {
		return a.clarify(err)
	}
	return a.applyProposal(resp.Text, prop)
}

// clarify asks the model to restate a malformed proposal once. A second
// malformed envelope is surfaced and dropped; an action is never guessed
// from a broken envelope.
func (a *App) clarify(cause error) error {
	a.log.Warn().Err(cause).Msg("malformed proposal")
	a.renderer.Noticef("The proposal did not validate (%v); asking the model to restate it.", cause)
	if err := a.store.AddTurn(project.RoleSystem, "proposal rejected: "+cause.Error()); err != nil {
		return err
	}

	req := a.turnRequest(fmt.Sprintf(
		"Your previous proposal was rejected: %v. Restate it as one valid envelope with only the keys summary, actions, and todos.", cause))
	retry, err := a.complete(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.renderer.Notice("Request cancelled.")
			return nil
		}
		a.reportError(err)
		return nil
	}

	if !retry.HasProposal() {
		return a.interpret(retry)
	}
	a.turnCount++
	a.sessionTokens += retry.Usage.PromptTokens + retry.Usage.CompletionTokens

	prop, perr := action.ParseProposal(retry.Proposal)
	if perr != nil {
		a.renderer.Error("The restated proposal is still invalid; nothing was applied.")
		return a.store.AddTurn(project.RoleSystem, "proposal rejected twice: "+perr.Error())
	}
	return a.applyProposal(retry.Text, prop)
}

// applyProposal records the reply, merges todo updates, confirms the action
// batch, and hands approved build commands to the build-fix loop.
func (a *App) applyProposal(text string, prop *action.Proposal) error {
	display := text
	if display == "" {
		display = prop.Summary
	}
	record := display
	if record == "" {
		record = fmt.Sprintf("(proposed %d action(s))", len(prop.Actions))
	}
	if err := a.store.AddTurn(project.RoleAssistant, record); err != nil {
		return err
	}
	if display != "" {
		a.renderer.Assistant(display)
	}

	if len(prop.Todos) > 0 {
		if err := a.mergeTodos(prop.Todos); err != nil {
			return err
		}
	}

	if len(prop.Actions) == 0 {
		a.statusLine()
		return nil
	}

	outcome, err := a.confirm(prop.Actions)
	if err != nil {
		return err
	}
	for _, cmd := range outcome.Builds {
		if a.quitting {
			break
		}
		if err := a.runBuild(cmd); err != nil {
			return err
		}
	}
	a.statusLine()
	return nil
}

func (a *App) mergeTodos(raw []byte) error {
	updates, err := project.ParseTodoUpdates(raw)
	if err != nil {
		// A broken todo list never blocks the action batch.
		a.log.Warn().Err(err).Msg("invalid todo update")
		a.renderer.Noticef("Ignoring invalid todo update: %v", err)
		return nil
	}
	if len(updates) == 0 {
		return nil
	}
	added, completed, err := a.store.MergeTodos(updates)
	if err != nil {
		return err
	}
	if added > 0 || completed > 0 {
		a.renderer.Noticef("Todo list: %d added, %d completed.", added, completed)
	}
	return nil
}

// confirm runs the gate with an interrupt watcher so Ctrl+C during an
// approved command cancels it instead of being lost.
func (a *App) confirm(batch []action.Action) (orchestrator.Outcome, error) {
	ctx, stop := a.watchInterrupt()
	defer stop()
	return a.gate.Confirm(ctx, batch)
}

// runBuild drives one build-fix cycle and, when the cycle exhausts its
// attempts, offers the model's manual next steps.
func (a *App) runBuild(command string) error {
	ctx, stop := a.watchInterrupt()
	defer stop()

	result, err := a.loop.Run(ctx, command)
	if err != nil {
		if fault.KindOf(err) == fault.KindPersistence {
			return err
		}
		a.reportError(err)
		return nil
	}
	stop()

	switch {
	case result.State == orchestrator.StateSucceeded:
		a.renderer.Noticef("Build succeeded after %d attempt(s).", result.Attempts)
	case result.Cancelled:
		a.renderer.Notice("Build cancelled.")
	default:
		a.renderer.Noticef("Build still failing after %d attempt(s), exit %d.", result.Attempts, result.ExitCode)
		a.renderer.NextSteps(a.nextSteps(command, result))
	}
	return nil
}

// nextSteps runs the bounded post-mortem suggestion call.
func (a *App) nextSteps(command string, result orchestrator.BuildResult) []string {
	ctx, stop := a.watchInterrupt()
	defer stop()
	a.spinner.Start("Summarizing next steps...")
	defer a.spinner.Stop()
	return a.loop.NextSteps(ctx, command, result)
}

// watchInterrupt returns a context cancelled by the next Ctrl+C. The loop
// goroutine is parked inside the gate or build loop while this runs, so a
// watcher goroutine owns the signal channel for the duration.
func (a *App) watchInterrupt() (context.Context, func()) {
	a.drainSignals()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer cancel()
		select {
		case <-a.sigCh:
			a.interruptMu.Lock()
			a.lastInterruptTime = time.Now()
			a.interruptMu.Unlock()
			a.renderer.Notice("Cancelling...")
		case <-done:
		}
	}()
	var once sync.Once
	return ctx, func() { once.Do(func() { close(done) }) }
}

// idleInterrupt handles Ctrl+C at the prompt: nothing is in flight, so the
// first press only warns.
func (a *App) idleInterrupt() {
	if a.secondInterrupt() {
		a.quitting = true
		return
	}
	a.renderer.Notice("Interrupted. Ctrl+C again to exit, or keep typing.")
}

// secondInterrupt reports whether this Ctrl+C closely follows another.
func (a *App) secondInterrupt() bool {
	a.interruptMu.Lock()
	defer a.interruptMu.Unlock()
	now := time.Now()
	second := now.Sub(a.lastInterruptTime) < doubleInterruptWindow
	a.lastInterruptTime = now
	return second
}

// drainSignals discards any interrupt delivered while nothing was watching,
// so a stale press cannot cancel the next dispatch.
func (a *App) drainSignals() {
	for {
		select {
		case <-a.sigCh:
		default:
			return
		}
	}
}

func (a *App) statusLine() {
	a.renderer.StatusLine(a.opts.Model, a.sessionTokens, a.turnCount)
}

// reportError shows a model or execution failure without ending the session.
func (a *App) reportError(err error) {
	a.log.Error().Err(err).Msg("turn failed")
	switch fault.KindOf(err) {
	case fault.KindTransport:
		a.renderer.Error(fmt.Sprintf("model call failed: %v", err))
	case fault.KindMalformedProposal:
		a.renderer.Error(fmt.Sprintf("model reply was unusable: %v", err))
	default:
		a.renderer.Error(err.Error())
	}
}

// statusText renders the status built-in body.
func statusText(s *project.Store, provider, model, reach string, tokens, turns int) string {
	todos := s.Todos()
	done := s.DoneCount()

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", s.Dir())
	goal := s.Goal()
	if goal == "" {
		goal = "(none)"
	}
	fmt.Fprintf(&b, "Goal: %s\n", goal)
	fmt.Fprintf(&b, "Status: %s\n", s.Status())
	fmt.Fprintf(&b, "History: %d turn(s)\n", s.HistoryLen())
	fmt.Fprintf(&b, "Todos: %d open, %d done\n", len(todos)-done, done)
	fmt.Fprintf(&b, "File ops: %d, builds: %d\n", len(s.FileLog()), len(s.BuildLog()))
	fmt.Fprintf(&b, "Model: %s via %s (%s)\n", model, provider, reach)
	fmt.Fprintf(&b, "Session: %d turn(s), %s tokens", turns, formatTokens(tokens))
	return b.String()
}

// fileLogText renders the files built-in body in log order.
func fileLogText(entries []project.FileLogEntry) string {
	if len(entries) == 0 {
		return "No file operations recorded."
	}
	var b strings.Builder
	for _, e := range entries {
		mark := "applied"
		switch {
		case !e.Approved:
			mark = "rejected"
		case e.Failed:
			mark = "failed"
		}
		fmt.Fprintf(&b, "%s  %-6s  %s  (%s)\n", e.Timestamp.Format("2006-01-02 15:04"), e.Operation, e.Path, mark)
	}
	return strings.TrimRight(b.String(), "\n")
}
