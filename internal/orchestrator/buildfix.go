package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/action"
	"github.com/anvilworks/anvil/internal/fault"
	"github.com/anvilworks/anvil/internal/instructions"
	"github.com/anvilworks/anvil/internal/llm"
	"github.com/anvilworks/anvil/internal/project"
	"github.com/anvilworks/anvil/internal/shell"
)

// State names a build-fix loop phase. The first four cycle; Succeeded and
// Exhausted are terminal.
type State string

const (
	StateRunning             State = "running"
	StateDiagnosing          State = "diagnosing"
	StateProposingFix        State = "proposing_fix"
	StateAwaitingFixApproval State = "awaiting_fix_approval"
	StateSucceeded           State = "succeeded"
	StateExhausted           State = "exhausted"
)

// DefaultMaxAttempts bounds build runs per cycle when the configuration
// specifies none.
const DefaultMaxAttempts = 3

// nextStepsMaxTokens bounds the post-mortem suggestion call. Three short
// steps need little room.
const nextStepsMaxTokens = 500

// LoopOptions configure a Loop.
type LoopOptions struct {
	Store    *project.Store
	Runner   CommandRunner
	Client   llm.Client
	Gate     *Gate
	Prompter Prompter
	Model    string
	// System is the system prompt for fix proposals, shared with the session
	// driver so fixes follow the same envelope rules.
	System string
	Params llm.Params
	// MaxAttempts bounds build runs per cycle. Zero selects
	// DefaultMaxAttempts.
	MaxAttempts int
	// CommandTimeout bounds each build run. Zero selects the runner default.
	CommandTimeout time.Duration
	Logger         zerolog.Logger
}

// Loop is the bounded build-fix cycle: run the build, and while it fails,
// ask the model for a fix, route it through the confirmation gate, and run
// again. At most MaxAttempts runs per cycle; a fix identical to the previous
// one ends the cycle early because re-applying it cannot change the outcome.
type Loop struct {
	store       *project.Store
	runner      CommandRunner
	client      llm.Client
	gate        *Gate
	prompter    Prompter
	model       string
	system      string
	params      llm.Params
	maxAttempts int
	timeout     time.Duration
	log         zerolog.Logger
}

// NewLoop wires a build-fix cycle.
func NewLoop(opts LoopOptions) *Loop {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Loop{
		store:       opts.Store,
		runner:      opts.Runner,
		client:      opts.Client,
		gate:        opts.Gate,
		prompter:    opts.Prompter,
		model:       opts.Model,
		system:      opts.System,
		params:      opts.Params,
		maxAttempts: maxAttempts,
		timeout:     opts.CommandTimeout,
		log:         opts.Logger,
	}
}

// BuildResult reports how one cycle ended.
type BuildResult struct {
	State    State // StateSucceeded or StateExhausted
	Attempts int
	ExitCode int
	// Diagnostic is the condensed output of the last failing run, suitable
	// for the next-steps call. Empty on success.
	Diagnostic string
	// Cancelled is set when the operator interrupted the build; the cycle
	// ends without further proposals.
	Cancelled bool
}

// Run drives one cycle for command. A build that exhausts its attempts is a
// normal BuildResult, not an error; the error return covers persistence
// failures and a process that could not start.
func (l *Loop) Run(ctx context.Context, command string) (BuildResult, error) {
	attempt := 1
	prevFingerprint := ""
	var lastRes shell.Result
	var fix *action.Proposal

	state := StateRunning
	for {
		switch state {
		case StateRunning:
			if err := l.store.SetStatus(project.StatusBuilding); err != nil {
				return BuildResult{State: StateExhausted, Attempts: attempt}, err
			}
			l.display(fmt.Sprintf("Build attempt %d/%d: %s", attempt, l.maxAttempts, command))

			res, err := l.runner.Run(ctx, command, l.store.Dir(), l.timeout)
			if err != nil {
				// The process never started; no code change can help until
				// the shell itself works.
				entry := project.BuildLogEntry{Command: command, ExitCode: -1, Stderr: err.Error()}
				if logErr := l.store.AddBuildLog(entry); logErr != nil {
					return BuildResult{State: StateExhausted, Attempts: attempt}, logErr
				}
				l.log.Error().Err(err).Str("command", command).Msg("build command could not start")
				l.display(fmt.Sprintf("Build command could not start: %v", err))
				if stErr := l.store.SetStatus(project.StatusError); stErr != nil {
					return BuildResult{State: StateExhausted, Attempts: attempt}, stErr
				}
				return BuildResult{State: StateExhausted, Attempts: attempt, ExitCode: -1}, err
			}

			lastRes = res
			if err := l.store.AddBuildLog(buildEntry(command, res)); err != nil {
				return BuildResult{State: StateExhausted, Attempts: attempt}, err
			}

			switch {
			case res.Cancelled:
				l.display("Build cancelled.")
				state = StateExhausted
			case res.ExitCode == 0:
				state = StateSucceeded
			default:
				state = StateDiagnosing
			}

		case StateDiagnosing:
			l.log.Info().
				Int("exit", lastRes.ExitCode).
				Int("attempt", attempt).
				Bool("timedOut", lastRes.TimedOut).
				Msg("build failed, diagnosing")
			state = StateProposingFix

		case StateProposingFix:
			if attempt >= l.maxAttempts {
				l.display(fmt.Sprintf("Build still failing after %d attempt(s); giving up.", attempt))
				state = StateExhausted
				break
			}
			proposal, err := l.proposeFix(ctx, command, lastRes, attempt)
			if err != nil {
				l.display(fmt.Sprintf("No usable fix from the model: %v", err))
				state = StateExhausted
				break
			}
			fp := Fingerprint(proposal.Actions)
			if fp == prevFingerprint {
				l.display("Proposed fix is identical to the previous attempt; giving up.")
				state = StateExhausted
				break
			}
			prevFingerprint = fp
			fix = proposal
			state = StateAwaitingFixApproval

		case StateAwaitingFixApproval:
			if fix.Summary != "" {
				l.display(fix.Summary)
			}
			out, err := l.gate.Confirm(ctx, fix.Actions)
			if err != nil {
				return BuildResult{State: StateExhausted, Attempts: attempt}, err
			}
			if out.Aborted || out.Halted {
				state = StateExhausted
				break
			}
			attempt++
			state = StateRunning

		case StateSucceeded:
			l.display(fmt.Sprintf("Build succeeded (attempt %d/%d).", attempt, l.maxAttempts))
			return BuildResult{State: StateSucceeded, Attempts: attempt}, l.store.SetStatus(project.StatusIdle)

		case StateExhausted:
			result := BuildResult{
				State:      StateExhausted,
				Attempts:   attempt,
				ExitCode:   lastRes.ExitCode,
				Diagnostic: Diagnostic(lastRes),
				Cancelled:  lastRes.Cancelled,
			}
			// A cancelled build is the operator's choice, not an error state.
			status := project.StatusError
			if lastRes.Cancelled {
				status = project.StatusIdle
			}
			return result, l.store.SetStatus(status)
		}
	}
}

// proposeFix asks the model for one fix batch. Any reply without a valid,
// non-empty action batch ends the cycle: the plain-text content, if any, is
// shown to the operator first.
func (l *Loop) proposeFix(ctx context.Context, command string, res shell.Result, attempt int) (*action.Proposal, error) {
	snap := l.store.Snapshot()
	req := llm.Request{
		Model:  l.model,
		System: l.system,
		Prompt: FixRequest(snap, command, res, attempt, l.maxAttempts),
		Params: l.params,
	}

	resp, err := l.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.HasProposal() {
		if text := strings.TrimSpace(resp.Text); text != "" {
			l.display(text)
		}
		return nil, fault.New(fault.KindMalformedProposal, "model answered without proposing actions")
	}

	proposal, err := action.ParseProposal(resp.Proposal)
	if err != nil {
		return nil, err
	}
	if len(proposal.Actions) == 0 {
		return nil, fault.New(fault.KindMalformedProposal, "fix proposal carries no actions")
	}
	return proposal, nil
}

// NextSteps asks the model for a short list of manual follow-ups after an
// exhausted cycle. Best effort and display-only: any failure returns nil.
func (l *Loop) NextSteps(ctx context.Context, command string, result BuildResult) []string {
	params := l.params
	params.MaxTokens = nextStepsMaxTokens
	req := llm.Request{
		Model:  l.model,
		System: instructions.NextStepsSystemPrompt,
		Prompt: instructions.BuildNextStepsInput(command, result.ExitCode, result.Diagnostic),
		Params: params,
	}

	resp, err := l.client.Complete(ctx, req)
	if err != nil {
		l.log.Warn().Err(err).Msg("next-steps call failed")
		return nil
	}
	return instructions.ParseNextSteps(resp.Text)
}

func (l *Loop) display(msg string) {
	if l.prompter == nil {
		return
	}
	l.prompter.Display(msg)
}
