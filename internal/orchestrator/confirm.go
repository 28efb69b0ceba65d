// Package orchestrator resolves proposed action batches behind operator
// approval and drives the bounded build-fix retry cycle. Everything here runs
// on the session's coordination goroutine: prompts block, commands run
// synchronously, and every resolution lands in the project record before the
// next action is considered.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/action"
	"github.com/anvilworks/anvil/internal/project"
	"github.com/anvilworks/anvil/internal/safety"
	"github.com/anvilworks/anvil/internal/shell"
)

// Decision is the operator's answer to one confirmation prompt.
type Decision int

const (
	DecisionApprove Decision = iota
	DecisionReject
	// DecisionApproveAll approves this action and every later one in the
	// batch, except deletions, which keep their individual prompt.
	DecisionApproveAll
	// DecisionAbort discards this action and the rest of the batch.
	DecisionAbort
)

func (d Decision) String() string {
	switch d {
	case DecisionApprove:
		return "approve"
	case DecisionReject:
		return "reject"
	case DecisionApproveAll:
		return "approve-all-remaining"
	case DecisionAbort:
		return "abort-batch"
	default:
		return "unknown"
	}
}

// Prompter is the presentation collaborator. Prompt blocks until the
// operator answers; Display shows progress without expecting a reply.
type Prompter interface {
	Prompt(description string) Decision
	Display(message string)
}

// CommandRunner executes one command line. *shell.Runner satisfies this.
type CommandRunner interface {
	Run(ctx context.Context, command, workingDir string, timeout time.Duration) (shell.Result, error)
}

// FileApplier applies approved file actions. *fileop.Ops satisfies this.
type FileApplier interface {
	Create(path, content string) error
	Modify(path, content string) error
	Delete(path string) error
}

// GateOptions configure a Gate.
type GateOptions struct {
	Store    *project.Store
	Files    FileApplier
	Runner   CommandRunner
	Prompter Prompter
	// Policy classifies command lines for auto-approval. Consulted only when
	// AutoApprove is set, and only for commands; file mutations and deletions
	// always prompt.
	Policy      *safety.Policy
	AutoApprove bool
	// CommandTimeout bounds approved one-shot commands. Zero selects the
	// runner default.
	CommandTimeout time.Duration
	Logger         zerolog.Logger
}

// Gate resolves ordered action batches: one decision per action, applied in
// batch order, every outcome recorded in the project record exactly once.
type Gate struct {
	store       *project.Store
	files       FileApplier
	runner      CommandRunner
	prompter    Prompter
	policy      *safety.Policy
	autoApprove bool
	cmdTimeout  time.Duration
	log         zerolog.Logger
}

// NewGate wires a confirmation gate.
func NewGate(opts GateOptions) *Gate {
	return &Gate{
		store:       opts.Store,
		files:       opts.Files,
		runner:      opts.Runner,
		prompter:    opts.Prompter,
		policy:      opts.Policy,
		autoApprove: opts.AutoApprove,
		cmdTimeout:  opts.CommandTimeout,
		log:         opts.Logger,
	}
}

// Outcome summarizes one confirmed batch.
type Outcome struct {
	Applied  int // file actions applied
	Ran      int // one-shot commands executed
	Rejected int
	// Aborted is set when the operator abandoned the rest of the batch.
	Aborted bool
	// Halted is set when an approved operation failed; later actions were
	// never presented.
	Halted bool
	// Builds holds approved build command lines. The gate does not run them;
	// the caller hands each one to the build-fix loop.
	Builds []string
}

// Confirm resolves an ordered batch. Later actions may depend on earlier
// ones, so a failed mutation halts the batch rather than continuing in an
// unknown state; the failure itself is recorded, not returned. The error
// return covers persistence failures and actions resubmitted after
// resolution.
func (g *Gate) Confirm(ctx context.Context, batch []action.Action) (Outcome, error) {
	var out Outcome
	if len(batch) == 0 {
		return out, nil
	}
	if err := g.store.SetStatus(project.StatusAwaitingConfirmation); err != nil {
		return out, err
	}

	approveAll := false
	for i := range batch {
		act := &batch[i]
		if act.Resolved() {
			return out, fmt.Errorf("action %s (%s) resubmitted after resolution", act.ID, act.Kind)
		}

		decision := g.decide(act, approveAll)
		if decision == DecisionApproveAll {
			approveAll = true
			decision = DecisionApprove
		}

		switch decision {
		case DecisionAbort:
			out.Aborted = true
			remaining := len(batch) - i
			g.log.Info().Int("discarded", remaining).Msg("batch aborted by operator")
			g.prompter.Display(fmt.Sprintf("Aborted; %d remaining action(s) discarded.", remaining))
			return out, g.store.SetStatus(project.StatusIdle)

		case DecisionReject:
			if err := act.Reject(); err != nil {
				return out, err
			}
			out.Rejected++
			if err := g.recordRejection(act); err != nil {
				return out, err
			}

		default:
			if err := act.Approve(); err != nil {
				return out, err
			}
			halted, err := g.apply(ctx, act, &out)
			if err != nil {
				return out, err
			}
			if halted {
				out.Halted = true
				return out, nil
			}
		}
	}
	return out, g.store.SetStatus(project.StatusIdle)
}

// decide obtains the operator's decision for one action, short-circuiting
// where policy allows. Deletions are irreversible and always get their own
// prompt, even after approve-all-remaining.
func (g *Gate) decide(act *action.Action, approveAll bool) Decision {
	if act.Kind == action.KindDeleteFile {
		return g.prompter.Prompt(act.Describe())
	}
	if approveAll {
		g.prompter.Display(fmt.Sprintf("%s (batch approval)", act.Describe()))
		return DecisionApprove
	}
	if g.autoApprove && act.Kind == action.KindRunCommand && g.policy.Allows(act.Payload) {
		g.prompter.Display(fmt.Sprintf("%s (auto-approved by %s policy)", act.Describe(), g.policy.Name()))
		return DecisionApprove
	}
	return g.prompter.Prompt(act.Describe())
}

// apply executes one approved action. halted reports that the batch must
// stop; err reports persistence failures only.
func (g *Gate) apply(ctx context.Context, act *action.Action, out *Outcome) (halted bool, err error) {
	switch act.Kind {
	case action.KindCreateFile, action.KindModifyFile, action.KindDeleteFile:
		return g.applyFile(act, out)
	case action.KindRunCommand:
		if act.Build {
			out.Builds = append(out.Builds, act.Payload)
			return false, nil
		}
		return g.runCommand(ctx, act, out)
	default:
		return false, fmt.Errorf("unknown action kind %q", act.Kind)
	}
}

func (g *Gate) applyFile(act *action.Action, out *Outcome) (bool, error) {
	op := fileOpFor(act.Kind)

	var opErr error
	switch act.Kind {
	case action.KindCreateFile:
		opErr = g.files.Create(act.Target, act.Payload)
	case action.KindModifyFile:
		opErr = g.files.Modify(act.Target, act.Payload)
	case action.KindDeleteFile:
		opErr = g.files.Delete(act.Target)
	}

	entry := project.FileLogEntry{Path: act.Target, Operation: op, Approved: true, Failed: opErr != nil}
	if err := g.store.AddFileLog(entry); err != nil {
		return false, err
	}

	if opErr != nil {
		g.log.Error().Err(opErr).Str("path", act.Target).Msg("file operation failed, halting batch")
		g.prompter.Display(fmt.Sprintf("Failed: %v. Remaining actions skipped.", opErr))
		return true, g.store.SetStatus(project.StatusError)
	}

	out.Applied++
	g.prompter.Display(fmt.Sprintf("Done: %s %s", op, act.Target))
	return false, nil
}

func (g *Gate) runCommand(ctx context.Context, act *action.Action, out *Outcome) (bool, error) {
	res, runErr := g.runner.Run(ctx, act.Payload, g.store.Dir(), g.cmdTimeout)
	if runErr != nil {
		// The process never started. Record the attempt so the operator has
		// a durable trace, then stop the batch.
		entry := project.BuildLogEntry{Command: act.Payload, ExitCode: -1, Stderr: runErr.Error()}
		if err := g.store.AddBuildLog(entry); err != nil {
			return false, err
		}
		g.log.Error().Err(runErr).Str("command", act.Payload).Msg("command could not start")
		g.prompter.Display(fmt.Sprintf("Command could not start: %v. Remaining actions skipped.", runErr))
		return true, g.store.SetStatus(project.StatusError)
	}

	if err := g.store.AddBuildLog(buildEntry(act.Payload, res)); err != nil {
		return false, err
	}
	out.Ran++
	g.prompter.Display(describeResult(res))
	return false, nil
}

// recordRejection logs a rejected file action. Rejected commands leave no
// log entry; nothing ran.
func (g *Gate) recordRejection(act *action.Action) error {
	if !act.Kind.IsFileKind() {
		return nil
	}
	entry := project.FileLogEntry{Path: act.Target, Operation: fileOpFor(act.Kind), Approved: false}
	return g.store.AddFileLog(entry)
}

func fileOpFor(k action.Kind) project.FileOperation {
	switch k {
	case action.KindCreateFile:
		return project.FileOpCreate
	case action.KindModifyFile:
		return project.FileOpModify
	default:
		return project.FileOpDelete
	}
}

func buildEntry(command string, res shell.Result) project.BuildLogEntry {
	return project.BuildLogEntry{
		Command:   command,
		ExitCode:  res.ExitCode,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		Cancelled: res.Cancelled,
		TimedOut:  res.TimedOut,
	}
}

// displayOutputMax bounds command output echoed to the operator. The full
// capture is in the build log.
const displayOutputMax = 2000

func describeResult(res shell.Result) string {
	var b strings.Builder
	elapsed := res.Duration.Round(time.Millisecond)
	switch {
	case res.Cancelled:
		fmt.Fprintf(&b, "Cancelled after %s.", elapsed)
	case res.TimedOut:
		fmt.Fprintf(&b, "Timed out after %s.", elapsed)
	default:
		fmt.Fprintf(&b, "Exit %d in %s.", res.ExitCode, elapsed)
	}
	if out := strings.TrimSpace(res.Stdout); out != "" {
		b.WriteString("\n")
		b.WriteString(clip(out, displayOutputMax))
	}
	if res.ExitCode != 0 {
		if errOut := strings.TrimSpace(res.Stderr); errOut != "" {
			b.WriteString("\n")
			b.WriteString(clip(errOut, displayOutputMax))
		}
	}
	return b.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (output clipped)"
}
