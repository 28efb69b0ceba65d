package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/fault"
)

// DefaultTimeout bounds a command that specifies none.
const DefaultTimeout = 300 * time.Second

// Result is the outcome of one command run. A non-zero exit code is a normal
// result, not an error. Timeouts and operator cancellation synthesize exit
// code -1 and are flagged so the record never conflates them with a plain
// failing exit.
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	TimedOut  bool
	Cancelled bool
	Duration  time.Duration
}

// sanitizedEnv is overlaid on the inherited environment so command output
// stays plain and non-interactive.
var sanitizedEnv = map[string]string{
	"NO_COLOR":  "1",
	"TERM":      "dumb",
	"PAGER":     "cat",
	"GIT_PAGER": "cat",
}

// Options configure a Runner.
type Options struct {
	Shell      Shell
	MaxCapture int // per-stream byte cap, DefaultMaxCapture when zero
	// LoginShell invokes the shell with -lc so user commands see the same
	// PATH as an interactive session.
	LoginShell bool
	// PTYCommands lists first tokens of command lines that must run under a
	// pseudo-terminal (tools that refuse plain pipes). PTY runs merge stdout
	// and stderr.
	PTYCommands []string
	Logger      zerolog.Logger
}

// Runner executes command lines through the configured shell.
type Runner struct {
	shell       Shell
	maxCapture  int
	login       bool
	ptyCommands map[string]bool
	log         zerolog.Logger
}

// NewRunner creates a Runner. A zero Options.Shell triggers detection.
func NewRunner(opts Options) *Runner {
	sh := opts.Shell
	if sh.Path == "" {
		sh = Detect()
	}
	maxCapture := opts.MaxCapture
	if maxCapture <= 0 {
		maxCapture = DefaultMaxCapture
	}
	ptySet := make(map[string]bool, len(opts.PTYCommands))
	for _, c := range opts.PTYCommands {
		ptySet[c] = true
	}
	return &Runner{
		shell:       sh,
		maxCapture:  maxCapture,
		login:       opts.LoginShell,
		ptyCommands: ptySet,
		log:         opts.Logger,
	}
}

// Run executes one command line in workingDir and captures its output.
// The returned error is non-nil only when the process could not be started;
// every other outcome, including non-zero exits, timeouts, and cancellation
// through ctx, is reported in the Result.
func (r *Runner) Run(ctx context.Context, command, workingDir string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := time.Now()
	r.log.Debug().Str("command", command).Dur("timeout", timeout).Msg("running command")

	if r.needsPTY(command) {
		return r.runPTY(ctx, command, workingDir, timeout, start)
	}
	return r.runPiped(ctx, command, workingDir, timeout, start)
}

func (r *Runner) needsPTY(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	return r.ptyCommands[fields[0]]
}

func (r *Runner) newCmd(command, workingDir string) *exec.Cmd {
	args := r.shell.Args(command, r.login)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = workingDir
	cmd.Env = buildEnv()
	// Own process group so timeout/cancel can kill the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func (r *Runner) runPiped(ctx context.Context, command, workingDir string, timeout time.Duration, start time.Time) (Result, error) {
	stdout := NewCappedBuffer(r.maxCapture)
	stderr := NewCappedBuffer(r.maxCapture)

	cmd := r.newCmd(command, workingDir)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fault.Wrap(fault.KindShell, err, fmt.Sprintf("start %q", command))
	}

	timedOut, cancelled := r.await(ctx, cmd, timeout)

	res := Result{
		ExitCode:  cmd.ProcessState.ExitCode(),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		TimedOut:  timedOut,
		Cancelled: cancelled,
		Duration:  time.Since(start),
	}
	synthesize(&res, timeout)
	return res, nil
}

// runPTY executes under a pseudo-terminal. The PTY merges the streams, so
// everything lands in Stdout.
func (r *Runner) runPTY(ctx context.Context, command, workingDir string, timeout time.Duration, start time.Time) (Result, error) {
	output := NewCappedBuffer(r.maxCapture)

	cmd := r.newCmd(command, workingDir)
	cmd.SysProcAttr = nil // pty.Start sets its own session attributes

	f, err := pty.Start(cmd)
	if err != nil {
		return Result{}, fault.Wrap(fault.KindShell, err, fmt.Sprintf("start %q on pty", command))
	}

	copyDone := make(chan struct{})
	go func() {
		// Linux reports EIO on the master once the child exits; that is EOF
		// for our purposes.
		io.Copy(output, f)
		close(copyDone)
	}()

	timedOut, cancelled := r.await(ctx, cmd, timeout)

	select {
	case <-copyDone:
	case <-time.After(time.Second):
	}
	f.Close()

	res := Result{
		ExitCode:  cmd.ProcessState.ExitCode(),
		Stdout:    output.String(),
		TimedOut:  timedOut,
		Cancelled: cancelled,
		Duration:  time.Since(start),
	}
	synthesize(&res, timeout)
	return res, nil
}

// await waits for the process, the timeout, or cancellation, killing the
// process group in the latter two cases, and always reaps the process.
func (r *Runner) await(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) (timedOut, cancelled bool) {
	done := make(chan struct{})
	var waitOnce sync.Once
	wait := func() { waitOnce.Do(func() { cmd.Wait() }) }

	go func() {
		wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		timedOut = true
		r.killGroup(cmd)
		<-done
	case <-ctx.Done():
		cancelled = true
		r.killGroup(cmd)
		<-done
	}
	return timedOut, cancelled
}

func (r *Runner) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	// Negative pid targets the process group; fall back to the process
	// itself when it has no group of its own (pty runs).
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
	r.log.Debug().Int("pid", pid).Msg("killed command process group")
}

// synthesize annotates timeout and cancellation results the way a failing
// command would look, with an explicit diagnostic and exit code -1.
func synthesize(res *Result, timeout time.Duration) {
	switch {
	case res.TimedOut:
		res.ExitCode = -1
		msg := fmt.Sprintf("command timed out after %s", timeout)
		res.Stderr = joinDiagnostic(res.Stderr, msg)
	case res.Cancelled:
		res.ExitCode = -1
		res.Stderr = joinDiagnostic(res.Stderr, "command cancelled by operator")
	}
}

func joinDiagnostic(stderr, msg string) string {
	if stderr == "" {
		return msg
	}
	return stderr + "\n" + msg
}

func buildEnv() []string {
	env := os.Environ()
	for k, v := range sanitizedEnv {
		env = append(env, k+"="+v)
	}
	return env
}
