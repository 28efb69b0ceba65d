package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/anvilworks/anvil/internal/action"
	"github.com/anvilworks/anvil/internal/instructions"
	"github.com/anvilworks/anvil/internal/project"
	"github.com/anvilworks/anvil/internal/shell"
)

// permissionKeywords mark output that points at a filesystem or sandbox
// permission problem rather than the code under build.
var permissionKeywords = []string{
	"operation not permitted",
	"permission denied",
	"read-only file system",
	"seccomp",
	"landlock",
}

// looksLikePermissionDenial reports whether failure output points at
// permissions. Code edits rarely fix those, so the diagnosis says so instead
// of letting the model guess.
func looksLikePermissionDenial(output string) bool {
	lower := strings.ToLower(output)
	for _, kw := range permissionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Diagnostic condenses one failing run: stderr when present, stdout
// otherwise, a synthesized line when the command was silent. Timeouts and
// cancellations already carry a synthesized stderr from the shell runner.
func Diagnostic(res shell.Result) string {
	out := strings.TrimSpace(res.Stderr)
	if out == "" {
		out = strings.TrimSpace(res.Stdout)
	}
	if out == "" {
		out = fmt.Sprintf("exit code %d with no output", res.ExitCode)
	}
	if looksLikePermissionDenial(out) {
		out += "\n(The failure looks like a permission problem; editing project files is unlikely to resolve it.)"
	}
	return out
}

// FixRequest renders the prompt for one fix proposal: the bounded project
// snapshot followed by the failure details and attempt budget.
func FixRequest(snap project.Snapshot, command string, res shell.Result, attempt, maxAttempts int) string {
	var b strings.Builder
	b.WriteString(instructions.RenderSnapshot(snap))
	b.WriteString("\n\n")
	b.WriteString(instructions.BuildFixPrompt(command, res.ExitCode, res.Stderr, res.Stdout, attempt, maxAttempts))
	if looksLikePermissionDenial(res.Stderr + "\n" + res.Stdout) {
		b.WriteString("\nThe output looks like a permission problem. If no code change can help, say so in plain text instead of proposing edits.")
	}
	return b.String()
}

// Fingerprint hashes a proposed batch by kind, target, and payload. Two
// batches with the same fingerprint apply the same mutations, so a fix that
// matches its predecessor cannot make progress.
func Fingerprint(actions []action.Action) string {
	h := sha256.New()
	for _, a := range actions {
		h.Write([]byte(a.Kind))
		h.Write([]byte{0})
		h.Write([]byte(a.Target))
		h.Write([]byte{0})
		h.Write([]byte(a.Payload))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
