package instructions

import (
	"fmt"
	"strings"
)

// Output tail budgets for the fix prompt. Stderr usually carries the error,
// so it gets the larger share.
const (
	maxFixStderr = 2000
	maxFixStdout = 1000
)

// BuildFixPrompt composes the diagnosis request sent after a failing build.
// It quotes the command, exit code, and bounded output tails, and states how
// many attempts remain so the model knows when to stop proposing.
func BuildFixPrompt(command string, exitCode int, stderr, stdout string, attempt, maxAttempts int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "The build command failed.\n\n")
	fmt.Fprintf(&b, "Command: `%s`\n", command)
	fmt.Fprintf(&b, "Exit code: %d\n", exitCode)
	fmt.Fprintf(&b, "Fix attempt %d of %d.\n", attempt, maxAttempts)

	if tail := tailOf(stderr, maxFixStderr); tail != "" {
		fmt.Fprintf(&b, "\nStderr (tail):\n```\n%s\n```\n", tail)
	}
	if tail := tailOf(stdout, maxFixStdout); tail != "" {
		fmt.Fprintf(&b, "\nStdout (tail):\n```\n%s\n```\n", tail)
	}
	if strings.TrimSpace(stderr) == "" && strings.TrimSpace(stdout) == "" {
		b.WriteString("\nThe command produced no output.\n")
	}

	b.WriteString("\nDiagnose the failure and propose a fix: the file changes needed, ending with the same build command (\"build\": true) to verify. If the failure is not fixable from here, say so in plain text instead of proposing.")

	return b.String()
}

// tailOf returns the last max characters of s, trimmed.
func tailOf(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
