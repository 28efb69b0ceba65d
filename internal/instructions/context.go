package instructions

import (
	"fmt"
	"strings"

	"github.com/anvilworks/anvil/internal/project"
)

// maxTurnExcerpt bounds each history turn quoted into the prompt.
const maxTurnExcerpt = 600

// maxBuildTail bounds the build output excerpt quoted into the prompt.
const maxBuildTail = 800

// RenderSnapshot formats the project state block that precedes every
// operator request in the prompt.
func RenderSnapshot(snap project.Snapshot) string {
	var b strings.Builder

	b.WriteString("## Project state\n\n")

	goal := snap.Goal
	if goal == "" {
		goal = "(not set)"
	}
	fmt.Fprintf(&b, "Goal: %s\n", goal)
	fmt.Fprintf(&b, "Status: %s\n", snap.Status)

	if len(snap.TodoList) > 0 {
		b.WriteString("\nTo-do list:\n")
		b.WriteString(project.FormatTodoList(snap.TodoList))
	}

	if len(snap.RecentHistory) > 0 {
		if snap.HistoryLen > len(snap.RecentHistory) {
			fmt.Fprintf(&b, "\nRecent conversation (last %d of %d turns):\n", len(snap.RecentHistory), snap.HistoryLen)
		} else {
			b.WriteString("\nRecent conversation:\n")
		}
		for _, turn := range snap.RecentHistory {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, truncate(turn.Text, maxTurnExcerpt))
		}
	}

	if len(snap.Files) > 0 {
		if snap.FilesTruncated {
			fmt.Fprintf(&b, "\nProject files (first %d, listing truncated):\n", len(snap.Files))
		} else {
			fmt.Fprintf(&b, "\nProject files (%d):\n", len(snap.Files))
		}
		for _, f := range snap.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	if snap.LastBuild != nil {
		lb := snap.LastBuild
		fmt.Fprintf(&b, "\nLast build: `%s` exited %d", lb.Command, lb.ExitCode)
		switch {
		case lb.Cancelled:
			b.WriteString(" (cancelled)")
		case lb.TimedOut:
			b.WriteString(" (timed out)")
		}
		b.WriteString("\n")
		if lb.ExitCode != 0 {
			if tail := buildTail(lb); tail != "" {
				fmt.Fprintf(&b, "Output tail:\n%s\n", tail)
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// BuildTurnPrompt composes the full user prompt for one operator request.
func BuildTurnPrompt(snap project.Snapshot, input string) string {
	return RenderSnapshot(snap) + "\n\n## Operator request\n\n" + input
}

// buildTail picks the most informative end of the build output: stderr when
// present, stdout otherwise.
func buildTail(lb *project.BuildLogEntry) string {
	out := strings.TrimSpace(lb.Stderr)
	if out == "" {
		out = strings.TrimSpace(lb.Stdout)
	}
	if len(out) > maxBuildTail {
		out = "..." + out[len(out)-maxBuildTail:]
	}
	return out
}

// truncate shortens s to maxLen characters, appending "..." when cut.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
