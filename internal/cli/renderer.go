package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	defaultWidth = 80

	// Display messages funneled from the action gate can carry command
	// output; anything longer than this is elided in the middle.
	maxNoticeLines = 60
)

// Renderer writes operator-facing output. Assistant replies are rendered as
// markdown unless disabled; progress and status go out as dim single-purpose
// lines so they read apart from model text.
type Renderer struct {
	w        io.Writer
	markdown bool
	width    int
	md       *glamour.TermRenderer

	head   lipgloss.Style
	dim    lipgloss.Style
	errSt  lipgloss.Style
	stepSt lipgloss.Style
}

// NewRenderer builds a renderer for w. noColor strips all styling; noMarkdown
// prints assistant replies verbatim instead of through glamour.
func NewRenderer(w io.Writer, noColor, noMarkdown bool) *Renderer {
	r := &Renderer{
		w:        w,
		markdown: !noMarkdown,
		width:    terminalWidth(w),
	}

	lr := lipgloss.NewRenderer(w)
	if noColor {
		lr.SetColorProfile(termenv.Ascii)
	} else {
		// The entrypoint decides color from TTY detection; pin the profile
		// so output does not depend on writer probing.
		lr.SetColorProfile(termenv.ANSI)
	}
	r.head = lr.NewStyle().Bold(true)
	r.dim = lr.NewStyle().Faint(true)
	r.errSt = lr.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	r.stepSt = lr.NewStyle().Foreground(lipgloss.Color("6"))

	if r.markdown {
		style := styles.DarkStyleConfig
		if noColor {
			style = styles.NoTTYStyleConfig
		}
		zero := ""
		style.H2.Prefix = zero
		style.H3.Prefix = zero
		style.H4.Prefix = zero
		style.H5.Prefix = zero
		style.H6.Prefix = zero
		md, err := glamour.NewTermRenderer(
			glamour.WithStyles(style),
			glamour.WithWordWrap(r.width),
		)
		if err == nil {
			r.md = md
		}
	}
	return r
}

func terminalWidth(w io.Writer) int {
	type fdWriter interface{ Fd() uintptr }
	f, ok := w.(fdWriter)
	if !ok {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

// Assistant renders a model reply.
func (r *Renderer) Assistant(text string) {
	if r.md != nil {
		if out, err := r.md.Render(text); err == nil {
			fmt.Fprint(r.w, out)
			return
		}
	}
	r.Plain(text)
}

// Plain writes text verbatim with a trailing newline.
func (r *Renderer) Plain(text string) {
	fmt.Fprint(r.w, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(r.w)
	}
}

// Notice writes a dim progress line. Long bodies are elided in the middle so
// command output cannot flood the transcript.
func (r *Renderer) Notice(msg string) {
	fmt.Fprintln(r.w, r.dim.Render(truncateMiddle(msg, maxNoticeLines)))
}

func (r *Renderer) Noticef(format string, args ...any) {
	r.Notice(fmt.Sprintf(format, args...))
}

// Error writes an operator-facing error line.
func (r *Renderer) Error(msg string) {
	fmt.Fprintln(r.w, r.errSt.Render("Error: "+msg))
}

// Proposal writes an action description ahead of its approval prompt.
func (r *Renderer) Proposal(description string) {
	fmt.Fprintln(r.w, r.head.Render(description))
}

// NextSteps writes a numbered suggestion list.
func (r *Renderer) NextSteps(steps []string) {
	if len(steps) == 0 {
		return
	}
	fmt.Fprintln(r.w, r.head.Render("Next steps:"))
	for i, s := range steps {
		fmt.Fprintln(r.w, r.stepSt.Render(fmt.Sprintf("  %d. %s", i+1, s)))
	}
}

// StatusLine writes the per-turn footer: model, session token total, turn
// count.
func (r *Renderer) StatusLine(model string, tokens, turns int) {
	fmt.Fprintln(r.w, r.dim.Render(fmt.Sprintf("%s · %s tokens · turn %d", model, formatTokens(tokens), turns)))
}

// Banner writes the session header shown on startup.
func (r *Renderer) Banner(dir, goal string, historyLen int) {
	fmt.Fprintln(r.w, r.head.Render("anvil — "+dir))
	if goal != "" {
		fmt.Fprintln(r.w, "Goal: "+goal)
	} else {
		fmt.Fprintln(r.w, "No goal set. Use 'goal <text>' to set one.")
	}
	if historyLen > 0 {
		fmt.Fprintln(r.w, r.dim.Render(fmt.Sprintf("Resuming %d prior turn(s). Type 'help' for commands.", historyLen)))
	} else {
		fmt.Fprintln(r.w, r.dim.Render("Fresh project context. Type 'help' for commands."))
	}
}

// formatTokens groups digits in thousands: 1234 -> "1,234".
func formatTokens(n int) string {
	s := strconv.Itoa(n)
	if n < 0 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func truncateMiddle(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	head := maxLines / 2
	tail := maxLines - head - 1
	omitted := len(lines) - head - tail
	out := make([]string, 0, maxLines+1)
	out = append(out, lines[:head]...)
	out = append(out, fmt.Sprintf("... (%d more lines) ...", omitted))
	out = append(out, lines[len(lines)-tail:]...)
	return strings.Join(out, "\n")
}
