package cli

import (
	"strings"

	"github.com/chzyer/readline"

	"github.com/anvilworks/anvil/internal/orchestrator"
)

const (
	promptDefault  = "> "
	promptDecision = "apply? [y]es [n]o [a]ll [q] abort > "

	decisionHelp = "Answer y to apply, n to skip, a to apply this and the rest, q to abort the batch."
)

// Console collects approval decisions over the session's readline instance.
// It only prompts while the main input loop is parked inside a dispatch, so
// the instance is never read from two goroutines at once.
type Console struct {
	rl *readline.Instance
	r  *Renderer
}

func NewConsole(rl *readline.Instance, r *Renderer) *Console {
	return &Console{rl: rl, r: r}
}

// Prompt shows the action description and reads one decision. Unrecognized
// input re-prompts; Ctrl+C or EOF at the prompt aborts the batch, since an
// interrupted operator never means "apply".
func (c *Console) Prompt(description string) orchestrator.Decision {
	c.r.Proposal(description)
	c.rl.SetPrompt(promptDecision)
	defer c.rl.SetPrompt(promptDefault)
	for {
		line, err := c.rl.Readline()
		if err != nil {
			c.r.Notice("Aborting the batch.")
			return orchestrator.DecisionAbort
		}
		if d, ok := ParseDecision(line); ok {
			return d
		}
		c.r.Notice(decisionHelp)
	}
}

// Display forwards gate and build-loop progress to the operator.
func (c *Console) Display(message string) {
	c.r.Notice(message)
}

// ParseDecision maps one line of operator input to a decision. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseDecision(line string) (orchestrator.Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return orchestrator.DecisionApprove, true
	case "n", "no":
		return orchestrator.DecisionReject, true
	case "a", "all":
		return orchestrator.DecisionApproveAll, true
	case "q", "quit", "abort":
		return orchestrator.DecisionAbort, true
	}
	return orchestrator.DecisionReject, false
}
