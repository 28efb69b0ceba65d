package instructions

import (
	"fmt"
	"strings"
)

// NextStepsSystemPrompt is the system prompt for the short follow-up call
// made after the build-fix loop gives up. The output is display-only; it is
// never classified into actions.
const NextStepsSystemPrompt = `A build command kept failing after several automatic fix attempts. Suggest what the developer should try manually.

Reply with a numbered list of at most 3 concrete next steps increasing in effort. Each step is one short imperative sentence naming the specific thing to check or change. No preamble, no explanations after the list. If you have no useful suggestion, reply with exactly the word NONE.`

// maxDiagnosticLen bounds the failure excerpt sent with the next-steps call.
const maxDiagnosticLen = 1500

// maxNextSteps caps how many suggestions are kept.
const maxNextSteps = 3

// BuildNextStepsInput constructs the user message for the next-steps call.
func BuildNextStepsInput(command string, exitCode int, diagnostic string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Command: %s\n", command)
	fmt.Fprintf(&b, "Exit code: %d\n", exitCode)
	if d := tailOf(diagnostic, maxDiagnosticLen); d != "" {
		fmt.Fprintf(&b, "\nFailure output:\n%s\n", d)
	}
	return b.String()
}

// ParseNextSteps extracts the suggestion lines from the LLM response.
// Numbered and bulleted prefixes are stripped; blank lines and a NONE
// response yield nothing. At most maxNextSteps entries are returned.
func ParseNextSteps(response string) []string {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" || strings.EqualFold(trimmed, "NONE") {
		return nil
	}

	var steps []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		line = stripListPrefix(line)
		if line == "" {
			continue
		}
		steps = append(steps, line)
		if len(steps) == maxNextSteps {
			break
		}
	}
	return steps
}

// stripListPrefix removes a leading "1.", "2)", "-", or "*" marker.
func stripListPrefix(line string) string {
	for _, bullet := range []string{"-", "*"} {
		if rest, ok := strings.CutPrefix(line, bullet); ok {
			return strings.TrimSpace(rest)
		}
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}
