package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anvilworks/anvil/internal/orchestrator"
)

// --- Decision parsing tests ---

func TestParseDecision_Approve(t *testing.T) {
	for _, in := range []string{"y", "yes", "Y", "YES", "  y  "} {
		d, ok := ParseDecision(in)
		assert.True(t, ok, "input %q", in)
		assert.Equal(t, orchestrator.DecisionApprove, d, "input %q", in)
	}
}

func TestParseDecision_Reject(t *testing.T) {
	for _, in := range []string{"n", "no", "N", "No"} {
		d, ok := ParseDecision(in)
		assert.True(t, ok, "input %q", in)
		assert.Equal(t, orchestrator.DecisionReject, d, "input %q", in)
	}
}

func TestParseDecision_ApproveAll(t *testing.T) {
	for _, in := range []string{"a", "all", "A", "ALL"} {
		d, ok := ParseDecision(in)
		assert.True(t, ok, "input %q", in)
		assert.Equal(t, orchestrator.DecisionApproveAll, d, "input %q", in)
	}
}

func TestParseDecision_Abort(t *testing.T) {
	for _, in := range []string{"q", "quit", "abort", "Q"} {
		d, ok := ParseDecision(in)
		assert.True(t, ok, "input %q", in)
		assert.Equal(t, orchestrator.DecisionAbort, d, "input %q", in)
	}
}

func TestParseDecision_Unrecognized(t *testing.T) {
	for _, in := range []string{"", "maybe", "yep", "2", "y n"} {
		_, ok := ParseDecision(in)
		assert.False(t, ok, "input %q", in)
	}
}
