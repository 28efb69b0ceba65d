// Package action models a single proposed mutating operation and its
// approval state, plus the strict decoder that turns raw model proposals
// into typed actions.
package action

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind is the operation a proposed action performs.
type Kind string

const (
	KindCreateFile Kind = "create_file"
	KindModifyFile Kind = "modify_file"
	KindDeleteFile Kind = "delete_file"
	KindRunCommand Kind = "run_command"
)

// IsFileKind reports whether the kind mutates a file rather than running a
// command.
func (k Kind) IsFileKind() bool {
	return k == KindCreateFile || k == KindModifyFile || k == KindDeleteFile
}

// ApprovalState tracks the operator's decision on an action.
type ApprovalState string

const (
	StatePending  ApprovalState = "pending"
	StateApproved ApprovalState = "approved"
	StateRejected ApprovalState = "rejected"
)

// Action is one proposed operation. Target is a project-relative path for
// file kinds and empty for commands; Payload is the file content or the
// command line. Build marks a run_command that should go through the
// build-fix loop instead of a one-shot run.
type Action struct {
	ID      string
	Kind    Kind
	Target  string
	Payload string
	Build   bool
	State   ApprovalState
}

func newAction(kind Kind, target, payload string, build bool) Action {
	return Action{
		ID:      uuid.NewString(),
		Kind:    kind,
		Target:  target,
		Payload: payload,
		Build:   build,
		State:   StatePending,
	}
}

// Approve transitions pending → approved. A resolved action cannot be
// resolved again.
func (a *Action) Approve() error {
	if a.State != StatePending {
		return fmt.Errorf("action %s already resolved (%s)", a.ID, a.State)
	}
	a.State = StateApproved
	return nil
}

// Reject transitions pending → rejected.
func (a *Action) Reject() error {
	if a.State != StatePending {
		return fmt.Errorf("action %s already resolved (%s)", a.ID, a.State)
	}
	a.State = StateRejected
	return nil
}

// Resolved reports whether an approval decision was recorded.
func (a *Action) Resolved() bool { return a.State != StatePending }

// Describe renders the one-line summary shown in confirmation prompts.
// Deletions shout, matching their weight.
func (a *Action) Describe() string {
	switch a.Kind {
	case KindCreateFile:
		return fmt.Sprintf("Create file %s (%d bytes)", a.Target, len(a.Payload))
	case KindModifyFile:
		return fmt.Sprintf("Modify file %s (%d bytes)", a.Target, len(a.Payload))
	case KindDeleteFile:
		return fmt.Sprintf("DELETE file %s", a.Target)
	case KindRunCommand:
		if a.Build {
			return fmt.Sprintf("Run build command: %s", a.Payload)
		}
		return fmt.Sprintf("Run command: %s", a.Payload)
	default:
		return fmt.Sprintf("Unknown action %s", a.Kind)
	}
}
