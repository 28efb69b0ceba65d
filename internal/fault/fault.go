// Package fault provides the typed failure kinds shared across the
// orchestrator: transport, proposal, file-op, shell, and persistence errors.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for dispatch and display.
type Kind int

const (
	// KindUnknown is the zero value; errors without a fault wrapper.
	KindUnknown Kind = iota
	// KindTransport covers LLM connectivity failures: unreachable host,
	// request timeout, truncated response.
	KindTransport
	// KindMalformedProposal covers model output that cannot be decoded into
	// actions. Never fatal; the caller asks the model to restate.
	KindMalformedProposal
	// KindFileOp covers file mutation failures: permission denied, missing
	// parent, path conflicts.
	KindFileOp
	// KindShell covers inability to start a process. A non-zero exit is not
	// a fault.
	KindShell
	// KindPersistence covers context document write failures.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindMalformedProposal:
		return "malformed_proposal"
	case KindFileOp:
		return "file_op"
	case KindShell:
		return "shell"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error carries a failure kind alongside a human-readable message and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a fault of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a fault with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the fault kind from an error chain. Errors without a fault
// wrapper report KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether the error chain carries a fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the failure is transient and worth retrying.
// Only transport failures qualify; everything else needs operator attention.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransport
}
