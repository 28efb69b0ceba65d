package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/anvilworks/anvil/internal/fault"
)

// Proposal is a decoded model proposal: an optional summary for display, an
// ordered action batch (order = application order), and an optional raw todo
// update the caller validates separately.
type Proposal struct {
	Summary string
	Actions []Action
	Todos   json.RawMessage
}

type rawEnvelope struct {
	Summary string            `json:"summary"`
	Actions []json.RawMessage `json:"actions"`
	Todos   json.RawMessage   `json:"todos"`
}

type rawAction struct {
	Kind    string  `json:"kind"`
	Target  *string `json:"target"`
	Payload *string `json:"payload"`
	Build   *bool   `json:"build"`
}

// ParseProposal decodes a proposal envelope {"summary", "actions", "todos"}.
// Decoding is strict: unknown fields, trailing data, or any invalid action
// reject the whole proposal as malformed. Callers treat that as non-fatal
// and ask the model to restate.
func ParseProposal(raw json.RawMessage) (*Proposal, error) {
	var env rawEnvelope
	if err := strictUnmarshal(raw, &env); err != nil {
		return nil, fault.Wrap(fault.KindMalformedProposal, err, "proposal envelope")
	}
	if len(env.Actions) == 0 && len(env.Todos) == 0 {
		return nil, fault.New(fault.KindMalformedProposal, "proposal carries neither actions nor todos")
	}

	p := &Proposal{Summary: env.Summary, Todos: env.Todos}
	for i, item := range env.Actions {
		act, err := Classify(item)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i+1, err)
		}
		p.Actions = append(p.Actions, act)
	}
	return p, nil
}

// Classify maps one model-proposed operation description to exactly one
// typed Action. It fails closed: an unknown or ambiguous description is a
// malformed proposal, never a guess at a destructive kind.
func Classify(raw json.RawMessage) (Action, error) {
	var ra rawAction
	if err := strictUnmarshal(raw, &ra); err != nil {
		return Action{}, fault.Wrap(fault.KindMalformedProposal, err, "invalid action object")
	}

	kind := Kind(ra.Kind)
	switch kind {
	case KindCreateFile, KindModifyFile:
		target, err := validTarget(ra.Target)
		if err != nil {
			return Action{}, err
		}
		if ra.Payload == nil {
			return Action{}, fault.Newf(fault.KindMalformedProposal, "%s %s: payload (file content) is required", kind, target)
		}
		if ra.Build != nil {
			return Action{}, fault.Newf(fault.KindMalformedProposal, "%s: build flag is only valid for run_command", kind)
		}
		return newAction(kind, target, *ra.Payload, false), nil

	case KindDeleteFile:
		target, err := validTarget(ra.Target)
		if err != nil {
			return Action{}, err
		}
		if ra.Payload != nil && *ra.Payload != "" {
			return Action{}, fault.Newf(fault.KindMalformedProposal, "delete_file %s: payload must be empty", target)
		}
		if ra.Build != nil {
			return Action{}, fault.New(fault.KindMalformedProposal, "delete_file: build flag is only valid for run_command")
		}
		return newAction(kind, target, "", false), nil

	case KindRunCommand:
		if ra.Target != nil && *ra.Target != "" {
			return Action{}, fault.New(fault.KindMalformedProposal, "run_command: target must be empty, the command goes in payload")
		}
		if ra.Payload == nil || strings.TrimSpace(*ra.Payload) == "" {
			return Action{}, fault.New(fault.KindMalformedProposal, "run_command: payload (command line) must not be empty")
		}
		build := ra.Build != nil && *ra.Build
		return newAction(kind, "", *ra.Payload, build), nil

	default:
		return Action{}, fault.Newf(fault.KindMalformedProposal,
			"unknown action kind %q (must be create_file, modify_file, delete_file, or run_command)", ra.Kind)
	}
}

// validTarget checks a file target: non-empty, relative, confined to the
// project root.
func validTarget(target *string) (string, error) {
	if target == nil || *target == "" {
		return "", fault.New(fault.KindMalformedProposal, "target path must not be empty")
	}
	t := *target
	if filepath.IsAbs(t) {
		return "", fault.Newf(fault.KindMalformedProposal, "target %q must be relative to the project root", t)
	}
	clean := filepath.Clean(t)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fault.Newf(fault.KindMalformedProposal, "target %q escapes the project root", t)
	}
	return clean, nil
}

// strictUnmarshal rejects unknown fields and trailing data.
func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := checkTrailing(dec); err != nil {
		return err
	}
	return nil
}

func checkTrailing(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
