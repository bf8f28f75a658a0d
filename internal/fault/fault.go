// Package fault defines the error kinds shared by the registries, the
// attachment resolver and the run orchestrator. Packages declare their own
// sentinel errors and wrap them with a Kind so callers can branch on either.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the category of a failure.
type Kind string

const (
	// NotFound: a referenced clone, extension, attachment or command does not exist.
	NotFound Kind = "not_found"
	// Validation: inputs were rejected before any side effect.
	Validation Kind = "validation_failure"
	// GitBackendRequired: a git-only operation was attempted on a non-git tree.
	GitBackendRequired Kind = "git_backend_required"
	// Ambiguous: a host year could not be resolved from the inputs.
	Ambiguous Kind = "ambiguous_resolution"
	// PermissionDenied: an all-users or read-only write without the capability.
	PermissionDenied Kind = "permission_denied"
	// PartialFailure: a bulk operation completed with per-item errors.
	PartialFailure Kind = "partial_failure"
	// Collaborator: git, the host process, or the network failed.
	Collaborator Kind = "collaborator_failure"
)

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to err. The message may be empty.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := ""
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the outermost Kind in err's chain, or "" when none is set.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Err
	}
	return false
}

// ItemError is one failed item of a bulk operation.
type ItemError struct {
	Item string `json:"item"`
	Err  error  `json:"-"`
}

func (e ItemError) Error() string { return e.Item + ": " + e.Err.Error() }

// Partial folds item errors into a single PartialFailure error, or nil when
// there are none.
func Partial(op string, items []ItemError) error {
	if len(items) == 0 {
		return nil
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, it.Error())
	}
	return &Error{
		Kind: PartialFailure,
		Msg:  fmt.Sprintf("%s: %d item(s) failed:\n  %s", op, len(items), strings.Join(lines, "\n  ")),
	}
}

// ExitCode maps a kind to the process exit status used by the CLI.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case NotFound:
		return 2
	case Validation:
		return 3
	case GitBackendRequired:
		return 4
	case Ambiguous:
		return 5
	case PermissionDenied:
		return 6
	case PartialFailure:
		return 7
	case Collaborator:
		return 8
	}
	return 1
}
