package errors

import (
	"errors"
	"fmt"
)

// Kind is the user-visible error taxonomy. The pipeline is the only place
// that converts lower-level faults into these codes; everything below the
// pipeline carries a cause chain for logs.
type Kind string

const (
	KindRejectedOverload  Kind = "rejected-overload"
	KindAdapterUnknown    Kind = "adapter-unknown"
	KindCancelled         Kind = "cancelled"
	KindTimedOut          Kind = "timed_out"
	KindNoService         Kind = "no-service"
	KindCapabilityUnknown Kind = "capability-unknown"
	KindServiceError      Kind = "service-error"
	KindTransportError    Kind = "transport-error"
	KindInternal          Kind = "internal-error"
)

// CommandError is an error carrying a taxonomy kind across the pipeline
// boundary. Only the kind and a short message are surfaced to callers.
type CommandError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// New creates a CommandError with the given kind and message.
func New(kind Kind, message string) *CommandError {
	return &CommandError{Kind: kind, Message: message}
}

// Wrap creates a CommandError wrapping a cause.
func Wrap(kind Kind, err error, message string) *CommandError {
	return &CommandError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the taxonomy kind from err, defaulting to internal-error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind Kind) bool {
	var ce *CommandError
	return errors.As(err, &ce) && ce.Kind == kind
}

// ErrNotFound is the sentinel for missing records across the persistence
// port and the context manager.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating a record whose id is taken.
var ErrAlreadyExists = errors.New("already exists")
