package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure by how the caller should react to it,
// not by where it happened.
type ErrorKind string

const (
	// ErrInvalidArg - malformed input; never retry
	ErrInvalidArg ErrorKind = "INVALID_ARG"
	// ErrNotFound - target entity missing; never retry
	ErrNotFound ErrorKind = "NOT_FOUND"
	// ErrStateConflict - entity exists but its state does not admit the transition
	ErrStateConflict ErrorKind = "STATE_CONFLICT"
	// ErrConflict - structural conflict such as a duplicate registration
	ErrConflict ErrorKind = "CONFLICT"
	// ErrCapacityExceeded - agent cannot hold more work
	ErrCapacityExceeded ErrorKind = "CAPACITY_EXCEEDED"
	// ErrBusy - lock contention; retry with backoff
	ErrBusy ErrorKind = "BUSY"
	// ErrTimeout - external resource exceeded its deadline
	ErrTimeout ErrorKind = "TIMEOUT"
	// ErrCorruptState - a state document failed validation; fatal
	ErrCorruptState ErrorKind = "CORRUPT_STATE"
	// ErrIO - lower-level filesystem failure
	ErrIO ErrorKind = "IO_ERROR"
	// ErrInvalidState - the entity is terminal and refuses mutation
	ErrInvalidState ErrorKind = "INVALID_STATE"
)

// Error is the coordination error carried across package boundaries.
// It wraps an optional cause and always carries a kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with a formatted message
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error wrapping a cause
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from err, walking the wrap chain.
// Unclassified errors report ErrIO.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrIO
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the kind is worth retrying with backoff
func (k ErrorKind) Retryable() bool {
	return k == ErrBusy || k == ErrTimeout
}
