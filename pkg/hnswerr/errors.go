// Package hnswerr defines the error taxonomy shared by every fallible
// operation in the index: vector store, layered graph, and engine.
package hnswerr

import (
	"errors"
	"fmt"
)

// Code classifies a failure the way spec.md §7 enumerates.
type Code int

const (
	// CodeInvalidArgument covers config mismatch on load, zero
	// dimension, or an unknown metric/element type.
	CodeInvalidArgument Code = iota
	// CodeNotFound covers operating on a label that does not exist.
	CodeNotFound
	// CodeAlreadyExists covers allocating a slot for a label that is
	// already live, or soft-deleting an already-deleted slot.
	CodeAlreadyExists
	// CodeResourceExhausted covers being at max_elements with no
	// vacant slots.
	CodeResourceExhausted
	// CodeOutOfRange covers a neighbor id past max_elements, or a
	// level past a node's level — signals graph corruption.
	CodeOutOfRange
	// CodeDataLoss covers a short read, a bad magic, or a checksum
	// mismatch on load.
	CodeDataLoss
	// CodeInternal covers invariant violations: self-link,
	// over-capacity neighbor list, empty search over a nonempty store.
	CodeInternal
	// CodeUnavailable covers an unopenable file, or undeleting a slot
	// that was never deleted.
	CodeUnavailable
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "invalid-argument"
	case CodeNotFound:
		return "not-found"
	case CodeAlreadyExists:
		return "already-exists"
	case CodeResourceExhausted:
		return "resource-exhausted"
	case CodeOutOfRange:
		return "out-of-range"
	case CodeDataLoss:
		return "data-loss"
	case CodeInternal:
		return "internal"
	case CodeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every exported operation returns on
// failure. It wraps an optional cause and carries a stable Code so
// callers can branch with errors.Is/As instead of string matching.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, hnswerr.New(code, "", "")) match on Code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New constructs an *Error with no wrapped cause.
func New(code Code, op, msg string) *Error {
	return &Error{Code: code, Op: op, Msg: msg}
}

// Wrap constructs an *Error wrapping err.
func Wrap(code Code, op, msg string, err error) *Error {
	return &Error{Code: code, Op: op, Msg: msg, Err: err}
}

// Sentinel values for errors.Is comparisons against a bare code,
// e.g. errors.Is(err, hnswerr.NotFound).
var (
	InvalidArgument   = &Error{Code: CodeInvalidArgument}
	NotFound          = &Error{Code: CodeNotFound}
	AlreadyExists     = &Error{Code: CodeAlreadyExists}
	ResourceExhausted = &Error{Code: CodeResourceExhausted}
	OutOfRange        = &Error{Code: CodeOutOfRange}
	DataLoss          = &Error{Code: CodeDataLoss}
	Internal          = &Error{Code: CodeInternal}
	Unavailable       = &Error{Code: CodeUnavailable}
)

// Of reports the Code of err if it is (or wraps) an *Error, and false
// otherwise.
func Of(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
