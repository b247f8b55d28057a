// Package apperr defines the error taxonomy shared by the dispatcher,
// the response handler, and the HTTP surface. Conflict and Expired are
// expected control-flow outcomes; only Unavailable is fatal to a pass.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// Conflict means a conditional write lost a race. Callers skip the
	// item and wait for the next trigger instead of retrying inline.
	Conflict Kind = iota + 1
	// Expired means an operator acted on an offer past its deadline.
	Expired
	// NotFound means the referenced ticket, operator, or offer no longer exists.
	NotFound
	// Unavailable means the store could not be reached.
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Conflict:
		return "conflict"
	case Expired:
		return "expired"
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a taxonomy error for op.
func E(kind Kind, op string, args ...any) *Error {
	err := &Error{Kind: kind, Op: op}
	for _, a := range args {
		switch v := a.(type) {
		case error:
			err.Err = v
		case string:
			err.Err = errors.New(v)
		}
	}
	return err
}

// KindOf extracts the taxonomy kind from err, or 0 if err is not ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsConflict(err error) bool    { return KindOf(err) == Conflict }
func IsExpired(err error) bool     { return KindOf(err) == Expired }
func IsNotFound(err error) bool    { return KindOf(err) == NotFound }
func IsUnavailable(err error) bool { return KindOf(err) == Unavailable }
