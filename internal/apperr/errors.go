// Package apperr defines the error taxonomy shared by the scheduling core and
// its HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindCapacity
	KindInvalidTransition
	KindConflict
	KindInvariant
	KindStorage
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindCapacity:
		return "capacity"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindConflict:
		return "conflict"
	case KindInvariant:
		return "invariant"
	case KindStorage:
		return "storage"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error is a classified error. Sentinels of each kind match any Error of the
// same kind through errors.Is.
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	sentinel bool
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return e.Msg + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.sentinel && t.Kind == e.Kind
}

func sentinel(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg, sentinel: true}
}

var (
	ErrValidation        = sentinel(KindValidation, "validation error")
	ErrNotFound          = sentinel(KindNotFound, "not found")
	ErrCapacity          = sentinel(KindCapacity, "capacity exceeded")
	ErrInvalidTransition = sentinel(KindInvalidTransition, "invalid status transition")
	ErrConflict          = sentinel(KindConflict, "conflict")
	ErrInvariant         = sentinel(KindInvariant, "invariant violated")
	ErrStorage           = sentinel(KindStorage, "storage failure")
	ErrForbidden         = sentinel(KindForbidden, "forbidden")
)

func newf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error { return newf(KindValidation, format, args...) }
func NotFoundf(format string, args ...any) error   { return newf(KindNotFound, format, args...) }
func Capacityf(format string, args ...any) error   { return newf(KindCapacity, format, args...) }
func Conflictf(format string, args ...any) error   { return newf(KindConflict, format, args...) }
func Invariantf(format string, args ...any) error  { return newf(KindInvariant, format, args...) }
func Forbiddenf(format string, args ...any) error  { return newf(KindForbidden, format, args...) }

// Storage wraps a backing-store failure. Errors that are already classified
// pass through untouched.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &Error{Kind: KindStorage, Msg: op, Err: err}
}

// KindOf reports the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
