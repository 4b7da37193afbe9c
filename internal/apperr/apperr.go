// Package apperr defines the error kinds shared by both services. Handlers
// map a Kind to an HTTP status and the Code to the machine readable error
// field, and the remote clients rebuild the same errors from responses.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConflict            Kind = "conflict"
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindTransientRemote     Kind = "transient_remote"
	KindCompensationFailure Kind = "compensation_failure"
	KindInternal            Kind = "internal"
)

// Error is a classified error. Sentinels are declared as *Error values and
// compared with errors.Is; Wrap keeps the sentinel reachable while adding context.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and code so that a rebuilt remote error
// compares equal to the local sentinel it was encoded from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Conflict(code, message string) *Error   { return New(KindConflict, code, message) }
func Validation(code, message string) *Error { return New(KindValidation, code, message) }
func NotFound(code, message string) *Error   { return New(KindNotFound, code, message) }

// Wrap returns a copy of sentinel carrying cause.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Err: cause}
}

// KindOf reports the kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the code of the first *Error in err's chain, "internal_error" otherwise.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}
