package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindInvalidState   Kind = "invalid_state"
	KindConflict       Kind = "conflict"
	KindBusy           Kind = "busy"
	KindInternal       Kind = "internal"
)

// Error is the structured failure surfaced to callers of every
// request-facing operation.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err. Errors that carry no *Error anywhere
// in their chain are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind is shorthand for KindOf(err) == kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// Retryable reports whether the caller may resubmit the same request
// unchanged.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindBusy, KindConflict:
		return true
	}
	return false
}
