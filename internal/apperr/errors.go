// Package apperr defines the error kinds shared by the verification engine.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind uint8

const (
	KindInternal Kind = iota
	KindConfiguration
	KindValidation
	KindExternal
	KindNotFound
	KindForbidden
	KindConflict
	// KindRejected is a policy rejection with a user-facing reason.
	KindRejected
	// KindBanned must never carry a message to the banned party.
	KindBanned
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindExternal:
		return "external"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindRejected:
		return "rejected"
	case KindBanned:
		return "banned"
	case KindRateLimited:
		return "rate_limited"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsRejection reports whether the kind is a policy outcome rather than a failure.
func (k Kind) IsRejection() bool {
	return k == KindRejected || k == KindBanned || k == KindRateLimited
}

type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by kind, so errors.Is(err, apperr.Banned()) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, cause: err}
}

func Internal(msg string, err error) *Error {
	return Wrap(KindInternal, msg, err)
}

func Configuration(msg string) *Error {
	return New(KindConfiguration, msg)
}

func Validation(msg string) *Error {
	return New(KindValidation, msg)
}

func External(msg string, err error) *Error {
	return Wrap(KindExternal, msg, err)
}

func NotFound(msg string) *Error {
	return New(KindNotFound, msg)
}

func Forbidden(msg string) *Error {
	return New(KindForbidden, msg)
}

func Conflict(msg string) *Error {
	return New(KindConflict, msg)
}

func Rejected(msg string) *Error {
	return New(KindRejected, msg)
}

func Banned() *Error {
	return &Error{Kind: KindBanned}
}

func RateLimited(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: msg, RetryAfter: retryAfter}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts the first *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
