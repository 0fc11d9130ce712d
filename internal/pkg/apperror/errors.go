package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an application error for propagation decisions.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "unauthorized"
	KindValidation        Kind = "validation"
	KindIntegrity         Kind = "integrity"
	KindNetwork           Kind = "network"
	KindPluginUnavailable Kind = "plugin_unavailable"
)

// Error is the single concrete type behind the error taxonomy.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind: errors.Is(err, apperror.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrIntegrity         = &Error{Kind: KindIntegrity}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrPluginUnavailable = &Error{Kind: KindPluginUnavailable}
)

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Integrity(format string, args ...interface{}) *Error {
	return &Error{Kind: KindIntegrity, Message: fmt.Sprintf(format, args...)}
}

func PluginUnavailable(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPluginUnavailable, Message: fmt.Sprintf(format, args...)}
}

// Network wraps a transport or store failure as retryable.
func Network(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNetwork, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTerminal reports errors that must never be retried.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindUnauthorized, KindValidation:
		return true
	}
	return false
}

// IsRetryable is the complement of IsTerminal for non-nil errors. Unknown
// errors count as transient.
func IsRetryable(err error) bool {
	return err != nil && !IsTerminal(err)
}
