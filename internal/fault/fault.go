// Package fault classifies errors into the kinds the rest of the system
// reacts to: the execution engine's retry decision, provider fallbacks,
// and the HTTP status mapping.
package fault

import (
	"errors"
	"fmt"
)

// Kind labels an error class.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindRateLimit     Kind = "rate_limit"
	KindTimeout       Kind = "timeout"
	KindProvider      Kind = "provider"
	KindNotFound      Kind = "not_found"
	KindConsolidation Kind = "consolidation"
	KindUnknown       Kind = "unknown"
)

// Error carries a kind alongside a message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error, keeping it in the chain.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) error    { return New(KindValidation, format, args...) }
func RateLimit(format string, args ...any) error     { return New(KindRateLimit, format, args...) }
func Timeout(format string, args ...any) error       { return New(KindTimeout, format, args...) }
func Provider(format string, args ...any) error      { return New(KindProvider, format, args...) }
func NotFound(format string, args ...any) error      { return New(KindNotFound, format, args...) }
func Consolidation(format string, args ...any) error { return New(KindConsolidation, format, args...) }

// KindOf reports the kind of the first *Error in err's chain, or
// KindUnknown when the chain has none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err's chain carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the execution engine may retry after err.
// Validation and rate-limit failures are terminal.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindRateLimit:
		return false
	}
	return true
}
