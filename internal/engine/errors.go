package engine

import (
	"errors"
	"fmt"
)

// Kind classifies a failure reported by, or on behalf of, the engine session.
type Kind int

const (
	KindNone Kind = iota
	KindSyntax
	KindExecution
	KindRejected
	KindTimeout
	KindUnavailable
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSyntax:
		return "syntax"
	case KindExecution:
		return "execution"
	case KindRejected:
		return "rejected"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindInternal.
func ParseKind(s string) Kind {
	switch s {
	case "", "none":
		return KindNone
	case "syntax":
		return KindSyntax
	case "execution":
		return KindExecution
	case "rejected":
		return KindRejected
	case "timeout":
		return KindTimeout
	case "unavailable":
		return KindUnavailable
	default:
		return KindInternal
	}
}

// Sentinels for errors.Is checks against *Error values of the same kind.
var (
	ErrSyntax      = &Error{Kind: KindSyntax, Message: "syntax error"}
	ErrExecution   = &Error{Kind: KindExecution, Message: "execution error"}
	ErrRejected    = &Error{Kind: KindRejected, Message: "call rejected"}
	ErrTimeout     = &Error{Kind: KindTimeout, Message: "call timed out"}
	ErrUnavailable = &Error{Kind: KindUnavailable, Message: "session unavailable"}
	ErrInternal    = &Error{Kind: KindInternal, Message: "internal error"}
)

// Error is a classified engine failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind so callers can write
// errors.Is(err, engine.ErrSyntax).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf builds a classified error.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, keeping it reachable through errors.Unwrap.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf reports the classification of err. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the human readable part of a classified error.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	return err.Error()
}
