package mapping

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by resolution. None of them are retried internally.
var (
	ErrMissingUpstreamArtifact = errors.New("missing upstream artifact")
	ErrMalformedInput          = errors.New("malformed input")
	ErrUnresolvedMapping       = errors.New("unresolved mapping")
	ErrIO                      = errors.New("i/o failure")
)

// Error wraps a failure with its kind so callers can branch with errors.Is.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Errorf builds an *Error of the given kind without a cause.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around cause. A nil cause yields nil.
func Wrap(kind error, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}
