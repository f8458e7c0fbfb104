// Package apperr defines the closed set of error kinds surfaced by the
// terminal registry and the SSH session manager.
package apperr

import (
	"errors"
	"fmt"
)

// Kind tags an error with the category callers branch on.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindConnection     Kind = "connection"
	KindAuthentication Kind = "authentication"
	KindSSH            Kind = "ssh"
	KindSession        Kind = "session"
	KindIO             Kind = "io"
	KindNotFound       Kind = "not_found"
)

var kindLabels = map[Kind]string{
	KindValidation:     "Validation error",
	KindConnection:     "Connection error",
	KindAuthentication: "Authentication error",
	KindSSH:            "SSH error",
	KindSession:        "Session error",
	KindIO:             "IO error",
	KindNotFound:       "Not found",
}

// Label returns the human readable name of the kind.
func (k Kind) Label() string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return "Error"
}

// Error is a kind-tagged error with a message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Label(), e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Label(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" when
// err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the message of the outermost *Error without the kind label,
// or err.Error() for untyped errors.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
