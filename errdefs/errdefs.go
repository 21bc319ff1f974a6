// Package errdefs defines the error taxonomy shared by the publisher, the AYON client
// and the HTTP endpoints. Helpers return these errors; only top level entry points
// turn them into responses.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery decisions.
type Kind string

const (
	KindUnknown       Kind = "UNKNOWN"
	KindNotFound      Kind = "NOT_FOUND"
	KindConfiguration Kind = "CONFIGURATION"
	KindIO            Kind = "IO"
	KindService       Kind = "SERVICE"
	KindInvalid       Kind = "INVALID"
)

// Error carries a Kind, the operation that failed and an optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		if msg == "" {
			return e.Err.Error()
		}
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

func newError(kind Kind, op string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(op, format string, args ...interface{}) *Error {
	return newError(KindNotFound, op, nil, format, args...)
}

func Configuration(op, format string, args ...interface{}) *Error {
	return newError(KindConfiguration, op, nil, format, args...)
}

func Invalid(op, format string, args ...interface{}) *Error {
	return newError(KindInvalid, op, nil, format, args...)
}

func IO(op string, err error, format string, args ...interface{}) *Error {
	return newError(KindIO, op, err, format, args...)
}

func Service(op string, err error, format string, args ...interface{}) *Error {
	return newError(KindService, op, err, format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }
func IsIO(err error) bool            { return KindOf(err) == KindIO }
func IsService(err error) bool       { return KindOf(err) == KindService }
func IsInvalid(err error) bool       { return KindOf(err) == KindInvalid }
