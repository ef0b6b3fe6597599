package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable wire-level tag of a runtime error. The kind
// survives wrapping so callers can branch without string matching.
type ErrorKind string

const (
	KindSession       ErrorKind = "session"
	KindLock          ErrorKind = "lock"
	KindTool          ErrorKind = "tool"
	KindLLM           ErrorKind = "llm"
	KindConfig        ErrorKind = "config"
	KindIO            ErrorKind = "io"
	KindSerialization ErrorKind = "serialization"
)

// RuntimeError is the sum-typed error carried end-to-end through the
// runtime. Adapters may stringify their internal errors into Msg, but
// the Kind tag is preserved until the controller boundary.
type RuntimeError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *RuntimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Errorf builds a RuntimeError with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying error.
func WrapError(kind ErrorKind, msg string, err error) *RuntimeError {
	return &RuntimeError{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the error kind from err, unwrapping as needed.
// Unclassified errors report KindIO.
func KindOf(err error) ErrorKind {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindIO
}
