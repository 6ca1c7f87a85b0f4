package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation Code = "validation"
	CodeNotFound   Code = "not_found"
	CodeExternal   Code = "external"
	CodeTimeout    Code = "timeout"
	CodeIndexing   Code = "indexing"
)

// Error is the typed error carried across pipeline stage boundaries. The
// queue consumer keys its ack/retry decision off Code alone, so inner
// helpers wrap causes instead of flattening them to strings.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("%s (%s)", msg, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, op, message string, err error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

func Validation(op, message string) *Error {
	return &Error{Code: CodeValidation, Op: op, Message: message}
}

func NotFound(op, message string) *Error {
	return &Error{Code: CodeNotFound, Op: op, Message: message}
}

func External(op string, err error) *Error {
	return &Error{Code: CodeExternal, Op: op, Err: err}
}

func Timeout(op, message string) *Error {
	return &Error{Code: CodeTimeout, Op: op, Message: message}
}

func Indexing(op string, err error) *Error {
	return &Error{Code: CodeIndexing, Op: op, Err: err}
}

// CodeOf walks the chain for the outermost *Error. Untyped errors are
// treated as external failures.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeExternal
}

// Retryable reports whether a queue message that failed with err should be
// redelivered. Bad input and missing records never heal on retry; remote
// failures and timeouts may.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeNotFound, CodeIndexing:
		return false
	default:
		return true
	}
}
