package rspc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeCanceled       = -32800

	CodeResolver              = -32000
	CodeUnauthorized          = -32001
	CodeTimeout               = -32002
	CodeRateLimited           = -32029
	CodeTypeMismatch          = -32010
	CodeWrongInputKind        = -32011
	CodeEmptyStream           = -32012
	CodeDuplicateSubscription = -32013
	CodeUnknownSubscription   = -32014
	CodeSerialize             = -32015
)

var codeNames = map[int]string{
	CodeParseError:            "ParseError",
	CodeInvalidRequest:        "InvalidRequest",
	CodeMethodNotFound:        "MethodNotFound",
	CodeInvalidParams:         "DeserializeError",
	CodeInternalError:         "InternalError",
	CodeCanceled:              "Canceled",
	CodeResolver:              "ResolverError",
	CodeUnauthorized:          "Unauthorized",
	CodeTimeout:               "Timeout",
	CodeRateLimited:           "RateLimited",
	CodeTypeMismatch:          "TypeMismatch",
	CodeWrongInputKind:        "WrongInputKind",
	CodeEmptyStream:           "EmptyStream",
	CodeDuplicateSubscription: "DuplicateSubscription",
	CodeUnknownSubscription:   "UnknownSubscription",
	CodeSerialize:             "SerializeError",
}

// CodeName returns the stable category name of an error code.
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return "Unknown"
}

// Invariant violations. These are raised with panic, never returned.
var (
	ErrInputConsumed  = errors.New("rspc: input already consumed")
	ErrOutputConsumed = errors.New("rspc: output already consumed")
)

// Error is the structured error carried by stream items and sent to clients.
type Error struct {
	Code    int
	Message string
	// Cause is the underlying Go error, if any. It is not sent on the wire.
	Cause error
	// Data is an optional structured cause that is sent on the wire.
	Data any
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithData returns a copy of the error carrying the given structured cause.
func (e *Error) WithData(data any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}

// NewError creates a new error.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a new error wrapping an existing error.
func WrapError(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// ResolverError returns an application-level error for a resolver to return.
func ResolverError(message string) *Error {
	return NewError(CodeResolver, message)
}

// ErrMethodNotFound returns a method not found error.
func ErrMethodNotFound(path string) *Error {
	return NewError(CodeMethodNotFound, fmt.Sprintf("procedure not found: %s", path))
}

// ErrInvalidRequest returns an invalid request error.
func ErrInvalidRequest(reason string) *Error {
	return NewError(CodeInvalidRequest, fmt.Sprintf("invalid request: %s", reason))
}

// ErrDeserialize returns a deserialize error for a malformed input payload.
func ErrDeserialize(cause error) *Error {
	return &Error{
		Code:    CodeInvalidParams,
		Message: fmt.Sprintf("failed to deserialize input: %v", cause),
		Cause:   cause,
	}
}

// ErrTypeMismatch returns an error naming the expected and actual types.
func ErrTypeMismatch(expected, actual reflect.Type) *Error {
	return NewError(CodeTypeMismatch, fmt.Sprintf("type mismatch: expected %s, got %s", typeName(expected), typeName(actual)))
}

// ErrWrongInputKind returns an error for a value of the wrong representation.
func ErrWrongInputKind(want, got fmt.Stringer) *Error {
	return NewError(CodeWrongInputKind, fmt.Sprintf("wrong value kind: expected %s, got %s", want, got))
}

// ErrEmptyStream returns the error yielded when a single-value stream ends without an item.
func ErrEmptyStream() *Error {
	return NewError(CodeEmptyStream, "stream ended without a value")
}

// ErrDuplicateSubscription returns the error for a subscription id that is already live.
func ErrDuplicateSubscription(id RequestID) *Error {
	return NewError(CodeDuplicateSubscription, fmt.Sprintf("subscription %s already exists", id))
}

// ErrUnknownSubscription returns the error for stopping a subscription that is not live.
func ErrUnknownSubscription(id RequestID) *Error {
	return NewError(CodeUnknownSubscription, fmt.Sprintf("subscription %s not found", id))
}

// ErrSerialize returns an error for an output that could not be serialized.
func ErrSerialize(cause error) *Error {
	return WrapError(CodeSerialize, "failed to serialize output", cause)
}

// ErrUnauthorized returns an unauthorized error.
func ErrUnauthorized(message string) *Error {
	return NewError(CodeUnauthorized, message)
}

// ErrTimeout returns an error for a call that ran past its deadline.
func ErrTimeout(cause error) *Error {
	return WrapError(CodeTimeout, "deadline exceeded", cause)
}

// ErrRateLimited returns an error for a call rejected by a rate limiter.
func ErrRateLimited(key string) *Error {
	return NewError(CodeRateLimited, "rate limit exceeded").WithData(map[string]string{"key": key})
}

// ErrInternal returns an internal error.
func ErrInternal(cause error) *Error {
	return WrapError(CodeInternalError, "internal error", cause)
}

// ErrCanceled returns a canceled error.
func ErrCanceled() *Error {
	return NewError(CodeCanceled, "request canceled")
}

// AsError normalizes err to an *Error. Context errors map to CodeCanceled and
// CodeTimeout; any other error becomes a resolver error carrying err's message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.Canceled):
		return WrapError(CodeCanceled, "request canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(CodeTimeout, "deadline exceeded", err)
	}
	return &Error{Code: CodeResolver, Message: err.Error(), Cause: err}
}

// IsCode reports whether err normalizes to an *Error with the given code.
func IsCode(err error, code int) bool {
	e := AsError(err)
	return e != nil && e.Code == code
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
