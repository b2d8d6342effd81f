// Package apierr defines the typed errors surfaced by every fleet operation.
//
// Each error carries a Kind that classifies it the way an HTTP API would
// (bad request for validation failures, conflict for a locked universe,
// server error for execution failures) and maps onto gRPC status codes so
// callers on either transport see the same classification.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies an error
type Kind string

const (
	KindBadRequest   Kind = "BadRequest"
	KindConflict     Kind = "Conflict"
	KindNotFound     Kind = "NotFound"
	KindInternal     Kind = "Internal"
	KindIllegalState Kind = "IllegalState"
	KindCancelled    Kind = "Cancelled"
	KindTimeout      Kind = "Timeout"
)

// StatusClientClosedRequest is the non-standard status used for cancelled operations
const StatusClientClosedRequest = 499

// Error is a classified, human-readable error
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

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP-style status for the error kind
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindCancelled:
		return StatusClientClosedRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// GRPCStatus lets status.FromError classify the error
func (e *Error) GRPCStatus() *status.Status {
	var code codes.Code
	switch e.Kind {
	case KindBadRequest:
		code = codes.InvalidArgument
	case KindConflict:
		code = codes.FailedPrecondition
	case KindNotFound:
		code = codes.NotFound
	case KindCancelled:
		code = codes.Canceled
	case KindTimeout:
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.New(code, e.Error())
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// BadRequestf reports invalid or inconsistent input
func BadRequestf(format string, args ...interface{}) error {
	return newf(KindBadRequest, format, args...)
}

// Conflictf reports a resource held by someone else
func Conflictf(format string, args ...interface{}) error {
	return newf(KindConflict, format, args...)
}

// NotFoundf reports a missing resource
func NotFoundf(format string, args ...interface{}) error {
	return newf(KindNotFound, format, args...)
}

// Internalf reports an execution failure
func Internalf(format string, args ...interface{}) error {
	return newf(KindInternal, format, args...)
}

// IllegalStatef reports stored state that violates an invariant
func IllegalStatef(format string, args ...interface{}) error {
	return newf(KindIllegalState, format, args...)
}

// Timeoutf reports an exhausted bounded wait
func Timeoutf(format string, args ...interface{}) error {
	return newf(KindTimeout, format, args...)
}

// Wrap classifies err under kind with a message
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Cancelled reports an interrupted wait
func Cancelled(err error, format string, args ...interface{}) error {
	if err == nil {
		err = context.Canceled
	}
	return &Error{Kind: KindCancelled, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first classified error in the chain.
// Unclassified errors are Internal; bare context errors are Cancelled or Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// StatusCode returns the HTTP-style status for any error
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return (&Error{Kind: KindOf(err)}).StatusCode()
}

// IsBadRequest reports whether err is a validation error
func IsBadRequest(err error) bool { return KindOf(err) == KindBadRequest }

// IsConflict reports whether err is a lock conflict
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsNotFound reports whether err is a missing resource
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsIllegalState reports whether err is an invariant violation
func IsIllegalState(err error) bool { return KindOf(err) == KindIllegalState }

// IsCancelled reports whether err is a cancellation
func IsCancelled(err error) bool { return KindOf(err) == KindCancelled }

// IsTimeout reports whether err is an exhausted wait
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }
