// Package apperr defines the tagged error values that flow between the
// authorizer, the handlers and the dispatcher envelope.
//
// An *Error carries a Kind and a human readable message. Error() returns the
// message verbatim so the dispatcher can use it as the reply body. errors.Is
// matches on Kind, so callers compare against the Err* sentinels:
//
//	if errors.Is(err, apperr.ErrUserLocked) { ... }
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	KindInvalidArgument  Kind = "invalid_argument"
	KindMalformedToken   Kind = "malformed_token"
	KindTokenRejected    Kind = "token_rejected"
	KindUnknownUser      Kind = "unknown_user"
	KindUserLocked       Kind = "user_locked"
	KindPermissionDenied Kind = "permission_denied"
	KindRateLimited      Kind = "rate_limited"
	KindNotFound         Kind = "not_found"
	KindHandler          Kind = "handler_error"
	KindUnknown          Kind = "unknown_error"
)

// Sentinels for errors.Is. They carry no message.
var (
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrMalformedToken   = &Error{Kind: KindMalformedToken}
	ErrTokenRejected    = &Error{Kind: KindTokenRejected}
	ErrUnknownUser      = &Error{Kind: KindUnknownUser}
	ErrUserLocked       = &Error{Kind: KindUserLocked}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrNotFound         = &Error{Kind: KindNotFound}
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New creates an Error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that keeps cause for errors.Unwrap.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Unwrap returns the root cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// As extracts an *Error if present.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// KindOf returns the kind of err. Unclassified errors are KindHandler.
func KindOf(err error) Kind {
	if appErr := As(err); appErr != nil {
		return appErr.Kind
	}
	return KindHandler
}

// HTTPStatus maps err to a reply status. Existing clients expect every
// auth failure as 400; strict selects 401/403/429 instead.
func HTTPStatus(err error, strict bool) int {
	kind := KindOf(err)
	if kind == KindNotFound {
		return http.StatusNotFound
	}
	if !strict {
		return http.StatusBadRequest
	}
	switch kind {
	case KindMalformedToken, KindTokenRejected, KindUnknownUser:
		return http.StatusUnauthorized
	case KindUserLocked, KindPermissionDenied:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}
