package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for callers and the HTTP layer.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindBadRequest  Kind = "bad_request"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// ConflictDetail describes one clashing slot or booking so a client can render
// "this conflicts with X" and offer the suggested alternative.
type ConflictDetail struct {
	Entity         string     `json:"entity"` // "slot" or "booking"
	ID             string     `json:"id"`
	SerialKey      string     `json:"serialKey,omitempty"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	SuggestedStart *time.Time `json:"suggestedStart,omitempty"`
	SuggestedEnd   *time.Time `json:"suggestedEnd,omitempty"`
}

// Error is the structured error returned by the services.
type Error struct {
	Kind      Kind
	Message   string
	Err       error
	Conflicts []ConflictDetail
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Unavailable(format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a conflict error carrying the clashing entities.
func Conflict(message string, details ...ConflictDetail) *Error {
	return &Error{Kind: KindConflict, Message: message, Conflicts: details}
}

// Internal wraps an infrastructure failure.
func Internal(err error, message string) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// ConflictsOf returns the conflict details carried by err, if any.
func ConflictsOf(err error) []ConflictDetail {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Conflicts
	}
	return nil
}

func IsNotFound(err error) bool   { return err != nil && KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return err != nil && KindOf(err) == KindConflict }
func IsBadRequest(err error) bool { return err != nil && KindOf(err) == KindBadRequest }

// HTTPStatus maps an error onto a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
