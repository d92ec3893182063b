// Package apperr defines the error kinds surfaced by the message and conversation use cases
// and their mapping to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and the REST layer.
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindAlreadyExists      Kind = "ALREADY_EXISTS"
	KindInvalidRequest     Kind = "INVALID_REQUEST"
	KindInvalidState       Kind = "INVALID_STATE"
	KindProvider           Kind = "PROVIDER_ERROR"
	KindUnexpectedProvider Kind = "UNEXPECTED_PROVIDER"
	KindUnexpected         Kind = "UNEXPECTED"
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrAlreadyExists      = &Error{Kind: KindAlreadyExists}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrUnexpectedProvider = &Error{Kind: KindUnexpectedProvider}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

func AlreadyExists(format string, args ...any) *Error {
	return New(KindAlreadyExists, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

func InvalidRequest(format string, args ...any) *Error {
	return New(KindInvalidRequest, format, args...)
}

// InvalidFields builds an InvalidRequest error carrying per-field messages.
func InvalidFields(fields []FieldError) *Error {
	return &Error{Kind: KindInvalidRequest, Message: "validation failed", Fields: fields}
}

// ProviderClassifier is implemented by errors that originate from the external provider.
type ProviderClassifier interface {
	ProviderFailure() bool
}

// KindOf returns the kind of the first classified error in err's chain.
// Provider failures anywhere in the chain classify as KindProvider; anything else is KindUnexpected.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var pc ProviderClassifier
	if errors.As(err, &pc) && pc.ProviderFailure() {
		return KindProvider
	}
	return KindUnexpected
}

// HTTPStatus maps a kind to a stable HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists:
		return http.StatusConflict
	case KindInvalidRequest, KindInvalidState, KindProvider:
		return http.StatusBadRequest
	case KindUnexpectedProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
