// Package apperr defines the error taxonomy shared by the AI gateway
// components and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure so the HTTP layer can pick a status code and the
// front end can show a specific reason.
type Kind string

const (
	FeatureDisabled    Kind = "feature_disabled"
	QuotaExceeded      Kind = "quota_exceeded"
	ConfigIncomplete   Kind = "config_incomplete"
	UnsupportedVendor  Kind = "unsupported_vendor"
	InvalidInput       Kind = "invalid_input"
	PersistenceCorrupt Kind = "persistence_corrupt"
	NotFound           Kind = "not_found"
	Unauthorized       Kind = "unauthorized"
	Internal           Kind = "internal"
)

// Error is a classified error. Message is safe to show to API callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so callers can
// write errors.Is(err, apperr.E(apperr.QuotaExceeded)).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Message == ""
	}
	return false
}

// New returns a classified error with a caller-facing message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap classifies err under kind with a caller-facing message.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// E returns a bare sentinel of the given kind for use with errors.Is.
func E(kind Kind) error {
	return &Error{Kind: kind}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// MessageOf returns the caller-facing message for err. Unclassified errors
// get a generic message so internal details do not leak.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind onto the status code returned by the API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case FeatureDisabled, QuotaExceeded:
		return http.StatusForbidden
	case ConfigIncomplete, UnsupportedVendor:
		return http.StatusUnprocessableEntity
	case InvalidInput:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
