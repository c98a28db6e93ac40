// Package apperr classifies failures into the categories reported to API clients.
package apperr

import (
	"errors"
	"net/http"
)

type Category string

const (
	CategoryNotFound            Category = "not_found"
	CategoryQuotaExceeded       Category = "quota_exceeded"
	CategoryUpstreamUnavailable Category = "upstream_unavailable"
	CategoryInvalidRequest      Category = "invalid_request"
	CategoryPersistence         Category = "persistence_error"
	CategoryUnauthorized        Category = "unauthorized"
	CategoryInternal            Category = "internal_error"
)

// Error carries a category and a client-safe message. The wrapped cause is
// for logs only.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

func Wrap(category Category, message string, err error) *Error {
	return &Error{Category: category, Message: message, Err: err}
}

func NotFound(message string) *Error {
	return New(CategoryNotFound, message)
}

func InvalidRequest(message string) *Error {
	return New(CategoryInvalidRequest, message)
}

func QuotaExceeded(message string) *Error {
	return New(CategoryQuotaExceeded, message)
}

func Upstream(message string, err error) *Error {
	return Wrap(CategoryUpstreamUnavailable, message, err)
}

// Persistence wraps a store failure. An error that is already classified is
// returned unchanged.
func Persistence(err error) *Error {
	if e, ok := As(err); ok {
		return e
	}
	return Wrap(CategoryPersistence, "storage unavailable", err)
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CategoryOf returns the category of err, or CategoryInternal for
// unclassified errors.
func CategoryOf(err error) Category {
	if e, ok := As(err); ok {
		return e.Category
	}
	return CategoryInternal
}

// Is reports whether err carries the given category.
func Is(err error, category Category) bool {
	return err != nil && CategoryOf(err) == category
}

// HTTPStatus maps a category to the status code returned to clients.
func HTTPStatus(category Category) int {
	switch category {
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryQuotaExceeded:
		return http.StatusTooManyRequests
	case CategoryUpstreamUnavailable, CategoryPersistence:
		return http.StatusServiceUnavailable
	case CategoryInvalidRequest:
		return http.StatusBadRequest
	case CategoryUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
