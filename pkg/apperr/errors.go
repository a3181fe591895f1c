// Package apperr classifies the errors surfaced by ingestion and query entry points.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the classification reported to callers.
type Kind string

const (
	KindInvalidConfiguration Kind = "InvalidConfiguration"
	KindMissingConfiguration Kind = "MissingConfiguration"
	KindInvalidRequest       Kind = "InvalidRequest"
	KindTransientProvider    Kind = "TransientProviderError"
	KindPermanentProvider    Kind = "PermanentProviderError"
	KindStorage              Kind = "StorageError"
	KindInternal             Kind = "InternalError"
)

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error from a message.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the outermost classification of err, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Retryable() {
			return KindTransientProvider
		}
		return KindPermanentProvider
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ProviderError is returned by provider adapters when the remote answered
// with an HTTP status.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable is true for rate limiting and server-side failures.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		(e.StatusCode >= 500 && e.StatusCode <= 599)
}

// IsRetryable reports whether err carries a retryable provider status.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

// HTTPStatus maps a classification to the status returned by the front door.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindTransientProvider:
		return http.StatusServiceUnavailable
	case KindPermanentProvider, KindStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
