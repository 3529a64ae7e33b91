// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrBufferClosed     = errors.New("buffer is closed")
	ErrAlreadyAttached  = errors.New("buffer already attached to a transport")
	ErrFactoryEmpty     = errors.New("payload factory returned no object")
	ErrTokenReturned    = errors.New("token already returned")
	ErrForeignToken     = errors.New("token was borrowed from another buffer")
	ErrTransportClosed  = errors.New("transport is closed")
	ErrSinkClosed       = errors.New("sink is closed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrNothingToArchive = errors.New("no samples to archive")
)

// DecodeError represents a frame that could not be deserialized into a payload.
type DecodeError struct {
	Port string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: port=%s: %v", e.Port, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// UnsupportedOperationError is returned by operations that were removed from
// the buffer API. Callers should switch to Replacement.
type UnsupportedOperationError struct {
	Operation   string
	Replacement string
}

func (e *UnsupportedOperationError) Error() string {
	if e.Replacement == "" {
		return fmt.Sprintf("unsupported operation: %s", e.Operation)
	}
	return fmt.Sprintf("unsupported operation: %s (use %s)", e.Operation, e.Replacement)
}

// StorageError represents an archive storage operation failure.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if a StorageError is retryable based on the operation type.
func (e *StorageError) IsRetryable() bool {
	return e.Operation == "write" || e.Operation == "upload" || e.Operation == "create"
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return errors.Is(err, ErrConnectionLost)
}

// IsUnsupported reports whether err is, or wraps, an UnsupportedOperationError.
func IsUnsupported(err error) bool {
	var unsupported *UnsupportedOperationError
	return errors.As(err, &unsupported)
}

// Is reports whether any error in err's tree matches target.
// It mirrors the standard library so callers need a single errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
