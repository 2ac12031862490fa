// Package domain defines the core domain models for shardkv.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents an engine error with a structured error code.
// Codes have the form KV-<AREA>-<NNNN>; the numeric part follows HTTP status
// semantics so admin surfaces can map errors without a lookup table.
type DomainError struct {
	Code    string // Error code (e.g., "KV-KEY-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support. Two domain errors match when their
// codes are equal, regardless of details or cause.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Key / Value Errors (KEY, VAL)
// ============================================================================

var (
	// ErrNotFound indicates the key is absent or has expired.
	ErrNotFound = NewDomainError("KV-KEY-4040", "key not found")

	// ErrInvalidKey indicates an empty or otherwise unusable key.
	ErrInvalidKey = NewDomainError("KV-KEY-4000", "invalid key")

	// ErrInvalidArgument indicates an out-of-range operation argument.
	ErrInvalidArgument = NewDomainError("KV-ARG-4000", "invalid argument")

	// ErrNotInteger indicates the stored value cannot be parsed as a 64-bit integer.
	ErrNotInteger = NewDomainError("KV-VAL-4000", "value is not an integer or out of range")

	// ErrValueTooLarge indicates a write would grow a value past MaxValueSize.
	ErrValueTooLarge = NewDomainError("KV-VAL-4001", "value too large")
)

// ============================================================================
// Durability Errors (WAL, SNAP)
// ============================================================================

var (
	// ErrWALWrite indicates the durable write of a WAL batch failed.
	// Every caller waiting on that batch receives this error.
	ErrWALWrite = NewDomainError("KV-WAL-5000", "wal write failed")

	// ErrCorruptWALRecord indicates a WAL record failed its length or checksum
	// validation during recovery.
	ErrCorruptWALRecord = NewDomainError("KV-WAL-5001", "corrupt wal record")

	// ErrSnapshotIO indicates a snapshot could not be written or read.
	ErrSnapshotIO = NewDomainError("KV-SNAP-5000", "snapshot io failure")
)

// ============================================================================
// Store Lifecycle Errors (STORE)
// ============================================================================

var (
	// ErrReadOnly indicates the store is in degraded mode after a WAL failure
	// and rejects mutations until durability is restored.
	ErrReadOnly = NewDomainError("KV-STORE-5030", "store is read-only after durability failure")

	// ErrClosed indicates the store or WAL has been shut down.
	ErrClosed = NewDomainError("KV-STORE-5031", "store closed")

	// ErrMemoryLimit indicates a write was rejected because the store would
	// exceed its configured memory limit.
	ErrMemoryLimit = NewDomainError("KV-STORE-5070", "memory limit exceeded")

	// ErrFlushDisabled indicates FlushDB or FlushAll was called while flush
	// commands are disabled.
	ErrFlushDisabled = NewDomainError("KV-STORE-4030", "flush commands are disabled")

	// ErrCancelled indicates a pending acknowledgement was abandoned by a
	// forced shutdown before its batch committed.
	ErrCancelled = NewDomainError("KV-STORE-4990", "operation cancelled by shutdown")
)

// ============================================================================
// Configuration Errors (CONF)
// ============================================================================

var (
	// ErrConfiguration indicates an invalid engine or server configuration.
	ErrConfiguration = NewDomainError("KV-CONF-4000", "invalid configuration")
)
