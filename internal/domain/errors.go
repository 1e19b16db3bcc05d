package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// SourceError reports a document source that was unreachable or returned unusable content.
type SourceError struct {
	URL        string
	StatusCode int
	Temporary  bool
	Err        error
}

func (e *SourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("source %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("source %s: %v", e.URL, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// PersistenceError wraps a connection or constraint failure from the store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError unless it is nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// ValidationError reports a malformed input record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// FailureKind classifies an item failure for run statistics.
type FailureKind string

const (
	FailureSource      FailureKind = "source"
	FailureValidation  FailureKind = "validation"
	FailurePersistence FailureKind = "persistence"
	FailureTimeout     FailureKind = "timeout"
	FailureCancelled   FailureKind = "cancelled"
	FailureUnknown     FailureKind = "unknown"
)

// Classify maps an item error onto a failure kind. Validation errors count as
// source failures for totals but keep their own kind for diagnosis.
func Classify(err error) FailureKind {
	var (
		validationErr  *ValidationError
		sourceErr      *SourceError
		persistenceErr *PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureCancelled
	case errors.As(err, &validationErr):
		return FailureValidation
	case errors.As(err, &sourceErr):
		return FailureSource
	case errors.As(err, &persistenceErr):
		return FailurePersistence
	default:
		return FailureUnknown
	}
}

// IsTemporary reports whether err is a source failure worth retrying on a later run.
func IsTemporary(err error) bool {
	var sourceErr *SourceError
	if errors.As(err, &sourceErr) {
		return sourceErr.Temporary
	}
	return errors.Is(err, context.DeadlineExceeded)
}
