package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the store, lifecycle, and API layers.
var (
	// ErrNotFound signals an unknown job identifier or missing payload.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState signals a transition attempted from the wrong status,
	// including a second begin on the same record.
	ErrInvalidState = errors.New("invalid job state")
)

// ValidationError rejects a request before any record is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError wraps a failed asset-store write. Callers treat it as
// recoverable and try the next storage backend before failing the job.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
