// Package assetstore persists binary conversion output independently of the
// job record. Backends share one contract so the backing medium can change
// without touching the lifecycle manager, which only ever handles locators.
package assetstore

import (
	"context"

	"voice-transform-service/internal/models"
)

// Store saves and retrieves output payloads by key.
type Store interface {
	// Put stores the payload under key and returns its locator. I/O
	// failures come back as *models.StorageError; callers treat them as
	// recoverable and try the next backend.
	Put(ctx context.Context, key string, data []byte, contentType string) (models.Locator, error)
	// Get resolves a locator to the stored bytes and content type, or
	// models.ErrNotFound.
	Get(ctx context.Context, loc models.Locator) ([]byte, string, error)
	// Delete removes a stored payload. Best effort; callers log failures
	// rather than propagating them.
	Delete(ctx context.Context, loc models.Locator) error
}
