package worker

import (
	"context"
	"errors"
	"fmt"

	"voice-transform-service/internal/models"
)

// Batch submissions return before any processing happens, so uploaded
// payloads are stashed under deterministic keys for the worker binary to
// pick up later. Single conversions never touch these paths.

func uploadKey(jobID, role string) string {
	return fmt.Sprintf("uploads/%s_%s.wav", jobID, role)
}

// StashUploads persists a batch item's payloads through the same backend
// chain as outputs. input may be nil for text_to_speech items.
func (p *Pipeline) StashUploads(ctx context.Context, jobID string, input, reference []byte) error {
	if len(input) > 0 {
		if err := p.stash(ctx, uploadKey(jobID, "input"), input); err != nil {
			return err
		}
	}
	if err := p.stash(ctx, uploadKey(jobID, "reference"), reference); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) stash(ctx context.Context, key string, data []byte) error {
	if p.objects != nil {
		if _, err := p.objects.Put(ctx, key, data, "audio/wav"); err == nil {
			return nil
		}
	}
	if p.local != nil {
		if _, err := p.local.Put(ctx, key, data, "audio/wav"); err != nil {
			return fmt.Errorf("stash %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("stash %s: no storage backend configured", key)
}

// loadUploads fetches a batch item's payloads back from whichever backend
// holds them.
func (p *Pipeline) loadUploads(ctx context.Context, rec models.JobRecord) (input, reference []byte, err error) {
	if rec.Kind != models.KindTextToSpeech {
		input, err = p.fetch(ctx, uploadKey(rec.ID, "input"))
		if err != nil {
			return nil, nil, fmt.Errorf("load input payload: %w", err)
		}
	}
	reference, err = p.fetch(ctx, uploadKey(rec.ID, "reference"))
	if err != nil {
		return nil, nil, fmt.Errorf("load reference payload: %w", err)
	}
	return input, reference, nil
}

func (p *Pipeline) fetch(ctx context.Context, key string) ([]byte, error) {
	if p.objects != nil {
		data, _, err := p.objects.Get(ctx, models.Locator{Kind: models.LocatorObject, Path: key})
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	if p.local != nil {
		data, _, err := p.local.Get(ctx, models.Locator{Kind: models.LocatorFile, Path: p.local.Resolve(key)})
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	return nil, models.ErrNotFound
}

// CleanupUploads best-effort deletes stashed payloads once an item is
// terminal. Failures are logged by the caller, never propagated.
func (p *Pipeline) CleanupUploads(ctx context.Context, jobID string) error {
	var firstErr error
	for _, role := range []string{"input", "reference"} {
		key := uploadKey(jobID, role)
		if p.objects != nil {
			if err := p.objects.Delete(ctx, models.Locator{Kind: models.LocatorObject, Path: key}); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if p.local != nil {
			if err := p.local.Delete(ctx, models.Locator{Kind: models.LocatorFile, Path: p.local.Resolve(key)}); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
