// Package retrieval resolves a completed job record to playable bytes. The
// storage backend changed over time (inline payloads, then object storage),
// so retrieval is an ordered list of named strategies tried in sequence:
// object storage first, then the inline payload, then the legacy file path.
// Old records stay retrievable without migrating historical data.
package retrieval

import (
	"context"
	"errors"
	"log"

	"voice-transform-service/internal/assetstore"
	"voice-transform-service/internal/models"
)

// InlineSource loads the inline payload column for a record.
type InlineSource interface {
	OutputData(ctx context.Context, id string) ([]byte, error)
}

// Strategy is one way of locating a record's output bytes. Fetch returns
// models.ErrNotFound when the strategy does not apply or holds no data;
// any other error also moves the chain to the next strategy.
type Strategy struct {
	Name  string
	Fetch func(ctx context.Context, rec models.JobRecord) ([]byte, string, error)
}

// Service tries each strategy in order; first success wins.
type Service struct {
	strategies []Strategy
}

// New assembles the default chain. objects may be nil when no object
// storage is configured; legacy may be nil when no output directory is set.
func New(objects assetstore.Store, inline InlineSource, legacy *assetstore.LocalStore) *Service {
	s := &Service{}
	s.strategies = append(s.strategies, Strategy{Name: "object_storage", Fetch: objectStorageFetch(objects)})
	s.strategies = append(s.strategies, Strategy{Name: "inline_payload", Fetch: inlineFetch(inline)})
	s.strategies = append(s.strategies, Strategy{Name: "legacy_file", Fetch: legacyFileFetch(legacy)})
	return s
}

// NewWithStrategies builds a service over an explicit chain, mainly for
// tests that exercise one strategy in isolation.
func NewWithStrategies(strategies ...Strategy) *Service {
	return &Service{strategies: strategies}
}

// Fetch returns the output bytes and content type for a completed record,
// or models.ErrNotFound when no strategy can produce them.
func (s *Service) Fetch(ctx context.Context, rec models.JobRecord) ([]byte, string, error) {
	if rec.Status != models.StatusCompleted {
		return nil, "", models.ErrNotFound
	}
	for _, strat := range s.strategies {
		data, contentType, err := strat.Fetch(ctx, rec)
		if err == nil {
			return data, contentType, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			log.Printf("retrieval strategy %s for job %s: %v", strat.Name, rec.ID, err)
		}
	}
	return nil, "", models.ErrNotFound
}

func objectStorageFetch(objects assetstore.Store) func(context.Context, models.JobRecord) ([]byte, string, error) {
	return func(ctx context.Context, rec models.JobRecord) ([]byte, string, error) {
		if objects == nil || rec.OutputLocator == nil || rec.OutputLocator.Kind != models.LocatorObject {
			return nil, "", models.ErrNotFound
		}
		return objects.Get(ctx, *rec.OutputLocator)
	}
}

func inlineFetch(inline InlineSource) func(context.Context, models.JobRecord) ([]byte, string, error) {
	return func(ctx context.Context, rec models.JobRecord) ([]byte, string, error) {
		if inline == nil {
			return nil, "", models.ErrNotFound
		}
		data, err := inline.OutputData(ctx, rec.ID)
		if err != nil {
			return nil, "", err
		}
		return data, models.ContentTypeForFormat(rec.OutputFormat), nil
	}
}

func legacyFileFetch(legacy *assetstore.LocalStore) func(context.Context, models.JobRecord) ([]byte, string, error) {
	return func(ctx context.Context, rec models.JobRecord) ([]byte, string, error) {
		if legacy == nil || rec.Output == nil || rec.Output.Filename == "" {
			return nil, "", models.ErrNotFound
		}
		path := rec.Output.Filename
		if rec.OutputLocator != nil && rec.OutputLocator.Kind == models.LocatorFile && rec.OutputLocator.Path != "" {
			return legacy.Get(ctx, *rec.OutputLocator)
		}
		return legacy.Get(ctx, models.Locator{Kind: models.LocatorFile, Path: legacy.Resolve(path)})
	}
}
