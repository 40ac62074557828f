package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"voice-transform-service/internal/assetstore"
	"voice-transform-service/internal/invoker"
	"voice-transform-service/internal/lifecycle"
	"voice-transform-service/internal/models"
	"voice-transform-service/internal/telemetry"
)

// Pipeline drives one job record through its lifecycle: begin, invoke the
// model, persist the output, complete. Every failure after creation lands
// in the record via Fail; the caller gets a terminal snapshot either way.
type Pipeline struct {
	lifecycle *lifecycle.Manager
	invoker   invoker.Invoker
	// objects is the preferred output backend; nil when no bucket is
	// configured. local is the fallback write path and the legacy read
	// path. When both are nil the output is stored inline on the record.
	objects assetstore.Store
	local   *assetstore.LocalStore
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(lc *lifecycle.Manager, inv invoker.Invoker, objects assetstore.Store, local *assetstore.LocalStore) *Pipeline {
	return &Pipeline{lifecycle: lc, invoker: inv, objects: objects, local: local}
}

// Run processes a pending record whose payloads are already in hand.
// It returns the terminal snapshot. An error is returned only for
// bookkeeping problems (unknown id, record not pending, store down) —
// model and storage failures are captured into the record instead.
func (p *Pipeline) Run(ctx context.Context, rec models.JobRecord, input, reference []byte) (models.JobRecord, error) {
	if err := p.lifecycle.Begin(ctx, rec.ID); err != nil {
		return models.JobRecord{}, err
	}
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	start := time.Now()
	result, err := p.invoker.Invoke(ctx, invoker.Request{
		Kind:      rec.Kind,
		Input:     input,
		Reference: reference,
		Text:      rec.Text,
		Params:    rec.Params,
		Device:    rec.Device,
		Format:    rec.OutputFormat,
		Quality:   rec.OutputQuality,
	})
	elapsed := time.Since(start).Seconds()
	telemetry.ProcessingSeconds.Observe(elapsed)

	if err != nil {
		return p.fail(ctx, rec.ID, invocationMessage(err), elapsed)
	}

	filename := fmt.Sprintf("transformed_%s.%s", rec.ID, rec.OutputFormat)
	contentType := models.ContentTypeForFormat(rec.OutputFormat)
	locator, inlineData := p.persistOutput(ctx, "conversions/"+filename, result.Audio, contentType)

	output := models.AudioInfo{
		Filename: filename,
		Size:     int64(len(result.Audio)),
		Duration: result.Duration,
	}
	final, err := p.lifecycle.Complete(ctx, rec.ID, output, locator, inlineData, elapsed)
	if err != nil {
		if errors.Is(err, models.ErrInvalidState) {
			// Cancelled while the model was running; drop the result.
			p.discard(ctx, locator)
			return p.lifecycle.Get(ctx, rec.ID)
		}
		return models.JobRecord{}, err
	}
	telemetry.ConversionSuccess.Inc()
	return final, nil
}

// persistOutput writes the audio through the backend chain: object storage,
// then the local directory, then inline on the record itself. The returned
// data is non-nil only for the inline case.
func (p *Pipeline) persistOutput(ctx context.Context, key string, audio []byte, contentType string) (models.Locator, []byte) {
	if p.objects != nil {
		loc, err := p.objects.Put(ctx, key, audio, contentType)
		if err == nil {
			return loc, nil
		}
		telemetry.StorageFallbacks.Inc()
		log.Printf("object storage put %s failed, falling back: %v", key, err)
	}
	if p.local != nil {
		loc, err := p.local.Put(ctx, key, audio, contentType)
		if err == nil {
			return loc, nil
		}
		telemetry.StorageFallbacks.Inc()
		log.Printf("local storage put %s failed, storing inline: %v", key, err)
	}
	return models.Locator{Kind: models.LocatorInline}, audio
}

func (p *Pipeline) fail(ctx context.Context, id, message string, elapsed float64) (models.JobRecord, error) {
	final, err := p.lifecycle.Fail(ctx, id, message, elapsed)
	if err != nil {
		if errors.Is(err, models.ErrInvalidState) {
			return p.lifecycle.Get(ctx, id)
		}
		return models.JobRecord{}, err
	}
	telemetry.ConversionFailures.Inc()
	return final, nil
}

// discard best-effort removes output that lost the race with cancellation.
func (p *Pipeline) discard(ctx context.Context, loc models.Locator) {
	var err error
	switch loc.Kind {
	case models.LocatorObject:
		if p.objects != nil {
			err = p.objects.Delete(ctx, loc)
		}
	case models.LocatorFile:
		if p.local != nil {
			err = p.local.Delete(ctx, loc)
		}
	}
	if err != nil {
		log.Printf("discard output %s: %v", loc.Path, err)
	}
}

func invocationMessage(err error) string {
	switch {
	case errors.Is(err, invoker.ErrTimeout):
		return "model invocation timed out"
	case errors.Is(err, invoker.ErrModelUnavailable):
		return "model service unavailable"
	default:
		return err.Error()
	}
}
