package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"voice-transform-service/internal/config"
	"voice-transform-service/internal/models"
	"voice-transform-service/internal/queue"
	"voice-transform-service/internal/telemetry"
)

// BatchStore is the slice of persistence the processor needs beyond what
// the pipeline already drives through the lifecycle manager.
type BatchStore interface {
	GetJob(ctx context.Context, id string) (models.JobRecord, error)
	BumpBatchProgress(ctx context.Context, batchID string, failed bool) error
}

// Processor consumes batch items from the queue and runs each through the
// pipeline. One item is processed at a time per worker process; the model
// call is the bottleneck, so parallelism comes from running more workers.
type Processor struct {
	cfg      config.Config
	queue    *queue.BatchQueue
	store    BatchStore
	pipeline *Pipeline
}

// NewProcessor wires a batch processor.
func NewProcessor(cfg config.Config, q *queue.BatchQueue, st BatchStore, pl *Pipeline) *Processor {
	return &Processor{cfg: cfg, queue: q, store: st, pipeline: pl}
}

// Run drives the consume loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			log.Printf("requeued %d expired batch items", len(reclaimed))
		}
		if depth, err := p.queue.Depth(ctx); err == nil {
			telemetry.BatchQueueDepth.Set(float64(depth))
		}

		jobID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || jobID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		p.processItem(ctx, jobID)
	}
}

func (p *Processor) processItem(ctx context.Context, jobID string) {
	rec, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		log.Printf("batch item %s: %v", jobID, err)
		_ = p.queue.Ack(ctx, jobID)
		return
	}
	if rec.Status != models.StatusPending {
		// Cancelled, or a previous worker already finished it before
		// its lease was reclaimed.
		_ = p.queue.Ack(ctx, jobID)
		return
	}

	input, reference, err := p.pipeline.loadUploads(ctx, rec)
	if err != nil {
		final, failErr := p.pipeline.fail(ctx, rec.ID, err.Error(), 0)
		if failErr != nil {
			log.Printf("batch item %s: record payload failure: %v", jobID, failErr)
		} else {
			p.finishItem(ctx, final)
		}
		_ = p.queue.Ack(ctx, jobID)
		return
	}

	final, err := p.pipeline.Run(ctx, rec, input, reference)
	if err != nil {
		if errors.Is(err, models.ErrInvalidState) {
			_ = p.queue.Ack(ctx, jobID)
			return
		}
		// Store-level trouble: leave the item leased so it is retried
		// after the visibility timeout.
		log.Printf("batch item %s: %v", jobID, err)
		return
	}

	p.finishItem(ctx, final)
	_ = p.queue.Ack(ctx, jobID)
}

func (p *Processor) finishItem(ctx context.Context, rec models.JobRecord) {
	if rec.BatchID != "" {
		if err := p.store.BumpBatchProgress(ctx, rec.BatchID, rec.Status == models.StatusFailed); err != nil {
			log.Printf("bump batch %s progress: %v", rec.BatchID, err)
		}
	}
	if err := p.pipeline.CleanupUploads(ctx, rec.ID); err != nil {
		log.Printf("cleanup uploads for %s: %v", rec.ID, err)
	}
}
