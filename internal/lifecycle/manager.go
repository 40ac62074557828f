// Package lifecycle owns the job record state machine. It is the only
// component that mutates a record after creation; every transition is a
// single durable write, so a Get immediately after a transition observes
// the new state.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voice-transform-service/internal/models"
)

// JobStore is the persistence surface the manager drives. Both the
// Postgres store and the in-memory store satisfy it; transition methods
// return models.ErrNotFound or models.ErrInvalidState on guard failures.
type JobStore interface {
	InsertJob(ctx context.Context, rec models.JobRecord) error
	GetJob(ctx context.Context, id string) (models.JobRecord, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, output models.AudioInfo, locator models.Locator, data []byte, processingTime float64) error
	MarkFailed(ctx context.Context, id, message string, processingTime float64) error
	MarkCancelled(ctx context.Context, id string) error
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// Manager creates, transitions, and finalizes job records.
type Manager struct {
	store JobStore
}

// New constructs a manager over the given store.
func New(store JobStore) *Manager {
	return &Manager{store: store}
}

// CreateParams collects everything needed to mint a record.
type CreateParams struct {
	Kind          string
	Device        string
	Input         models.AudioInfo
	Reference     models.AudioInfo
	Text          string
	Params        models.Params
	OutputFormat  string
	OutputQuality string
	BatchID       string
	MaxTextLength int
}

// Create validates the request and persists a pending record with a fresh
// identifier. Nothing is persisted when validation fails.
func (m *Manager) Create(ctx context.Context, p CreateParams) (models.JobRecord, error) {
	if err := validate(p); err != nil {
		return models.JobRecord{}, err
	}

	rec := models.JobRecord{
		ID:            uuid.New().String(),
		Kind:          p.Kind,
		Status:        models.StatusPending,
		Device:        deviceOrDefault(p.Device),
		Input:         p.Input,
		Reference:     p.Reference,
		Text:          p.Text,
		Params:        p.Params,
		OutputFormat:  formatOrDefault(p.OutputFormat),
		OutputQuality: qualityOrDefault(p.OutputQuality),
		BatchID:       p.BatchID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.store.InsertJob(ctx, rec); err != nil {
		return models.JobRecord{}, fmt.Errorf("persist job record: %w", err)
	}
	_ = m.store.AppendAudit(ctx, rec.ID, "created", "kind="+rec.Kind)
	return rec, nil
}

// Begin transitions pending -> processing. The store performs the
// check-and-set, so exactly one of any number of concurrent Begin calls
// for the same identifier succeeds.
func (m *Manager) Begin(ctx context.Context, id string) error {
	if err := m.store.MarkProcessing(ctx, id); err != nil {
		return err
	}
	_ = m.store.AppendAudit(ctx, id, "begun", "")
	return nil
}

// Complete transitions processing -> completed, stamping output
// descriptors, the authoritative locator, and processing time.
func (m *Manager) Complete(ctx context.Context, id string, output models.AudioInfo, locator models.Locator, data []byte, processingTime float64) (models.JobRecord, error) {
	if err := m.store.MarkCompleted(ctx, id, output, locator, data, processingTime); err != nil {
		return models.JobRecord{}, err
	}
	_ = m.store.AppendAudit(ctx, id, "completed", fmt.Sprintf("locator=%s processing_time=%.2fs", locator.Kind, processingTime))
	return m.store.GetJob(ctx, id)
}

// Fail transitions any non-terminal record to failed with the given
// message. Pending records may fail directly for pre-invocation errors.
func (m *Manager) Fail(ctx context.Context, id, message string, processingTime float64) (models.JobRecord, error) {
	if err := m.store.MarkFailed(ctx, id, message, processingTime); err != nil {
		return models.JobRecord{}, err
	}
	_ = m.store.AppendAudit(ctx, id, "failed", message)
	return m.store.GetJob(ctx, id)
}

// Cancel marks a non-terminal record cancelled. An in-flight model call is
// not interrupted; a worker finishing a cancelled record observes
// ErrInvalidState from Complete/Fail and drops the result.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if err := m.store.MarkCancelled(ctx, id); err != nil {
		return err
	}
	_ = m.store.AppendAudit(ctx, id, "cancelled", "")
	return nil
}

// Get returns the current record snapshot.
func (m *Manager) Get(ctx context.Context, id string) (models.JobRecord, error) {
	return m.store.GetJob(ctx, id)
}

func validate(p CreateParams) error {
	if !models.ValidKind(p.Kind) {
		return &models.ValidationError{Field: "transformation_type", Reason: "unknown kind " + p.Kind}
	}
	if err := p.Params.Validate(); err != nil {
		return err
	}
	if p.OutputFormat != "" && !contains(models.Formats(), p.OutputFormat) {
		return &models.ValidationError{Field: "output_format", Reason: "must be one of wav, mp3, flac"}
	}
	if p.OutputQuality != "" && !contains(models.Qualities(), p.OutputQuality) {
		return &models.ValidationError{Field: "quality", Reason: "must be one of low, medium, high"}
	}
	if p.Device != "" && p.Device != "cpu" && p.Device != "cuda" {
		return &models.ValidationError{Field: "device", Reason: "must be cpu or cuda"}
	}
	if p.Reference.Filename == "" {
		return &models.ValidationError{Field: "reference_audio", Reason: "reference audio is required"}
	}
	if p.Kind == models.KindTextToSpeech {
		if p.Text == "" {
			return &models.ValidationError{Field: "text", Reason: "text is required for text_to_speech"}
		}
		maxLen := p.MaxTextLength
		if maxLen == 0 {
			maxLen = 5000
		}
		if len(p.Text) > maxLen {
			return &models.ValidationError{Field: "text", Reason: fmt.Sprintf("must be at most %d characters", maxLen)}
		}
	} else if p.Input.Filename == "" {
		return &models.ValidationError{Field: "input_audio", Reason: "input audio is required"}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func deviceOrDefault(device string) string {
	if device == "" {
		return "cpu"
	}
	return device
}

func formatOrDefault(format string) string {
	if format == "" {
		return models.FormatWAV
	}
	return format
}

func qualityOrDefault(quality string) string {
	if quality == "" {
		return models.QualityHigh
	}
	return quality
}
