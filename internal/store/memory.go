package store

import (
	"context"
	"sync"
	"time"

	"voice-transform-service/internal/models"
)

// Memory is an in-process implementation of the job store, used by tests
// and by single-node dev deployments without Postgres. Transition guards
// are identical to the SQL ones: a status check-and-set under one lock.
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]*models.JobRecord
	batches map[string]*models.Batch
	audits  map[string][]string
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]*models.JobRecord),
		batches: make(map[string]*models.Batch),
		audits:  make(map[string][]string),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) InsertJob(_ context.Context, rec models.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := rec
	m.jobs[rec.ID] = &clone
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (models.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return models.JobRecord{}, models.ErrNotFound
	}
	return snapshot(rec), nil
}

func (m *Memory) GetJobByOutputFilename(_ context.Context, filename string) (models.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.jobs {
		if rec.Output != nil && rec.Output.Filename == filename {
			return snapshot(rec), nil
		}
	}
	return models.JobRecord{}, models.ErrNotFound
}

func (m *Memory) OutputData(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok || len(rec.OutputData) == 0 {
		return nil, models.ErrNotFound
	}
	out := make([]byte, len(rec.OutputData))
	copy(out, rec.OutputData)
	return out, nil
}

func (m *Memory) MarkProcessing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	if rec.Status != models.StatusPending {
		return models.ErrInvalidState
	}
	rec.Status = models.StatusProcessing
	return nil
}

func (m *Memory) MarkCompleted(_ context.Context, id string, output models.AudioInfo, locator models.Locator, data []byte, processingTime float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	if rec.Status != models.StatusProcessing {
		return models.ErrInvalidState
	}
	now := time.Now().UTC()
	rec.Status = models.StatusCompleted
	rec.Output = &output
	rec.OutputLocator = &locator
	rec.OutputData = data
	rec.CompletedAt = &now
	rec.ProcessingTime = processingTime
	rec.ErrorMessage = nil
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id, message string, processingTime float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	if models.IsTerminal(rec.Status) {
		return models.ErrInvalidState
	}
	now := time.Now().UTC()
	rec.Status = models.StatusFailed
	rec.CompletedAt = &now
	rec.ProcessingTime = processingTime
	rec.ErrorMessage = &message
	return nil
}

func (m *Memory) MarkCancelled(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	if models.IsTerminal(rec.Status) {
		return models.ErrInvalidState
	}
	now := time.Now().UTC()
	rec.Status = models.StatusCancelled
	rec.CompletedAt = &now
	return nil
}

func (m *Memory) InsertBatch(_ context.Context, b models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := b
	m.batches[b.ID] = &clone
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id string) (models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return models.Batch{}, models.ErrNotFound
	}
	return *b, nil
}

func (m *Memory) BumpBatchProgress(_ context.Context, id string, failed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return models.ErrNotFound
	}
	b.Processed++
	if failed {
		b.Failed++
	}
	switch {
	case b.Processed >= b.Total && b.Failed > 0:
		b.Status = models.StatusFailed
	case b.Processed >= b.Total:
		b.Status = models.StatusCompleted
	default:
		b.Status = models.StatusProcessing
	}
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, jobID, event, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits[jobID] = append(m.audits[jobID], event)
	return nil
}

// snapshot copies a record so callers never alias store-owned memory.
func snapshot(rec *models.JobRecord) models.JobRecord {
	out := *rec
	if rec.Output != nil {
		o := *rec.Output
		out.Output = &o
	}
	if rec.OutputLocator != nil {
		l := *rec.OutputLocator
		out.OutputLocator = &l
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		out.CompletedAt = &t
	}
	if rec.ErrorMessage != nil {
		e := *rec.ErrorMessage
		out.ErrorMessage = &e
	}
	out.OutputData = nil
	return out
}
