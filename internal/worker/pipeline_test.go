package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-transform-service/internal/assetstore"
	"voice-transform-service/internal/invoker"
	"voice-transform-service/internal/lifecycle"
	"voice-transform-service/internal/models"
	"voice-transform-service/internal/store"
)

type fakeInvoker struct {
	err   error
	audio []byte
	delay time.Duration
	calls int
}

func (f *fakeInvoker) Invoke(_ context.Context, _ invoker.Request) (invoker.Result, error) {
	f.calls++
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return invoker.Result{}, f.err
	}
	return invoker.Result{Audio: f.audio, Duration: 2.5}, nil
}

func (f *fakeInvoker) Healthy(context.Context) error { return nil }

type failingObjectStore struct{}

func (failingObjectStore) Put(context.Context, string, []byte, string) (models.Locator, error) {
	return models.Locator{}, &models.StorageError{Backend: "s3", Err: errors.New("connection refused")}
}

func (failingObjectStore) Get(context.Context, models.Locator) ([]byte, string, error) {
	return nil, "", models.ErrNotFound
}

func (failingObjectStore) Delete(context.Context, models.Locator) error { return nil }

func newPendingRecord(t *testing.T, lc *lifecycle.Manager) models.JobRecord {
	t.Helper()
	rec, err := lc.Create(context.Background(), lifecycle.CreateParams{
		Kind:      models.KindVoiceConversion,
		Input:     models.AudioInfo{Filename: "in.wav", Size: 4, Duration: 1.0},
		Reference: models.AudioInfo{Filename: "ref.wav", Size: 4, Duration: 1.0},
		Params:    models.DefaultParams(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec
}

func TestPipelineCompletesSuccessfulConversion(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	lc := lifecycle.New(st)
	inv := &fakeInvoker{audio: []byte("converted audio"), delay: 5 * time.Millisecond}
	p := NewPipeline(lc, inv, nil, assetstore.NewLocal(t.TempDir()))

	rec := newPendingRecord(t, lc)
	final, err := p.Run(ctx, rec, []byte("in"), []byte("ref"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if final.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.Output == nil || final.Output.Size != int64(len("converted audio")) || final.Output.Duration != 2.5 {
		t.Fatalf("bad output descriptors: %+v", final.Output)
	}
	if final.OutputLocator == nil || final.OutputLocator.Kind != models.LocatorFile {
		t.Fatalf("expected file locator, got %+v", final.OutputLocator)
	}
	if final.ProcessingTime <= 0 {
		t.Fatalf("processing time should be positive, got %v", final.ProcessingTime)
	}
	if inv.calls != 1 {
		t.Fatalf("invoker should be called exactly once, got %d", inv.calls)
	}
}

func TestPipelineRecordsInvocationFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	lc := lifecycle.New(st)
	inv := &fakeInvoker{err: &invoker.ProcessingError{Message: "model exploded"}}
	p := NewPipeline(lc, inv, nil, assetstore.NewLocal(t.TempDir()))

	rec := newPendingRecord(t, lc)
	final, err := p.Run(ctx, rec, []byte("in"), []byte("ref"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.ErrorMessage == nil || *final.ErrorMessage == "" {
		t.Fatal("error message must be recorded")
	}
	if final.Output != nil || final.OutputLocator != nil {
		t.Fatal("failed record must not carry output descriptors")
	}
}

func TestPipelineFallsBackWhenObjectStorageDown(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	lc := lifecycle.New(st)
	inv := &fakeInvoker{audio: []byte("audio")}
	p := NewPipeline(lc, inv, failingObjectStore{}, assetstore.NewLocal(t.TempDir()))

	rec := newPendingRecord(t, lc)
	final, err := p.Run(ctx, rec, []byte("in"), []byte("ref"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.Status != models.StatusCompleted {
		t.Fatalf("expected completed via fallback, got %s", final.Status)
	}
	if final.OutputLocator.Kind != models.LocatorFile {
		t.Fatalf("expected local file locator after fallback, got %s", final.OutputLocator.Kind)
	}
}

func TestPipelineStoresInlineWithoutBackends(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	lc := lifecycle.New(st)
	inv := &fakeInvoker{audio: []byte("inline audio")}
	p := NewPipeline(lc, inv, nil, nil)

	rec := newPendingRecord(t, lc)
	final, err := p.Run(ctx, rec, []byte("in"), []byte("ref"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.OutputLocator.Kind != models.LocatorInline {
		t.Fatalf("expected inline locator, got %s", final.OutputLocator.Kind)
	}
	data, err := st.OutputData(ctx, rec.ID)
	if err != nil {
		t.Fatalf("output data: %v", err)
	}
	if string(data) != "inline audio" {
		t.Fatalf("inline payload mismatch: %q", data)
	}
}

func TestPipelineRefusesSecondRun(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	lc := lifecycle.New(st)
	inv := &fakeInvoker{audio: []byte("audio")}
	p := NewPipeline(lc, inv, nil, nil)

	rec := newPendingRecord(t, lc)
	if _, err := p.Run(ctx, rec, []byte("in"), []byte("ref")); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := p.Run(ctx, rec, []byte("in"), []byte("ref")); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("second run should be rejected by begin, got %v", err)
	}
	if inv.calls != 1 {
		t.Fatalf("model must be invoked at most once, got %d calls", inv.calls)
	}
}
