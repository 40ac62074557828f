package retrieval

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"voice-transform-service/internal/assetstore"
	"voice-transform-service/internal/models"
)

type fakeObjectStore struct {
	data map[string][]byte
	// failing simulates an object storage outage.
	failing bool
}

func (f *fakeObjectStore) Put(_ context.Context, key string, data []byte, _ string) (models.Locator, error) {
	if f.data == nil {
		f.data = map[string][]byte{}
	}
	f.data[key] = data
	return models.Locator{Kind: models.LocatorObject, Path: key}, nil
}

func (f *fakeObjectStore) Get(_ context.Context, loc models.Locator) ([]byte, string, error) {
	if f.failing {
		return nil, "", errors.New("connection refused")
	}
	data, ok := f.data[loc.Path]
	if !ok {
		return nil, "", models.ErrNotFound
	}
	return data, "audio/wav", nil
}

func (f *fakeObjectStore) Delete(_ context.Context, loc models.Locator) error {
	delete(f.data, loc.Path)
	return nil
}

type fakeInline map[string][]byte

func (f fakeInline) OutputData(_ context.Context, id string) ([]byte, error) {
	data, ok := f[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return data, nil
}

func completedRecord(id string) models.JobRecord {
	return models.JobRecord{
		ID:           id,
		Status:       models.StatusCompleted,
		OutputFormat: models.FormatWAV,
		Output:       &models.AudioInfo{Filename: "transformed_" + id + ".wav"},
	}
}

func TestFetchPrefersObjectStorage(t *testing.T) {
	ctx := context.Background()
	objects := &fakeObjectStore{data: map[string][]byte{"conversions/a.wav": []byte("object bytes")}}
	inline := fakeInline{"job-1": []byte("inline bytes")}

	rec := completedRecord("job-1")
	rec.OutputLocator = &models.Locator{Kind: models.LocatorObject, Path: "conversions/a.wav"}

	svc := New(objects, inline, nil)
	data, _, err := svc.Fetch(ctx, rec)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(data, []byte("object bytes")) {
		t.Fatalf("expected object storage to win, got %q", data)
	}
}

func TestFetchFallsBackOnObjectStorageOutage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	legacy := assetstore.NewLocal(dir)

	rec := completedRecord("job-2")
	rec.OutputLocator = &models.Locator{Kind: models.LocatorObject, Path: "conversions/gone.wav"}

	if _, err := legacy.Put(ctx, rec.Output.Filename, []byte("legacy bytes"), "audio/wav"); err != nil {
		t.Fatalf("seed legacy file: %v", err)
	}

	svc := New(&fakeObjectStore{failing: true}, fakeInline{}, legacy)
	data, _, err := svc.Fetch(ctx, rec)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(data, []byte("legacy bytes")) {
		t.Fatalf("expected legacy fallback bytes, got %q", data)
	}
}

func TestFetchUsesInlinePayload(t *testing.T) {
	ctx := context.Background()
	rec := completedRecord("job-3")
	rec.OutputLocator = &models.Locator{Kind: models.LocatorInline}

	svc := New(nil, fakeInline{"job-3": []byte("inline bytes")}, nil)
	data, contentType, err := svc.Fetch(ctx, rec)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(data, []byte("inline bytes")) {
		t.Fatalf("expected inline bytes, got %q", data)
	}
	if contentType != "audio/wav" {
		t.Fatalf("expected audio/wav, got %q", contentType)
	}
}

func TestFetchMissesEverywhere(t *testing.T) {
	rec := completedRecord("job-4")
	svc := New(&fakeObjectStore{}, fakeInline{}, nil)
	if _, _, err := svc.Fetch(context.Background(), rec); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFetchRefusesNonCompletedRecords(t *testing.T) {
	rec := completedRecord("job-5")
	rec.Status = models.StatusFailed
	svc := New(nil, fakeInline{"job-5": []byte("x")}, nil)
	if _, _, err := svc.Fetch(context.Background(), rec); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for failed record, got %v", err)
	}
}
