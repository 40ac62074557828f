package assetstore

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"voice-transform-service/internal/models"
)

func TestLocalPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewLocal(t.TempDir())

	payload := []byte("RIFF....WAVEfmt fake audio payload")
	loc, err := st.Put(ctx, "conversions/transformed_abc.wav", payload, "audio/wav")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if loc.Kind != models.LocatorFile || loc.Path == "" {
		t.Fatalf("unexpected locator: %+v", loc)
	}

	data, contentType, err := st.Get(ctx, loc)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("round-tripped bytes differ")
	}
	if !strings.HasPrefix(contentType, "audio/") {
		t.Fatalf("expected audio content type, got %q", contentType)
	}
}

func TestLocalGetMissingIsNotFound(t *testing.T) {
	st := NewLocal(t.TempDir())
	_, _, err := st.Get(context.Background(), models.Locator{Kind: models.LocatorFile, Path: st.Resolve("nope.wav")})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLocalDeleteIsBestEffort(t *testing.T) {
	ctx := context.Background()
	st := NewLocal(t.TempDir())

	loc, err := st.Put(ctx, "a.wav", []byte("x"), "audio/wav")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Delete(ctx, loc); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting again must not report an error.
	if err := st.Delete(ctx, loc); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	st := NewLocal(dir)

	path := st.Resolve("../../etc/passwd")
	if !strings.HasPrefix(path, filepath.Clean(dir)) {
		t.Fatalf("resolved path escapes base dir: %s", path)
	}
}
