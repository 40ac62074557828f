package invoker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voice-transform-service/internal/models"
)

func testRequest() Request {
	return Request{
		Kind:      models.KindVoiceConversion,
		Input:     []byte("input"),
		Reference: []byte("reference"),
		Params:    models.DefaultParams(),
		Device:    "cpu",
		Format:    models.FormatWAV,
		Quality:   models.QualityHigh,
	}
}

func TestInvokeForwardsFormAndReadsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transform" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.FormValue("transformation_type"); got != models.KindVoiceConversion {
			t.Errorf("transformation_type = %q", got)
		}
		if got := r.FormValue("device"); got != "cpu" {
			t.Errorf("device = %q", got)
		}
		if _, _, err := r.FormFile("reference_audio"); err != nil {
			t.Errorf("reference_audio missing: %v", err)
		}
		w.Header().Set("X-Audio-Duration", "3.25")
		w.Write([]byte("transformed audio"))
	}))
	defer srv.Close()

	inv := NewHTTP(srv.URL, time.Minute)
	res, err := inv.Invoke(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(res.Audio) != "transformed audio" {
		t.Fatalf("wrong audio: %q", res.Audio)
	}
	if res.Duration != 3.25 {
		t.Fatalf("wrong duration: %v", res.Duration)
	}
}

func TestInvokeMapsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inv := NewHTTP(srv.URL, time.Minute)
	_, err := inv.Invoke(context.Background(), testRequest())
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestInvokeWrapsModelErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad input audio", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	inv := NewHTTP(srv.URL, time.Minute)
	_, err := inv.Invoke(context.Background(), testRequest())
	var perr *ProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProcessingError, got %v", err)
	}
	if perr.Message == "" {
		t.Fatal("processing error should carry the model's message")
	}
}

func TestInvokeRejectsEmptyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	inv := NewHTTP(srv.URL, time.Minute)
	_, err := inv.Invoke(context.Background(), testRequest())
	var perr *ProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProcessingError for empty body, got %v", err)
	}
}

func TestInvokeTimesOut(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	inv := NewHTTP(srv.URL, 50*time.Millisecond)
	_, err := inv.Invoke(context.Background(), testRequest())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewHTTP(srv.URL, time.Minute).Healthy(context.Background()); err != nil {
		t.Fatalf("healthy: %v", err)
	}

	if err := NewHTTP("http://127.0.0.1:1", time.Second).Healthy(context.Background()); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable for unreachable service, got %v", err)
	}
}
