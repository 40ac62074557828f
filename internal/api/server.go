package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"voice-transform-service/internal/config"
	"voice-transform-service/internal/invoker"
	"voice-transform-service/internal/lifecycle"
	"voice-transform-service/internal/models"
	"voice-transform-service/internal/queue"
	"voice-transform-service/internal/ratelimit"
	"voice-transform-service/internal/retrieval"
	"voice-transform-service/internal/telemetry"
	"voice-transform-service/internal/worker"
)

// Store is the persistence surface the handlers need beyond the lifecycle
// manager's own operations.
type Store interface {
	GetJobByOutputFilename(ctx context.Context, filename string) (models.JobRecord, error)
	InsertBatch(ctx context.Context, b models.Batch) error
	GetBatch(ctx context.Context, id string) (models.Batch, error)
	Ping(ctx context.Context) error
}

// Server wires the HTTP handlers for the transformation API.
type Server struct {
	cfg       config.Config
	store     Store
	lifecycle *lifecycle.Manager
	pipeline  *worker.Pipeline
	retrieval *retrieval.Service
	queue     *queue.BatchQueue
	limiter   *ratelimit.TokenBucket
	invoker   invoker.Invoker
}

// New constructs the API server. queue and limiter may be nil when Redis is
// not configured; the batch endpoints then report unavailability.
func New(cfg config.Config, st Store, lc *lifecycle.Manager, pl *worker.Pipeline, rt *retrieval.Service, q *queue.BatchQueue, limiter *ratelimit.TokenBucket, inv invoker.Invoker) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		lifecycle: lc,
		pipeline:  pl,
		retrieval: rt,
		queue:     q,
		limiter:   limiter,
		invoker:   inv,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/transform", s.handleTransform)
	r.Post("/batch", s.handleBatchSubmit)
	r.Get("/batch/{id}", s.handleBatchStatus)
	r.Post("/cancel/{id}", s.handleCancel)
	r.Get("/status/{id}", s.handleStatus)
	r.Get("/play/{id}", s.handlePlay)
	r.Get("/download/{filename}", s.handleDownload)
	r.Get("/transformation-types", s.handleTransformationTypes)
	return r
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	req, err := parseTransformRequest(r, s.cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := s.lifecycle.Create(r.Context(), req.createParams(s.cfg))
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.SubmissionCounter.Inc()

	// The model call blocks this handler for its duration; large
	// deployments move it behind the batch queue instead.
	final, err := s.pipeline.Run(r.Context(), rec, req.input, req.reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, final)
}

func (s *Server) handleBatchSubmit(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "batch processing is not configured"})
		return
	}
	if !s.allow(w, r) {
		return
	}

	reqs, err := parseBatchRequest(r, s.cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	batch := models.Batch{
		ID:        uuid.New().String(),
		Status:    models.StatusPending,
		Total:     len(reqs),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertBatch(r.Context(), batch); err != nil {
		writeError(w, fmt.Errorf("persist batch: %w", err))
		return
	}

	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		params := req.createParams(s.cfg)
		params.BatchID = batch.ID
		rec, err := s.lifecycle.Create(r.Context(), params)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.pipeline.StashUploads(r.Context(), rec.ID, req.input, req.reference); err != nil {
			writeError(w, err)
			return
		}
		if err := s.queue.Enqueue(r.Context(), rec.ID); err != nil {
			msg := "enqueue failed: " + err.Error()
			if _, failErr := s.lifecycle.Fail(r.Context(), rec.ID, msg, 0); failErr != nil {
				log.Printf("record enqueue failure for %s: %v", rec.ID, failErr)
			}
			writeError(w, fmt.Errorf("enqueue batch item: %w", err))
			return
		}
		telemetry.SubmissionCounter.Inc()
		ids = append(ids, rec.ID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch":   batch,
		"job_ids": ids,
	})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, err := s.store.GetBatch(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.lifecycle.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if s.queue != nil {
		if err := s.queue.Remove(r.Context(), id); err != nil {
			log.Printf("remove cancelled item %s from queue: %v", id, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": models.StatusCancelled})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.lifecycle.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.lifecycle.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	data, contentType, err := s.retrieval.Fetch(r.Context(), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	filename := ""
	if rec.Output != nil {
		filename = rec.Output.Filename
	}
	streamAudio(w, data, contentType, filename, "inline")
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	rec, err := s.store.GetJobByOutputFilename(r.Context(), filename)
	if err != nil {
		writeError(w, err)
		return
	}
	data, contentType, err := s.retrieval.Fetch(r.Context(), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	streamAudio(w, data, contentType, filename, "attachment")
}

func (s *Server) handleTransformationTypes(w http.ResponseWriter, _ *http.Request) {
	type kindInfo struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	kinds := make([]kindInfo, 0, len(models.Kinds()))
	names := map[string]string{
		models.KindVoiceConversion: "Voice Conversion",
		models.KindAccentChange:    "Accent Change",
		models.KindGenderSwap:      "Gender Swap",
		models.KindAgeChange:       "Age Change",
		models.KindEmotionChange:   "Emotion Change",
		models.KindTextToSpeech:    "Text to Speech",
	}
	for _, k := range models.Kinds() {
		kinds = append(kinds, kindInfo{ID: k, Name: names[k]})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transformation_types": kinds,
		"supported_formats":    models.Formats(),
		"quality_levels":       models.Qualities(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]bool{
		"database": s.store.Ping(ctx) == nil,
	}
	if s.queue != nil {
		checks["redis"] = s.queue.Ping(ctx) == nil
	}
	if s.invoker != nil {
		checks["model"] = s.invoker.Healthy(ctx) == nil
	}

	status := "healthy"
	for _, ok := range checks {
		if !ok {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// allow runs the rate limiter when configured; it writes the 429 itself.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	key := "rl:" + clientKey(r)
	allowed, retryAfter, err := s.limiter.Allow(r.Context(), key)
	if err != nil {
		log.Printf("rate limiter: %v", err)
		return true
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
		return false
	}
	return true
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return r.RemoteAddr
}

func streamAudio(w http.ResponseWriter, data []byte, contentType, filename, disposition string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Accept-Ranges", "bytes")
	if filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, filename))
	}
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the error taxonomy onto HTTP codes: validation 400,
// unknown id 404, wrong-state 409, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error()})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, models.ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job is not in a state that permits this operation"})
	default:
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
