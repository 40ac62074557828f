// Package invoker is the seam between the job pipeline and the external
// transformation model. The pipeline treats it as an opaque call invoked at
// most once per job attempt; any failure is routed into the record via the
// lifecycle manager, never retried here.
package invoker

import (
	"context"
	"errors"
	"fmt"

	"voice-transform-service/internal/models"
)

// Typed invocation failures. Anything else coming out of an implementation
// is treated as a processing error.
var (
	ErrModelUnavailable = errors.New("model service unavailable")
	ErrTimeout          = errors.New("model invocation timed out")
)

// Request carries the validated inputs for one transformation.
type Request struct {
	Kind string
	// Input holds the primary audio payload; empty for text_to_speech,
	// where Text carries the content instead.
	Input     []byte
	Reference []byte
	Text      string
	Params    models.Params
	Device    string
	Format    string
	Quality   string
}

// Result is the transformed audio plus its measured duration.
type Result struct {
	Audio    []byte
	Duration float64
}

// Invoker performs one audio transformation.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
	// Healthy reports whether the model backend is reachable.
	Healthy(ctx context.Context) error
}

// ProcessingError wraps a model-side failure with the message recorded
// into the job record.
type ProcessingError struct {
	Message string
	Err     error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("processing failed: %s: %v", e.Message, e.Err)
	}
	return "processing failed: " + e.Message
}

func (e *ProcessingError) Unwrap() error { return e.Err }
