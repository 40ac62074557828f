package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"time"
)

// HTTPInvoker calls a standalone model service over HTTP. The service
// accepts a multipart POST at /transform and returns the transformed audio
// bytes with the measured duration in a response header.
type HTTPInvoker struct {
	baseURL string
	client  *http.Client
}

// NewHTTP builds an invoker for the model service at baseURL.
func NewHTTP(baseURL string, timeout time.Duration) *HTTPInvoker {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &HTTPInvoker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	if len(req.Input) > 0 {
		part, err := w.CreateFormFile("input_audio", "input.wav")
		if err != nil {
			return Result{}, fmt.Errorf("build form: %w", err)
		}
		if _, err := part.Write(req.Input); err != nil {
			return Result{}, fmt.Errorf("write input part: %w", err)
		}
	}
	part, err := w.CreateFormFile("reference_audio", "reference.wav")
	if err != nil {
		return Result{}, fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(req.Reference); err != nil {
		return Result{}, fmt.Errorf("write reference part: %w", err)
	}

	paramsJSON, err := json.Marshal(req.Params)
	if err != nil {
		return Result{}, fmt.Errorf("marshal params: %w", err)
	}
	fields := map[string]string{
		"transformation_type": req.Kind,
		"device":              req.Device,
		"output_format":       req.Format,
		"quality":             req.Quality,
		"params":              string(paramsJSON),
	}
	if req.Text != "" {
		fields["text"] = req.Text
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return Result{}, fmt.Errorf("write field %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/transform", body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Result{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return Result{}, ErrModelUnavailable
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, &ProcessingError{Message: fmt.Sprintf("model returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &ProcessingError{Message: "read model response", Err: err}
	}
	if len(audio) == 0 {
		return Result{}, &ProcessingError{Message: "model produced no output"}
	}

	duration, _ := strconv.ParseFloat(resp.Header.Get("X-Audio-Duration"), 64)
	return Result{Audio: audio, Duration: duration}, nil
}

func (h *HTTPInvoker) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return ErrModelUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrModelUnavailable, resp.StatusCode)
	}
	return nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
}
