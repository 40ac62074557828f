package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"voice-transform-service/internal/config"
	"voice-transform-service/internal/lifecycle"
	"voice-transform-service/internal/models"
)

// transformRequest is the decoded submission, independent of whether it
// arrived as multipart form data or JSON with base64 payloads.
type transformRequest struct {
	kind          string
	device        string
	text          string
	outputFormat  string
	quality       string
	params        models.Params
	input         []byte
	inputInfo     models.AudioInfo
	reference     []byte
	referenceInfo models.AudioInfo
}

func (t *transformRequest) createParams(cfg config.Config) lifecycle.CreateParams {
	return lifecycle.CreateParams{
		Kind:          t.kind,
		Device:        defaultString(t.device, cfg.DefaultDevice),
		Input:         t.inputInfo,
		Reference:     t.referenceInfo,
		Text:          t.text,
		Params:        t.params,
		OutputFormat:  t.outputFormat,
		OutputQuality: t.quality,
		MaxTextLength: cfg.MaxTextLength,
	}
}

// transformJSONBody is the JSON submission shape; field names follow the
// public API's form-field names.
type transformJSONBody struct {
	TransformationType string   `json:"transformation_type"`
	InputAudio         string   `json:"input_audio"`
	InputFilename      string   `json:"input_filename"`
	InputDuration      float64  `json:"input_duration"`
	ReferenceAudio     string   `json:"reference_audio"`
	ReferenceFilename  string   `json:"reference_filename"`
	ReferenceDuration  float64  `json:"reference_duration"`
	Text               string   `json:"text"`
	Device             string   `json:"device"`
	OutputFormat       string   `json:"output_format"`
	Quality            string   `json:"quality"`
	PitchShift         *int     `json:"pitch_shift"`
	SpeedChange        *float64 `json:"speed_change"`
	VolumeAdjustment   *float64 `json:"volume_adjustment"`
	NoiseReduction     bool     `json:"noise_reduction"`
	EchoRemoval        bool     `json:"echo_removal"`
	VoiceEnhancement   bool     `json:"voice_enhancement"`
	Normalize          *bool    `json:"normalize"`
}

func parseTransformRequest(r *http.Request, cfg config.Config) (*transformRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return parseJSONRequest(r, cfg)
	}
	return parseFormRequest(r, cfg)
}

func parseJSONRequest(r *http.Request, cfg config.Config) (*transformRequest, error) {
	var body transformJSONBody
	if err := json.NewDecoder(io.LimitReader(r.Body, cfg.MaxUploadBytes*2)).Decode(&body); err != nil {
		return nil, &models.ValidationError{Field: "body", Reason: "invalid json"}
	}

	req := &transformRequest{
		kind:         defaultString(body.TransformationType, models.KindVoiceConversion),
		device:       body.Device,
		text:         body.Text,
		outputFormat: body.OutputFormat,
		quality:      body.Quality,
		params:       paramsFromOptions(body.PitchShift, body.SpeedChange, body.VolumeAdjustment, body.NoiseReduction, body.EchoRemoval, body.VoiceEnhancement, body.Normalize),
	}

	if body.InputAudio != "" {
		data, err := base64.StdEncoding.DecodeString(body.InputAudio)
		if err != nil {
			return nil, &models.ValidationError{Field: "input_audio", Reason: "invalid base64 audio data"}
		}
		if int64(len(data)) > cfg.MaxUploadBytes {
			return nil, &models.ValidationError{Field: "input_audio", Reason: "payload exceeds maximum upload size"}
		}
		req.input = data
		req.inputInfo = models.AudioInfo{
			Filename: defaultString(body.InputFilename, "input.wav"),
			Size:     int64(len(data)),
			Duration: body.InputDuration,
		}
	}
	if body.ReferenceAudio != "" {
		data, err := base64.StdEncoding.DecodeString(body.ReferenceAudio)
		if err != nil {
			return nil, &models.ValidationError{Field: "reference_audio", Reason: "invalid base64 audio data"}
		}
		if int64(len(data)) > cfg.MaxUploadBytes {
			return nil, &models.ValidationError{Field: "reference_audio", Reason: "payload exceeds maximum upload size"}
		}
		req.reference = data
		req.referenceInfo = models.AudioInfo{
			Filename: defaultString(body.ReferenceFilename, "reference.wav"),
			Size:     int64(len(data)),
			Duration: body.ReferenceDuration,
		}
	}
	return req, nil
}

func parseFormRequest(r *http.Request, cfg config.Config) (*transformRequest, error) {
	if err := r.ParseMultipartForm(cfg.MaxUploadBytes); err != nil {
		return nil, &models.ValidationError{Field: "body", Reason: "invalid multipart form"}
	}

	req := &transformRequest{
		kind:         defaultString(r.FormValue("transformation_type"), models.KindVoiceConversion),
		device:       r.FormValue("device"),
		text:         r.FormValue("text"),
		outputFormat: r.FormValue("output_format"),
		quality:      r.FormValue("quality"),
	}

	params, err := paramsFromForm(r)
	if err != nil {
		return nil, err
	}
	req.params = params

	input, inputInfo, err := readUpload(r, "input_audio", cfg.MaxUploadBytes)
	if err != nil {
		return nil, err
	}
	req.input = input
	req.inputInfo = inputInfo
	req.inputInfo.Duration = floatField(r, "input_duration")

	reference, referenceInfo, err := readUpload(r, "reference_audio", cfg.MaxUploadBytes)
	if err != nil {
		return nil, err
	}
	req.reference = reference
	req.referenceInfo = referenceInfo
	req.referenceInfo.Duration = floatField(r, "reference_duration")

	return req, nil
}

// parseBatchRequest decodes a multipart batch submission: one or more
// input files under input_files, a single shared reference_audio, and the
// same parameter fields as a single transform.
func parseBatchRequest(r *http.Request, cfg config.Config) ([]*transformRequest, error) {
	if err := r.ParseMultipartForm(cfg.MaxUploadBytes); err != nil {
		return nil, &models.ValidationError{Field: "body", Reason: "invalid multipart form"}
	}

	params, err := paramsFromForm(r)
	if err != nil {
		return nil, err
	}
	reference, referenceInfo, err := readUpload(r, "reference_audio", cfg.MaxUploadBytes)
	if err != nil {
		return nil, err
	}
	if len(reference) == 0 {
		return nil, &models.ValidationError{Field: "reference_audio", Reason: "reference audio is required"}
	}

	headers := r.MultipartForm.File["input_files"]
	if len(headers) == 0 {
		return nil, &models.ValidationError{Field: "input_files", Reason: "at least one input file is required"}
	}

	kind := defaultString(r.FormValue("transformation_type"), models.KindVoiceConversion)
	reqs := make([]*transformRequest, 0, len(headers))
	for _, h := range headers {
		data, info, err := readUploadHeader(h, cfg.MaxUploadBytes)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, &transformRequest{
			kind:          kind,
			device:        r.FormValue("device"),
			outputFormat:  r.FormValue("output_format"),
			quality:       r.FormValue("quality"),
			params:        params,
			input:         data,
			inputInfo:     info,
			reference:     reference,
			referenceInfo: referenceInfo,
		})
	}
	return reqs, nil
}

func readUpload(r *http.Request, field string, maxBytes int64) ([]byte, models.AudioInfo, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		// Absent files are legal here; the lifecycle validator decides
		// which inputs the kind requires.
		return nil, models.AudioInfo{}, nil
	}
	defer file.Close()
	return readUploadFile(file, header, maxBytes)
}

func readUploadHeader(header *multipart.FileHeader, maxBytes int64) ([]byte, models.AudioInfo, error) {
	file, err := header.Open()
	if err != nil {
		return nil, models.AudioInfo{}, &models.ValidationError{Field: header.Filename, Reason: "unreadable upload"}
	}
	defer file.Close()
	return readUploadFile(file, header, maxBytes)
}

func readUploadFile(file multipart.File, header *multipart.FileHeader, maxBytes int64) ([]byte, models.AudioInfo, error) {
	if ct := header.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "audio/") && ct != "application/octet-stream" {
		return nil, models.AudioInfo{}, &models.ValidationError{Field: header.Filename, Reason: "must be an audio file"}
	}
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, models.AudioInfo{}, &models.ValidationError{Field: header.Filename, Reason: "unreadable upload"}
	}
	if int64(len(data)) > maxBytes {
		return nil, models.AudioInfo{}, &models.ValidationError{Field: header.Filename, Reason: "payload exceeds maximum upload size"}
	}
	return data, models.AudioInfo{Filename: header.Filename, Size: int64(len(data))}, nil
}

func paramsFromForm(r *http.Request) (models.Params, error) {
	params := models.DefaultParams()
	if v := r.FormValue("pitch_shift"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return params, &models.ValidationError{Field: "pitch_shift", Reason: "must be an integer"}
		}
		params.PitchShift = i
	}
	if v := r.FormValue("speed_change"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return params, &models.ValidationError{Field: "speed_change", Reason: "must be a number"}
		}
		params.Speed = f
	}
	if v := r.FormValue("volume_adjustment"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return params, &models.ValidationError{Field: "volume_adjustment", Reason: "must be a number"}
		}
		params.Volume = f
	}
	params.NoiseReduction = boolField(r, "noise_reduction")
	params.EchoRemoval = boolField(r, "echo_removal")
	params.VoiceEnhancement = boolField(r, "voice_enhancement")
	if v := r.FormValue("normalize"); v != "" {
		params.Normalize = v == "true" || v == "1"
	}
	return params, nil
}

func paramsFromOptions(pitch *int, speed, volume *float64, noise, echo, enhance bool, normalize *bool) models.Params {
	params := models.DefaultParams()
	if pitch != nil {
		params.PitchShift = *pitch
	}
	if speed != nil {
		params.Speed = *speed
	}
	if volume != nil {
		params.Volume = *volume
	}
	params.NoiseReduction = noise
	params.EchoRemoval = echo
	params.VoiceEnhancement = enhance
	if normalize != nil {
		params.Normalize = *normalize
	}
	return params
}

func boolField(r *http.Request, field string) bool {
	v := r.FormValue(field)
	return v == "true" || v == "1"
}

func floatField(r *http.Request, field string) float64 {
	f, _ := strconv.ParseFloat(r.FormValue(field), 64)
	return f
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
