package models

import (
	"time"
)

// Job statuses persisted in Postgres. Transitions are monotonic:
// pending -> processing -> completed|failed; cancelled is reachable
// from pending or processing. Terminal states never transition again.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Transformation kinds supported by the external model.
const (
	KindVoiceConversion = "voice_conversion"
	KindAccentChange    = "accent_change"
	KindGenderSwap      = "gender_swap"
	KindAgeChange       = "age_change"
	KindEmotionChange   = "emotion_change"
	KindTextToSpeech    = "text_to_speech"
)

// Kinds lists every supported transformation kind in a stable order.
func Kinds() []string {
	return []string{
		KindVoiceConversion,
		KindAccentChange,
		KindGenderSwap,
		KindAgeChange,
		KindEmotionChange,
		KindTextToSpeech,
	}
}

// ValidKind reports whether kind is one of the supported transformations.
func ValidKind(kind string) bool {
	for _, k := range Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// Output formats and quality tiers.
const (
	FormatWAV  = "wav"
	FormatMP3  = "mp3"
	FormatFLAC = "flac"

	QualityLow    = "low"
	QualityMedium = "medium"
	QualityHigh   = "high"
)

// Formats lists the supported output formats.
func Formats() []string { return []string{FormatWAV, FormatMP3, FormatFLAC} }

// Qualities lists the supported quality tiers.
func Qualities() []string { return []string{QualityLow, QualityMedium, QualityHigh} }

// ContentTypeForFormat maps an output format to its MIME type.
func ContentTypeForFormat(format string) string {
	switch format {
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	default:
		return "audio/wav"
	}
}

// Params is the full transformation parameter set. Every field has a
// declared valid range checked by Validate before a record is created.
type Params struct {
	PitchShift       int     `json:"pitch_shift"`
	Speed            float64 `json:"speed"`
	Volume           float64 `json:"volume"`
	NoiseReduction   bool    `json:"noise_reduction"`
	EchoRemoval      bool    `json:"echo_removal"`
	VoiceEnhancement bool    `json:"voice_enhancement"`
	Normalize        bool    `json:"normalize"`
}

// DefaultParams returns the neutral parameter set applied when a field is
// omitted from a request.
func DefaultParams() Params {
	return Params{
		PitchShift: 0,
		Speed:      1.0,
		Volume:     1.0,
		Normalize:  true,
	}
}

// Validate checks every parameter against its declared range.
func (p Params) Validate() error {
	if p.PitchShift < -12 || p.PitchShift > 12 {
		return &ValidationError{Field: "pitch_shift", Reason: "must be between -12 and 12 semitones"}
	}
	if p.Speed < 0.5 || p.Speed > 2.0 {
		return &ValidationError{Field: "speed", Reason: "must be between 0.5 and 2.0"}
	}
	if p.Volume < 0.1 || p.Volume > 3.0 {
		return &ValidationError{Field: "volume", Reason: "must be between 0.1 and 3.0"}
	}
	return nil
}

// AudioInfo describes one uploaded or generated audio payload.
type AudioInfo struct {
	Filename string  `json:"filename"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration"`
}

// Locator kinds, in retrieval precedence order.
const (
	LocatorObject = "object"
	LocatorInline = "inline"
	LocatorFile   = "file"
)

// Locator identifies where a completed job's output bytes live. At most one
// locator is authoritative per record; Kind selects the retrieval strategy.
type Locator struct {
	Kind string `json:"kind"`
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

// JobRecord is the persisted state of one conversion or synthesis request.
type JobRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Device    string    `json:"device"`
	Input     AudioInfo `json:"input"`
	Reference AudioInfo `json:"reference"`
	Text      string    `json:"text,omitempty"`
	Params    Params    `json:"params"`

	OutputFormat  string     `json:"output_format"`
	OutputQuality string     `json:"output_quality"`
	Output        *AudioInfo `json:"output,omitempty"`
	OutputLocator *Locator   `json:"output_locator,omitempty"`
	// OutputData holds the payload itself when the locator is inline.
	OutputData []byte `json:"-"`

	BatchID string `json:"batch_id,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ProcessingTime float64    `json:"processing_time_seconds,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
}

// Batch aggregates the job records submitted in one batch request.
type Batch struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Total     int       `json:"total_files"`
	Processed int       `json:"processed_files"`
	Failed    int       `json:"failed_files"`
	CreatedAt time.Time `json:"created_at"`
}
