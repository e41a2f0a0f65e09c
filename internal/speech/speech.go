// Package speech binds speech synthesis and recognition engines to the
// adapter contracts the kiosk state machine relies on.
package speech

import (
	"context"
	"errors"
	"fmt"
)

// ErrSpeechUnavailable is returned by an engine that lacks the capability.
var ErrSpeechUnavailable = errors.New("speech capability unavailable")

// Recognition failure reasons.
const (
	ReasonPermissionDenied = "not-allowed"
	ReasonNoSpeech         = "no-speech"
	ReasonAborted          = "aborted"
	ReasonEngine           = "engine"
)

// RecognitionError is a recognition session that failed.
type RecognitionError struct {
	Reason string
	Err    error
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recognition %s: %v", e.Reason, e.Err)
	}
	return "recognition " + e.Reason
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// VoiceSettings tunes synthesis for child-friendly delivery.
type VoiceSettings struct {
	Rate   float64  `json:"rate"`
	Pitch  float64  `json:"pitch"`
	Volume float64  `json:"volume"`
	Voices []string `json:"voices"`
}

// DefaultVoice is slightly slow and slightly high, preferring a female voice.
func DefaultVoice() VoiceSettings {
	return VoiceSettings{
		Rate:   0.9,
		Pitch:  1.1,
		Volume: 1,
		Voices: []string{"Female", "Samantha", "Karen"},
	}
}

// RecognitionSettings configures a recognition session.
type RecognitionSettings struct {
	Lang           string `json:"lang"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interimResults"`
}

// DefaultRecognition is continuous en-US recognition with interim results.
func DefaultRecognition() RecognitionSettings {
	return RecognitionSettings{Lang: "en-US", Continuous: true, InterimResults: true}
}

// Transcript is recognized text, either interim (may still change) or final.
type Transcript struct {
	Text  string
	Final bool
}

// Synthesizer speaks text. Speak blocks until playback finishes, fails or ctx
// is canceled; cancellation must stop playback promptly.
type Synthesizer interface {
	Speak(ctx context.Context, text string, voice VoiceSettings) error
}

// Recognizer runs one recognition session, calling emit for each transcript.
// Recognize returns nil when the engine ends the session on its own and a
// *RecognitionError when it fails. After ctx is canceled emit is not called
// again.
type Recognizer interface {
	Recognize(ctx context.Context, settings RecognitionSettings, emit func(Transcript)) error
}
