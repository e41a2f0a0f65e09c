package speech

import (
	"context"
	"errors"
)

// SynthesizerWithFallback uses primary and switches to fallback for any call
// primary reports as unavailable.
func SynthesizerWithFallback(primary, fallback Synthesizer) Synthesizer {
	return fallbackSynthesizer{primary: primary, fallback: fallback}
}

type fallbackSynthesizer struct {
	primary, fallback Synthesizer
}

func (f fallbackSynthesizer) Speak(ctx context.Context, text string, voice VoiceSettings) error {
	err := f.primary.Speak(ctx, text, voice)
	if errors.Is(err, ErrSpeechUnavailable) {
		return f.fallback.Speak(ctx, text, voice)
	}
	return err
}

// RecognizerWithFallback uses primary and switches to fallback for any
// session primary reports as unavailable.
func RecognizerWithFallback(primary, fallback Recognizer) Recognizer {
	return fallbackRecognizer{primary: primary, fallback: fallback}
}

type fallbackRecognizer struct {
	primary, fallback Recognizer
}

func (f fallbackRecognizer) Recognize(ctx context.Context, settings RecognitionSettings, emit func(Transcript)) error {
	err := f.primary.Recognize(ctx, settings, emit)
	if errors.Is(err, ErrSpeechUnavailable) {
		return f.fallback.Recognize(ctx, settings, emit)
	}
	return err
}
