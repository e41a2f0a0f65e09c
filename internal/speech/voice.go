package speech

import (
	"context"
	"log/slog"
	"sync"
)

// Voice is the speech output adapter. At most one utterance is active; its
// completion callback fires exactly once unless Stop or a newer Speak
// supersedes it first.
type Voice struct {
	engine   Synthesizer
	settings VoiceSettings
	logger   *slog.Logger

	// fire serializes callback delivery against Stop and Speak so that no
	// callback runs after either returns.
	fire sync.Mutex

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewVoice wraps engine.
func NewVoice(engine Synthesizer, settings VoiceSettings, logger *slog.Logger) *Voice {
	if logger == nil {
		logger = slog.Default()
	}
	return &Voice{engine: engine, settings: settings, logger: logger}
}

// Speak starts speaking text and calls done with the engine result when
// playback finishes. done must not call back into the Voice.
func (v *Voice) Speak(text string, done func(error)) {
	v.fire.Lock()
	v.mu.Lock()
	v.gen++
	id := v.gen
	if v.cancel != nil {
		v.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.mu.Unlock()
	v.fire.Unlock()

	go func() {
		err := v.engine.Speak(ctx, text, v.settings)
		if err != nil && ctx.Err() == nil {
			v.logger.Warn("Speech synthesis failed", "error", err)
		}

		v.fire.Lock()
		defer v.fire.Unlock()

		v.mu.Lock()
		current := v.gen == id
		if current {
			v.cancel = nil
		}
		v.mu.Unlock()
		cancel()

		if current && done != nil {
			done(err)
		}
	}()
}

// Stop cancels the active utterance and suppresses its callback.
func (v *Voice) Stop() {
	v.fire.Lock()
	defer v.fire.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen++
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

// Speaking reports whether an utterance is active.
func (v *Voice) Speaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancel != nil
}
