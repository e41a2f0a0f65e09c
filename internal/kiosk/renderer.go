package kiosk

import (
	"context"
	"time"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/speech"
	"github.com/ashureev/storytime/internal/tools"
)

// OverlayDuration is how long a celebration or highlight stays on screen.
const OverlayDuration = 3 * time.Second

// Renderer observes the conversation. Calls come from the machine's event
// loop, one at a time, in the order things happened.
type Renderer interface {
	Message(m domain.Message)
	Interim(text string)
	Celebrate(c tools.Celebration)
	Highlight(h tools.Highlight)
	Status(s Snapshot)
	Fallback(text string)
	Ended()
}

// ConsoleRenderer prints the conversation to a speech.Console. Assistant
// lines are printed by the console synthesizer itself.
type ConsoleRenderer struct {
	Console *speech.Console
	// Quiet suppresses the countdown.
	Quiet bool

	lastPhase Phase
	lastShown int
}

// Message implements Renderer.
func (r *ConsoleRenderer) Message(m domain.Message) {
	if m.Role == domain.RoleUser {
		r.Console.Printf("You: %s\n", m.Content)
	}
}

// Interim implements Renderer.
func (r *ConsoleRenderer) Interim(text string) {
	if text != "" {
		r.Console.Printf("  ...%s\n", text)
	}
}

// Celebrate implements Renderer.
func (r *ConsoleRenderer) Celebrate(c tools.Celebration) {
	r.Console.Printf("*** %s %s ***\n", animationGlyph(c.Animation), c.Message)
}

// Highlight implements Renderer.
func (r *ConsoleRenderer) Highlight(h tools.Highlight) {
	r.Console.Printf(">>> look at %s <<<\n", h.Region)
}

// Status implements Renderer.
func (r *ConsoleRenderer) Status(s Snapshot) {
	if s.Phase != r.lastPhase && s.Phase == PhaseTapToTalk {
		r.Console.Printf("(tap to talk: press Enter)\n")
	}
	r.lastPhase = s.Phase

	if r.Quiet || s.Status != StatusActive {
		return
	}
	if s.TimeRemaining > 0 && s.TimeRemaining%10 == 0 && s.TimeRemaining != r.lastShown {
		r.lastShown = s.TimeRemaining
		r.Console.Printf("[%ds left]\n", s.TimeRemaining)
	}
}

// Fallback implements Renderer.
func (r *ConsoleRenderer) Fallback(text string) {
	r.Console.Printf("Sparkle: %s\n", text)
}

// Ended implements Renderer.
func (r *ConsoleRenderer) Ended() {
	r.Console.Printf("Chat ended. Thanks for talking with me!\n")
}

func animationGlyph(a tools.Animation) string {
	switch a {
	case tools.AnimationStars:
		return "✨"
	case tools.AnimationBounce:
		return "🎈"
	default:
		return "🎉"
	}
}

// BridgeRenderer forwards the conversation to the bridge page.
type BridgeRenderer struct {
	Bridge *speech.Bridge
}

type renderEvent struct {
	Type       string          `json:"type"`
	Message    *domain.Message `json:"message,omitempty"`
	Text       string          `json:"text,omitempty"`
	Animation  tools.Animation `json:"animation,omitempty"`
	Region     string          `json:"region,omitempty"`
	DurationMs int64           `json:"durationMs,omitempty"`
	Status     *Snapshot       `json:"status,omitempty"`
}

func (r BridgeRenderer) send(e renderEvent) {
	// Rendering is fire-and-forget; a missing page just misses the frame.
	_ = r.Bridge.Send(context.Background(), e)
}

// Message implements Renderer.
func (r BridgeRenderer) Message(m domain.Message) {
	r.send(renderEvent{Type: "message", Message: &m})
}

// Interim implements Renderer.
func (r BridgeRenderer) Interim(text string) {
	r.send(renderEvent{Type: "interim", Text: text})
}

// Celebrate implements Renderer.
func (r BridgeRenderer) Celebrate(c tools.Celebration) {
	r.send(renderEvent{Type: "celebrate", Text: c.Message, Animation: c.Animation, DurationMs: OverlayDuration.Milliseconds()})
}

// Highlight implements Renderer.
func (r BridgeRenderer) Highlight(h tools.Highlight) {
	r.send(renderEvent{Type: "highlight", Region: h.Region, DurationMs: OverlayDuration.Milliseconds()})
}

// Status implements Renderer.
func (r BridgeRenderer) Status(s Snapshot) {
	s.Messages = nil
	r.send(renderEvent{Type: "status", Status: &s})
}

// Fallback implements Renderer.
func (r BridgeRenderer) Fallback(text string) {
	r.send(renderEvent{Type: "fallback", Text: text})
}

// Ended implements Renderer.
func (r BridgeRenderer) Ended() {
	r.send(renderEvent{Type: "ended"})
}

// Renderers fans out to several renderers in order.
type Renderers []Renderer

// Message implements Renderer.
func (rs Renderers) Message(m domain.Message) {
	for _, r := range rs {
		r.Message(m)
	}
}

// Interim implements Renderer.
func (rs Renderers) Interim(text string) {
	for _, r := range rs {
		r.Interim(text)
	}
}

// Celebrate implements Renderer.
func (rs Renderers) Celebrate(c tools.Celebration) {
	for _, r := range rs {
		r.Celebrate(c)
	}
}

// Highlight implements Renderer.
func (rs Renderers) Highlight(h tools.Highlight) {
	for _, r := range rs {
		r.Highlight(h)
	}
}

// Status implements Renderer.
func (rs Renderers) Status(s Snapshot) {
	for _, r := range rs {
		r.Status(s)
	}
}

// Fallback implements Renderer.
func (rs Renderers) Fallback(text string) {
	for _, r := range rs {
		r.Fallback(text)
	}
}

// Ended implements Renderer.
func (rs Renderers) Ended() {
	for _, r := range rs {
		r.Ended()
	}
}
