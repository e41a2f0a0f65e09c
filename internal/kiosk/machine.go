// Package kiosk runs one timed conversation: it interleaves speech output,
// speech input, proxy calls and the countdown on a single event loop.
package kiosk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/speech"
	"github.com/ashureev/storytime/internal/tools"
)

// FallbackMessage is shown when the proxy cannot be reached.
const FallbackMessage = "Oops! Something went wrong. Please try again!"

// Listening is not restarted after speech ends with this many seconds or fewer
// left.
const lastListenThreshold = 5

const endRequestTimeout = 5 * time.Second

// Status is the coarse lifecycle of the conversation.
type Status string

// Statuses.
const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Phase is the step of the speak/listen cycle while active.
type Phase string

// Phases.
const (
	PhaseIdle             Phase = "idle"
	PhaseAwaitingGreeting Phase = "awaiting-greeting"
	PhaseSpeaking         Phase = "speaking"
	PhaseListening        Phase = "listening"
	PhaseAwaitingReply    Phase = "awaiting-reply"
	// PhaseWaiting follows speech that did not lead into listening.
	PhaseWaiting   Phase = "waiting"
	PhaseTapToTalk Phase = "tap-to-talk"
	// PhaseHalted follows a failed proxy call; only End leaves it.
	PhaseHalted Phase = "halted"
	PhaseEnded  Phase = "ended"
)

// Client is the proxy the machine talks to.
type Client interface {
	Start(ctx context.Context, sessionID, imageDescription string) (domain.Message, error)
	Continue(ctx context.Context, sessionID, userMessage string, timeRemaining int) (domain.Message, error)
	End(ctx context.Context, sessionID string) error
}

// Output is the speech output adapter (speech.Voice).
type Output interface {
	Speak(text string, done func(error))
	Stop()
}

// Input is the speech input adapter (speech.Listener).
type Input interface {
	Start()
	Stop()
}

// Snapshot is a copy of the conversation state.
type Snapshot struct {
	SessionID     string           `json:"sessionId"`
	Status        Status           `json:"status"`
	Phase         Phase            `json:"phase"`
	Listening     bool             `json:"listening"`
	Processing    bool             `json:"processing"`
	Speaking      bool             `json:"speaking"`
	TimeRemaining int              `json:"timeRemaining"`
	Messages      []domain.Message `json:"messages,omitempty"`
}

// Config wires a Machine.
type Config struct {
	Client Client
	Output Output
	// NewInput builds the input adapter around the machine's callbacks.
	NewInput func(onTranscript func(speech.Transcript), onError func(error)) Input
	Renderer Renderer
	// Duration is the session length; zero means 60s.
	Duration time.Duration
	Logger   *slog.Logger

	// NewTicker and Now drive the countdown; nil means the wall clock.
	NewTicker func(time.Duration) Ticker
	Now       func() time.Time
}

// Machine is the conversation state machine. All state is owned by Run; the
// exported methods only post events.
type Machine struct {
	client   Client
	output   Output
	input    Input
	renderer Renderer
	total    int
	logger   *slog.Logger

	newTicker func(time.Duration) Ticker
	now       func() time.Time

	queue *eventQueue

	// Loop-owned state.
	status        Status
	phase         Phase
	listening     bool
	processing    bool
	speaking      bool
	timeRemaining int
	messages      []domain.Message
	sessionID     string
	request       uint64
	utterance     uint64
	timer         *Timer
	sessCtx       context.Context
	sessCancel    context.CancelFunc
	endWG         sync.WaitGroup

	snapMu sync.Mutex
	snap   Snapshot
	ended  chan struct{}
}

// New creates an idle machine.
func New(cfg Config) *Machine {
	total := int(cfg.Duration / time.Second)
	if total <= 0 {
		total = 60
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = Renderers(nil)
	}

	m := &Machine{
		client:    cfg.Client,
		output:    cfg.Output,
		renderer:  renderer,
		total:     total,
		logger:    logger,
		newTicker: cfg.NewTicker,
		now:       cfg.Now,
		queue:     newEventQueue(),
		status:    StatusIdle,
		phase:     PhaseIdle,
		ended:     make(chan struct{}),
	}
	m.input = cfg.NewInput(m.onTranscript, m.onRecognitionError)
	m.publish()
	return m
}

type event interface{}

type (
	beginEvent struct {
		sessionID string
		image     domain.Image
	}
	replyEvent struct {
		request uint64
		msg     domain.Message
		err     error
	}
	speechDoneEvent struct {
		utterance uint64
		err       error
	}
	transcriptEvent  struct{ t speech.Transcript }
	recognitionError struct{ err error }
	tickEvent        struct{ remaining int }
	expireEvent      struct{}
	endEvent         struct{}
	tapEvent         struct{}
	stopListenEvent  struct{}
)

// Begin starts a conversation about image under sessionID.
func (m *Machine) Begin(sessionID string, image domain.Image) {
	m.queue.push(beginEvent{sessionID: sessionID, image: image})
}

// TapToTalk starts listening when nothing else is going on.
func (m *Machine) TapToTalk() { m.queue.push(tapEvent{}) }

// StopListening stops listening without sending anything.
func (m *Machine) StopListening() { m.queue.push(stopListenEvent{}) }

// End ends the conversation. It is safe to call any number of times.
func (m *Machine) End() { m.queue.push(endEvent{}) }

func (m *Machine) onTranscript(t speech.Transcript) { m.queue.push(transcriptEvent{t: t}) }

func (m *Machine) onRecognitionError(err error) { m.queue.push(recognitionError{err: err}) }

// Ended is closed once the conversation has ended.
func (m *Machine) Ended() <-chan struct{} { return m.ended }

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	s := m.snap
	s.Messages = append([]domain.Message(nil), m.snap.Messages...)
	return s
}

// Run processes events until ctx is done. Cancelling ctx ends an active
// conversation first. Run waits for the best-effort end request.
func (m *Machine) Run(ctx context.Context) error {
	defer m.endWG.Wait()
	for {
		select {
		case <-ctx.Done():
			m.handle(endEvent{})
			return nil
		case <-m.queue.notify:
			for _, e := range m.queue.drain() {
				m.handle(e)
			}
		}
	}
}

//nolint:gocyclo // One case per event.
func (m *Machine) handle(e event) {
	switch ev := e.(type) {
	case beginEvent:
		m.begin(ev)
	case replyEvent:
		m.reply(ev)
	case speechDoneEvent:
		m.speechDone(ev)
	case transcriptEvent:
		m.transcript(ev.t)
	case recognitionError:
		m.recognitionFailed(ev.err)
	case tickEvent:
		if m.status != StatusActive {
			return
		}
		m.timeRemaining = ev.remaining
		m.publish()
	case expireEvent:
		m.timeRemaining = 0
		m.end("timer")
	case endEvent:
		m.end("user")
	case tapEvent:
		if m.status == StatusActive && !m.speaking && !m.processing && !m.listening && m.phase != PhaseHalted {
			m.startListening()
		}
	case stopListenEvent:
		if m.listening {
			m.input.Stop()
			m.listening = false
			m.phase = PhaseWaiting
			m.renderer.Interim("")
			m.publish()
		}
	}
}

func (m *Machine) begin(ev beginEvent) {
	if m.status != StatusIdle {
		m.logger.Debug("Ignoring begin while not idle", "status", m.status)
		return
	}

	m.status = StatusActive
	m.sessionID = ev.sessionID
	m.timeRemaining = m.total
	m.messages = nil
	m.sessCtx, m.sessCancel = context.WithCancel(context.Background())

	m.timer = NewTimer(m.total,
		func(remaining int) { m.queue.push(tickEvent{remaining: remaining}) },
		func() { m.queue.push(expireEvent{}) },
	)
	if m.newTicker != nil {
		m.timer.newTicker = m.newTicker
	}
	if m.now != nil {
		m.timer.now = m.now
	}
	m.timer.Start()

	m.logger.Info("Conversation starting", "session_id", ev.sessionID, "image", ev.image.ID)
	m.processing = true
	m.phase = PhaseAwaitingGreeting
	m.publish()

	m.call(func(ctx context.Context) (domain.Message, error) {
		return m.client.Start(ctx, ev.sessionID, ev.image.Description)
	})
}

// call runs a proxy request off the loop and posts its result.
func (m *Machine) call(fn func(ctx context.Context) (domain.Message, error)) {
	m.request++
	id := m.request
	ctx := m.sessCtx
	go func() {
		msg, err := fn(ctx)
		m.queue.push(replyEvent{request: id, msg: msg, err: err})
	}()
}

func (m *Machine) reply(ev replyEvent) {
	if m.status != StatusActive || ev.request != m.request {
		return
	}
	m.processing = false

	if ev.err != nil {
		m.logger.Error("Conversation request failed", "session_id", m.sessionID, "error", ev.err)
		m.messages = append(m.messages, domain.AssistantMessage(FallbackMessage))
		m.phase = PhaseHalted
		m.renderer.Fallback(FallbackMessage)
		m.publish()
		return
	}

	msg := ev.msg
	msg.Role = domain.RoleAssistant
	m.messages = append(m.messages, msg)
	m.renderer.Message(msg)
	m.dispatchTools(msg.ToolCalls)
	m.speak(msg.Content)
}

func (m *Machine) dispatchTools(calls []domain.ToolCall) {
	for _, call := range calls {
		inv, err := tools.FromCall(call)
		switch {
		case errors.Is(err, tools.ErrUnknownTool):
			m.logger.Debug("Ignoring unknown tool", "name", call.Function.Name)
			continue
		case err != nil:
			m.logger.Warn("Dropping invalid tool call", "name", call.Function.Name, "error", err)
			continue
		}
		switch v := inv.(type) {
		case tools.Celebration:
			m.renderer.Celebrate(v)
		case tools.Highlight:
			m.renderer.Highlight(v)
		}
	}
}

func (m *Machine) speak(text string) {
	m.utterance++
	id := m.utterance
	m.speaking = true
	m.phase = PhaseSpeaking
	m.publish()
	m.output.Speak(text, func(err error) {
		m.queue.push(speechDoneEvent{utterance: id, err: err})
	})
}

func (m *Machine) speechDone(ev speechDoneEvent) {
	if m.status != StatusActive || ev.utterance != m.utterance || !m.speaking {
		return
	}
	m.speaking = false
	if m.timeRemaining <= lastListenThreshold {
		m.phase = PhaseWaiting
		m.publish()
		return
	}
	m.startListening()
}

func (m *Machine) startListening() {
	m.processing = false
	m.listening = true
	m.phase = PhaseListening
	m.publish()
	m.input.Start()
}

func (m *Machine) transcript(t speech.Transcript) {
	if m.status != StatusActive || !m.listening || m.timeRemaining <= 0 {
		return
	}
	text := normalizeTranscript(t.Text)
	if !t.Final {
		m.renderer.Interim(text)
		return
	}
	if text == "" {
		return
	}

	m.input.Stop()
	m.listening = false
	m.renderer.Interim("")

	user := domain.UserMessage(text)
	m.messages = append(m.messages, user)
	m.renderer.Message(user)

	m.processing = true
	m.phase = PhaseAwaitingReply
	m.publish()

	sessionID, remaining := m.sessionID, m.timeRemaining
	m.call(func(ctx context.Context) (domain.Message, error) {
		return m.client.Continue(ctx, sessionID, text, remaining)
	})
}

func (m *Machine) recognitionFailed(err error) {
	if m.status != StatusActive || !m.listening {
		return
	}
	m.logger.Info("Speech recognition stopped", "error", err)
	m.input.Stop()
	m.listening = false
	m.renderer.Interim("")
	m.phase = PhaseTapToTalk
	m.publish()
}

func (m *Machine) end(reason string) {
	switch m.status {
	case StatusEnded:
		return
	case StatusIdle:
		// Nothing was started, so there is nothing to tell the proxy.
		m.status = StatusEnded
		m.phase = PhaseEnded
		m.publish()
		m.renderer.Ended()
		close(m.ended)
		return
	}
	m.status = StatusEnded
	m.phase = PhaseEnded

	m.input.Stop()
	m.output.Stop()
	m.timer.Stop()
	m.sessCancel()

	m.listening, m.speaking, m.processing = false, false, false
	m.request++
	m.utterance++

	m.logger.Info("Conversation ended", "session_id", m.sessionID, "reason", reason, "messages", len(m.messages))

	sessionID := m.sessionID
	m.endWG.Add(1)
	go func() {
		defer m.endWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), endRequestTimeout)
		defer cancel()
		if err := m.client.End(ctx, sessionID); err != nil {
			m.logger.Warn("Failed to end conversation", "session_id", sessionID, "error", err)
		}
	}()

	m.publish()
	m.renderer.Ended()
	close(m.ended)
}

// publish copies loop state into the snapshot and notifies the renderer.
func (m *Machine) publish() {
	s := Snapshot{
		SessionID:     m.sessionID,
		Status:        m.status,
		Phase:         m.phase,
		Listening:     m.listening,
		Processing:    m.processing,
		Speaking:      m.speaking,
		TimeRemaining: m.timeRemaining,
		Messages:      append([]domain.Message(nil), m.messages...),
	}
	m.snapMu.Lock()
	m.snap = s
	m.snapMu.Unlock()

	m.renderer.Status(s)
}
