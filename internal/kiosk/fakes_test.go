package kiosk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/speech"
	"github.com/ashureev/storytime/internal/tools"
)

type continueCall struct {
	sessionID     string
	text          string
	timeRemaining int
}

type fakeClient struct {
	mu        sync.Mutex
	replies   []domain.Message
	startErr  error
	contErr   error
	block     chan struct{}
	starts    []string
	continues []continueCall
	ends      []string
}

func (c *fakeClient) wait(ctx context.Context) error {
	if c.block == nil {
		return nil
	}
	select {
	case <-c.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeClient) next() domain.Message {
	if len(c.replies) == 0 {
		return domain.AssistantMessage("Tell me more!")
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r
}

func (c *fakeClient) Start(ctx context.Context, sessionID, imageDescription string) (domain.Message, error) {
	if err := c.wait(ctx); err != nil {
		return domain.Message{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts = append(c.starts, imageDescription)
	if c.startErr != nil {
		return domain.Message{}, c.startErr
	}
	return c.next(), nil
}

func (c *fakeClient) Continue(ctx context.Context, sessionID, userMessage string, timeRemaining int) (domain.Message, error) {
	if err := c.wait(ctx); err != nil {
		return domain.Message{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.continues = append(c.continues, continueCall{sessionID, userMessage, timeRemaining})
	if c.contErr != nil {
		return domain.Message{}, c.contErr
	}
	return c.next(), nil
}

func (c *fakeClient) End(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ends = append(c.ends, sessionID)
	return nil
}

func (c *fakeClient) endCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ends)
}

func (c *fakeClient) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.starts)
}

func (c *fakeClient) continueCalls() []continueCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]continueCall(nil), c.continues...)
}

// fakeOutput holds each utterance until the test finishes it.
type fakeOutput struct {
	mu     sync.Mutex
	spoken []string
	done   func(error)
	stops  int
}

func (o *fakeOutput) Speak(text string, done func(error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spoken = append(o.spoken, text)
	o.done = done
}

func (o *fakeOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops++
	o.done = nil
}

// finish completes the current utterance, as an engine would.
func (o *fakeOutput) finish() {
	o.mu.Lock()
	done := o.done
	o.done = nil
	o.mu.Unlock()
	if done != nil {
		done(nil)
	}
}

type fakeInput struct {
	mu      sync.Mutex
	active  bool
	starts  int
	stops   int
	emit    func(speech.Transcript)
	onError func(error)
}

func (i *fakeInput) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.active = true
	i.starts++
}

func (i *fakeInput) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.active = false
	i.stops++
}

func (i *fakeInput) say(text string, final bool) {
	i.emit(speech.Transcript{Text: text, Final: final})
}

func (i *fakeInput) isActive() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

type recordingRenderer struct {
	mu         sync.Mutex
	messages   []domain.Message
	interims   []string
	celebrated []tools.Celebration
	highlights []tools.Highlight
	fallbacks  []string
	statuses   []Snapshot
	ended      int
}

func (r *recordingRenderer) Message(m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *recordingRenderer) Interim(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interims = append(r.interims, text)
}

func (r *recordingRenderer) Celebrate(c tools.Celebration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.celebrated = append(r.celebrated, c)
}

func (r *recordingRenderer) Highlight(h tools.Highlight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.highlights = append(r.highlights, h)
}

func (r *recordingRenderer) Status(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recordingRenderer) Fallback(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, text)
}

func (r *recordingRenderer) Ended() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended++
}

// manualTicker delivers ticks only when the test sends them.
type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newManualTicker() *manualTicker {
	return &manualTicker{c: make(chan time.Time), stopped: make(chan struct{})}
}

func (t *manualTicker) C() <-chan time.Time { return t.c }
func (t *manualTicker) Stop()               { t.once.Do(func() { close(t.stopped) }) }

// tick delivers at, reporting false if the timer has stopped listening.
func (t *manualTicker) tick(at time.Time) bool {
	select {
	case t.c <- at:
		return true
	case <-t.stopped:
		return false
	case <-time.After(time.Second):
		return false
	}
}

type harness struct {
	t        *testing.T
	m        *Machine
	client   *fakeClient
	output   *fakeOutput
	input    *fakeInput
	renderer *recordingRenderer
	ticker   *manualTicker
	start    time.Time
}

func newHarness(t *testing.T, client *fakeClient) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		client:   client,
		output:   &fakeOutput{},
		input:    &fakeInput{},
		renderer: &recordingRenderer{},
		ticker:   newManualTicker(),
		start:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	h.m = New(Config{
		Client: client,
		Output: h.output,
		NewInput: func(onTranscript func(speech.Transcript), onError func(error)) Input {
			h.input.emit = onTranscript
			h.input.onError = onError
			return h.input
		},
		Renderer:  h.renderer,
		Duration:  60 * time.Second,
		NewTicker: func(time.Duration) Ticker { return h.ticker },
		Now:       func() time.Time { return h.start },
	})
	t.Cleanup(func() {
		h.m.handle(endEvent{})
		h.m.endWG.Wait()
	})
	return h
}

// pump handles the next batch of queued events.
func (h *harness) pump() {
	h.t.Helper()
	select {
	case <-h.m.queue.notify:
		for _, e := range h.m.queue.drain() {
			h.m.handle(e)
		}
	case <-time.After(2 * time.Second):
		h.t.Fatal("no event arrived")
	}
}

// tickTo advances the countdown so that remaining seconds are left.
func (h *harness) tickTo(remaining int) {
	h.t.Helper()
	if !h.ticker.tick(h.start.Add(time.Duration(60-remaining) * time.Second)) {
		h.t.Fatal("timer is not running")
	}
	h.pump()
}

// greet begins a session and waits for the greeting to be spoken.
func (h *harness) greet() {
	h.t.Helper()
	img, _ := domain.FindImage("Ocean Kingdom")
	h.m.handle(beginEvent{sessionID: "session_1", image: img})
	h.pump()
}
