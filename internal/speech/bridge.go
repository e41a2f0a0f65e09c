package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const bridgeWriteTimeout = 5 * time.Second

// Capabilities are the speech facilities the connected page reported.
type Capabilities struct {
	Synthesis   bool `json:"synthesis"`
	Recognition bool `json:"recognition"`
}

// bridgeCommand is sent from the kiosk to the page.
type bridgeCommand struct {
	Type        string               `json:"type"`
	ID          string               `json:"id,omitempty"`
	Text        string               `json:"text,omitempty"`
	Voice       *VoiceSettings       `json:"voice,omitempty"`
	Recognition *RecognitionSettings `json:"recognition,omitempty"`
}

// bridgeEvent is sent from the page to the kiosk.
type bridgeEvent struct {
	Type         string       `json:"type"`
	ID           string       `json:"id,omitempty"`
	Text         string       `json:"text,omitempty"`
	Final        bool         `json:"final,omitempty"`
	Error        string       `json:"error,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

type listenSession struct {
	emit func(Transcript)
	done chan error
}

// Bridge drives the speech engines of a browser page over a WebSocket. The
// page connects to Handler; the most recent connection wins.
type Bridge struct {
	logger   *slog.Logger
	controls chan Control

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	caps      Capabilities
	seq       uint64
	speaks    map[string]chan error
	listens   map[string]*listenSession
	connected chan struct{}
}

// NewBridge creates a bridge with no page attached.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		logger:    logger,
		controls:  make(chan Control, 8),
		speaks:    make(map[string]chan error),
		listens:   make(map[string]*listenSession),
		connected: make(chan struct{}),
	}
}

// Controls delivers taps and end requests from the page.
func (b *Bridge) Controls() <-chan Control {
	return b.controls
}

// WaitConnected blocks until a page has announced itself or ctx is done.
func (b *Bridge) WaitConnected(ctx context.Context) error {
	b.mu.Lock()
	ch := b.connected
	b.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the page's WebSocket connection.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		b.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bridge closed"); closeErr != nil {
			b.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	b.attach(ws)
	defer b.detach(ws)

	b.logger.Info("Speech bridge page connected", "ip", r.RemoteAddr)
	b.readLoop(r.Context(), ws)
	b.logger.Info("Speech bridge page disconnected")
}

func (b *Bridge) attach(ws *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil && b.conn != ws {
		_ = b.conn.Close(websocket.StatusNormalClosure, "replaced")
		b.failPendingLocked()
	}
	b.conn = ws
	b.caps = Capabilities{}
}

func (b *Bridge) detach(ws *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != ws {
		return
	}
	b.conn = nil
	b.caps = Capabilities{}
	b.failPendingLocked()
	select {
	case <-b.connected:
		b.connected = make(chan struct{})
	default:
	}
}

// failPendingLocked ends every in-flight request as unavailable.
func (b *Bridge) failPendingLocked() {
	for id, ch := range b.speaks {
		ch <- ErrSpeechUnavailable
		delete(b.speaks, id)
	}
	for id, ls := range b.listens {
		ls.done <- ErrSpeechUnavailable
		delete(b.listens, id)
	}
}

func (b *Bridge) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				b.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var ev bridgeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			b.logger.Debug("Ignoring malformed bridge event", "error", err)
			continue
		}
		b.dispatch(ev)
	}
}

//nolint:gocyclo // One case per page event.
func (b *Bridge) dispatch(ev bridgeEvent) {
	switch ev.Type {
	case "hello":
		b.mu.Lock()
		b.caps = ev.Capabilities
		select {
		case <-b.connected:
		default:
			close(b.connected)
		}
		b.mu.Unlock()
		b.logger.Info("Speech bridge capabilities", "synthesis", ev.Capabilities.Synthesis, "recognition", ev.Capabilities.Recognition)
	case "speak-end":
		b.mu.Lock()
		ch, ok := b.speaks[ev.ID]
		delete(b.speaks, ev.ID)
		b.mu.Unlock()
		if ok {
			var err error
			if ev.Error != "" {
				err = fmt.Errorf("page synthesis: %s", ev.Error)
			}
			ch <- err
		}
	case "transcript":
		b.mu.Lock()
		ls, ok := b.listens[ev.ID]
		b.mu.Unlock()
		if ok {
			ls.emit(Transcript{Text: ev.Text, Final: ev.Final})
		}
	case "listen-end", "listen-error":
		b.mu.Lock()
		ls, ok := b.listens[ev.ID]
		delete(b.listens, ev.ID)
		b.mu.Unlock()
		if ok {
			var err error
			if ev.Type == "listen-error" {
				err = &RecognitionError{Reason: recognitionReason(ev.Error)}
			}
			ls.done <- err
		}
	case "tap":
		b.control(ControlTap)
	case "end":
		b.control(ControlEnd)
	default:
		b.logger.Debug("Ignoring unknown bridge event", "type", ev.Type)
	}
}

func recognitionReason(code string) string {
	switch code {
	case "not-allowed", "service-not-allowed":
		return ReasonPermissionDenied
	case "no-speech":
		return ReasonNoSpeech
	case "aborted":
		return ReasonAborted
	default:
		return ReasonEngine
	}
}

func (b *Bridge) control(ctl Control) {
	select {
	case b.controls <- ctl:
	default:
	}
}

func (b *Bridge) nextID() string {
	b.seq++
	return strconv.FormatUint(b.seq, 10)
}

// Speak implements Synthesizer through the page's speech synthesis.
func (b *Bridge) Speak(ctx context.Context, text string, voice VoiceSettings) error {
	b.mu.Lock()
	if b.conn == nil || !b.caps.Synthesis {
		b.mu.Unlock()
		return ErrSpeechUnavailable
	}
	id := b.nextID()
	done := make(chan error, 1)
	b.speaks[id] = done
	b.mu.Unlock()

	if err := b.Send(ctx, bridgeCommand{Type: "speak", ID: id, Text: text, Voice: &voice}); err != nil {
		b.forgetSpeak(id)
		return ErrSpeechUnavailable
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		b.forgetSpeak(id)
		b.sendDetached(bridgeCommand{Type: "cancel", ID: id})
		return ctx.Err()
	}
}

func (b *Bridge) forgetSpeak(id string) {
	b.mu.Lock()
	delete(b.speaks, id)
	b.mu.Unlock()
}

// Recognize implements Recognizer through the page's speech recognition.
func (b *Bridge) Recognize(ctx context.Context, settings RecognitionSettings, emit func(Transcript)) error {
	b.mu.Lock()
	if b.conn == nil || !b.caps.Recognition {
		b.mu.Unlock()
		return ErrSpeechUnavailable
	}
	id := b.nextID()
	ls := &listenSession{emit: emit, done: make(chan error, 1)}
	b.listens[id] = ls
	b.mu.Unlock()

	if err := b.Send(ctx, bridgeCommand{Type: "listen", ID: id, Recognition: &settings}); err != nil {
		b.forgetListen(id)
		return ErrSpeechUnavailable
	}

	select {
	case err := <-ls.done:
		return err
	case <-ctx.Done():
		b.forgetListen(id)
		b.sendDetached(bridgeCommand{Type: "stop-listening", ID: id})
		return nil
	}
}

func (b *Bridge) forgetListen(id string) {
	b.mu.Lock()
	delete(b.listens, id)
	b.mu.Unlock()
}

// Send writes one JSON message to the page. It fails when no page is
// connected.
func (b *Bridge) Send(ctx context.Context, v any) error {
	b.mu.Lock()
	ws := b.conn
	b.mu.Unlock()
	if ws == nil {
		return ErrSpeechUnavailable
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal bridge message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, bridgeWriteTimeout)
	defer cancel()

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return ws.Write(ctx, websocket.MessageText, data)
}

// sendDetached sends a best-effort command after the caller's context ended.
func (b *Bridge) sendDetached(cmd bridgeCommand) {
	if err := b.Send(context.Background(), cmd); err != nil {
		b.logger.Debug("Failed to send bridge command", "type", cmd.Type, "error", err)
	}
}
