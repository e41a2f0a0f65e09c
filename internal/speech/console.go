package speech

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Console is the text-only engine: it prints what would be spoken and reads
// typed lines as final transcripts. An empty line is a tap on the microphone
// and "/end" ends the session; both are delivered on Controls.
type Console struct {
	out io.Writer
	in  io.Reader

	// WordsPerSecond at rate 1 sets how long a printed utterance "plays".
	WordsPerSecond float64
	// After is the clock used to wait out an utterance.
	After func(time.Duration) <-chan time.Time

	controls chan Control

	mu     sync.Mutex
	writes sync.Mutex
	emit   func(Transcript)
	seq    uint64
}

// Control is an out-of-band console command.
type Control int

// Console controls.
const (
	ControlTap Control = iota + 1
	ControlEnd
)

// NewConsole creates a console engine. Call Run to start reading in.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{
		out:            out,
		in:             in,
		WordsPerSecond: 2.5,
		After:          time.After,
		controls:       make(chan Control, 8),
	}
}

// Controls delivers taps and end requests typed on the console.
func (c *Console) Controls() <-chan Control {
	return c.controls
}

// Run reads lines until in is exhausted or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if err != nil {
				return fmt.Errorf("read console: %w", err)
			}
			return nil
		case line := <-lines:
			c.handle(strings.TrimSpace(line))
		}
	}
}

func (c *Console) handle(line string) {
	switch {
	case line == "":
		c.control(ControlTap)
	case strings.EqualFold(line, "/end"):
		c.control(ControlEnd)
	default:
		c.mu.Lock()
		emit := c.emit
		c.mu.Unlock()
		if emit == nil {
			c.Printf("(not listening, press Enter to talk)\n")
			return
		}
		emit(Transcript{Text: line, Final: true})
	}
}

func (c *Console) control(ctl Control) {
	select {
	case c.controls <- ctl:
	default:
	}
}

// Speak implements Synthesizer.
func (c *Console) Speak(ctx context.Context, text string, voice VoiceSettings) error {
	c.Printf("Sparkle: %s\n", text)

	select {
	case <-c.After(c.duration(text, voice)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Console) duration(text string, voice VoiceSettings) time.Duration {
	rate := voice.Rate
	if rate <= 0 {
		rate = 1
	}
	wps := c.WordsPerSecond * rate
	if wps <= 0 {
		return 0
	}
	words := len(strings.Fields(text))
	return time.Duration(float64(words) / wps * float64(time.Second))
}

// Recognize implements Recognizer. Typed lines are final transcripts until
// ctx is canceled.
func (c *Console) Recognize(ctx context.Context, _ RecognitionSettings, emit func(Transcript)) error {
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.emit = emit
	c.mu.Unlock()
	c.Printf("(listening, type your answer)\n")

	<-ctx.Done()

	c.mu.Lock()
	if c.seq == id {
		c.emit = nil
	}
	c.mu.Unlock()
	return nil
}

// Printf writes to the console output.
func (c *Console) Printf(format string, args ...any) {
	c.writes.Lock()
	defer c.writes.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}
