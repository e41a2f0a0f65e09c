package kiosk

import (
	"sync"
	"time"
)

// Ticker is the subset of time.Ticker the Timer needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Timer counts whole seconds down from a duration. Remaining time is derived
// from the clock rather than the tick count, so late or coalesced ticks never
// skip the expiry. onExpire fires exactly once.
type Timer struct {
	total     int
	onTick    func(remaining int)
	onExpire  func()
	now       func() time.Time
	newTicker func(time.Duration) Ticker

	mu      sync.Mutex
	stop    chan struct{}
	running bool
	fired   bool
}

// NewTimer creates a timer for seconds. Either callback may be nil.
func NewTimer(seconds int, onTick func(int), onExpire func()) *Timer {
	return &Timer{
		total:     seconds,
		onTick:    onTick,
		onExpire:  onExpire,
		now:       time.Now,
		newTicker: NewRealTicker,
	}
}

// Start begins the countdown. Starting a running or finished timer is a no-op.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.fired {
		return
	}
	t.running = true
	t.stop = make(chan struct{})
	go t.run(t.now(), t.newTicker(time.Second), t.stop)
}

// Stop cancels the countdown. No callback fires after Stop returns.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	close(t.stop)
}

func (t *Timer) run(start time.Time, ticker Ticker, stop chan struct{}) {
	defer ticker.Stop()

	last := t.total
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C():
			remaining := t.total - int(now.Sub(start)/time.Second)
			if remaining < 0 {
				remaining = 0
			}
			if remaining >= last {
				continue
			}
			last = remaining
			if t.deliver(stop, remaining) {
				return
			}
		}
	}
}

// deliver reports one tick, and the expiry at zero, unless stopped. It
// returns true once the timer is done.
func (t *Timer) deliver(stop chan struct{}, remaining int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-stop:
		return true
	default:
	}

	if t.onTick != nil {
		t.onTick(remaining)
	}
	if remaining > 0 {
		return false
	}
	t.fired = true
	t.running = false
	close(t.stop)
	if t.onExpire != nil {
		t.onExpire()
	}
	return true
}
