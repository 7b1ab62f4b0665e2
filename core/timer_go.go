//go:build !tinygo

package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// MaxTickerRate is the highest tick rate TickerTimer accepts. The Go runtime
// cannot wake a goroutine reliably more often than this.
const MaxTickerRate = 20000

// TickerTimer delivers ticks from a goroutine driven by time.Ticker. It is
// the tick source for Linux boards, where there is no timer interrupt to
// hook. Expect tens of microseconds of jitter.
type TickerTimer struct {
	rate    uint32
	enabled atomic.Bool

	mu      sync.Mutex
	handler func()
	stop    chan struct{}
	done    chan struct{}
}

// NewTickerTimer creates a ticker-based timer at rate ticks per second
func NewTickerTimer(rate uint32) *TickerTimer {
	return &TickerTimer{rate: rate}
}

// Setup starts the tick goroutine
func (t *TickerTimer) Setup(handler func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handler != nil {
		return nil
	}
	if t.rate < MinTickRate || t.rate > MaxTickerRate || handler == nil {
		return ErrTimerUnavailable
	}

	t.handler = handler
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.enabled.Store(true)
	go t.run()
	return nil
}

func (t *TickerTimer) run() {
	defer close(t.done)

	ticker := time.NewTicker(time.Second / time.Duration(t.rate))
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			state := disableInterrupts()
			t.handler()
			restoreInterrupts(state)
		}
	}
}

// TickRate returns the configured tick rate
func (t *TickerTimer) TickRate() uint32 {
	return t.rate
}

// Enable resumes tick delivery
func (t *TickerTimer) Enable() {
	t.enabled.Store(true)
}

// Disable pauses tick delivery
func (t *TickerTimer) Disable() {
	t.enabled.Store(false)
}

// Close stops the tick goroutine and waits for it to exit
func (t *TickerTimer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handler == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.handler = nil
}
