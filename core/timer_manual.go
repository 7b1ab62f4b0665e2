package core

// ManualTimer is a TickTimer that only ticks when told to. Tests and
// simulations use it to step the scheduler deterministically.
type ManualTimer struct {
	rate     uint32
	handler  func()
	enabled  bool
	installs int
}

// NewManualTimer creates a manual timer reporting rate ticks per second
func NewManualTimer(rate uint32) *ManualTimer {
	return &ManualTimer{rate: rate}
}

// Setup installs the tick handler once
func (t *ManualTimer) Setup(handler func()) error {
	if t.handler != nil {
		return nil
	}
	if t.rate < MinTickRate || handler == nil {
		return ErrTimerUnavailable
	}
	t.handler = handler
	t.enabled = true
	t.installs++
	return nil
}

// TickRate returns the reported tick rate
func (t *ManualTimer) TickRate() uint32 {
	return t.rate
}

// Enable resumes tick delivery
func (t *ManualTimer) Enable() {
	t.enabled = true
}

// Disable drops ticks until Enable is called
func (t *ManualTimer) Disable() {
	t.enabled = false
}

// Installs reports how many times a handler was installed
func (t *ManualTimer) Installs() int {
	return t.installs
}

// Advance delivers n ticks, each inside its own critical section
func (t *ManualTimer) Advance(n int) {
	for i := 0; i < n; i++ {
		state := disableInterrupts()
		if t.enabled && t.handler != nil {
			t.handler()
		}
		restoreInterrupts(state)
	}
}
