package core

import "errors"

// Tick rate bounds
const (
	DefaultTickRate = 50000 // 20us per tick
	MinTickRate     = 2     // at least one HIGH and one LOW tick per period

	microsPerSecond = 1000000
)

// ErrTimerUnavailable is returned when the tick source cannot be configured
// on this platform. Callers should fall back to a hardware PWM backend.
var ErrTimerUnavailable = errors.New("tick timer unavailable")

// TickTimer is the single periodic interrupt shared by every channel.
//
// Implementations call the handler passed to Setup exactly once per tick,
// with interrupts (or the hosted critical section) held for the duration of
// the call.
type TickTimer interface {
	// Setup configures the timer and installs handler. Calling it again
	// after a successful setup is a no-op.
	Setup(handler func()) error

	// TickRate returns the number of ticks per second
	TickRate() uint32

	// Enable resumes tick delivery
	Enable()

	// Disable masks tick delivery; channels freeze at their current level
	Disable()
}

// TicksFromMicros converts microseconds to ticks at rate, rounded to the
// nearest tick.
func TicksFromMicros(us uint32, rate uint32) uint32 {
	return uint32((uint64(us)*uint64(rate) + microsPerSecond/2) / microsPerSecond)
}

// MicrosFromTicks converts ticks at rate to microseconds
func MicrosFromTicks(ticks uint32, rate uint32) uint32 {
	if rate == 0 {
		return 0
	}
	return uint32(uint64(ticks) * microsPerSecond / uint64(rate))
}
