package core

import (
	"errors"
	"sync/atomic"
)

// MaxChannels is the number of soft-PWM slots. Every active channel costs
// time in the tick handler, so keep this small.
const MaxChannels = 8

var (
	ErrSlotsExhausted       = errors.New("no free soft pwm slot")
	ErrPinInUse             = errors.New("pin already owns a soft pwm slot")
	ErrChannelReleased      = errors.New("soft pwm channel released")
	ErrChannelNotReady      = errors.New("soft pwm channel not begun")
	ErrUnsupportedFrequency = errors.New("pwm frequency out of range")
)

// ChannelRegistry owns the fixed table of channels that share one tick
// timer. Create it once at startup and hand it to both the configuration
// code and the timer.
type ChannelRegistry struct {
	gpio  GPIODriver
	fast  FastGPIODriver
	timer TickTimer
	rate  uint32

	timerReady bool

	// Shared with the tick handler; mutate only with interrupts disabled
	slots [MaxChannels]*Channel

	ticks uint32 // atomic
}

// NewChannelRegistry creates an empty registry writing pins through gpio and
// ticking from timer. The timer is not started until the first acquisition.
func NewChannelRegistry(gpio GPIODriver, timer TickTimer) *ChannelRegistry {
	r := &ChannelRegistry{
		gpio:  gpio,
		timer: timer,
		rate:  timer.TickRate(),
	}
	if fast, ok := gpio.(FastGPIODriver); ok {
		r.fast = fast
	}
	return r
}

// ensureTimer installs the tick handler on first use
func (r *ChannelRegistry) ensureTimer() error {
	if r.timerReady {
		return nil
	}
	if r.rate < MinTickRate {
		return ErrTimerUnavailable
	}
	if err := r.timer.Setup(r.Tick); err != nil {
		return err
	}
	r.timerReady = true
	return nil
}

// Acquire claims a free slot for pin. The new channel is inactive until it
// is begun.
func (r *ChannelRegistry) Acquire(pin GPIOPin) (*Channel, error) {
	if err := r.ensureTimer(); err != nil {
		return nil, err
	}

	ch := &Channel{
		reg:  r,
		pin:  pin,
		gpio: r.gpio,
	}
	if r.fast != nil {
		if port, mask, ok := r.fast.OutputPort(pin); ok {
			ch.port = port
			ch.mask = mask
		}
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	free := -1
	for i := range r.slots {
		c := r.slots[i]
		if c == nil {
			if free < 0 {
				free = i
			}
			continue
		}
		if c.pin == pin {
			return nil, ErrPinInUse
		}
	}
	if free < 0 {
		RecordEvent(EvtSlotsExhausted, pin, r.Ticks(), 0, 0)
		return nil, ErrSlotsExhausted
	}

	ch.slot = uint8(free)
	r.slots[free] = ch
	RecordEvent(EvtAcquire, pin, r.Ticks(), uint32(free), 0)
	return ch, nil
}

// Begin acquires a slot for pin and configures it in one step. If the
// configuration fails the slot is released again.
func (r *ChannelRegistry) Begin(pin GPIOPin, freqHz uint32, dutyPercent uint8, autoStart bool) (*Channel, error) {
	ch, err := r.Acquire(pin)
	if err != nil {
		return nil, err
	}
	if err := ch.Begin(freqHz, dutyPercent, autoStart); err != nil {
		ch.Release()
		return nil, err
	}
	return ch, nil
}

// Release frees the slot held by ch. It is the same as ch.Release().
func (r *ChannelRegistry) Release(ch *Channel) {
	if ch == nil || ch.reg != r {
		return
	}
	ch.Release()
}

// releaseLocked frees the slot held by ch. Must be called with interrupts
// disabled.
func (r *ChannelRegistry) releaseLocked(ch *Channel) {
	ch.active = false
	ch.pending = false
	if ch.released {
		return
	}
	ch.released = true
	if r.slots[ch.slot] == ch {
		r.slots[ch.slot] = nil
	}
	RecordEvent(EvtRelease, ch.pin, r.Ticks(), uint32(ch.slot), 0)
}

// Lookup returns the channel currently bound to pin
func (r *ChannelRegistry) Lookup(pin GPIOPin) (*Channel, bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for i := range r.slots {
		if c := r.slots[i]; c != nil && c.pin == pin {
			return c, true
		}
	}
	return nil, false
}

// Channels returns the occupied slots in slot order
func (r *ChannelRegistry) Channels() []*Channel {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	out := make([]*Channel, 0, MaxChannels)
	for i := range r.slots {
		if c := r.slots[i]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

// InUse returns the number of occupied slots
func (r *ChannelRegistry) InUse() int {
	return len(r.Channels())
}

// Capacity returns the total number of slots
func (r *ChannelRegistry) Capacity() int {
	return MaxChannels
}

// TickRate returns the scheduler tick rate in Hz
func (r *ChannelRegistry) TickRate() uint32 {
	return r.rate
}

// MaxFrequency returns the highest representable PWM frequency
func (r *ChannelRegistry) MaxFrequency() uint32 {
	return r.rate / 2
}

// Ticks returns the number of ticks delivered since the timer started
func (r *ChannelRegistry) Ticks() uint32 {
	return atomic.LoadUint32(&r.ticks)
}

// ClampFrequency limits hz to [1, TickRate/2]. The returned error is
// ErrUnsupportedFrequency when clamping was needed.
func (r *ChannelRegistry) ClampFrequency(hz uint32) (uint32, error) {
	if hz == 0 {
		return 1, ErrUnsupportedFrequency
	}
	if max := r.MaxFrequency(); hz > max {
		return max, ErrUnsupportedFrequency
	}
	return hz, nil
}

// Shutdown drives every channel low and frees all slots
func (r *ChannelRegistry) Shutdown() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for i := range r.slots {
		c := r.slots[i]
		if c == nil {
			continue
		}
		c.active = false
		c.drive(false)
		r.releaseLocked(c)
	}
	RecordEvent(EvtShutdown, 0, r.Ticks(), 0, 0)
}
