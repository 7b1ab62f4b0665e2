package core

// Channel is one software PWM output bound to a GPIO pin. It is created by
// ChannelRegistry.Acquire and stays valid until Release.
//
// All methods are meant to be called from the main line. The tick handler
// reads the scheduling fields concurrently, so every update to them happens
// with interrupts disabled.
type Channel struct {
	reg  *ChannelRegistry
	gpio GPIODriver
	pin  GPIOPin
	slot uint8

	// Direct output register, nil when the driver has none
	port OutputPort
	mask uint32

	// Scheduling state, shared with the tick handler
	active      bool
	level       bool
	tickCounter uint32
	ticksOn     uint32
	ticksTotal  uint32
	pending     bool
	nextOn      uint32
	nextTotal   uint32

	// Configuration, main line only
	released   bool
	ready      bool
	freqHz     uint32
	percent    uint8
	pulseUs    uint32
	microsMode bool
	cfgOn      uint32
	cfgTotal   uint32
}

// drive writes level to the pin. Called from the tick handler and from
// critical sections.
func (c *Channel) drive(level bool) {
	if c.port != nil {
		if level {
			c.port.SetBits(c.mask)
		} else {
			c.port.ClearBits(c.mask)
		}
	} else {
		// No one to report to from interrupt context
		_ = c.gpio.SetPin(c.pin, level)
	}
	c.level = level
}

// startLocked begins a fresh period with the given timing
func (c *Channel) startLocked(on, total uint32) {
	c.ticksOn, c.ticksTotal = on, total
	c.pending = false
	c.tickCounter = 0
	c.drive(true)
	c.active = true
}

// forceLocked stops scheduling and holds the pin at level
func (c *Channel) forceLocked(level bool) {
	c.active = false
	c.pending = false
	c.tickCounter = 0
	c.drive(level)

	var v uint32
	if level {
		v = 1
	}
	RecordEvent(EvtForceLevel, c.pin, c.reg.Ticks(), v, 0)
}

// applyLocked installs new timing. A 0% or 100% result holds the pin
// instead of scheduling it. A running channel picks up the new timing at
// its next period restart.
func (c *Channel) applyLocked(on, total uint32, run bool) {
	c.cfgOn, c.cfgTotal = on, total
	RecordEvent(EvtConfigure, c.pin, c.reg.Ticks(), on, total)

	switch {
	case on == 0:
		c.forceLocked(false)
		c.ticksOn, c.ticksTotal = on, total
	case on >= total:
		c.forceLocked(true)
		c.ticksOn, c.ticksTotal = on, total
	case !run:
		c.active = false
		c.pending = false
		c.tickCounter = 0
		c.ticksOn, c.ticksTotal = on, total
	case c.active:
		if on == c.ticksOn && total == c.ticksTotal {
			c.pending = false
			return
		}
		c.nextOn, c.nextTotal = on, total
		c.pending = true
	default:
		c.startLocked(on, total)
	}
}

// clamp applies the frequency and duty limits. Must be called with
// interrupts disabled.
func (c *Channel) clampLocked(hz uint32) uint32 {
	applied, err := c.reg.ClampFrequency(hz)
	if err != nil {
		RecordEvent(EvtClamp, c.pin, c.reg.Ticks(), hz, applied)
	}
	return applied
}

func clampPercent(pct uint8) uint8 {
	if pct > 100 {
		return 100
	}
	return pct
}

// onTicks returns the HIGH ticks for the current duty request at total
func (c *Channel) onTicks(total uint32) uint32 {
	if !c.microsMode {
		return total * uint32(c.percent) / 100
	}
	if c.pulseUs == 0 {
		return 0
	}
	on := TicksFromMicros(c.pulseUs, c.reg.rate)
	if on > total {
		on = total
	}
	return on
}

// Begin configures the pin as an output and programs the waveform.
// hz is clamped to [1, TickRate/2] and dutyPercent to 100. With autoStart
// the first period starts immediately, otherwise the pin is held LOW until
// On is called.
func (c *Channel) Begin(hz uint32, dutyPercent uint8, autoStart bool) error {
	if c.released {
		return ErrChannelReleased
	}
	if err := c.gpio.ConfigureOutput(c.pin); err != nil {
		return err
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	if c.released {
		return ErrChannelReleased
	}
	c.active = false
	c.pending = false
	c.drive(false)

	c.freqHz = c.clampLocked(hz)
	c.percent = clampPercent(dutyPercent)
	c.microsMode = false
	c.pulseUs = 0
	c.ready = true

	total := c.reg.rate / c.freqHz
	c.applyLocked(c.onTicks(total), total, autoStart)
	return nil
}

// Set reprograms frequency and duty together. active=false stores the
// timing without running it. A channel that was never begun is begun.
func (c *Channel) Set(hz uint32, dutyPercent uint8, active bool) error {
	if c.released {
		return ErrChannelReleased
	}
	if !c.ready {
		return c.Begin(hz, dutyPercent, active)
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	c.freqHz = c.clampLocked(hz)
	c.percent = clampPercent(dutyPercent)
	c.microsMode = false

	total := c.reg.rate / c.freqHz
	c.applyLocked(c.onTicks(total), total, active)
	return nil
}

// SetFrequency changes the period and runs the channel. The duty keeps the
// last requested percentage, or the last pulse width after SetMicros.
func (c *Channel) SetFrequency(hz uint32) error {
	if err := c.usable(); err != nil {
		return err
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	c.freqHz = c.clampLocked(hz)
	total := c.reg.rate / c.freqHz
	on := c.onTicks(total)
	if c.microsMode {
		c.percent = uint8(on * 100 / total)
	}
	c.applyLocked(on, total, true)
	return nil
}

// SetDutyPercent changes the duty at the current frequency and runs the
// channel
func (c *Channel) SetDutyPercent(pct uint8) error {
	if err := c.usable(); err != nil {
		return err
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	c.percent = clampPercent(pct)
	c.microsMode = false
	c.applyLocked(c.onTicks(c.cfgTotal), c.cfgTotal, true)
	return nil
}

// SetMicros sets an absolute HIGH time in microseconds, rounded to the
// nearest tick. 0 holds the pin LOW and a pulse covering the whole period
// holds it HIGH.
func (c *Channel) SetMicros(us uint32) error {
	if err := c.usable(); err != nil {
		return err
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	c.pulseUs = us
	c.microsMode = true
	on := c.onTicks(c.cfgTotal)
	c.percent = uint8(on * 100 / c.cfgTotal)
	c.applyLocked(on, c.cfgTotal, true)
	return nil
}

// On resumes the last configured waveform. A 0% or 100% configuration
// drives the pin LOW or HIGH instead.
func (c *Channel) On() error {
	if err := c.usable(); err != nil {
		return err
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	c.applyLocked(c.cfgOn, c.cfgTotal, true)
	return nil
}

// Off stops scheduling and leaves the pin at its current level
func (c *Channel) Off() error {
	if c.released {
		return ErrChannelReleased
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	c.active = false
	if c.pending {
		c.ticksOn, c.ticksTotal = c.nextOn, c.nextTotal
		c.pending = false
	}
	c.tickCounter = 0
	return nil
}

// High stops scheduling and drives the pin HIGH
func (c *Channel) High() error {
	return c.force(true)
}

// Low stops scheduling and drives the pin LOW
func (c *Channel) Low() error {
	return c.force(false)
}

func (c *Channel) force(level bool) error {
	if c.released {
		return ErrChannelReleased
	}
	if !c.ready {
		if err := c.gpio.ConfigureOutput(c.pin); err != nil {
			return err
		}
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	c.forceLocked(level)
	return nil
}

// Resync applies staged timing now and restarts the period with a HIGH
// edge. It does nothing on a stopped channel.
func (c *Channel) Resync() error {
	if c.released {
		return ErrChannelReleased
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	if !c.active {
		return nil
	}
	if c.pending {
		c.ticksOn, c.ticksTotal = c.nextOn, c.nextTotal
		c.pending = false
	}
	c.tickCounter = 0
	c.drive(true)
	return nil
}

// Release stops the channel and frees its slot. The pin keeps its level.
// Releasing twice is a no-op.
func (c *Channel) Release() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	c.reg.releaseLocked(c)
}

// ReleaseLow drives the pin LOW and frees the slot
func (c *Channel) ReleaseLow() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if !c.released {
		c.drive(false)
	}
	c.reg.releaseLocked(c)
}

func (c *Channel) usable() error {
	if c.released {
		return ErrChannelReleased
	}
	if !c.ready {
		return ErrChannelNotReady
	}
	return nil
}

// Pin returns the GPIO this channel drives
func (c *Channel) Pin() GPIOPin {
	return c.pin
}

// IsActive reports whether the scheduler is toggling the pin
func (c *Channel) IsActive() bool {
	return c.active
}

// IsReady reports whether Begin has run
func (c *Channel) IsReady() bool {
	return c.ready && !c.released
}

// IsReleased reports whether the slot has been given back
func (c *Channel) IsReleased() bool {
	return c.released
}

// Frequency returns the applied frequency after clamping
func (c *Channel) Frequency() uint32 {
	return c.freqHz
}

// PeriodMicroseconds returns the configured period
func (c *Channel) PeriodMicroseconds() uint32 {
	return MicrosFromTicks(c.cfgTotal, c.reg.rate)
}

// PulseMicroseconds returns the configured HIGH time
func (c *Channel) PulseMicroseconds() uint32 {
	return MicrosFromTicks(c.cfgOn, c.reg.rate)
}

// DutyPercent returns the effective duty derived from the tick counts, so
// it reflects rounding and clamping.
func (c *Channel) DutyPercent() float32 {
	if c.cfgTotal == 0 {
		return 0
	}
	return float32(c.cfgOn) * 100 / float32(c.cfgTotal)
}

// Ticks returns the configured HIGH and period tick counts
func (c *Channel) Ticks() (on, total uint32) {
	return c.cfgOn, c.cfgTotal
}

// Level returns the last level written to the pin
func (c *Channel) Level() bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	return c.level
}
