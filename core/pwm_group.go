package core

import "errors"

// DefaultPWMPeriod is the period of a new PWMGroup in nanoseconds (50 Hz)
const DefaultPWMPeriod = 20000000

const nanosPerSecond = 1000000000

// ErrNoSuchPWMChannel is returned for a group channel index never handed out
var ErrNoSuchPWMChannel = errors.New("no such pwm group channel")

// PWMGroup presents soft PWM channels through the period, top and value
// model of a hardware PWM slice. Every channel in a group shares the
// group's period, and values are counted in ticks out of Top.
type PWMGroup struct {
	reg      *ChannelRegistry
	periodNs uint64
	hz       uint32
	channels []*Channel
}

// NewPWMGroup creates an empty group with the default period
func NewPWMGroup(reg *ChannelRegistry) *PWMGroup {
	g := &PWMGroup{reg: reg}
	g.periodNs, g.hz = DefaultPWMPeriod, nanosPerSecond/DefaultPWMPeriod
	return g
}

// Configure sets the group period. Zero keeps the current one.
func (g *PWMGroup) Configure(periodNs uint64) error {
	if periodNs == 0 {
		return nil
	}
	return g.SetPeriod(periodNs)
}

// SetPeriod changes the period of every channel in the group. Pulse
// widths already set are kept.
func (g *PWMGroup) SetPeriod(periodNs uint64) error {
	if periodNs == 0 {
		return ErrUnsupportedFrequency
	}
	hz := uint32((nanosPerSecond + periodNs/2) / periodNs)
	if _, err := g.reg.ClampFrequency(hz); err != nil {
		return err
	}

	g.periodNs, g.hz = periodNs, hz
	for _, ch := range g.channels {
		if err := ch.SetFrequency(hz); err != nil {
			return err
		}
	}
	return nil
}

// Period returns the group period in nanoseconds
func (g *PWMGroup) Period() uint64 {
	return g.periodNs
}

// Channel adds pin to the group, LOW, and returns its index. A pin
// already in the group returns its existing index.
func (g *PWMGroup) Channel(pin GPIOPin) (uint8, error) {
	for i, ch := range g.channels {
		if ch.Pin() == pin {
			return uint8(i), nil
		}
	}
	ch, err := g.reg.Begin(pin, g.hz, 0, false)
	if err != nil {
		return 0, err
	}
	g.channels = append(g.channels, ch)
	return uint8(len(g.channels) - 1), nil
}

// Top returns the value that holds a channel HIGH for the whole period
func (g *PWMGroup) Top() uint32 {
	return g.reg.TickRate() / g.hz
}

// Set sets a channel's HIGH time in ticks out of Top. Zero holds the pin
// LOW and Top or more holds it HIGH.
func (g *PWMGroup) Set(channel uint8, value uint32) error {
	if int(channel) >= len(g.channels) {
		return ErrNoSuchPWMChannel
	}
	ch := g.channels[channel]
	if top := g.Top(); value > top {
		value = top
	}
	return ch.SetMicros(MicrosFromTicks(value, g.reg.TickRate()))
}

// Get returns a channel's HIGH time in ticks
func (g *PWMGroup) Get(channel uint8) uint32 {
	if int(channel) >= len(g.channels) {
		return 0
	}
	on, _ := g.channels[channel].Ticks()
	return on
}

// Close releases every channel in the group, driving each LOW
func (g *PWMGroup) Close() {
	for _, ch := range g.channels {
		ch.ReleaseLow()
	}
	g.channels = nil
}
