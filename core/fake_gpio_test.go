package core

import "errors"

// pinWrite is one level written to a pin, stamped with the registry tick
type pinWrite struct {
	tick  uint32
	pin   GPIOPin
	level bool
}

// fakeGPIO records every pin write
type fakeGPIO struct {
	clock      func() uint32
	levels     map[GPIOPin]bool
	configured map[GPIOPin]bool
	writes     []pinWrite
	badPins    map[GPIOPin]bool
}

var errBadPin = errors.New("pin cannot be an output")

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{
		levels:     make(map[GPIOPin]bool),
		configured: make(map[GPIOPin]bool),
		badPins:    make(map[GPIOPin]bool),
	}
}

func (g *fakeGPIO) ConfigureOutput(pin GPIOPin) error {
	if g.badPins[pin] {
		return errBadPin
	}
	g.configured[pin] = true
	return nil
}

func (g *fakeGPIO) SetPin(pin GPIOPin, value bool) error {
	g.record(pin, value)
	return nil
}

func (g *fakeGPIO) GetPin(pin GPIOPin) (bool, error) {
	return g.levels[pin], nil
}

func (g *fakeGPIO) record(pin GPIOPin, value bool) {
	var tick uint32
	if g.clock != nil {
		tick = g.clock()
	}
	g.levels[pin] = value
	g.writes = append(g.writes, pinWrite{tick: tick, pin: pin, level: value})
}

func (g *fakeGPIO) reset() {
	g.writes = nil
}

// edges returns the level changes seen on pin since the last reset,
// starting from level before
func (g *fakeGPIO) edges(pin GPIOPin, before bool) []pinWrite {
	var out []pinWrite
	level := before
	for _, w := range g.writes {
		if w.pin != pin || w.level == level {
			continue
		}
		level = w.level
		out = append(out, w)
	}
	return out
}

// writesTo counts writes to pin since the last reset
func (g *fakeGPIO) writesTo(pin GPIOPin) int {
	n := 0
	for _, w := range g.writes {
		if w.pin == pin {
			n++
		}
	}
	return n
}

// fakePort is a 32 bit output register
type fakePort struct {
	gpio *fastFakeGPIO
}

func (p *fakePort) SetBits(mask uint32)   { p.gpio.apply(mask, true) }
func (p *fakePort) ClearBits(mask uint32) { p.gpio.apply(mask, false) }

// fastFakeGPIO exposes pins 0-31 through a fakePort
type fastFakeGPIO struct {
	*fakeGPIO
	port     *fakePort
	setCalls int
}

func newFastFakeGPIO() *fastFakeGPIO {
	g := &fastFakeGPIO{fakeGPIO: newFakeGPIO()}
	g.port = &fakePort{gpio: g}
	return g
}

func (g *fastFakeGPIO) SetPin(pin GPIOPin, value bool) error {
	g.setCalls++
	return g.fakeGPIO.SetPin(pin, value)
}

func (g *fastFakeGPIO) OutputPort(pin GPIOPin) (OutputPort, uint32, bool) {
	if pin >= 32 {
		return nil, 0, false
	}
	return g.port, 1 << pin, true
}

func (g *fastFakeGPIO) apply(mask uint32, level bool) {
	for pin := GPIOPin(0); pin < 32; pin++ {
		if mask&(1<<pin) != 0 {
			g.record(pin, level)
		}
	}
}

// newTestRegistry builds a registry on a manual timer
func newTestRegistry(rate uint32) (*ChannelRegistry, *ManualTimer, *fakeGPIO) {
	gpio := newFakeGPIO()
	timer := NewManualTimer(rate)
	reg := NewChannelRegistry(gpio, timer)
	gpio.clock = reg.Ticks
	return reg, timer, gpio
}
