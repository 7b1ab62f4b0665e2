package firmware

import (
	"errors"
	"sync"

	"softpwm/core"
)

// ErrNoSuchPin is returned for pins beyond a MemGPIO's range
var ErrNoSuchPin = errors.New("no such pin")

// MemGPIO is a GPIO driver that only remembers levels. It lets the engine
// run where there is no hardware, and counts rising edges so a caller can
// watch the waveform.
type MemGPIO struct {
	mu     sync.Mutex
	pins   int
	output map[core.GPIOPin]bool
	levels map[core.GPIOPin]bool
	rises  map[core.GPIOPin]uint64
}

// NewMemGPIO creates a driver with pins numbered 0..pins-1
func NewMemGPIO(pins int) *MemGPIO {
	return &MemGPIO{
		pins:   pins,
		output: make(map[core.GPIOPin]bool),
		levels: make(map[core.GPIOPin]bool),
		rises:  make(map[core.GPIOPin]uint64),
	}
}

func (g *MemGPIO) ConfigureOutput(pin core.GPIOPin) error {
	if int(pin) >= g.pins {
		return ErrNoSuchPin
	}
	g.mu.Lock()
	g.output[pin] = true
	g.mu.Unlock()
	return nil
}

func (g *MemGPIO) SetPin(pin core.GPIOPin, value bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if value && !g.levels[pin] {
		g.rises[pin]++
	}
	g.levels[pin] = value
	return nil
}

func (g *MemGPIO) GetPin(pin core.GPIOPin) (bool, error) {
	if int(pin) >= g.pins {
		return false, ErrNoSuchPin
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levels[pin], nil
}

// Level returns the last level written to pin
func (g *MemGPIO) Level(pin core.GPIOPin) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levels[pin]
}

// Rises returns the number of LOW to HIGH transitions seen on pin
func (g *MemGPIO) Rises(pin core.GPIOPin) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rises[pin]
}

// IsOutput reports whether pin was configured as an output
func (g *MemGPIO) IsOutput(pin core.GPIOPin) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.output[pin]
}
