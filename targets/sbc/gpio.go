package main

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"softpwm/core"
)

// PeriphGPIO drives pins by BCM number through periph.io. Pin n is looked
// up as "GPIO<n>" in the periph registry.
type PeriphGPIO struct {
	mu   sync.Mutex
	pins map[core.GPIOPin]gpio.PinIO
}

func NewPeriphGPIO() *PeriphGPIO {
	return &PeriphGPIO{pins: make(map[core.GPIOPin]gpio.PinIO)}
}

func (g *PeriphGPIO) lookup(pin core.GPIOPin) (gpio.PinIO, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.pins[pin]; ok {
		return p, nil
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return nil, fmt.Errorf("no pin GPIO%d", pin)
	}
	g.pins[pin] = p
	return p, nil
}

// ConfigureOutput switches the pin to an output driven LOW
func (g *PeriphGPIO) ConfigureOutput(pin core.GPIOPin) error {
	p, err := g.lookup(pin)
	if err != nil {
		return err
	}
	if err := p.Out(gpio.Low); err != nil {
		return fmt.Errorf("GPIO%d: %w", pin, err)
	}
	return nil
}

func (g *PeriphGPIO) SetPin(pin core.GPIOPin, value bool) error {
	p, err := g.lookup(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(value))
}

func (g *PeriphGPIO) GetPin(pin core.GPIOPin) (bool, error) {
	p, err := g.lookup(pin)
	if err != nil {
		return false, err
	}
	return p.Read() == gpio.High, nil
}
