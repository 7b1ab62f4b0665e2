//go:build rp2040

package main

import (
	"errors"
	"machine"
	"runtime/volatile"
	"unsafe"

	"softpwm/core"
)

const numGPIO = 30

// SIO single-cycle output set and clear registers
const (
	sioGPIOOutSet = 0xd0000014
	sioGPIOOutClr = 0xd0000018
)

var errBadPin = errors.New("no such gpio")

// sioPort drives GPIO0-29 through the SIO set/clear registers
type sioPort struct {
	set *volatile.Register32
	clr *volatile.Register32
}

func (p *sioPort) SetBits(mask uint32)   { p.set.Set(mask) }
func (p *sioPort) ClearBits(mask uint32) { p.clr.Set(mask) }

var sio = &sioPort{
	set: (*volatile.Register32)(unsafe.Pointer(uintptr(sioGPIOOutSet))),
	clr: (*volatile.Register32)(unsafe.Pointer(uintptr(sioGPIOOutClr))),
}

// RPGPIODriver drives RP2040 pins. Channels toggle pins through the SIO
// registers; SetPin is used for everything else.
type RPGPIODriver struct {
	configured uint32 // bit per configured output
}

func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{}
}

// ConfigureOutput configures a pin as a digital output. Configuring a
// pin twice is fine.
func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	if pin >= numGPIO {
		return errBadPin
	}
	if d.configured&(1<<pin) != 0 {
		return nil
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	d.configured |= 1 << pin
	return nil
}

// SetPin sets the pin to high (true) or low (false)
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	if pin >= numGPIO {
		return errBadPin
	}
	machine.Pin(pin).Set(value)
	return nil
}

// GetPin reads the current pin state
func (d *RPGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	if pin >= numGPIO {
		return false, errBadPin
	}
	return machine.Pin(pin).Get(), nil
}

// OutputPort exposes the SIO registers to the tick handler
func (d *RPGPIODriver) OutputPort(pin core.GPIOPin) (core.OutputPort, uint32, bool) {
	if pin >= numGPIO {
		return nil, 0, false
	}
	return sio, 1 << pin, true
}
