package core

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// GPIODriver is the abstract GPIO interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output
	ConfigureOutput(pin GPIOPin) error

	// SetPin sets the pin to high (true) or low (false).
	// It may be called from the tick handler and must not block.
	SetPin(pin GPIOPin, value bool) error

	// GetPin reads the current pin state
	GetPin(pin GPIOPin) (bool, error)
}

// OutputPort is a memory-mapped output register. SetBits and ClearBits
// must only touch the bits in mask.
type OutputPort interface {
	SetBits(mask uint32)
	ClearBits(mask uint32)
}

// FastGPIODriver is implemented by drivers that can expose the raw output
// register of a pin. Channels acquired on such a driver are toggled through
// the register from the tick handler instead of through SetPin.
type FastGPIODriver interface {
	GPIODriver

	// OutputPort returns the register and bit mask driving pin.
	// ok is false when the pin has no direct register.
	OutputPort(pin GPIOPin) (port OutputPort, mask uint32, ok bool)
}
