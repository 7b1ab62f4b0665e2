// Package serial opens the link to a soft PWM controller
package serial

import "io"

// Port is a byte stream to the controller. USB CDC devices, real UARTs
// and in-memory pipes in tests all satisfy it.
type Port interface {
	io.ReadWriteCloser

	// Flush pushes any buffered output to the device
	Flush() error
}

// Config holds serial port settings
type Config struct {
	// Device path, e.g. /dev/ttyACM0 or COM3
	Device string

	// Baud rate. USB CDC ignores it.
	Baud int

	// ReadTimeout in milliseconds. 0 blocks.
	ReadTimeout int
}

// DefaultBaud is the rate used when none is configured
const DefaultBaud = 250000

// DefaultConfig returns settings for a USB CDC controller on device
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}
