//go:build rp2040

package main

import "softpwm/core"

// ModeConfig determines which mode to run
type ModeConfig struct {
	// Demo runs a local servo sweep and LED fade instead of waiting for
	// host commands
	Demo bool

	// TickRate of the soft PWM engine. Must divide 1 MHz.
	TickRate uint32
}

// GetMode returns the build's mode configuration
func GetMode() ModeConfig {
	return ModeConfig{
		Demo:     false,
		TickRate: core.DefaultTickRate,
	}
}
