//go:build rp2040

package main

import (
	"machine"

	"tinygo.org/x/drivers/servo"

	"softpwm/core"
)

// softServoPWM satisfies servo.PWM with soft PWM channels, so the upstream
// servo driver can run on any GPIO instead of a PWM slice output.
type softServoPWM struct {
	group *core.PWMGroup
}

var _ servo.PWM = (*softServoPWM)(nil)

func newSoftServoPWM(reg *core.ChannelRegistry) *softServoPWM {
	return &softServoPWM{group: core.NewPWMGroup(reg)}
}

func (p *softServoPWM) Configure(config machine.PWMConfig) error {
	return p.group.Configure(config.Period)
}

func (p *softServoPWM) Channel(pin machine.Pin) (uint8, error) {
	return p.group.Channel(core.GPIOPin(pin))
}

func (p *softServoPWM) Top() uint32 {
	return p.group.Top()
}

// Set has no error return in servo.PWM; an unknown channel is ignored
func (p *softServoPWM) Set(channel uint8, value uint32) {
	_ = p.group.Set(channel, value)
}

func (p *softServoPWM) SetPeriod(period uint64) error {
	return p.group.SetPeriod(period)
}

// NewSoftServo attaches an upstream servo driver to pin
func NewSoftServo(reg *core.ChannelRegistry, pin machine.Pin) (servo.Servo, error) {
	return servo.New(newSoftServoPWM(reg), pin)
}
