//go:build rp2040

package main

import (
	"machine"
	"time"

	"softpwm/core"
)

// Demo outputs. GPIO 25 is the Pico's on-board LED.
const (
	demoServoPin = machine.GP15
	demoLEDPin   = machine.LED
)

// RunDemoMode sweeps a servo on demoServoPin through the upstream servo
// driver and fades the LED, all on soft PWM channels. It never returns.
func RunDemoMode(reg *core.ChannelRegistry) {
	s, err := NewSoftServo(reg, demoServoPin)
	if err != nil {
		blinkError()
	}

	led, err := reg.Begin(core.GPIOPin(demoLEDPin), 500, 0, true)
	if err != nil {
		blinkError()
	}

	us, step := int16(1000), int16(10)
	var duty uint8
	dir := 1
	for {
		s.SetMicroseconds(us)
		us += step
		if us >= 2000 || us <= 1000 {
			step = -step
		}

		_ = led.SetDutyPercent(duty)
		if duty == 100 {
			dir = -1
		} else if duty == 0 {
			dir = 1
		}
		duty = uint8(int(duty) + dir)

		time.Sleep(20 * time.Millisecond)
	}
}

// blinkError flashes the LED rapidly forever
func blinkError() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(100 * time.Millisecond)
		led.Low()
		time.Sleep(100 * time.Millisecond)
	}
}
