package core

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestStepperClockSteps(t *testing.T) {
	c := qt.New(t)
	reg, timer, gpio := newTestRegistry(10000)
	dir := GPIOPin(9)
	s := NewStepperClock(reg, gpio, 8, &dir, 200)

	c.Assert(s.SetFrequency(100), qt.Equals, ErrStepperNotStarted)
	c.Assert(s.Begin(100), qt.IsNil)
	c.Assert(s.IsRunning(), qt.Equals, false)
	c.Assert(gpio.levels[9], qt.Equals, true)

	c.Assert(s.SetFrequency(1000), qt.IsNil)
	c.Assert(s.IsRunning(), qt.Equals, true)
	gpio.reset()

	// One rising edge per step
	timer.Advance(100)
	rises := 0
	for _, e := range gpio.edges(8, true) {
		if e.level {
			rises++
		}
	}
	c.Assert(rises, qt.Equals, 10)

	c.Assert(s.SetFrequency(0), qt.IsNil)
	c.Assert(s.IsRunning(), qt.Equals, false)
	c.Assert(gpio.levels[8], qt.Equals, false)

	c.Assert(s.On(), qt.IsNil)
	c.Assert(s.IsRunning(), qt.Equals, true)
}

func TestStepperClockRPM(t *testing.T) {
	c := qt.New(t)
	reg, _, gpio := newTestRegistry(50000)
	s := NewStepperClock(reg, gpio, 8, nil, 0)
	c.Assert(s.Begin(1), qt.IsNil)

	c.Assert(s.SetRPM(60), qt.IsNil)
	c.Assert(s.Frequency(), qt.Equals, uint32(200))
	c.Assert(s.RPM(), qt.Equals, uint32(60))

	c.Assert(s.SetRPM(300), qt.IsNil)
	c.Assert(s.Frequency(), qt.Equals, uint32(1000))

	// Above the scheduler limit the rate clamps
	c.Assert(s.SetRPM(60000), qt.IsNil)
	c.Assert(s.Frequency(), qt.Equals, uint32(25000))
}

func TestStepperClockDirection(t *testing.T) {
	c := qt.New(t)
	reg, _, gpio := newTestRegistry(50000)
	dir := GPIOPin(9)
	s := NewStepperClock(reg, gpio, 8, &dir, 200)
	c.Assert(s.Begin(100), qt.IsNil)

	c.Assert(s.Reverse(), qt.IsNil)
	c.Assert(s.Forward(), qt.Equals, false)
	c.Assert(gpio.levels[9], qt.Equals, false)

	c.Assert(s.SetDir(true), qt.IsNil)
	c.Assert(gpio.levels[9], qt.Equals, true)

	s.Release()
	c.Assert(reg.InUse(), qt.Equals, 0)
	c.Assert(s.On(), qt.Equals, ErrStepperNotStarted)
}
