package core

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestTickFiftyHertzPeriod(t *testing.T) {
	c := qt.New(t)
	reg, timer, gpio := newTestRegistry(31250)

	ch, err := reg.Begin(4, 50, 50, true)
	c.Assert(err, qt.IsNil)

	on, total := ch.Ticks()
	c.Assert(total, qt.Equals, uint32(625))
	c.Assert(on, qt.Equals, uint32(312))
	c.Assert(ch.Level(), qt.Equals, true)

	gpio.reset()
	timer.Advance(625)

	edges := gpio.edges(4, true)
	c.Assert(edges, qt.HasLen, 2)
	c.Assert(edges[0].level, qt.Equals, false)
	c.Assert(edges[0].tick, qt.Equals, uint32(312))
	c.Assert(edges[1].level, qt.Equals, true)
	c.Assert(edges[1].tick, qt.Equals, uint32(625))
}

func TestTickSteadyStateDuty(t *testing.T) {
	c := qt.New(t)
	reg, timer, gpio := newTestRegistry(50000)

	_, err := reg.Begin(2, 1000, 25, true)
	c.Assert(err, qt.IsNil)
	gpio.reset()

	// 50 ticks per period, 12 HIGH
	timer.Advance(50 * 10)
	edges := gpio.edges(2, true)
	c.Assert(edges, qt.HasLen, 20)
	for i := 0; i+1 < len(edges); i += 2 {
		fall, rise := edges[i], edges[i+1]
		c.Assert(fall.level, qt.Equals, false)
		c.Assert(rise.level, qt.Equals, true)
		c.Assert(rise.tick-fall.tick, qt.Equals, uint32(38))
	}
}

func TestTickSkipsRedundantLowWrites(t *testing.T) {
	c := qt.New(t)
	reg, timer, gpio := newTestRegistry(1000)

	_, err := reg.Begin(1, 100, 30, true)
	c.Assert(err, qt.IsNil)
	gpio.reset()

	timer.Advance(10)
	// One LOW at tick 3, one HIGH at tick 10
	c.Assert(gpio.writesTo(1), qt.Equals, 2)
}

func TestTickIndependentPeriods(t *testing.T) {
	c := qt.New(t)
	reg, timer, gpio := newTestRegistry(10000)

	_, err := reg.Begin(1, 100, 50, true) // 100 ticks
	c.Assert(err, qt.IsNil)
	timer.Advance(7)
	_, err = reg.Begin(2, 300, 50, true) // 33 ticks
	c.Assert(err, qt.IsNil)
	gpio.reset()

	timer.Advance(1000)

	rises := func(pin GPIOPin) []uint32 {
		var out []uint32
		for _, e := range gpio.edges(pin, true) {
			if e.level {
				out = append(out, e.tick)
			}
		}
		return out
	}

	r1, r2 := rises(1), rises(2)
	c.Assert(len(r1) >= 9, qt.Equals, true)
	c.Assert(len(r2) >= 29, qt.Equals, true)
	for i := 1; i < len(r1); i++ {
		c.Assert(r1[i]-r1[i-1], qt.Equals, uint32(100))
	}
	for i := 1; i < len(r2); i++ {
		c.Assert(r2[i]-r2[i-1], qt.Equals, uint32(33))
	}
	// Phase follows each channel's own start
	c.Assert(r1[0]%100, qt.Equals, uint32(0))
	c.Assert((r2[0]-7)%33, qt.Equals, uint32(0))
}

func TestTickInactiveChannelUntouched(t *testing.T) {
	c := qt.New(t)
	reg, timer, gpio := newTestRegistry(1000)

	ch, err := reg.Begin(3, 100, 50, false)
	c.Assert(err, qt.IsNil)
	c.Assert(ch.IsActive(), qt.Equals, false)
	c.Assert(ch.Level(), qt.Equals, false)
	gpio.reset()

	timer.Advance(100)
	c.Assert(gpio.writesTo(3), qt.Equals, 0)
}

func TestTickLatchesPendingTimingAtPeriodEnd(t *testing.T) {
	c := qt.New(t)
	reg, timer, gpio := newTestRegistry(1000)

	ch, err := reg.Begin(5, 100, 50, true) // 10 ticks, 5 on
	c.Assert(err, qt.IsNil)
	timer.Advance(3)

	c.Assert(ch.SetFrequency(50), qt.IsNil) // 20 ticks, 10 on
	on, total := ch.Ticks()
	c.Assert(on, qt.Equals, uint32(10))
	c.Assert(total, qt.Equals, uint32(20))
	gpio.reset()

	// The current period still ends after 10 ticks
	timer.Advance(7)
	edges := gpio.edges(5, true)
	c.Assert(edges, qt.HasLen, 2)
	c.Assert(edges[0].tick, qt.Equals, uint32(5))
	c.Assert(edges[1].tick, qt.Equals, uint32(10))

	// Then the new period runs
	gpio.reset()
	timer.Advance(20)
	edges = gpio.edges(5, true)
	c.Assert(edges, qt.HasLen, 2)
	c.Assert(edges[0].tick, qt.Equals, uint32(20))
	c.Assert(edges[1].tick, qt.Equals, uint32(30))
}

func TestResyncAppliesTimingNow(t *testing.T) {
	c := qt.New(t)
	reg, timer, gpio := newTestRegistry(1000)

	ch, err := reg.Begin(5, 100, 50, true)
	c.Assert(err, qt.IsNil)
	timer.Advance(7) // LOW since tick 5

	c.Assert(ch.SetFrequency(50), qt.IsNil)
	gpio.reset()
	c.Assert(ch.Resync(), qt.IsNil)
	c.Assert(ch.Level(), qt.Equals, true)

	timer.Advance(20)
	edges := gpio.edges(5, false)
	c.Assert(edges, qt.HasLen, 3)
	c.Assert(edges[0].tick, qt.Equals, uint32(7))  // resync
	c.Assert(edges[1].tick, qt.Equals, uint32(17)) // 10 on
	c.Assert(edges[2].tick, qt.Equals, uint32(27)) // 20 total
}

func TestTickUsesFastPort(t *testing.T) {
	c := qt.New(t)
	gpio := newFastFakeGPIO()
	timer := NewManualTimer(1000)
	reg := NewChannelRegistry(gpio, timer)
	gpio.clock = reg.Ticks

	fast, err := reg.Begin(6, 100, 50, true)
	c.Assert(err, qt.IsNil)
	slow, err := reg.Begin(40, 100, 50, true)
	c.Assert(err, qt.IsNil)

	gpio.reset()
	gpio.setCalls = 0
	timer.Advance(10)

	c.Assert(gpio.edges(6, true), qt.HasLen, 2)
	c.Assert(gpio.edges(40, true), qt.HasLen, 2)
	// Only the pin without a register goes through SetPin
	c.Assert(gpio.setCalls, qt.Equals, 2)
	c.Assert(fast.Level(), qt.Equals, true)
	c.Assert(slow.Level(), qt.Equals, true)
}

func TestTimerPauseFreezesOutputs(t *testing.T) {
	c := qt.New(t)
	reg, timer, gpio := newTestRegistry(1000)

	_, err := reg.Begin(1, 100, 50, true)
	c.Assert(err, qt.IsNil)
	gpio.reset()

	reg.Pause()
	timer.Advance(50)
	c.Assert(gpio.writesTo(1), qt.Equals, 0)
	c.Assert(reg.Ticks(), qt.Equals, uint32(0))

	reg.Resume()
	timer.Advance(10)
	c.Assert(gpio.writesTo(1), qt.Equals, 2)
}
