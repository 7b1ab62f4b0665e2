package core

import "sync/atomic"

// Tick advances every active channel by one tick. It is the handler
// installed on the TickTimer and runs with interrupts disabled, so it
// must stay short: integer math and at most one pin write per channel.
func (r *ChannelRegistry) Tick() {
	atomic.AddUint32(&r.ticks, 1)

	for i := range r.slots {
		c := r.slots[i]
		if c == nil || !c.active {
			continue
		}

		c.tickCounter++
		if c.tickCounter >= c.ticksTotal {
			// Period restart: latch staged timing
			if c.pending {
				c.ticksOn, c.ticksTotal = c.nextOn, c.nextTotal
				c.pending = false
			}
			c.tickCounter = 0
			c.drive(true)
		} else if c.tickCounter >= c.ticksOn && c.level {
			c.drive(false)
		}
	}
}

// Pause masks tick delivery. Active channels freeze at their current level.
func (r *ChannelRegistry) Pause() {
	r.timer.Disable()
}

// Resume restarts tick delivery after Pause
func (r *ChannelRegistry) Resume() {
	r.timer.Enable()
}
