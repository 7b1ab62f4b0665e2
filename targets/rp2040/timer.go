//go:build rp2040

package main

import (
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"softpwm/core"
)

// RP2040 TIMER peripheral. The TinyGo runtime sleeps on alarm 0, so the
// tick timer takes alarm 3.
const (
	timerBase     = 0x40054000
	timerALARM3   = timerBase + 0x1c
	timerTIMERAWL = timerBase + 0x28 // raw low word, no latching
	timerINTR     = timerBase + 0x34
	timerINTE     = timerBase + 0x38

	alarm3Bit = 1 << 3

	timerHz      = 1000000
	maxAlarmRate = 100000
)

var (
	alarm3    = (*volatile.Register32)(unsafe.Pointer(uintptr(timerALARM3)))
	rawLow    = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
	intr      = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTR)))
	intEnable = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTE)))
)

// AlarmTimer ticks from TIMER alarm 3. Each interrupt re-arms the alarm one
// period after the previous deadline, so handler latency does not
// accumulate.
type AlarmTimer struct {
	rate     uint32
	periodUs uint32
	deadline uint32
	handler  func()
	irq      interrupt.Interrupt
}

// the interrupt handler must be a top level function
var alarmTimer *AlarmTimer

// NewAlarmTimer creates a timer at rate ticks per second
func NewAlarmTimer(rate uint32) *AlarmTimer {
	return &AlarmTimer{rate: rate}
}

// Setup installs handler and starts the alarm. The rate must divide the
// 1 MHz timer and be at most 100 kHz.
func (t *AlarmTimer) Setup(handler func()) error {
	if t.handler != nil {
		return nil
	}
	if t.rate == 0 || t.rate > maxAlarmRate || timerHz%t.rate != 0 {
		return core.ErrTimerUnavailable
	}

	t.periodUs = timerHz / t.rate
	t.handler = handler
	alarmTimer = t

	t.irq = interrupt.New(rp.IRQ_TIMER_IRQ_3, handleAlarm)
	t.irq.SetPriority(0x00)
	t.Enable()
	return nil
}

func (t *AlarmTimer) TickRate() uint32 {
	return t.rate
}

// Enable re-arms the alarm one period from now
func (t *AlarmTimer) Enable() {
	if t.handler == nil {
		return
	}
	state := interrupt.Disable()
	t.deadline = rawLow.Get() + t.periodUs
	alarm3.Set(t.deadline)
	intEnable.SetBits(alarm3Bit)
	t.irq.Enable()
	interrupt.Restore(state)
}

// Disable masks the alarm interrupt
func (t *AlarmTimer) Disable() {
	intEnable.ClearBits(alarm3Bit)
	intr.Set(alarm3Bit)
}

func handleAlarm(interrupt.Interrupt) {
	t := alarmTimer
	intr.Set(alarm3Bit)

	t.deadline += t.periodUs
	// Fell a whole period behind: restart from now instead of firing
	// a burst of late ticks
	if int32(t.deadline-rawLow.Get()) <= 0 {
		t.deadline = rawLow.Get() + t.periodUs
	}
	alarm3.Set(t.deadline)

	state := interrupt.Disable()
	t.handler()
	interrupt.Restore(state)
}
