//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// criticalMu stands in for the interrupt mask on hosted builds, where ticks
// are delivered from a goroutine instead of an interrupt handler.
var criticalMu sync.Mutex

// disableInterrupts enters the critical section shared with the tick goroutine
func disableInterrupts() State {
	criticalMu.Lock()
	return 0
}

// restoreInterrupts leaves the critical section
func restoreInterrupts(state State) {
	criticalMu.Unlock()
}
