package core

import "strconv"

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// ChannelEvent captures a channel lifecycle event for post-mortem analysis
type ChannelEvent struct {
	EventType uint8
	Pin       GPIOPin
	Tick      uint32 // Registry tick count at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtAcquire        = 1 // Slot claimed (v1=slot)
	EvtRelease        = 2 // Slot freed (v1=slot)
	EvtConfigure      = 3 // Timing written (v1=ticksOn, v2=ticksTotal)
	EvtForceLevel     = 4 // Pin forced, scheduling stopped (v1=level)
	EvtClamp          = 5 // Frequency clamped (v1=requested, v2=applied)
	EvtSlotsExhausted = 6 // Acquire failed
	EvtShutdown       = 7 // All channels released
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// Disabled by default; enable with set_debug enable=1
	debugEnabled bool = false

	// Event ring. Written only with interrupts disabled.
	eventRing     [EventRingSize]ChannelEvent
	eventRingHead uint8
	eventsEnabled bool = true

	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine.
// Call this from main() after SetDebugWriter.
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer.
// Once InitAsyncDebug has run, messages go through the async queue so a
// slow writer never stalls the caller.
func DebugPrintln(msg string) {
	if !debugEnabled || debugPrintln == nil {
		return
	}
	if debugChan != nil {
		DebugAsync(msg)
		return
	}
	debugPrintln(msg)
}

// DebugAsync queues a debug message for async output.
// The message is dropped if the queue is full.
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// RecordEvent stores an event in the ring buffer. Callers must hold the
// critical section.
func RecordEvent(eventType uint8, pin GPIOPin, tick, value1, value2 uint32) {
	if !eventsEnabled {
		return
	}
	idx := eventRingHead
	eventRing[idx] = ChannelEvent{
		EventType: eventType,
		Pin:       pin,
		Tick:      tick,
		Value1:    value1,
		Value2:    value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// Events returns a copy of the recorded events, oldest first
func Events() []ChannelEvent {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	out := make([]ChannelEvent, 0, EventRingSize)
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(start+i)%EventRingSize]
		if evt.EventType == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func eventName(t uint8) string {
	switch t {
	case EvtAcquire:
		return "ACQUIRE"
	case EvtRelease:
		return "RELEASE"
	case EvtConfigure:
		return "CONFIGURE"
	case EvtForceLevel:
		return "FORCE"
	case EvtClamp:
		return "CLAMP"
	case EvtSlotsExhausted:
		return "NO_SLOT!"
	case EvtShutdown:
		return "SHUTDOWN"
	}
	return "UNKNOWN"
}

// DumpEvents writes the event ring through the debug writer
func DumpEvents() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[PWM] === Event Ring Dump ===")
	for _, evt := range Events() {
		debugPrintln("[PWM] " + eventName(evt.EventType) +
			" pin=" + strconv.FormatUint(uint64(evt.Pin), 10) +
			" tick=" + strconv.FormatUint(uint64(evt.Tick), 10) +
			" v1=" + strconv.FormatUint(uint64(evt.Value1), 10) +
			" v2=" + strconv.FormatUint(uint64(evt.Value2), 10))
	}
	debugPrintln("[PWM] === End Dump ===")
}

// ClearEvents empties the event ring
func ClearEvents() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for i := range eventRing {
		eventRing[i] = ChannelEvent{}
	}
	eventRingHead = 0
}
