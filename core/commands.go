package core

import (
	"sync/atomic"

	"softpwm/protocol"
)

// ResponseSender frames and queues a firmware-to-host message.
// *protocol.Transport implements it.
type ResponseSender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

// FirmwareState holds the global firmware state
type FirmwareState struct {
	configCRC  uint32 // atomic
	isShutdown uint32 // atomic bool
}

var globalState = &FirmwareState{}

// InitCoreCommands registers the protocol commands every build carries.
// identify_response and identify must keep ids 0 and 1; the host sends
// identify before it has a dictionary.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")       // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("reset", "", handleReset)
	RegisterCommand("set_debug", "enable=%c", handleSetDebug)
	RegisterCommand("dump_events", "", handleDumpEvents)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c")
	RegisterResponse("shutdown", "reason=%*s")
}

// handleIdentify returns one chunk of the data dictionary
// Format: identify offset=%u count=%c
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

// handleGetClock reports the scheduler tick count
func handleGetClock(data *[]byte) error {
	var clock uint32
	if channelRegistry != nil {
		clock = channelRegistry.Ticks()
	}
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

func handleGetConfig(data *[]byte) error {
	crc := atomic.LoadUint32(&globalState.configCRC)
	SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQBool(output, crc != 0)
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQBool(output, IsShutdown())
	})
	return nil
}

func handleConfigReset(data *[]byte) error {
	atomic.StoreUint32(&globalState.configCRC, 0)
	return nil
}

// handleFinalizeConfig records the host's checksum of the configuration
// it sent, so a reconnecting host can tell whether to reconfigure
func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	atomic.StoreUint32(&globalState.configCRC, crc)
	return nil
}

func handleEmergencyStop(data *[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

func handleSetDebug(data *[]byte) error {
	enable, err := protocol.DecodeVLQBool(data)
	if err != nil {
		return err
	}
	SetDebugEnabled(enable)
	return nil
}

func handleDumpEvents(data *[]byte) error {
	DumpEvents()
	return nil
}

// TryShutdown drives every channel LOW, releases all slots and tells the
// host why. Channel commands are refused until the firmware is reset.
func TryShutdown(reason string) {
	atomic.StoreUint32(&globalState.isShutdown, 1)
	ShutdownAllChannels()
	DebugPrintln("[Shutdown] " + reason)
	SendResponse("shutdown", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQString(output, reason)
	})
}

// IsShutdown returns true if the firmware is in shutdown state
func IsShutdown() bool {
	return atomic.LoadUint32(&globalState.isShutdown) != 0
}

// ResetFirmwareState clears the shutdown and config state after a host
// reconnect
func ResetFirmwareState() {
	atomic.StoreUint32(&globalState.configCRC, 0)
	atomic.StoreUint32(&globalState.isShutdown, 0)
	atomic.StoreUint32(&resetPending, 0)
}

// Global transport for sending responses (set by main)
var globalTransport ResponseSender

// SetGlobalTransport sets where SendResponse writes
func SetGlobalTransport(transport ResponseSender) {
	globalTransport = transport
}

// SendResponse sends a registered response on the global transport.
// Sending an unregistered response is a programming error and panics.
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		panic("response not registered: " + responseName)
	}
	globalTransport.SendCommand(cmd.ID, args)
}

var globalResetHandler func()

// resetPending defers the reset until the ACK for the reset command is out
var resetPending uint32 // atomic bool

// SetResetHandler sets the platform-specific reset handler
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

func handleReset(_ *[]byte) error {
	atomic.StoreUint32(&resetPending, 1)
	return nil
}

// CheckPendingReset runs the reset handler if a reset was requested. Call
// it from the main loop after output has been flushed.
func CheckPendingReset() bool {
	if !atomic.CompareAndSwapUint32(&resetPending, 1, 0) {
		return false
	}
	ShutdownAllChannels()
	if globalResetHandler != nil {
		globalResetHandler()
	}
	return true
}
