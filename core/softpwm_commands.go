// Soft PWM command set
// Exposes the channel registry to the host as oid-addressed channels
package core

import (
	"errors"

	"softpwm/protocol"
)

// ErrUnknownChannel is returned for an oid that was never configured
var ErrUnknownChannel = errors.New("unknown soft pwm oid")

// ErrShutdown is returned by channel commands while the firmware is shut down
var ErrShutdown = errors.New("firmware is shut down")

// Error codes carried by soft_pwm_error
const (
	PWMErrNone             = 0
	PWMErrSlotsExhausted   = 1
	PWMErrPinInUse         = 2
	PWMErrTimerUnavailable = 3
	PWMErrUnknownChannel   = 4
	PWMErrReleased         = 5
	PWMErrNotReady         = 6
	PWMErrShutdown         = 7
	PWMErrOther            = 255
)

// ErrorCode maps an engine error to its wire code
func ErrorCode(err error) uint8 {
	switch {
	case err == nil:
		return PWMErrNone
	case errors.Is(err, ErrSlotsExhausted):
		return PWMErrSlotsExhausted
	case errors.Is(err, ErrPinInUse):
		return PWMErrPinInUse
	case errors.Is(err, ErrTimerUnavailable):
		return PWMErrTimerUnavailable
	case errors.Is(err, ErrUnknownChannel):
		return PWMErrUnknownChannel
	case errors.Is(err, ErrChannelReleased):
		return PWMErrReleased
	case errors.Is(err, ErrChannelNotReady):
		return PWMErrNotReady
	case errors.Is(err, ErrShutdown):
		return PWMErrShutdown
	}
	return PWMErrOther
}

// ErrorFromCode maps a wire code back to its engine error. Unknown codes
// and PWMErrOther map to nil.
func ErrorFromCode(code uint8) error {
	switch code {
	case PWMErrSlotsExhausted:
		return ErrSlotsExhausted
	case PWMErrPinInUse:
		return ErrPinInUse
	case PWMErrTimerUnavailable:
		return ErrTimerUnavailable
	case PWMErrUnknownChannel:
		return ErrUnknownChannel
	case PWMErrReleased:
		return ErrChannelReleased
	case PWMErrNotReady:
		return ErrChannelNotReady
	case PWMErrShutdown:
		return ErrShutdown
	}
	return nil
}

var (
	channelRegistry *ChannelRegistry

	// oid -> channel. Touched only from the command loop.
	softPWMs = make(map[uint8]*Channel)
)

// SetChannelRegistry installs the registry the command handlers use
func SetChannelRegistry(r *ChannelRegistry) {
	channelRegistry = r
	RegisterConstant("TICK_RATE", r.TickRate())
	RegisterConstant("CLOCK_FREQ", r.TickRate())
}

// MustChannels returns the installed registry or panics
func MustChannels() *ChannelRegistry {
	if channelRegistry == nil {
		panic("channel registry not set")
	}
	return channelRegistry
}

// ShutdownAllChannels drives every channel LOW and forgets all oids
func ShutdownAllChannels() {
	if channelRegistry != nil {
		channelRegistry.Shutdown()
	}
	for oid := range softPWMs {
		delete(softPWMs, oid)
	}
}

func resetChannelCommands() {
	softPWMs = make(map[uint8]*Channel)
	channelRegistry = nil
}

// InitSoftPWMCommands registers the channel commands
func InitSoftPWMCommands() {
	RegisterCommand("config_soft_pwm", "oid=%c pin=%u", handleConfigSoftPWM)
	RegisterCommand("set_soft_pwm", "oid=%c freq=%u duty=%c active=%c", handleSetSoftPWM)
	RegisterCommand("set_soft_pwm_freq", "oid=%c freq=%u", handleSetSoftPWMFreq)
	RegisterCommand("set_soft_pwm_duty", "oid=%c duty=%c", handleSetSoftPWMDuty)
	RegisterCommand("set_soft_pwm_micros", "oid=%c us=%u", handleSetSoftPWMMicros)
	RegisterCommand("set_soft_pwm_level", "oid=%c value=%c", handleSetSoftPWMLevel)
	RegisterCommand("soft_pwm_enable", "oid=%c enable=%c", handleSoftPWMEnable)
	RegisterCommand("soft_pwm_resync", "oid=%c", handleSoftPWMResync)
	RegisterCommand("release_soft_pwm", "oid=%c", handleReleaseSoftPWM)
	RegisterCommand("query_soft_pwm", "oid=%c", handleQuerySoftPWM)

	RegisterResponse("soft_pwm_state", "oid=%c pin=%u active=%c level=%c freq=%u period_us=%u duty_x100=%u")
	RegisterResponse("soft_pwm_error", "oid=%c code=%c")

	RegisterConstant("MAX_CHANNELS", MaxChannels)
}

// reportError sends soft_pwm_error for a failed command and passes err on
func reportError(oid uint8, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, protocol.ErrBufferTooSmall) || errors.Is(err, protocol.ErrInvalidVLQ) {
		// Malformed frame, the oid is meaningless
		return err
	}
	code := ErrorCode(err)
	SendResponse("soft_pwm_error", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, uint32(code))
	})
	return err
}

// lookupChannel decodes the oid argument and finds its channel
func lookupChannel(data *[]byte) (uint8, *Channel, error) {
	v, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return 0, nil, err
	}
	oid := uint8(v)
	if IsShutdown() {
		return oid, nil, ErrShutdown
	}
	ch, ok := softPWMs[oid]
	if !ok {
		return oid, nil, ErrUnknownChannel
	}
	return oid, ch, nil
}

// decodeArgs reads n unsigned arguments
func decodeArgs(data *[]byte, n int) ([]uint32, error) {
	args := make([]uint32, n)
	for i := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func clampDuty(v uint32) uint8 {
	if v > 100 {
		return 100
	}
	return uint8(v)
}

// handleConfigSoftPWM binds oid to a channel on pin. The channel starts
// LOW and stopped. Reconfiguring an oid with the same pin is a no-op, and
// moving it to another pin keeps the old channel if the new pin cannot be
// claimed.
// Format: config_soft_pwm oid=%c pin=%u
func handleConfigSoftPWM(data *[]byte) error {
	args, err := decodeArgs(data, 2)
	if err != nil {
		return err
	}
	oid, pin := uint8(args[0]), GPIOPin(args[1])
	if IsShutdown() {
		return reportError(oid, ErrShutdown)
	}

	old, moving := softPWMs[oid]
	if moving && old.Pin() == pin && !old.IsReleased() {
		return nil
	}

	// The old binding survives a failed move
	ch, err := MustChannels().Acquire(pin)
	if err != nil {
		return reportError(oid, err)
	}
	if err := ch.Low(); err != nil {
		ch.Release()
		return reportError(oid, err)
	}
	if moving {
		old.ReleaseLow()
	}
	softPWMs[oid] = ch
	return nil
}

// Format: set_soft_pwm oid=%c freq=%u duty=%c active=%c
func handleSetSoftPWM(data *[]byte) error {
	oid, ch, err := lookupChannel(data)
	if err != nil {
		return reportError(oid, err)
	}
	args, err := decodeArgs(data, 3)
	if err != nil {
		return err
	}
	return reportError(oid, ch.Set(args[0], clampDuty(args[1]), args[2] != 0))
}

// Format: set_soft_pwm_freq oid=%c freq=%u
func handleSetSoftPWMFreq(data *[]byte) error {
	oid, ch, err := lookupChannel(data)
	if err != nil {
		return reportError(oid, err)
	}
	freq, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return reportError(oid, ch.SetFrequency(freq))
}

// Format: set_soft_pwm_duty oid=%c duty=%c
func handleSetSoftPWMDuty(data *[]byte) error {
	oid, ch, err := lookupChannel(data)
	if err != nil {
		return reportError(oid, err)
	}
	duty, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return reportError(oid, ch.SetDutyPercent(clampDuty(duty)))
}

// Format: set_soft_pwm_micros oid=%c us=%u
func handleSetSoftPWMMicros(data *[]byte) error {
	oid, ch, err := lookupChannel(data)
	if err != nil {
		return reportError(oid, err)
	}
	us, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return reportError(oid, ch.SetMicros(us))
}

// Format: set_soft_pwm_level oid=%c value=%c
func handleSetSoftPWMLevel(data *[]byte) error {
	oid, ch, err := lookupChannel(data)
	if err != nil {
		return reportError(oid, err)
	}
	high, err := protocol.DecodeVLQBool(data)
	if err != nil {
		return err
	}
	if high {
		return reportError(oid, ch.High())
	}
	return reportError(oid, ch.Low())
}

// Format: soft_pwm_enable oid=%c enable=%c
func handleSoftPWMEnable(data *[]byte) error {
	oid, ch, err := lookupChannel(data)
	if err != nil {
		return reportError(oid, err)
	}
	enable, err := protocol.DecodeVLQBool(data)
	if err != nil {
		return err
	}
	if enable {
		return reportError(oid, ch.On())
	}
	return reportError(oid, ch.Off())
}

// Format: soft_pwm_resync oid=%c
func handleSoftPWMResync(data *[]byte) error {
	oid, ch, err := lookupChannel(data)
	if err != nil {
		return reportError(oid, err)
	}
	return reportError(oid, ch.Resync())
}

// handleReleaseSoftPWM drives the pin LOW and frees the slot. Unknown
// oids are ignored so a host can release unconditionally.
// Format: release_soft_pwm oid=%c
func handleReleaseSoftPWM(data *[]byte) error {
	v, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	oid := uint8(v)
	if ch, ok := softPWMs[oid]; ok {
		ch.ReleaseLow()
		delete(softPWMs, oid)
	}
	return nil
}

// handleQuerySoftPWM reports the channel state
// Format: query_soft_pwm oid=%c
func handleQuerySoftPWM(data *[]byte) error {
	oid, ch, err := lookupChannel(data)
	if err != nil {
		return reportError(oid, err)
	}

	dutyX100 := uint32(ch.DutyPercent()*100 + 0.5)
	SendResponse("soft_pwm_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, uint32(ch.Pin()))
		protocol.EncodeVLQBool(output, ch.IsActive())
		protocol.EncodeVLQBool(output, ch.Level())
		protocol.EncodeVLQUint(output, ch.Frequency())
		protocol.EncodeVLQUint(output, ch.PeriodMicroseconds())
		protocol.EncodeVLQUint(output, dutyX100)
	})
	return nil
}

// ChannelByOID returns the channel bound to oid
func ChannelByOID(oid uint8) (*Channel, bool) {
	ch, ok := softPWMs[oid]
	return ch, ok
}
