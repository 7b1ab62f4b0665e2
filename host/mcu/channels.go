package mcu

import (
	"fmt"

	"softpwm/core"
	"softpwm/protocol"
)

// ChannelError is a soft_pwm_error the controller sent for an oid.
// errors.Is matches it against the core sentinel for its code.
type ChannelError struct {
	OID  uint8
	Code uint8
}

func (e *ChannelError) Error() string {
	if err := core.ErrorFromCode(e.Code); err != nil {
		return fmt.Sprintf("oid %d: %v", e.OID, err)
	}
	return fmt.Sprintf("oid %d: error code %d", e.OID, e.Code)
}

func (e *ChannelError) Unwrap() error {
	return core.ErrorFromCode(e.Code)
}

// ChannelState is a decoded soft_pwm_state response
type ChannelState struct {
	OID         uint8   `json:"oid"`
	Pin         uint32  `json:"pin"`
	Active      bool    `json:"active"`
	Level       bool    `json:"level"`
	Frequency   uint32  `json:"freq_hz"`
	PeriodUs    uint32  `json:"period_us"`
	DutyPercent float64 `json:"duty"`
}

// DecodeChannelState parses a soft_pwm_state body
func DecodeChannelState(data []byte) (*ChannelState, error) {
	var v [7]uint32
	for i := range v {
		x, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			return nil, fmt.Errorf("decode soft_pwm_state field %d: %w", i, err)
		}
		v[i] = x
	}
	return &ChannelState{
		OID:         uint8(v[0]),
		Pin:         v[1],
		Active:      v[2] != 0,
		Level:       v[3] != 0,
		Frequency:   v[4],
		PeriodUs:    v[5],
		DutyPercent: float64(v[6]) / 100,
	}, nil
}

func (s *ChannelState) String() string {
	state := "stopped"
	if s.Active {
		state = "running"
	}
	level := "LOW"
	if s.Level {
		level = "HIGH"
	}
	return fmt.Sprintf("oid=%d pin=%d %s level=%s freq=%dHz period=%dus duty=%.2f%%",
		s.OID, s.Pin, state, level, s.Frequency, s.PeriodUs, s.DutyPercent)
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// channelCommand sends an oid command and reports any soft_pwm_error the
// controller sent for it. The error arrives ahead of the ACK, so it has
// been recorded by the time send returns.
func (m *MCU) channelCommand(name string, oid uint8, args ...uint32) error {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()
	return m.channelCommandLocked(name, oid, args...)
}

// channelCommandLocked is channelCommand for callers holding m.reqMu
func (m *MCU) channelCommandLocked(name string, oid uint8, args ...uint32) error {
	m.mu.Lock()
	delete(m.channelErrs, oid)
	m.mu.Unlock()

	if err := m.send(name, append([]uint32{uint32(oid)}, args...)...); err != nil {
		return err
	}

	m.mu.Lock()
	code, failed := m.channelErrs[oid]
	delete(m.channelErrs, oid)
	m.mu.Unlock()
	if failed {
		return &ChannelError{OID: oid, Code: code}
	}
	return nil
}

// ConfigChannel binds oid to a channel on pin, stopped and LOW
func (m *MCU) ConfigChannel(oid uint8, pin uint32) error {
	return m.channelCommand("config_soft_pwm", oid, pin)
}

// SetChannel programs frequency and duty. active=false stores the timing
// without starting it.
func (m *MCU) SetChannel(oid uint8, hz uint32, duty uint8, active bool) error {
	return m.channelCommand("set_soft_pwm", oid, hz, uint32(duty), boolArg(active))
}

func (m *MCU) SetFrequency(oid uint8, hz uint32) error {
	return m.channelCommand("set_soft_pwm_freq", oid, hz)
}

func (m *MCU) SetDuty(oid uint8, duty uint8) error {
	return m.channelCommand("set_soft_pwm_duty", oid, uint32(duty))
}

// SetMicros sets an absolute HIGH time
func (m *MCU) SetMicros(oid uint8, us uint32) error {
	return m.channelCommand("set_soft_pwm_micros", oid, us)
}

// SetLevel stops the channel and holds the pin HIGH or LOW
func (m *MCU) SetLevel(oid uint8, high bool) error {
	return m.channelCommand("set_soft_pwm_level", oid, boolArg(high))
}

// Enable starts or stops the channel's waveform
func (m *MCU) Enable(oid uint8, on bool) error {
	return m.channelCommand("soft_pwm_enable", oid, boolArg(on))
}

// Resync restarts the channel's period now
func (m *MCU) Resync(oid uint8) error {
	return m.channelCommand("soft_pwm_resync", oid)
}

// Release drives the pin LOW and frees the slot
func (m *MCU) Release(oid uint8) error {
	return m.channelCommand("release_soft_pwm", oid)
}

// QueryChannel reads back a channel's state
func (m *MCU) QueryChannel(oid uint8) (*ChannelState, error) {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()

	m.drain("soft_pwm_state")
	if err := m.channelCommandLocked("query_soft_pwm", oid); err != nil {
		return nil, err
	}
	body, err := m.waitFor("soft_pwm_state", func(body []byte) bool {
		got, err := protocol.DecodeVLQUint(&body)
		return err == nil && uint8(got) == oid
	})
	if err != nil {
		return nil, err
	}
	return DecodeChannelState(body)
}

// GetClock returns the controller's tick count
func (m *MCU) GetClock() (uint32, error) {
	body, err := m.Request("get_clock", "clock")
	if err != nil {
		return 0, err
	}
	return protocol.DecodeVLQUint(&body)
}

// ConfigState is a decoded config response
type ConfigState struct {
	IsConfig   bool
	CRC        uint32
	IsShutdown bool
}

// GetConfig reports whether the controller holds a finalized
// configuration and whether it is shut down
func (m *MCU) GetConfig() (*ConfigState, error) {
	body, err := m.Request("get_config", "config")
	if err != nil {
		return nil, err
	}
	var v [3]uint32
	for i := range v {
		if v[i], err = protocol.DecodeVLQUint(&body); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	return &ConfigState{IsConfig: v[0] != 0, CRC: v[1], IsShutdown: v[2] != 0}, nil
}

// FinalizeConfig records crc as the checksum of the channel setup
func (m *MCU) FinalizeConfig(crc uint32) error {
	return m.Send("finalize_config", crc)
}

// EmergencyStop drives every channel LOW and shuts the controller down
func (m *MCU) EmergencyStop() error {
	return m.Send("emergency_stop")
}
