package core

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"

	"softpwm/protocol"
)

// sentMessage is one response captured from the command layer
type sentMessage struct {
	id   uint16
	body []byte
}

type captureSender struct {
	sent []sentMessage
}

func (s *captureSender) SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) {
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	body := append([]byte(nil), out.Result()...)
	s.sent = append(s.sent, sentMessage{id: cmdID, body: body})
}

// named returns the bodies of every response called name
func (s *captureSender) named(name string) [][]byte {
	cmd, ok := GetGlobalRegistry().GetCommandByName(name)
	if !ok {
		return nil
	}
	var out [][]byte
	for _, m := range s.sent {
		if m.id == cmd.ID {
			out = append(out, m.body)
		}
	}
	return out
}

// lastUints decodes the last response called name as unsigned values
func (s *captureSender) lastUints(c *qt.C, name string) []uint32 {
	bodies := s.named(name)
	c.Assert(len(bodies) > 0, qt.Equals, true, qt.Commentf("no %s response", name))
	data := bodies[len(bodies)-1]
	var vals []uint32
	for len(data) > 0 {
		v, err := protocol.DecodeVLQUint(&data)
		c.Assert(err, qt.IsNil)
		vals = append(vals, v)
	}
	return vals
}

type commandHarness struct {
	reg    *ChannelRegistry
	timer  *ManualTimer
	gpio   *fakeGPIO
	sender *captureSender
}

func newCommandHarness(c *qt.C) *commandHarness {
	ResetCommands()
	ResetFirmwareState()
	InitCoreCommands()
	InitSoftPWMCommands()

	reg, timer, gpio := newTestRegistry(50000)
	SetChannelRegistry(reg)
	sender := &captureSender{}
	SetGlobalTransport(sender)

	c.Cleanup(func() {
		SetGlobalTransport(nil)
		SetResetHandler(nil)
		ResetCommands()
		ResetFirmwareState()
	})
	return &commandHarness{reg: reg, timer: timer, gpio: gpio, sender: sender}
}

// send dispatches a command by name with unsigned arguments
func (h *commandHarness) send(c *qt.C, name string, args ...uint32) error {
	cmd, ok := GetGlobalRegistry().GetCommandByName(name)
	c.Assert(ok, qt.Equals, true, qt.Commentf("command %s", name))

	out := protocol.NewScratchOutput()
	for _, a := range args {
		protocol.EncodeVLQUint(out, a)
	}
	data := append([]byte(nil), out.Result()...)
	return DispatchCommand(cmd.ID, &data)
}

func TestSoftPWMConfigureSetQuery(t *testing.T) {
	c := qt.New(t)
	h := newCommandHarness(c)

	c.Assert(h.send(c, "config_soft_pwm", 1, 5), qt.IsNil)
	ch, ok := ChannelByOID(1)
	c.Assert(ok, qt.Equals, true)
	c.Assert(ch.Pin(), qt.Equals, GPIOPin(5))
	c.Assert(ch.IsActive(), qt.Equals, false)
	c.Assert(h.gpio.levels[5], qt.Equals, false)

	c.Assert(h.send(c, "set_soft_pwm", 1, 50, 25, 1), qt.IsNil)
	c.Assert(h.send(c, "query_soft_pwm", 1), qt.IsNil)
	c.Assert(h.sender.lastUints(c, "soft_pwm_state"), qt.DeepEquals,
		[]uint32{1, 5, 1, 1, 50, 20000, 2500})

	h.timer.Advance(250)
	c.Assert(h.send(c, "query_soft_pwm", 1), qt.IsNil)
	state := h.sender.lastUints(c, "soft_pwm_state")
	c.Assert(state[3], qt.Equals, uint32(0))

	c.Assert(h.sender.named("soft_pwm_error"), qt.HasLen, 0)
}

func TestSoftPWMSetters(t *testing.T) {
	c := qt.New(t)
	h := newCommandHarness(c)
	c.Assert(h.send(c, "config_soft_pwm", 0, 3), qt.IsNil)
	c.Assert(h.send(c, "set_soft_pwm", 0, 100, 50, 0), qt.IsNil)
	ch, _ := ChannelByOID(0)
	c.Assert(ch.IsActive(), qt.Equals, false)

	c.Assert(h.send(c, "soft_pwm_enable", 0, 1), qt.IsNil)
	c.Assert(ch.IsActive(), qt.Equals, true)

	c.Assert(h.send(c, "set_soft_pwm_freq", 0, 200), qt.IsNil)
	c.Assert(ch.Frequency(), qt.Equals, uint32(200))

	c.Assert(h.send(c, "set_soft_pwm_duty", 0, 150), qt.IsNil)
	c.Assert(ch.DutyPercent(), qt.Equals, float32(100))
	c.Assert(ch.IsActive(), qt.Equals, false)

	c.Assert(h.send(c, "set_soft_pwm_micros", 0, 1000), qt.IsNil)
	c.Assert(ch.PulseMicroseconds(), qt.Equals, uint32(1000))
	c.Assert(ch.IsActive(), qt.Equals, true)

	c.Assert(h.send(c, "soft_pwm_resync", 0), qt.IsNil)
	c.Assert(ch.Level(), qt.Equals, true)

	c.Assert(h.send(c, "set_soft_pwm_level", 0, 0), qt.IsNil)
	c.Assert(ch.IsActive(), qt.Equals, false)
	c.Assert(h.gpio.levels[3], qt.Equals, false)
	c.Assert(h.send(c, "set_soft_pwm_level", 0, 1), qt.IsNil)
	c.Assert(h.gpio.levels[3], qt.Equals, true)

	c.Assert(h.send(c, "soft_pwm_enable", 0, 0), qt.IsNil)
	c.Assert(h.gpio.levels[3], qt.Equals, true)
}

func TestSoftPWMErrorCodes(t *testing.T) {
	c := qt.New(t)
	h := newCommandHarness(c)

	c.Assert(h.send(c, "set_soft_pwm_freq", 9, 100), qt.Equals, ErrUnknownChannel)
	c.Assert(h.sender.lastUints(c, "soft_pwm_error"), qt.DeepEquals, []uint32{9, PWMErrUnknownChannel})

	c.Assert(h.send(c, "config_soft_pwm", 1, 5), qt.IsNil)
	c.Assert(h.send(c, "config_soft_pwm", 2, 5), qt.Equals, ErrPinInUse)
	c.Assert(h.sender.lastUints(c, "soft_pwm_error"), qt.DeepEquals, []uint32{2, PWMErrPinInUse})

	for oid := uint32(2); oid < MaxChannels+1; oid++ {
		c.Assert(h.send(c, "config_soft_pwm", oid, 10+oid), qt.IsNil)
	}
	c.Assert(h.send(c, "config_soft_pwm", 20, 40), qt.Equals, ErrSlotsExhausted)
	c.Assert(h.sender.lastUints(c, "soft_pwm_error"), qt.DeepEquals, []uint32{20, PWMErrSlotsExhausted})

	// A truncated frame is a protocol error, not a channel error
	before := len(h.sender.named("soft_pwm_error"))
	c.Assert(h.send(c, "set_soft_pwm", 1, 100), qt.Equals, protocol.ErrBufferTooSmall)
	c.Assert(h.sender.named("soft_pwm_error"), qt.HasLen, before)
}

func TestErrorCodeMapping(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		err  error
		code uint8
	}{
		{nil, PWMErrNone},
		{ErrSlotsExhausted, PWMErrSlotsExhausted},
		{ErrPinInUse, PWMErrPinInUse},
		{ErrTimerUnavailable, PWMErrTimerUnavailable},
		{ErrUnknownChannel, PWMErrUnknownChannel},
		{ErrChannelReleased, PWMErrReleased},
		{ErrChannelNotReady, PWMErrNotReady},
		{ErrShutdown, PWMErrShutdown},
		{errBadPin, PWMErrOther},
	}
	for _, test := range tests {
		c.Assert(ErrorCode(test.err), qt.Equals, test.code, qt.Commentf("%v", test.err))
		if test.code != PWMErrOther {
			c.Assert(ErrorFromCode(test.code), qt.Equals, test.err)
		}
	}
	c.Assert(ErrorFromCode(PWMErrOther), qt.IsNil)
}

func TestSoftPWMReconfigure(t *testing.T) {
	c := qt.New(t)
	h := newCommandHarness(c)

	c.Assert(h.send(c, "config_soft_pwm", 1, 5), qt.IsNil)
	c.Assert(h.send(c, "set_soft_pwm", 1, 100, 100, 1), qt.IsNil)
	c.Assert(h.gpio.levels[5], qt.Equals, true)

	// Same pin keeps the running channel
	first, _ := ChannelByOID(1)
	c.Assert(h.send(c, "config_soft_pwm", 1, 5), qt.IsNil)
	again, _ := ChannelByOID(1)
	c.Assert(again == first, qt.Equals, true)

	// New pin releases the old one LOW
	c.Assert(h.send(c, "config_soft_pwm", 1, 6), qt.IsNil)
	c.Assert(h.gpio.levels[5], qt.Equals, false)
	c.Assert(first.IsReleased(), qt.Equals, true)
	c.Assert(h.reg.InUse(), qt.Equals, 1)
}

func TestSoftPWMFailedMoveKeepsChannel(t *testing.T) {
	c := qt.New(t)
	h := newCommandHarness(c)

	c.Assert(h.send(c, "config_soft_pwm", 1, 5), qt.IsNil)
	c.Assert(h.send(c, "config_soft_pwm", 2, 6), qt.IsNil)
	c.Assert(h.send(c, "set_soft_pwm", 1, 100, 100, 1), qt.IsNil)
	first, _ := ChannelByOID(1)

	// Pin 6 belongs to oid 2
	c.Assert(h.send(c, "config_soft_pwm", 1, 6), qt.Equals, ErrPinInUse)
	kept, ok := ChannelByOID(1)
	c.Assert(ok, qt.Equals, true)
	c.Assert(kept == first, qt.Equals, true)
	c.Assert(kept.IsReleased(), qt.Equals, false)
	c.Assert(h.gpio.levels[5], qt.Equals, true)

	// Every slot taken
	for oid := uint32(3); h.reg.InUse() < h.reg.Capacity(); oid++ {
		c.Assert(h.send(c, "config_soft_pwm", oid, oid+10), qt.IsNil)
	}
	c.Assert(h.send(c, "config_soft_pwm", 1, 29), qt.Equals, ErrSlotsExhausted)
	kept, ok = ChannelByOID(1)
	c.Assert(ok, qt.Equals, true)
	c.Assert(kept == first, qt.Equals, true)
	c.Assert(h.send(c, "query_soft_pwm", 1), qt.IsNil)
	c.Assert(h.sender.lastUints(c, "soft_pwm_state")[1], qt.Equals, uint32(5))
}

func TestSoftPWMRelease(t *testing.T) {
	c := qt.New(t)
	h := newCommandHarness(c)

	c.Assert(h.send(c, "config_soft_pwm", 1, 5), qt.IsNil)
	c.Assert(h.send(c, "set_soft_pwm", 1, 100, 100, 1), qt.IsNil)

	c.Assert(h.send(c, "release_soft_pwm", 1), qt.IsNil)
	c.Assert(h.gpio.levels[5], qt.Equals, false)
	c.Assert(h.reg.InUse(), qt.Equals, 0)
	_, ok := ChannelByOID(1)
	c.Assert(ok, qt.Equals, false)

	c.Assert(h.send(c, "release_soft_pwm", 1), qt.IsNil)
	c.Assert(h.send(c, "query_soft_pwm", 1), qt.Equals, ErrUnknownChannel)
}

func TestEmergencyStop(t *testing.T) {
	c := qt.New(t)
	h := newCommandHarness(c)

	c.Assert(h.send(c, "config_soft_pwm", 1, 5), qt.IsNil)
	c.Assert(h.send(c, "set_soft_pwm", 1, 100, 100, 1), qt.IsNil)

	c.Assert(h.send(c, "emergency_stop"), qt.IsNil)
	c.Assert(IsShutdown(), qt.Equals, true)
	c.Assert(h.gpio.levels[5], qt.Equals, false)
	c.Assert(h.reg.InUse(), qt.Equals, 0)

	reasons := h.sender.named("shutdown")
	c.Assert(reasons, qt.HasLen, 1)
	data := reasons[0]
	reason, err := protocol.DecodeVLQString(&data)
	c.Assert(err, qt.IsNil)
	c.Assert(reason, qt.Equals, "emergency stop")

	c.Assert(h.send(c, "config_soft_pwm", 1, 5), qt.Equals, ErrShutdown)
	c.Assert(h.sender.lastUints(c, "soft_pwm_error"), qt.DeepEquals, []uint32{1, PWMErrShutdown})

	c.Assert(h.send(c, "get_config"), qt.IsNil)
	c.Assert(h.sender.lastUints(c, "config"), qt.DeepEquals, []uint32{0, 0, 1})
}

func TestConfigCRC(t *testing.T) {
	c := qt.New(t)
	h := newCommandHarness(c)

	c.Assert(h.send(c, "finalize_config", 0xBEEF), qt.IsNil)
	c.Assert(h.send(c, "get_config"), qt.IsNil)
	c.Assert(h.sender.lastUints(c, "config"), qt.DeepEquals, []uint32{1, 0xBEEF, 0})

	c.Assert(h.send(c, "config_reset"), qt.IsNil)
	c.Assert(h.send(c, "get_config"), qt.IsNil)
	c.Assert(h.sender.lastUints(c, "config"), qt.DeepEquals, []uint32{0, 0, 0})
}

func TestGetClockReportsTicks(t *testing.T) {
	c := qt.New(t)
	h := newCommandHarness(c)

	// The timer is installed with the first channel
	c.Assert(h.send(c, "config_soft_pwm", 1, 5), qt.IsNil)
	h.timer.Advance(123)
	c.Assert(h.send(c, "get_clock"), qt.IsNil)
	c.Assert(h.sender.lastUints(c, "clock"), qt.DeepEquals, []uint32{123})
}

func TestIdentifyServesDictionary(t *testing.T) {
	c := qt.New(t)
	h := newCommandHarness(c)
	GetGlobalDictionary().BuildDictionary()

	var blob []byte
	for {
		before := len(h.sender.sent)
		c.Assert(h.send(c, "identify", uint32(len(blob)), 40), qt.IsNil)
		c.Assert(h.sender.sent, qt.HasLen, before+1)

		data := h.sender.sent[before].body
		offset, err := protocol.DecodeVLQUint(&data)
		c.Assert(err, qt.IsNil)
		c.Assert(offset, qt.Equals, uint32(len(blob)))
		chunk, err := protocol.DecodeVLQBytes(&data)
		c.Assert(err, qt.IsNil)
		if len(chunk) == 0 {
			break
		}
		blob = append(blob, chunk...)
	}

	var got dictionaryJSON
	c.Assert(json.Unmarshal(blob, &got), qt.IsNil)
	c.Assert(got.Responses["identify_response offset=%u data=%*s"], qt.Equals, 0)
	c.Assert(got.Commands["identify offset=%u count=%c"], qt.Equals, 1)
	_, ok := got.Commands["set_soft_pwm oid=%c freq=%u duty=%c active=%c"]
	c.Assert(ok, qt.Equals, true)
	c.Assert(got.Config["TICK_RATE"], qt.Equals, "50000")
	c.Assert(got.Config["MAX_CHANNELS"], qt.Equals, "8")
}

func TestResetRunsAfterAck(t *testing.T) {
	c := qt.New(t)
	h := newCommandHarness(c)

	var resets int
	SetResetHandler(func() { resets++ })

	c.Assert(h.send(c, "config_soft_pwm", 1, 5), qt.IsNil)
	c.Assert(h.send(c, "set_soft_pwm", 1, 100, 100, 1), qt.IsNil)
	c.Assert(CheckPendingReset(), qt.Equals, false)

	c.Assert(h.send(c, "reset"), qt.IsNil)
	c.Assert(resets, qt.Equals, 0)

	c.Assert(CheckPendingReset(), qt.Equals, true)
	c.Assert(resets, qt.Equals, 1)
	c.Assert(h.gpio.levels[5], qt.Equals, false)
	c.Assert(CheckPendingReset(), qt.Equals, false)
}
