package firmware

import (
	"bytes"
	"testing"

	qt "github.com/frankban/quicktest"

	"softpwm/core"
	"softpwm/protocol"
)

// splitBlocks cuts a reply stream at the sync bytes
func splitBlocks(c *qt.C, data []byte) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := int(data[protocol.MessagePositionLen])
		c.Assert(len(data) >= n, qt.Equals, true)
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

func commandID(c *qt.C, name string) uint16 {
	cmd, ok := core.GetGlobalRegistry().GetCommandByName(name)
	c.Assert(ok, qt.Equals, true)
	return cmd.ID
}

func TestFeedRepliesAndAcks(t *testing.T) {
	c := qt.New(t)
	gpio := NewMemGPIO(8)
	timer := core.NewManualTimer(1000)
	fw := New(gpio, timer, "test")
	defer fw.Close()

	var out bytes.Buffer
	block := protocol.EncodeCommand(protocol.MessageDest, commandID(c, "config_soft_pwm"), func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 0)
		protocol.EncodeVLQUint(o, 3)
	})
	c.Assert(fw.Feed(block, &out), qt.IsNil)

	blocks := splitBlocks(c, out.Bytes())
	c.Assert(blocks, qt.HasLen, 1)
	c.Assert(len(blocks[0]), qt.Equals, protocol.MessageLengthMin)
	c.Assert(blocks[0][protocol.MessagePositionSeq], qt.Equals, byte(protocol.MessageDest+1))
	c.Assert(fw.Registry.InUse(), qt.Equals, 1)

	// A response goes out ahead of its ACK
	out.Reset()
	seq := uint8(protocol.MessageDest + 1)
	c.Assert(fw.Feed(protocol.EncodeCommand(seq, commandID(c, "get_clock"), nil), &out), qt.IsNil)
	blocks = splitBlocks(c, out.Bytes())
	c.Assert(blocks, qt.HasLen, 2)
	c.Assert(len(blocks[0]) > protocol.MessageLengthMin, qt.Equals, true)
	c.Assert(len(blocks[1]), qt.Equals, protocol.MessageLengthMin)
}

func TestFeedSplitBlocks(t *testing.T) {
	c := qt.New(t)
	fw := New(NewMemGPIO(8), core.NewManualTimer(1000), "test")
	defer fw.Close()

	block := protocol.EncodeCommand(protocol.MessageDest, commandID(c, "config_soft_pwm"), func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 1)
		protocol.EncodeVLQUint(o, 2)
	})

	var out bytes.Buffer
	c.Assert(fw.Feed(block[:3], &out), qt.IsNil)
	c.Assert(out.Len(), qt.Equals, 0)
	c.Assert(fw.Feed(block[3:], &out), qt.IsNil)
	c.Assert(out.Len(), qt.Equals, protocol.MessageLengthMin)

	_, ok := core.ChannelByOID(1)
	c.Assert(ok, qt.Equals, true)
}

func TestCloseDrivesChannelsLow(t *testing.T) {
	c := qt.New(t)
	gpio := NewMemGPIO(8)
	fw := New(gpio, core.NewManualTimer(1000), "test")

	ch, err := fw.Registry.Begin(4, 10, 100, true)
	c.Assert(err, qt.IsNil)
	c.Assert(gpio.Level(4), qt.Equals, true)
	c.Assert(gpio.Rises(4), qt.Equals, uint64(1))

	fw.Close()
	c.Assert(gpio.Level(4), qt.Equals, false)
	c.Assert(ch.IsReleased(), qt.Equals, true)
}

func TestMemGPIORange(t *testing.T) {
	c := qt.New(t)
	gpio := NewMemGPIO(4)

	c.Assert(gpio.ConfigureOutput(3), qt.IsNil)
	c.Assert(gpio.IsOutput(3), qt.Equals, true)
	c.Assert(gpio.ConfigureOutput(4), qt.Equals, ErrNoSuchPin)
	_, err := gpio.GetPin(9)
	c.Assert(err, qt.Equals, ErrNoSuchPin)
}
