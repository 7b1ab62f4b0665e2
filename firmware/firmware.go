// Package firmware runs the soft PWM command set on a hosted Go runtime.
// It is the same loop the microcontroller targets run, fed from an
// io.ReadWriter instead of USB, so a Linux board or a test can stand in
// for the MCU.
package firmware

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"softpwm/core"
	"softpwm/protocol"
)

// Firmware owns the command layer globals while it exists. Only one may be
// live per process.
type Firmware struct {
	Registry *core.ChannelRegistry

	mu        sync.Mutex
	input     *protocol.FifoBuffer
	output    *protocol.ScratchOutput
	transport *protocol.Transport
	conn      io.Writer
	writeErr  error
}

// New registers the command set, binds it to a registry on gpio and timer
// and builds the data dictionary. mcu names the board in the dictionary.
func New(gpio core.GPIODriver, timer core.TickTimer, mcu string) *Firmware {
	core.ResetCommands()
	core.ResetFirmwareState()
	core.InitCoreCommands()
	core.InitSoftPWMCommands()

	reg := core.NewChannelRegistry(gpio, timer)
	core.SetChannelRegistry(reg)
	core.RegisterConstant("MCU", mcu)
	core.GetGlobalDictionary().BuildDictionary()

	f := &Firmware{
		Registry: reg,
		input:    protocol.NewFifoBuffer(1024),
		output:   protocol.NewScratchOutput(),
	}
	f.transport = protocol.NewTransport(f.output, core.DispatchCommand)
	f.transport.SetResetCallback(func() {
		f.input.Reset()
		f.output.Reset()
		core.ResetFirmwareState()
	})
	f.transport.SetFlushCallback(f.flush)
	core.SetGlobalTransport(f.transport)
	return f
}

// flush writes queued output. Called with f.mu held.
func (f *Firmware) flush() {
	data := f.output.Result()
	if len(data) == 0 || f.conn == nil {
		return
	}
	if _, err := f.conn.Write(data); err != nil && f.writeErr == nil {
		f.writeErr = err
	}
	f.output.Reset()
}

// Feed processes bytes received from the host and writes every reply to w
func (f *Firmware) Feed(raw []byte, w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.conn = w
	for len(raw) > 0 {
		n := f.input.Write(raw)
		raw = raw[n:]

		in := protocol.NewSliceInputBuffer(f.input.Data())
		before := in.Available()
		f.transport.Receive(in)
		f.input.Pop(before - in.Available())

		if n == 0 && len(raw) > 0 {
			// Nothing in the ring ever formed a block
			f.input.Reset()
		}
	}
	f.flush()

	if core.CheckPendingReset() {
		f.transport.Reset()
	}

	err := f.writeErr
	f.writeErr = nil
	return err
}

// Serve reads host bytes from conn until it is closed. Each connection
// starts a fresh sequence, and every channel is driven LOW when it goes
// away.
func (f *Firmware) Serve(conn io.ReadWriter) error {
	f.mu.Lock()
	f.transport.Reset()
	f.mu.Unlock()
	defer core.ShutdownAllChannels()

	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if werr := f.Feed(buf[:n], conn); werr != nil {
				return fmt.Errorf("write reply: %w", werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// Close releases every channel and detaches the command layer
func (f *Firmware) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	core.ShutdownAllChannels()
	core.SetGlobalTransport(nil)
}
