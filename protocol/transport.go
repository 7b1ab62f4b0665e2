package protocol

import "sync/atomic"

// CommandHandler is called for each command id decoded from a block. It
// must consume its own arguments from data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware end of the link. It validates host blocks,
// dispatches their commands, acknowledges every block and frames
// responses.
type Transport struct {
	reader blockReader

	// Expected host sequence; also stamped on everything we send
	nextSequence uint32 // atomic

	output  OutputBuffer
	handler CommandHandler

	resetCallback func()
	flushCallback func()
}

// NewTransport creates a transport writing to output and dispatching to
// handler
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		reader:       blockReader{synced: true, checkDest: true},
		nextSequence: MessageDest,
		output:       output,
		handler:      handler,
	}
}

// Receive consumes every complete block in input
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		msg, rest, ok, resynced := t.reader.next(data)
		if resynced {
			t.encodeAckNak()
		}
		data = rest
		if !ok {
			break
		}

		expected := uint8(atomic.LoadUint32(&t.nextSequence))
		if msg.Sequence == MessageDest && expected != MessageDest {
			// Host restarted its sequence
			atomic.StoreUint32(&t.nextSequence, MessageDest)
			expected = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		if msg.Sequence == expected {
			atomic.StoreUint32(&t.nextSequence, uint32(nextSeq(expected)))
			_ = t.parseFrame(msg.Payload)
		}
		// A mismatched sequence gets the same reply, which the host
		// reads as a NAK naming the sequence we expect
		t.encodeAckNak()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// parseFrame dispatches every command in one block payload
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.reader.synced = false
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.reader.synced = false
			return err
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			// Remaining arguments are unusable; drop the rest of the block
			return err
		}
	}
	return nil
}

// encodeAckNak writes an empty block carrying the next expected sequence
// and flushes it ahead of any queued responses
func (t *Transport) encodeAckNak() {
	ns := uint8(atomic.LoadUint32(&t.nextSequence))
	ack := appendCRC([]byte{MessageLengthMin, ns}, []byte{MessageLengthMin, ns})
	t.output.Output(append(ack, MessageValueSync))

	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes one response block built by frameData
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	encodeBlock(t.output, uint8(atomic.LoadUint32(&t.nextSequence)), frameData)
}

// SendCommand writes a response block for cmdID
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns the transport to its power-on state
func (t *Transport) Reset() {
	t.reader.synced = true
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets the function run when the host restarts its
// sequence
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets the function run after every ACK is queued
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// NextSequence returns the next expected host sequence
func (t *Transport) NextSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.nextSequence))
}
