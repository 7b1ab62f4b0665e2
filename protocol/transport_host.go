package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTimeout         = errors.New("timed out")
	ErrTransportClosed = errors.New("transport stopped")
)

// ResponseHandler is called from the read goroutine for every response
// block, with data positioned after the command id
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host end of the link. Commands are sent one block
// at a time and each waits for the firmware's ACK; responses are queued
// for ReceiveResponse and optionally passed to a handler.
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq uint32 // atomic

	readMu sync.Mutex
	reader blockReader
	input  *FifoBuffer

	writeMu sync.Mutex

	ackChan      chan Message
	responseChan chan Message

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport starts reading from port
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		currentSeq:   MessageDest,
		reader:       blockReader{synced: true},
		input:        NewFifoBuffer(1024),
		ackChan:      make(chan Message, 1),
		responseChan: make(chan Message, 32),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends one command and waits up to two seconds for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, 2*time.Second)
}

// SendCommandWithTimeout sends one command and waits for its ACK
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	msg := EncodeCommand(seq, cmdID, args)
	if len(msg) > MessageLengthMax {
		return fmt.Errorf("message too long: %d bytes (max %d)", len(msg), MessageLengthMax)
	}

	if n, err := t.port.Write(msg); err != nil {
		return fmt.Errorf("write command %d: %w", cmdID, err)
	} else if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}

	if err := t.waitForAck(seq, timeout); err != nil {
		return fmt.Errorf("ack for command %d: %w", cmdID, err)
	}
	return nil
}

// waitForAck waits for the ACK naming the sequence after sent
func (t *HostTransport) waitForAck(sent uint8, timeout time.Duration) error {
	want := nextSeq(sent)
	deadline := time.After(timeout)
	for {
		select {
		case ack := <-t.ackChan:
			if ack.Sequence != want {
				// Stale ACK or NAK for an earlier block
				continue
			}
			atomic.StoreUint32(&t.currentSeq, uint32(want))
			return nil
		case <-deadline:
			return fmt.Errorf("%w after %v", ErrTimeout, timeout)
		case <-t.stopChan:
			return ErrTransportClosed
		}
	}
}

// ReceiveResponse returns the oldest queued response block
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	select {
	case msg := <-t.responseChan:
		return &msg, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("response %w after %v", ErrTimeout, timeout)
	case <-t.stopChan:
		return nil, ErrTransportClosed
	}
}

// SetResponseHandler installs a callback run for every response block
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.responseHandler = handler
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buf := make([]byte, 256)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if n > 0 {
			t.Feed(buf[:n])
		}
	}
}

// Feed parses raw bytes read from the port. The read goroutine calls it;
// it is exported for transports driven by another reader.
func (t *HostTransport) Feed(raw []byte) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for len(raw) > 0 {
		n := t.input.Write(raw)
		raw = raw[n:]

		data := t.input.Data()
		for {
			msg, rest, ok, _ := t.reader.next(data)
			data = rest
			if !ok {
				break
			}
			msg.Payload = append([]byte(nil), msg.Payload...)
			t.dispatch(msg)
		}
		t.input.Pop(t.input.Available() - len(data))

		if n == 0 && len(raw) > 0 {
			// Ring full of garbage that never formed a block
			t.input.Reset()
			t.reader.synced = false
		}
	}
}

func (t *HostTransport) dispatch(msg Message) {
	if msg.IsAck() {
		select {
		case t.ackChan <- msg:
		default:
			// Replace the unread ACK with the newer one
			select {
			case <-t.ackChan:
			default:
			}
			t.ackChan <- msg
		}
		return
	}

	t.handlerMu.RLock()
	handler := t.responseHandler
	t.handlerMu.RUnlock()
	if handler != nil {
		payload := msg.Payload
		if cmdID, err := DecodeVLQUint(&payload); err == nil {
			_ = handler(uint16(cmdID), &payload)
		}
	}

	select {
	case t.responseChan <- msg:
	default:
		// Queue full: drop the oldest response
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

// Close stops the read goroutine and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// Reset drops queued blocks and restarts the sequence
func (t *HostTransport) Reset() {
	t.readMu.Lock()
	t.reader.synced = true
	t.input.Reset()
	t.readMu.Unlock()

	atomic.StoreUint32(&t.currentSeq, MessageDest)
	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}
}

// CurrentSequence returns the sequence the next command will carry
func (t *HostTransport) CurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}
