// Package protocol implements the framed, VLQ-encoded command protocol
// spoken between the softpwm firmware and its host tools.
//
// A block on the wire is:
//
//	len | seq | payload... | crc_hi | crc_lo | 0x7e
//
// where len counts the whole block and the payload is a sequence of
// VLQ-encoded command ids each followed by their arguments.
package protocol

// Version is the protocol implementation version reported in the dictionary
const Version = "softpwm-0.3.0"

// Block layout
const (
	MessageMax = 512 // Scratch output size, enough for several blocks

	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64

	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1

	MessageValueSync = 0x7E
	MessageDest      = 0x10
	MessageSeqMask   = 0x0F
)

// Message is one decoded block
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // Block contents without header and trailer
	CRC      uint16
}

// IsAck reports whether the block carries no payload. The firmware uses
// empty blocks to acknowledge (or reject) host sequence numbers.
func (m *Message) IsAck() bool {
	return len(m.Payload) == 0
}

// nextSeq returns the sequence following seq
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
