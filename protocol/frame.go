package protocol

import "bytes"

// blockReader splits a byte stream into blocks. After a corrupt block it
// drops bytes up to the next sync byte.
type blockReader struct {
	synced bool

	// Require the destination bit in the sequence byte (firmware side)
	checkDest bool
}

// next returns the first complete block in data and the bytes following
// it. ok is false when data holds no complete block; rest then holds the
// bytes worth keeping for the next call. resynced reports that sync was
// regained while scanning.
func (r *blockReader) next(data []byte) (msg Message, rest []byte, ok, resynced bool) {
	for len(data) > 0 {
		if !r.synced {
			i := bytes.IndexByte(data, MessageValueSync)
			if i < 0 {
				return msg, nil, false, resynced
			}
			data = data[i+1:]
			r.synced = true
			resynced = true
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			break
		}

		n := int(data[MessagePositionLen])
		if n < MessageLengthMin || n > MessageLengthMax {
			r.synced = false
			continue
		}
		seq := data[MessagePositionSeq]
		if r.checkDest && seq&^MessageSeqMask != MessageDest {
			r.synced = false
			continue
		}
		if len(data) < n {
			break
		}
		if data[n-MessageTrailerSync] != MessageValueSync {
			r.synced = false
			continue
		}
		crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
		if crc != CRC16(data[:n-MessageTrailerSize]) {
			r.synced = false
			continue
		}

		msg = Message{
			Length:   uint8(n),
			Sequence: seq,
			Payload:  data[MessageHeaderSize : n-MessageTrailerSize],
			CRC:      crc,
		}
		return msg, data[n:], true, resynced
	}
	return msg, data, false, resynced
}

// encodeBlock writes one block with sequence seq into output and returns
// its length
func encodeBlock(output OutputBuffer, seq uint8, body func(OutputBuffer)) int {
	start := output.CurPosition()
	output.Output([]byte{0, seq})
	if body != nil {
		body(output)
	}

	n := len(output.DataSince(start)) + MessageTrailerSize
	output.Update(start+MessagePositionLen, uint8(n))

	trailer := appendCRC(make([]byte, 0, MessageTrailerSize), output.DataSince(start))
	output.Output(append(trailer, MessageValueSync))
	return n
}

// EncodeMessage returns a complete block carrying body
func EncodeMessage(seq uint8, body func(OutputBuffer)) []byte {
	out := NewScratchOutput()
	encodeBlock(out, seq, body)
	return append([]byte(nil), out.Result()...)
}

// EncodeCommand returns a complete block carrying one command
func EncodeCommand(seq uint8, cmdID uint16, args func(OutputBuffer)) []byte {
	return EncodeMessage(seq, func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}
