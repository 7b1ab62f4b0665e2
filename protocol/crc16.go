package protocol

// CRC16 computes the CCITT checksum carried in every block trailer
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= uint8(crc)
		b ^= b << 4
		w := uint16(b)
		crc = (w<<8 | crc>>8) ^ (w >> 4) ^ (w << 3)
	}
	return crc
}

// appendCRC appends the checksum of data in wire order
func appendCRC(dst []byte, data []byte) []byte {
	crc := CRC16(data)
	return append(dst, byte(crc>>8), byte(crc))
}
