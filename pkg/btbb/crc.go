package btbb

// CRC16 runs the Bluetooth payload CRC over bits, with the register
// initialised from the UAP. The result is in transmission order, so it
// compares directly against AirToHost16 of the 16 received CRC symbols.
func CRC16(bits []byte, uap uint8) uint16 {
	reg := uint16(Reverse(uap)) << 8
	for _, b := range bits {
		reg = reg>>1 | ((reg&0x0001)^uint16(b&0x01))<<15
		reg ^= (reg & 0x8000) >> 5
		reg ^= (reg & 0x8000) >> 12
	}
	return reg
}

// payloadCRCValid checks the last two bytes of a payload of length bytes
// against the CRC of the bytes before them
func payloadCRCValid(payload []byte, length int, uap uint8) bool {
	if length < 2 || len(payload) < length*8 {
		return false
	}
	dataBits := (length - 2) * 8
	return CRC16(payload[:dataBits], uap) == AirToHost16(payload[dataBits:], 16)
}

// appendCRC returns bits followed by their 16-bit CRC in air order
func appendCRC(bits []byte, uap uint8) []byte {
	out := make([]byte, len(bits), len(bits)+16)
	copy(out, bits)
	return append(out, HostToAir(uint32(CRC16(bits, uap)), 16)...)
}
