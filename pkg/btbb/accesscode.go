package btbb

// Access code layout, in air symbols
const (
	AccessCodeLength = 72
	// SyncSymbols covers the preamble and the 64-bit sync word, the part of
	// the access code compared during verification
	SyncSymbols = 68
	// lapOffset is the first symbol of the LAP inside the sync word
	lapOffset = 38
	// maxCoarseDistance bounds preamble plus trailer errors in the fast scan
	maxCoarseDistance = 2
	// maxSyncErrors is the first error count at which verification fails
	maxSyncErrors = 7
)

// preambleDistance is the Hamming distance of a 5-symbol window (preamble
// and the first sync bit) from the nearest valid pattern
var preambleDistance = [32]uint8{
	2, 2, 1, 2, 2, 1, 2, 2, 1, 2, 0, 1, 2, 2, 1, 2, 2, 1, 2, 2, 1, 0, 2, 1, 2, 2, 1, 2, 2, 1, 2, 2,
}

// trailerDistance is the Hamming distance of a 7-symbol window (last three
// sync bits and the trailer) from the nearest valid pattern
var trailerDistance = [128]uint8{
	3, 3, 3, 2, 3, 2, 2, 1, 2, 3, 3, 3, 3, 3, 3, 2, 2, 3, 3, 3, 3, 3, 3, 2, 1, 2, 2, 3, 2, 3, 3, 3,
	3, 2, 2, 1, 2, 1, 1, 0, 3, 3, 3, 2, 3, 2, 2, 1, 3, 3, 3, 2, 3, 2, 2, 1, 2, 3, 3, 3, 3, 3, 3, 2,
	2, 3, 3, 3, 3, 3, 3, 2, 1, 2, 2, 3, 2, 3, 3, 3, 1, 2, 2, 3, 2, 3, 3, 3, 0, 1, 1, 2, 1, 2, 2, 3,
	3, 3, 3, 2, 3, 2, 2, 1, 2, 3, 3, 3, 3, 3, 3, 2, 2, 3, 3, 3, 3, 3, 3, 2, 1, 2, 2, 3, 2, 3, 3, 3,
}

// syncPN is the 64-bit pseudo-random overlay plus the trailer byte
var syncPN = [9]byte{0x03, 0xF2, 0xA3, 0x3D, 0xD6, 0x9B, 0x12, 0x1C, 0x10}

// syncGenerator is the (64,30) expurgated BCH generator, lowest order first
var syncGenerator = []uint8{
	1, 0, 0, 1, 0, 1, 0, 1, 1, 0, 1, 1, 1, 1, 0, 0, 1, 0, 0, 0, 1, 1, 1, 0, 1, 0, 1, 0, 0, 0, 0, 1, 1, 0, 1,
}

// GenerateAccessCode builds the 72-bit channel access code for lap.
// Bytes are in transmission order, most significant bit first.
func GenerateAccessCode(lap uint32) [9]byte {
	var ac [9]byte

	// LAP bits in transmission order
	l := uint32(Reverse(byte(lap>>16))) |
		uint32(Reverse(byte(lap>>8)))<<8 |
		uint32(Reverse(byte(lap)))<<16

	ac[4] = byte((l & 0xc00000) >> 22)
	ac[5] = byte((l & 0x3fc000) >> 14)
	ac[6] = byte((l & 0x3fc0) >> 6)
	ac[7] = byte((l & 0x3f) << 2)

	// Barker sequence appended to the LAP depends on its MSB
	if l&0x01 != 0 {
		ac[7] |= 0x03
		ac[8] = 0x2a
	} else {
		ac[8] = 0xd5
	}

	for i := 4; i < 9; i++ {
		ac[i] ^= syncPN[i]
	}

	info := make([]byte, 30)
	info[0] = (ac[4] & 0x02) >> 1
	info[1] = ac[4] & 0x01
	putAir(info[2:], uint32(Reverse(ac[5])), 8)
	putAir(info[10:], uint32(Reverse(ac[6])), 8)
	putAir(info[18:], uint32(Reverse(ac[7])), 8)
	putAir(info[26:], uint32(Reverse(ac[8])), 4)

	parity := lfsr(info, 64, 30, syncGenerator)

	ac[0] = parity[0]<<3 | parity[1]<<2 | parity[2]<<1 | parity[3]
	for i := 0; i < 3; i++ {
		ac[1+i] = packMSB(parity[4+i*8:], 8)
	}
	ac[4] = packMSB(parity[28:], 6) | ac[4]&0x03

	for i := range ac {
		ac[i] ^= syncPN[i]
	}

	// Preamble alternates into the first sync bit
	if ac[0]&0x08 != 0 {
		ac[0] |= 0xa0
	} else {
		ac[0] |= 0x50
	}
	return ac
}

// packMSB packs n symbols into the top bits of a byte, first symbol most
// significant
func packMSB(symbols []byte, n int) byte {
	var b byte
	for i := 0; i < n; i++ {
		b |= (symbols[i] & 0x01) << (7 - i)
	}
	return b
}

// AccessCodeSymbols returns the 72 air symbols of the access code for lap
func AccessCodeSymbols(lap uint32) []byte {
	ac := GenerateAccessCode(lap)
	out := make([]byte, 0, AccessCodeLength)
	for _, b := range ac {
		for i := 7; i >= 0; i-- {
			out = append(out, (b>>i)&0x01)
		}
	}
	return out
}

// SniffAccessCode searches the first n offsets of stream for a valid access
// code and returns the first matching offset, or -1. Offsets that leave
// fewer than 68 symbols are not considered.
func SniffAccessCode(stream []byte, n int) int {
	last := len(stream) - SyncSymbols
	if n-1 < last {
		last = n - 1
	}
	for offset := 0; offset <= last; offset++ {
		window := stream[offset:]
		preamble := AirToHost8(window, 5)
		trailer := AirToHost8(window[61:], 7)
		if int(preambleDistance[preamble])+int(trailerDistance[trailer]) > maxCoarseDistance {
			continue
		}
		lap := AirToHost32(window[lapOffset:], 24)
		if VerifyAccessCode(window, lap) {
			return offset
		}
	}
	return -1
}

// VerifyAccessCode reports whether the first 68 symbols of stream match the
// access code for lap with fewer than 7 bit errors
func VerifyAccessCode(stream []byte, lap uint32) bool {
	if len(stream) < SyncSymbols {
		return false
	}
	return AccessCodeErrors(stream, lap) < maxSyncErrors
}

// AccessCodeErrors counts the symbols in the first 68 positions of stream that
// differ from the access code for lap. Missing symbols count as errors.
func AccessCodeErrors(stream []byte, lap uint32) int {
	expected := AccessCodeSymbols(lap)
	errs := 0
	for i := 0; i < SyncSymbols; i++ {
		if i >= len(stream) || stream[i]&0x01 != expected[i] {
			errs++
		}
	}
	return errs
}

// LAPFromSymbols reads the LAP carried by an access code starting at the
// beginning of symbols
func LAPFromSymbols(symbols []byte) uint32 {
	if len(symbols) < lapOffset+24 {
		return 0
	}
	return AirToHost32(symbols[lapOffset:], 24)
}
