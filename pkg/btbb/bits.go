package btbb

import "math/bits"

// Bit order helpers for the Bluetooth air interface.
// Symbols are stored one bit per byte, in the order they were received.
// Multi-bit fields are transmitted LSB first.

// whiteningIndices maps the low 6 bits of the clock to the starting
// position in the whitening sequence
var whiteningIndices = [64]uint8{
	99, 85, 17, 50, 102, 58, 108, 45, 92, 62, 32, 118, 88, 11, 80, 2,
	37, 69, 55, 8, 20, 40, 74, 114, 15, 106, 30, 78, 53, 72, 28, 26,
	68, 7, 39, 113, 105, 77, 71, 25, 84, 49, 57, 44, 61, 117, 10, 1,
	123, 124, 22, 125, 111, 23, 42, 126, 6, 112, 76, 24, 48, 43, 116, 0,
}

// whiteningSequence is one period of the x^7+x^4+1 whitening LFSR output
var whiteningSequence = [127]uint8{
	1, 1, 1, 0, 0, 0, 1, 1, 1, 0, 1, 1, 0, 0, 0, 1, 0, 1, 0, 0, 1, 0, 1, 1, 1, 1, 1, 0, 1, 0, 1, 0,
	1, 0, 0, 0, 0, 1, 0, 1, 1, 0, 1, 1, 1, 1, 0, 0, 1, 1, 1, 0, 0, 1, 0, 1, 0, 1, 1, 0, 0, 1, 1, 0,
	0, 0, 0, 0, 1, 1, 0, 1, 1, 0, 1, 0, 1, 1, 1, 0, 1, 0, 0, 0, 1, 1, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0,
	0, 0, 0, 1, 0, 0, 1, 0, 0, 1, 1, 0, 1, 0, 0, 1, 1, 1, 1, 0, 1, 1, 1, 0, 0, 0, 0, 1, 1, 1, 1,
}

// AirToHost8 converts up to 8 air-order symbols into a byte
func AirToHost8(air []byte, n int) uint8 {
	return uint8(AirToHost32(air, n))
}

// AirToHost16 converts up to 16 air-order symbols into a uint16
func AirToHost16(air []byte, n int) uint16 {
	return uint16(AirToHost32(air, n))
}

// AirToHost32 converts up to 32 air-order symbols into a uint32.
// Symbols beyond n or beyond the end of air are ignored.
func AirToHost32(air []byte, n int) uint32 {
	if n > len(air) {
		n = len(air)
	}
	if n > 32 {
		n = 32
	}
	var v uint32
	for i := 0; i < n; i++ {
		v |= uint32(air[i]&0x01) << i
	}
	return v
}

// HostToAir expands the low n bits of v into symbols, LSB first
func HostToAir(v uint32, n int) []byte {
	out := make([]byte, n)
	putAir(out, v, n)
	return out
}

func putAir(dst []byte, v uint32, n int) {
	for i := 0; i < n; i++ {
		dst[i] = byte(v>>i) & 0x01
	}
}

// Reverse returns b with its bit order reversed
func Reverse(b byte) byte {
	return bits.Reverse8(b)
}

// Dewhiten XORs in with the whitening sequence selected by the low 6 bits of
// clock, starting skip positions into it. The operation is its own inverse,
// so it whitens as well. When whitened is false the input is copied unchanged.
func Dewhiten(in []byte, clock uint32, skip int, whitened bool) []byte {
	out := make([]byte, len(in))
	dewhitenInto(out, in, clock, skip, whitened)
	return out
}

func dewhitenInto(out, in []byte, clock uint32, skip int, whitened bool) {
	if !whitened {
		copy(out, in)
		return
	}
	index := (int(whiteningIndices[clock&0x3f]) + skip) % len(whiteningSequence)
	for i := range in {
		out[i] = in[i] ^ whiteningSequence[index]
		index++
		if index == len(whiteningSequence) {
			index = 0
		}
	}
}

// SymbolsToBytes packs symbols into bytes, 8 air-order symbols per byte.
// A trailing partial byte is dropped.
func SymbolsToBytes(symbols []byte) []byte {
	out := make([]byte, len(symbols)/8)
	for i := range out {
		out[i] = AirToHost8(symbols[i*8:], 8)
	}
	return out
}

// BytesToSymbols expands bytes into air-order symbols, LSB first
func BytesToSymbols(data []byte) []byte {
	out := make([]byte, len(data)*8)
	for i, b := range data {
		putAir(out[i*8:], uint32(b), 8)
	}
	return out
}
