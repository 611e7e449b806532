package btbb

// Forward error correction used on the Basic Rate air interface:
// a 1/3 rate repetition code (packet header, HV1) and a shortened
// (15,10) Hamming code (DM, DV, FHS, HV2, EV4 payloads).

// fec23Generator is g(D) = (D+1)(D^4+D+1) for the (15,10) block code
var fec23Generator = []uint8{1, 1, 0, 1, 0, 1}

// fec23Syndromes maps the 5-bit check difference (first check bit most
// significant) of a single data bit error to that bit's position
var fec23Syndromes = map[uint8]int{
	26: 0,
	13: 1,
	28: 2,
	14: 3,
	7:  4,
	25: 5,
	22: 6,
	11: 7,
	31: 8,
	21: 9,
}

// lfsr computes the length-k parity symbols of a systematic cyclic code
// for the first k symbols of data, using generator g
func lfsr(data []byte, length, k int, g []uint8) []byte {
	n := length - k
	cw := make([]byte, n)
	for i := k - 1; i >= 0; i-- {
		feedback := (data[i] ^ cw[n-1]) & 0x01
		for j := n - 1; j > 0; j-- {
			if g[j] != 0 {
				cw[j] = cw[j-1] ^ feedback
			} else {
				cw[j] = cw[j-1]
			}
		}
		cw[0] = g[0] & feedback
	}
	return cw
}

// DecodeRepetition13 decodes n bits from 3n repetition-coded symbols by
// majority vote. errs counts the triplets whose symbols disagreed; ok is
// false when errs reaches n/4 or the input is too short.
func DecodeRepetition13(in []byte, n int) (out []byte, errs int, ok bool) {
	if len(in) < 3*n {
		return nil, 0, false
	}
	out = make([]byte, n)
	for i := 0; i < n; i++ {
		a, b, c := in[3*i]&1, in[3*i+1]&1, in[3*i+2]&1
		out[i] = (a & b) | (b & c) | (c & a)
		errs += int((a ^ b) | (b ^ c) | (c ^ a))
	}
	return out, errs, errs < n/4
}

// EncodeRepetition13 repeats every symbol three times
func EncodeRepetition13(in []byte) []byte {
	out := make([]byte, 0, len(in)*3)
	for _, b := range in {
		out = append(out, b, b, b)
	}
	return out
}

// fec23Blocks returns the number of 15-symbol blocks needed for n data bits
func fec23Blocks(n int) int {
	return (n + 9) / 10
}

// Fec23Symbols returns the number of air symbols carrying n block-coded bits
func Fec23Symbols(n int) int {
	return fec23Blocks(n) * 15
}

// DecodeBlock1510 decodes n data bits (rounded up to a multiple of 10) from
// 15-symbol (15,10) codewords, correcting one data bit error per block.
// It returns ErrUncorrectable when a block's syndrome does not identify a
// single data bit, and ErrShortBuffer when in holds too few symbols.
func DecodeBlock1510(in []byte, n int) ([]byte, error) {
	blocks := fec23Blocks(n)
	if len(in) < blocks*15 {
		return nil, ErrShortBuffer
	}
	out := make([]byte, blocks*10)
	for blk := 0; blk < blocks; blk++ {
		cw := in[blk*15 : blk*15+15]
		data := out[blk*10 : blk*10+10]
		copy(data, cw[:10])

		check := lfsr(cw, 15, 10, fec23Generator)
		var syndrome uint8
		differences := 0
		for i := 0; i < 5; i++ {
			d := (check[i] ^ cw[10+i]) & 0x01
			differences += int(d)
			syndrome = syndrome<<1 | d
		}

		// An error in the check bits alone leaves the data intact
		if differences <= 1 {
			continue
		}

		pos, ok := fec23Syndromes[syndrome]
		if !ok {
			return nil, ErrUncorrectable
		}
		data[pos] ^= 0x01
	}
	return out, nil
}

// EncodeBlock1510 appends 5 check symbols to every 10 data symbols,
// zero padding the final block
func EncodeBlock1510(in []byte) []byte {
	blocks := fec23Blocks(len(in))
	out := make([]byte, 0, blocks*15)
	for blk := 0; blk < blocks; blk++ {
		data := make([]byte, 10)
		copy(data, in[blk*10:min(len(in), blk*10+10)])
		out = append(out, data...)
		out = append(out, lfsr(data, 15, 10, fec23Generator)...)
	}
	return out
}
