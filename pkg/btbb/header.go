package btbb

import "fmt"

// Packet header layout
const (
	headerOffset  = AccessCodeLength // first header symbol
	HeaderBits    = 18
	headerSymbols = HeaderBits * 3
	PayloadOffset = headerOffset + headerSymbols // first payload symbol

	hecPolynomial = 0x65
	// idThreshold is the disagreement count at which the symbols after the
	// sync word are taken to be noise rather than a packet header
	idThreshold = 5
)

// Header is a decoded packet header
type Header struct {
	LTAddr uint8
	Type   PacketType
	Flow   bool
	ARQN   bool
	SEQN   bool
	HEC    uint8
	// UAP is the UAP implied by HEC for the clock the header was dewhitened with
	UAP uint8
	// Errors counts repetition triplets that needed correction
	Errors int
	// Bits holds the 18 dewhitened header bits in air order
	Bits [HeaderBits]byte
}

// UAPFromHEC runs the HEC generator backwards over the 10 header data bits
// and returns the UAP that would have produced hec
func UAPFromHEC(data uint16, hec uint8) uint8 {
	for i := 9; i >= 0; i-- {
		if hec&0x80 != 0 {
			hec ^= hecPolynomial
		}
		hec = hec<<1 | ((hec>>7)^uint8(data>>i))&0x01
	}
	return Reverse(hec)
}

// HEC computes the header error check for the 10 header data bits with the
// register initialised from uap
func HEC(data uint16, uap uint8) uint8 {
	reg := Reverse(uap)
	for i := 0; i < 10; i++ {
		fb := (reg ^ uint8(data>>i)) & 0x01
		reg = reg>>1 | fb<<7
		if fb != 0 {
			reg ^= hecPolynomial
		}
	}
	return reg
}

// ProbeUAP decodes the header at offset 72 of stream using clock for
// dewhitening and returns it with the UAP its HEC implies. The UAP is only a
// candidate: every clock yields some UAP.
func ProbeUAP(stream []byte, clock uint32, whitened bool) (Header, error) {
	var h Header
	if len(stream) < headerOffset+headerSymbols {
		return h, ErrShortBuffer
	}
	raw, errs, ok := DecodeRepetition13(stream[headerOffset:], HeaderBits)
	if !ok {
		return h, fmt.Errorf("%w: %d of %d triplets disagree", ErrNoHeader, errs, HeaderBits)
	}
	dewhitenInto(h.Bits[:], raw, clock, 0, whitened)

	data := AirToHost16(h.Bits[:], 10)
	h.LTAddr = AirToHost8(h.Bits[:], 3)
	h.Type = PacketType(AirToHost8(h.Bits[3:], 4))
	h.Flow = h.Bits[7] != 0
	h.ARQN = h.Bits[8] != 0
	h.SEQN = h.Bits[9] != 0
	h.HEC = AirToHost8(h.Bits[10:], 8)
	h.UAP = UAPFromHEC(data, h.HEC)
	h.Errors = errs
	return h, nil
}

// DecodeHeader decodes the header at offset 72 of stream and checks its HEC
// against knownUAP
func DecodeHeader(stream []byte, clock uint32, knownUAP uint8, whitened bool) (Header, error) {
	h, err := ProbeUAP(stream, clock, whitened)
	if err != nil {
		return h, err
	}
	if h.UAP != knownUAP {
		return h, fmt.Errorf("%w: got UAP %02x, want %02x", ErrBadHEC, h.UAP, knownUAP)
	}
	return h, nil
}

// HeaderPresent reports whether the symbols following the sync word look like
// a packet header rather than the end of an ID packet. symbols starts at the
// access code.
func HeaderPresent(symbols []byte) bool {
	if len(symbols) < PayloadOffset {
		return false
	}
	// the trailer alternates starting from the complement of the last sync bit
	stream := symbols[SyncSymbols-1:]
	msb := stream[0] & 0x01
	errs := 0
	for i := 1; i <= 4; i++ {
		want := msb
		if i%2 == 1 {
			want ^= 0x01
		}
		errs += int((stream[i] & 0x01) ^ want)
	}

	stream = stream[5:]
	for i := 0; i < headerSymbols; i += 3 {
		a, b, c := stream[i]&1, stream[i+1]&1, stream[i+2]&1
		errs += int((a ^ b) | (b ^ c) | (c ^ a))
	}
	return errs < idThreshold
}

// headerData assembles the 10 header data bits
func headerData(ltAddr uint8, typ PacketType, flow, arqn, seqn bool) uint16 {
	data := uint16(ltAddr&0x07) | uint16(typ&0x0f)<<3
	if flow {
		data |= 1 << 7
	}
	if arqn {
		data |= 1 << 8
	}
	if seqn {
		data |= 1 << 9
	}
	return data
}
