package btbb

import "fmt"

const (
	// payloadSkip is the whitening sequence offset of the first payload symbol
	payloadSkip = HeaderBits
	// dvVoiceSymbols precede the data field of a DV packet
	dvVoiceSymbols = 80
	// hvMinSymbols is the shortest stream that can carry an HV payload
	hvMinSymbols = 240
	fhsLength    = 20

	ev4MaxSymbols = 1470
	// ev4MinSymbols is how much of an EV4 payload must decode before an FEC
	// failure is treated as the end of the packet rather than a bad guess
	ev4MinSymbols = 45
)

// Payload is the decoded payload of a packet
type Payload struct {
	// HeaderBytes is the payload header length, 0 for types without one
	HeaderBytes int
	LLID        uint8
	Flow        bool
	// Length is the payload length in bytes, including payload header and CRC
	Length int
	// Bits holds the dewhitened payload in air order. It may be shorter than
	// Length*8 when the declared length was not decodable.
	Bits []byte
	// Clock is the clock the payload was dewhitened with
	Clock uint32
}

// Bytes returns the decoded payload packed into bytes
func (p Payload) Bytes() []byte {
	n := p.Length * 8
	if n > len(p.Bits) {
		n = len(p.Bits)
	}
	return SymbolsToBytes(p.Bits[:n])
}

// Body returns the payload bytes between the payload header and the CRC
func (p Payload) Body(hasCRC bool) []byte {
	b := p.Bytes()
	end := len(b)
	if hasCRC && end >= 2 {
		end -= 2
	}
	if p.HeaderBytes > end {
		return nil
	}
	return b[p.HeaderBytes:end]
}

// decodeInput is everything a payload handler needs. symbols starts at the
// first payload symbol.
type decodeInput struct {
	typ      PacketType
	symbols  []byte
	clock    uint32
	uap      uint8
	whitened bool
}

func (in decodeInput) dewhiten(bits []byte, skip int) []byte {
	return Dewhiten(bits, in.clock, payloadSkip+skip, in.whitened)
}

// DecodePayload decodes the payload of a packet of type typ. symbols starts
// at the first payload symbol (offset 126 from the access code).
func DecodePayload(typ PacketType, symbols []byte, clock uint32, uap uint8, whitened bool) (Payload, Confidence) {
	in := decodeInput{typ: typ, symbols: symbols, clock: clock, uap: uap, whitened: whitened}
	switch typ {
	case TypeNULL, TypePOLL:
		return Payload{Clock: clock}, ConfidenceLow
	case TypeFHS:
		return decodeFHS(in)
	case TypeDM1, TypeDV, TypeDM3, TypeDM5:
		return decodeDM(in)
	case TypeDH1, TypeAUX1, TypeDH3, TypeDH5:
		return decodeDH(in)
	case TypeHV1, TypeHV2:
		return decodeHV(in)
	case TypeHV3:
		if p, c := decodeEV3(in); c > ConfidenceLow {
			return p, c
		}
		return decodeHV(in)
	case TypeEV4:
		return decodeEV4(in)
	case TypeEV5:
		return decodeEV5(in)
	default:
		panic(fmt.Sprintf("btbb: no payload handler for packet type %d", uint8(typ)))
	}
}

// CRCCheck scores how well clock explains the payload of a packet of type
// typ, for UAP discovery. Types whose payloads cannot fail are scored low.
func CRCCheck(typ PacketType, symbols []byte, clock uint32, uap uint8, whitened bool) Confidence {
	in := decodeInput{typ: typ, symbols: symbols, clock: clock, uap: uap, whitened: whitened}

	c := ConfidenceLow
	switch typ {
	case TypeFHS:
		_, c = decodeFHS(in)
	case TypeDM1, TypeDV, TypeDM3, TypeDM5:
		_, c = decodeDM(in)
	case TypeDH1, TypeDH3, TypeDH5:
		_, c = decodeDH(in)
	case TypeHV3:
		_, c = decodeEV3(in)
	case TypeEV4:
		_, c = decodeEV4(in)
	case TypeEV5:
		_, c = decodeEV5(in)
	case TypeHV1:
		_, c = decodeHV(in)
	}

	// An FEC failure only rules the clock out for types that always carry
	// a decodable payload
	if c == ConfidenceNone && typ != TypeFHS && typ != TypeDM1 && typ != TypeHV1 {
		return ConfidenceLow
	}
	// Short discovered-length payloads match a CRC too easily to be trusted
	if c > ConfidenceLow && (typ == TypeHV3 || typ == TypeEV5) {
		return ConfidenceLow
	}
	return c
}

// decodePayloadHeader decodes the 1 or 2 byte payload header at the start of
// stream. It fails when stream is too short or FEC decoding fails.
func decodePayloadHeader(in decodeInput, stream []byte, headerBytes int, fec bool) (Payload, bool) {
	p := Payload{HeaderBytes: headerBytes, Clock: in.clock}
	n := headerBytes * 8

	var raw []byte
	if fec {
		var err error
		if raw, err = DecodeBlock1510(stream, n); err != nil {
			return p, false
		}
	} else {
		if len(stream) < n {
			return p, false
		}
		raw = stream
	}
	hdr := in.dewhiten(raw[:n], 0)

	if headerBytes == 2 {
		p.Length = int(AirToHost16(hdr[3:], 10)) + 4
	} else {
		p.Length = int(AirToHost8(hdr[3:], 5)) + 3
	}
	p.LLID = AirToHost8(hdr, 2)
	p.Flow = hdr[2] != 0
	return p, true
}

func decodeDM(in decodeInput) (Payload, Confidence) {
	stream := in.symbols
	info := in.typ.info()
	if in.typ == TypeDV {
		if len(stream) < dvVoiceSymbols {
			return Payload{Clock: in.clock}, ConfidenceNone
		}
		stream = stream[dvVoiceSymbols:]
	}

	p, ok := decodePayloadHeader(in, stream, info.headerBytes, true)
	if !ok {
		return p, ConfidenceNone
	}
	if p.Length > info.maxLength {
		return p, ConfidenceLow
	}
	n := p.Length * 8
	if Fec23Symbols(n) > len(stream) {
		return p, ConfidenceLow
	}
	corrected, err := DecodeBlock1510(stream, n)
	if err != nil {
		return p, ConfidenceNone
	}
	p.Bits = in.dewhiten(corrected[:n], 0)

	if payloadCRCValid(p.Bits, p.Length, in.uap) {
		return p, ConfidenceHigh
	}
	return p, ConfidenceLow
}

func decodeDH(in decodeInput) (Payload, Confidence) {
	info := in.typ.info()
	p, ok := decodePayloadHeader(in, in.symbols, info.headerBytes, false)
	if !ok {
		return p, ConfidenceNone
	}
	if p.Length > info.maxLength {
		return p, ConfidenceLow
	}
	n := p.Length * 8
	if n > len(in.symbols) {
		return p, ConfidenceLow
	}
	p.Bits = in.dewhiten(in.symbols[:n], 0)

	if !info.crc {
		return p, ConfidenceLow
	}
	if payloadCRCValid(p.Bits, p.Length, in.uap) {
		return p, ConfidenceHigh
	}
	return p, ConfidenceLow
}

// decodeByProbe finds the length of an unprotected payload with no payload
// header by growing it one byte at a time until the CRC matches
func decodeByProbe(in decodeInput) (Payload, Confidence) {
	avail := min(len(in.symbols)/8, in.typ.info().maxLength)
	p := Payload{Clock: in.clock}
	p.Bits = in.dewhiten(in.symbols[:avail*8], 0)

	for length := 3; length <= avail; length++ {
		if payloadCRCValid(p.Bits, length, in.uap) {
			p.Length = length
			p.Bits = p.Bits[:length*8]
			return p, ConfidenceHigh
		}
	}
	p.Length = avail
	return p, ConfidenceLow
}

func decodeEV3(in decodeInput) (Payload, Confidence) {
	return decodeByProbe(in)
}

func decodeEV5(in decodeInput) (Payload, Confidence) {
	return decodeByProbe(in)
}

func decodeEV4(in decodeInput) (Payload, Confidence) {
	p := Payload{Clock: in.clock}
	bits := make([]byte, 0, ev4MaxSymbols/15*10)
	length := 3

	for syms := 0; syms < ev4MaxSymbols; syms += 15 {
		if syms+15 > len(in.symbols) {
			break
		}
		block, err := DecodeBlock1510(in.symbols[syms:syms+15], 10)
		if err != nil {
			p.Bits = bits
			p.Length = len(bits) / 8
			if syms < ev4MinSymbols {
				return p, ConfidenceNone
			}
			return p, ConfidenceLow
		}
		bits = append(bits, in.dewhiten(block, len(bits))...)

		for ; length*8 <= len(bits); length++ {
			if payloadCRCValid(bits, length, in.uap) {
				p.Bits = bits[:length*8]
				p.Length = length
				return p, ConfidenceHigh
			}
		}
	}
	p.Bits = bits
	p.Length = len(bits) / 8
	return p, ConfidenceLow
}

func decodeHV(in decodeInput) (Payload, Confidence) {
	p := Payload{Clock: in.clock}
	if len(in.symbols) < hvMinSymbols {
		return p, ConfidenceLow
	}

	switch in.typ {
	case TypeHV1:
		raw, _, ok := DecodeRepetition13(in.symbols, 80)
		if !ok {
			return p, ConfidenceNone
		}
		p.Length = 10
		p.Bits = in.dewhiten(raw, 0)
	case TypeHV2:
		raw, err := DecodeBlock1510(in.symbols, 160)
		if err != nil {
			return p, ConfidenceNone
		}
		p.Length = 20
		p.Bits = in.dewhiten(raw[:160], 0)
	default:
		p.Length = 30
		p.Bits = in.dewhiten(in.symbols[:240], 0)
	}
	return p, ConfidenceLow
}

func decodeFHS(in decodeInput) (Payload, Confidence) {
	p := Payload{Length: fhsLength, Clock: in.clock}
	n := fhsLength * 8
	if len(in.symbols) < Fec23Symbols(n) {
		return p, ConfidenceLow
	}
	corrected, err := DecodeBlock1510(in.symbols, n)
	if err != nil {
		return p, ConfidenceNone
	}
	corrected = corrected[:n]

	for clock := range FHSClockHypotheses(in.clock) {
		bits := Dewhiten(corrected, clock, payloadSkip, in.whitened)
		if payloadCRCValid(bits, fhsLength, in.uap) {
			p.Bits = bits
			p.Clock = clock
			return p, ConfidenceHigh
		}
	}
	p.Bits = Dewhiten(corrected, in.clock, payloadSkip, in.whitened)
	return p, ConfidenceNone
}
