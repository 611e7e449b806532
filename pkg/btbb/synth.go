package btbb

import (
	"errors"
	"fmt"
)

// ErrPayloadTooLong is returned when a body does not fit the packet type
var ErrPayloadTooLong = errors.New("btbb: payload too long for packet type")

// Builder synthesizes the noise-free symbol stream of a packet
type Builder struct {
	LAP    uint32
	UAP    uint8
	Clock  uint32
	Type   PacketType
	LTAddr uint8
	Flow   bool
	ARQN   bool
	SEQN   bool

	// LLID and PayloadFlow fill the payload header of types that have one
	LLID        uint8
	PayloadFlow bool
	// Body is the user payload. FHS packets take the 18 bytes from FHSPayload.
	Body []byte
	// Voice is the 80-symbol voice field of a DV packet
	Voice []byte
	// SCO builds type 7 as HV3 instead of EV3
	SCO bool
	// Unwhitened disables whitening of header and payload
	Unwhitened bool
}

// Build returns the packet's symbols, starting with the access code
func (b Builder) Build() ([]byte, error) {
	out := AccessCodeSymbols(b.LAP)

	data := headerData(b.LTAddr, b.Type, b.Flow, b.ARQN, b.SEQN)
	hdr := append(HostToAir(uint32(data), 10), HostToAir(uint32(HEC(data, b.UAP)), 8)...)
	out = append(out, EncodeRepetition13(b.whiten(hdr, 0))...)

	payload, err := b.payload()
	if err != nil {
		return nil, err
	}
	return append(out, payload...), nil
}

func (b Builder) whiten(bits []byte, skip int) []byte {
	return Dewhiten(bits, b.Clock, skip, !b.Unwhitened)
}

func (b Builder) payload() ([]byte, error) {
	info := b.Type.info()
	switch b.Type {
	case TypeNULL, TypePOLL:
		return nil, nil

	case TypeFHS:
		if len(b.Body) != fhsLength-2 {
			return nil, fmt.Errorf("%w: FHS body is %d bytes, want %d", ErrPayloadTooLong, len(b.Body), fhsLength-2)
		}
		bits := appendCRC(BytesToSymbols(b.Body), b.UAP)
		return EncodeBlock1510(b.whiten(bits, payloadSkip)), nil

	case TypeHV1, TypeHV2:
		bits := b.fixedBody(info.maxLength)
		if b.Type == TypeHV1 {
			return EncodeRepetition13(b.whiten(bits, payloadSkip)), nil
		}
		return EncodeBlock1510(b.whiten(bits, payloadSkip)), nil

	case TypeHV3:
		if b.SCO {
			return b.whiten(b.fixedBody(30), payloadSkip), nil
		}
		return b.probedBody(info)

	case TypeEV5:
		return b.probedBody(info)

	case TypeEV4:
		bits, err := b.probedBody(info)
		if err != nil {
			return nil, err
		}
		return EncodeBlock1510(bits), nil

	default:
		return b.headedBody(info)
	}
}

// fixedBody returns Body padded or cut to n bytes, as symbols
func (b Builder) fixedBody(n int) []byte {
	body := make([]byte, n)
	copy(body, b.Body)
	return BytesToSymbols(body)
}

// probedBody builds a payload with no payload header whose length is found by
// the receiver from the CRC. The result is whitened but not FEC encoded.
func (b Builder) probedBody(info typeInfo) ([]byte, error) {
	if len(b.Body)+2 > info.maxLength {
		return nil, fmt.Errorf("%w: %d bytes for %s", ErrPayloadTooLong, len(b.Body), b.Type)
	}
	if len(b.Body) < 1 {
		return nil, fmt.Errorf("btbb: %s needs a body", b.Type)
	}
	bits := appendCRC(BytesToSymbols(b.Body), b.UAP)
	return b.whiten(bits, payloadSkip), nil
}

// headedBody builds DM, DH, DV and AUX1 payloads: payload header, body, CRC
func (b Builder) headedBody(info typeInfo) ([]byte, error) {
	total := info.headerBytes + len(b.Body) + 2
	if total > info.maxLength {
		return nil, fmt.Errorf("%w: %d bytes for %s", ErrPayloadTooLong, len(b.Body), b.Type)
	}

	ph := make([]byte, info.headerBytes*8)
	putAir(ph, uint32(b.LLID), 2)
	if b.PayloadFlow {
		ph[2] = 1
	}
	if info.headerBytes == 2 {
		putAir(ph[3:], uint32(len(b.Body)), 10)
	} else {
		putAir(ph[3:], uint32(len(b.Body)), 5)
	}

	bits := appendCRC(append(ph, BytesToSymbols(b.Body)...), b.UAP)
	bits = b.whiten(bits, payloadSkip)
	if info.fec == FEC23 {
		bits = EncodeBlock1510(bits)
	}

	if b.Type == TypeDV {
		voice := make([]byte, dvVoiceSymbols)
		copy(voice, b.Voice)
		bits = append(b.whiten(voice, payloadSkip), bits...)
	}
	return bits, nil
}

// FHSPayload lays out the 18 bytes of an FHS payload ahead of its CRC.
// Parity bits, class of device and scan fields are left zero.
func FHSPayload(info FHSInfo, ltAddr uint8) []byte {
	bits := make([]byte, (fhsLength-2)*8)
	putAir(bits[34:], info.LAP, 24)
	putAir(bits[64:], uint32(info.UAP), 8)
	putAir(bits[72:], uint32(info.NAP), 16)
	putAir(bits[112:], uint32(ltAddr), 3)
	putAir(bits[115:], info.Clock, 26)
	return SymbolsToBytes(bits)
}
