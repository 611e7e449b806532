package btbb

import "fmt"

// PacketType is the 4-bit TYPE field of the packet header
type PacketType uint8

// Packet types. Several codes are shared between Basic Rate packets and
// eSCO or EDR packets; the constant names the Basic Rate interpretation.
const (
	TypeNULL PacketType = iota
	TypePOLL
	TypeFHS
	TypeDM1
	TypeDH1
	TypeHV1
	TypeHV2
	TypeHV3 // also EV3
	TypeDV
	TypeAUX1
	TypeDM3
	TypeDH3
	TypeEV4
	TypeEV5
	TypeDM5
	TypeDH5
)

var typeNames = [16]string{
	"NULL", "POLL", "FHS", "DM1", "DH1/2-DH1", "HV1", "HV2/2-EV3", "HV3/EV3/3-EV3",
	"DV/3-DH1", "AUX1", "DM3/2-DH3", "DH3/3-DH3", "EV4/2-EV5", "EV5/3-EV5", "DM5/2-DH5", "DH5/3-DH5",
}

func (t PacketType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("TYPE(%d)", uint8(t))
}

// FECRate identifies the forward error correction applied to a payload
type FECRate int

const (
	FECNone FECRate = iota
	FEC13
	FEC23
)

func (r FECRate) String() string {
	switch r {
	case FEC13:
		return "1/3"
	case FEC23:
		return "2/3"
	default:
		return "none"
	}
}

type typeInfo struct {
	fec           FECRate
	headerBytes   int  // payload header length; 0 when the type has none
	maxLength     int  // bytes including payload header and CRC
	crc           bool // payload carries a CRC
	lengthByProbe bool // length found by searching for a CRC match
}

var typeTable = [16]typeInfo{
	TypeNULL: {},
	TypePOLL: {},
	TypeFHS:  {fec: FEC23, maxLength: 20, crc: true},
	TypeDM1:  {fec: FEC23, headerBytes: 1, maxLength: 20, crc: true},
	TypeDH1:  {headerBytes: 1, maxLength: 30, crc: true},
	TypeHV1:  {fec: FEC13, maxLength: 10},
	TypeHV2:  {fec: FEC23, maxLength: 20},
	TypeHV3:  {maxLength: 32, crc: true, lengthByProbe: true},
	TypeDV:   {fec: FEC23, headerBytes: 1, maxLength: 12, crc: true},
	TypeAUX1: {headerBytes: 1, maxLength: 30},
	TypeDM3:  {fec: FEC23, headerBytes: 2, maxLength: 125, crc: true},
	TypeDH3:  {headerBytes: 2, maxLength: 187, crc: true},
	TypeEV4:  {fec: FEC23, maxLength: 122, crc: true, lengthByProbe: true},
	TypeEV5:  {maxLength: 182, crc: true, lengthByProbe: true},
	TypeDM5:  {fec: FEC23, headerBytes: 2, maxLength: 228, crc: true},
	TypeDH5:  {headerBytes: 2, maxLength: 343, crc: true},
}

func (t PacketType) info() typeInfo {
	return typeTable[t&0x0f]
}

// MaxPayloadLength returns the largest payload, in bytes including the payload
// header and CRC, the type can carry
func (t PacketType) MaxPayloadLength() int { return t.info().maxLength }

// HasCRC reports whether payloads of this type end in a CRC
func (t PacketType) HasCRC() bool { return t.info().crc }

// FEC returns the error correction applied to the payload
func (t PacketType) FEC() FECRate { return t.info().fec }

// PayloadHeaderBytes returns the payload header length, 0 when there is none
func (t PacketType) PayloadHeaderBytes() int { return t.info().headerBytes }

// Confidence scores a payload decode
type Confidence int

const (
	// ConfidenceNone means the payload could not be FEC decoded
	ConfidenceNone Confidence = 0
	// ConfidenceLow means the payload parsed but was not validated by a CRC
	ConfidenceLow Confidence = 1
	// ConfidenceHigh means the payload CRC matched
	ConfidenceHigh Confidence = 10
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceNone:
		return "none"
	case ConfidenceLow:
		return "low"
	case ConfidenceHigh:
		return "high"
	default:
		return fmt.Sprintf("confidence(%d)", int(c))
	}
}

// LLID values of the payload header
const (
	LLIDContinuation = 1
	LLIDStart        = 2
	LLIDControl      = 3
)
