package btbb

// FHSInfo holds the addressing and clock fields of a validated FHS payload
type FHSInfo struct {
	LAP uint32
	UAP uint8
	NAP uint16
	// Clock is CLK27-2 of the sender, 26 bits
	Clock uint32
	// WhiteningClock is the clock that dewhitened the payload
	WhiteningClock uint32
}

// ParseFHS extracts the FHS fields from a CRC-validated FHS payload
func ParseFHS(p Payload) (FHSInfo, bool) {
	if len(p.Bits) < fhsLength*8 {
		return FHSInfo{}, false
	}
	return FHSInfo{
		LAP:            AirToHost32(p.Bits[34:], 24),
		UAP:            AirToHost8(p.Bits[64:], 8),
		NAP:            AirToHost16(p.Bits[72:], 16),
		Clock:          AirToHost32(p.Bits[115:], 26),
		WhiteningClock: p.Clock,
	}, true
}

// FHSInfo returns the FHS fields of a decoded FHS packet whose CRC matched
func (p *Packet) FHSInfo() (FHSInfo, bool) {
	if p.state != StatePayloadDecoded || p.typ != TypeFHS || p.confidence != ConfidenceHigh {
		return FHSInfo{}, false
	}
	return ParseFHS(p.payload)
}
