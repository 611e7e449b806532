package btbb

// TunHeaderLength is the size of the fixed part of a tunnel record
const TunHeaderLength = 9

// Tunnel record flags
const (
	TunFlagClock27 = 0x01
	TunFlagNAP     = 0x02
)

// TunFormat renders a decoded packet as a tunnel record: the clock (little
// endian), the channel, flags, the packet header split 7+3+8 bits, then the
// payload bytes.
func (p *Packet) TunFormat() []byte {
	length := 0
	if p.state == StatePayloadDecoded {
		length = p.payload.Length
	}
	out := make([]byte, TunHeaderLength, TunHeaderLength+length)

	out[0] = byte(p.clock)
	out[1] = byte(p.clock >> 8)
	out[2] = byte(p.clock >> 16)
	out[3] = byte(p.clock >> 24)
	out[4] = byte(p.channel)
	if p.haveClk27 {
		out[5] |= TunFlagClock27
	}
	if p.haveNAP {
		out[5] |= TunFlagNAP
	}

	out[6] = AirToHost8(p.header.Bits[:], 7)
	out[7] = AirToHost8(p.header.Bits[7:], 3)
	out[8] = AirToHost8(p.header.Bits[10:], 8)

	if length > 0 {
		payload := p.payload.Bytes()
		out = append(out, payload...)
		// a payload cut short by the end of the capture is zero filled
		for len(out) < TunHeaderLength+length {
			out = append(out, 0)
		}
	}
	return out
}
