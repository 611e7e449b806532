package btbb

import (
	"fmt"
	"strings"
)

// MaxSymbols is the longest symbol stream a packet keeps
const MaxSymbols = 3125

// State tracks how far a packet has been decoded
type State int

const (
	StateCreated State = iota
	StateHeaderDecoded
	StatePayloadDecoded
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateHeaderDecoded:
		return "header-decoded"
	case StatePayloadDecoded:
		return "payload-decoded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Packet is a captured symbol stream starting at an access code, together
// with what is known about its piconet and what has been decoded from it.
// A Packet is not safe for concurrent use.
type Packet struct {
	symbols []byte
	lap     uint32
	clkn    uint32
	channel int

	uap       uint8
	haveUAP   bool
	nap       uint16
	haveNAP   bool
	clock     uint32
	haveClk6  bool
	haveClk27 bool
	whitened  bool

	state      State
	typ        PacketType
	header     Header
	payload    Payload
	confidence Confidence

	probeUAP uint8
	probed   bool
}

// NewPacket copies up to MaxSymbols symbols, which must start at an access
// code, into a new packet
func NewPacket(symbols []byte) *Packet {
	n := min(len(symbols), MaxSymbols)
	p := &Packet{
		symbols:  make([]byte, n),
		whitened: true,
	}
	copy(p.symbols, symbols[:n])
	p.lap = LAPFromSymbols(p.symbols)
	return p
}

// NewPacketAt is NewPacket for a packet received at native clock clkn on
// the given channel
func NewPacketAt(symbols []byte, clkn uint32, channel int) *Packet {
	p := NewPacket(symbols)
	p.clkn = clkn
	p.channel = channel
	return p
}

// Symbols returns the packet's symbol stream. The caller must not modify it.
func (p *Packet) Symbols() []byte { return p.symbols }

// Len returns the number of symbols held
func (p *Packet) Len() int { return len(p.symbols) }

// LAP returns the lower address part carried by the access code
func (p *Packet) LAP() uint32 { return p.lap }

// CLKN returns the native clock the packet was received at
func (p *Packet) CLKN() uint32 { return p.clkn }

// Channel returns the RF channel the packet was received on
func (p *Packet) Channel() int { return p.channel }

// UAP returns the upper address part, if known
func (p *Packet) UAP() (uint8, bool) { return p.uap, p.haveUAP }

// NAP returns the non-significant address part, if known
func (p *Packet) NAP() (uint16, bool) { return p.nap, p.haveNAP }

// Clock returns the master clock used for dewhitening and whether at least its
// low 6 bits are known
func (p *Packet) Clock() (uint32, bool) { return p.clock, p.haveClk6 }

// HaveClock27 reports whether all 27 clock bits are known
func (p *Packet) HaveClock27() bool { return p.haveClk27 }

// Whitened reports whether the header and payload are taken to be whitened
func (p *Packet) Whitened() bool { return p.whitened }

// State returns the decode state
func (p *Packet) State() State { return p.state }

// Type returns the packet type from the last decoded or probed header
func (p *Packet) Type() PacketType { return p.typ }

// Header returns the decoded packet header
func (p *Packet) Header() Header { return p.header }

// Payload returns the decoded payload and its confidence
func (p *Packet) Payload() (Payload, Confidence) { return p.payload, p.confidence }

// SetUAP records the piconet's upper address part
func (p *Packet) SetUAP(uap uint8) {
	p.uap = uap
	p.haveUAP = true
	p.reset()
}

// SetNAP records the piconet's non-significant address part
func (p *Packet) SetNAP(nap uint16) {
	p.nap = nap
	p.haveNAP = true
	p.reset()
}

// SetClock records the master clock. With have27 all 27 bits are kept,
// otherwise only the 6 bits used for whitening.
func (p *Packet) SetClock(clock uint32, have27 bool) {
	if have27 {
		p.clock = clock & 0x7ffffff
	} else {
		p.clock = clock & 0x3f
	}
	p.haveClk6 = true
	p.haveClk27 = have27
	p.reset()
}

// SetWhitened sets whether the header and payload are whitened
func (p *Packet) SetWhitened(whitened bool) {
	p.whitened = whitened
	p.reset()
}

func (p *Packet) reset() {
	p.state = StateCreated
	p.header = Header{}
	p.payload = Payload{}
	p.confidence = ConfidenceNone
}

func (p *Packet) payloadSymbols() []byte {
	if len(p.symbols) < PayloadOffset {
		return nil
	}
	return p.symbols[PayloadOffset:]
}

// HeaderPresent reports whether the packet carries a header, as opposed to
// being an ID packet
func (p *Packet) HeaderPresent() bool {
	return HeaderPresent(p.symbols)
}

// TryClock decodes the header with a candidate clock and returns the UAP the
// HEC implies. The packet type is recorded for a following CRCCheck. Any
// earlier decode is discarded.
func (p *Packet) TryClock(clock uint32) (uint8, error) {
	p.reset()
	h, err := ProbeUAP(p.symbols, clock, p.whitened)
	if err != nil {
		p.probed = false
		return 0, err
	}
	p.typ = h.Type
	p.probeUAP = h.UAP
	p.probed = true
	return h.UAP, nil
}

// CRCCheck scores the payload against clock using the type and UAP found by
// the last successful TryClock
func (p *Packet) CRCCheck(clock uint32) Confidence {
	if !p.probed {
		return ConfidenceNone
	}
	return CRCCheck(p.typ, p.payloadSymbols(), clock, p.probeUAP, p.whitened)
}

// DecodeHeader decodes the packet header with the packet's clock and checks
// it against the known UAP
func (p *Packet) DecodeHeader() error {
	if !p.haveClk6 {
		return ErrClockUnknown
	}
	if !p.haveUAP {
		return ErrUAPUnknown
	}
	p.reset()
	h, err := DecodeHeader(p.symbols, p.clock, p.uap, p.whitened)
	if err != nil {
		return fmt.Errorf("decode header of LAP %06x: %w", p.lap, err)
	}
	p.header = h
	p.typ = h.Type
	p.state = StateHeaderDecoded
	return nil
}

// DecodePayload decodes the payload of a packet whose header has been decoded.
// It may be called once per header decode.
func (p *Packet) DecodePayload() (Confidence, error) {
	switch p.state {
	case StateCreated:
		return ConfidenceNone, fmt.Errorf("%w: payload decode before header", ErrInvalidTransition)
	case StatePayloadDecoded:
		return p.confidence, fmt.Errorf("%w: payload already decoded", ErrInvalidTransition)
	}
	p.payload, p.confidence = DecodePayload(p.typ, p.payloadSymbols(), p.clock, p.uap, p.whitened)
	p.state = StatePayloadDecoded
	return p.confidence, nil
}

// Decode decodes the header and payload from scratch
func (p *Packet) Decode() (Confidence, error) {
	p.reset()
	if err := p.DecodeHeader(); err != nil {
		return ConfidenceNone, err
	}
	return p.DecodePayload()
}

func (p *Packet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "LAP %06x", p.lap)
	if p.haveUAP {
		fmt.Fprintf(&b, " UAP %02x", p.uap)
	}
	if p.state != StatePayloadDecoded {
		return b.String()
	}
	fmt.Fprintf(&b, " %s", p.typ)
	if p.payload.HeaderBytes > 0 {
		fmt.Fprintf(&b, " LLID %d flow %d length %d", p.payload.LLID, boolBit(p.payload.Flow), p.payload.Length)
	}
	return b.String()
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
