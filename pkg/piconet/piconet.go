package piconet

import (
	"sync"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/btbb"
)

// State is how much of a piconet's addressing is known
type State int

const (
	// StateDiscovering means the UAP or the clock offset is still unknown
	StateDiscovering State = iota
	// StateTracking means packets can be fully decoded
	StateTracking
	// StateIdentified means an FHS has also supplied the NAP
	StateIdentified
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateTracking:
		return "tracking"
	case StateIdentified:
		return "identified"
	default:
		return "unknown"
	}
}

// hypotheses is the number of 6-bit clock offsets scored during discovery
const hypotheses = 64

// hypothesis accumulates evidence for one clock offset
type hypothesis struct {
	uap        uint8
	seen       bool
	eliminated bool
	score      int
}

// Piconet is what is known about the piconet using one LAP
type Piconet struct {
	LAP uint32

	uap     uint8
	haveUAP bool
	// fixedUAP is set for configured targets; discovery then only finds the clock
	fixedUAP bool
	nap      uint16
	haveNAP  bool

	// offset is added to a packet's CLKN to get the whitening clock
	offset     uint32
	haveOffset bool
	// masterClock is CLK27-2 from the last FHS
	masterClock uint32

	hyps [hypotheses]hypothesis
	// failures counts consecutive HEC mismatches while tracking
	failures int

	firstSeen time.Time
	lastHeard time.Time
	packets   uint64
	decoded   uint64

	mu sync.Mutex
}

// Info is a point in time copy of a piconet
type Info struct {
	LAP         uint32    `json:"lap"`
	UAP         uint8     `json:"uap"`
	UAPKnown    bool      `json:"uap_known"`
	NAP         uint16    `json:"nap"`
	NAPKnown    bool      `json:"nap_known"`
	ClockOffset uint32    `json:"clock_offset"`
	ClockKnown  bool      `json:"clock_known"`
	MasterClock uint32    `json:"master_clock,omitempty"`
	State       string    `json:"state"`
	Candidates  int       `json:"candidates"`
	Packets     uint64    `json:"packets"`
	Decoded     uint64    `json:"decoded"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

func newPiconet(lap uint32) *Piconet {
	now := time.Now()
	return &Piconet{LAP: lap, firstSeen: now, lastHeard: now}
}

func (pn *Piconet) state() State {
	switch {
	case !pn.haveUAP || !pn.haveOffset:
		return StateDiscovering
	case pn.haveNAP:
		return StateIdentified
	default:
		return StateTracking
	}
}

// info must be called with mu held
func (pn *Piconet) info() Info {
	candidates := 0
	for i := range pn.hyps {
		if !pn.hyps[i].eliminated {
			candidates++
		}
	}
	return Info{
		LAP:         pn.LAP,
		UAP:         pn.uap,
		UAPKnown:    pn.haveUAP,
		NAP:         pn.nap,
		NAPKnown:    pn.haveNAP,
		ClockOffset: pn.offset,
		ClockKnown:  pn.haveOffset,
		MasterClock: pn.masterClock,
		State:       pn.state().String(),
		Candidates:  candidates,
		Packets:     pn.packets,
		Decoded:     pn.decoded,
		FirstSeen:   pn.firstSeen,
		LastSeen:    pn.lastHeard,
	}
}

// Info returns a copy of the piconet's state
func (pn *Piconet) Info() Info {
	pn.mu.Lock()
	defer pn.mu.Unlock()
	return pn.info()
}

// IsTimedOut checks if the piconet has not been heard for longer than timeout
func (pn *Piconet) IsTimedOut(timeout time.Duration) bool {
	pn.mu.Lock()
	defer pn.mu.Unlock()
	return time.Since(pn.lastHeard) > timeout
}

// clock returns the whitening clock for a packet received at clkn
func (pn *Piconet) clock(clkn uint32) uint32 {
	return (clkn + pn.offset) & 0x3f
}

// resetHypotheses restarts discovery with every offset a candidate
func (pn *Piconet) resetHypotheses() {
	pn.hyps = [hypotheses]hypothesis{}
}

// score folds one packet into the hypotheses. ok is false when the packet
// has no decodable header. fhs is set when an offset validated an FHS
// payload; the offset and its UAP are then adopted at once.
func (pn *Piconet) score(p *btbb.Packet) (fhs, ok bool) {
	for off := range uint32(hypotheses) {
		h := &pn.hyps[off]
		if h.eliminated {
			continue
		}
		clock := (p.CLKN() + off) & 0x3f
		uap, err := p.TryClock(clock)
		if err != nil {
			return false, false
		}
		if (pn.fixedUAP && uap != pn.uap) || (h.seen && uap != h.uap) {
			h.eliminated = true
			continue
		}
		c := p.CRCCheck(clock)
		if c == btbb.ConfidenceNone {
			h.eliminated = true
			continue
		}
		h.uap = uap
		h.seen = true
		h.score += int(c)

		if p.Type() == btbb.TypeFHS && c == btbb.ConfidenceHigh {
			pn.adopt(uap, off)
			return true, true
		}
	}
	return false, true
}

// adopt records a confirmed UAP and clock offset
func (pn *Piconet) adopt(uap uint8, offset uint32) {
	pn.uap = uap
	pn.haveUAP = true
	pn.offset = offset
	pn.haveOffset = true
	pn.resetHypotheses()
}

// best returns the leading hypothesis and the score of the runner-up
func (pn *Piconet) best() (offset uint32, lead hypothesis, runnerUp int) {
	for off := range uint32(hypotheses) {
		h := pn.hyps[off]
		if h.eliminated || !h.seen {
			continue
		}
		switch {
		case h.score > lead.score:
			runnerUp = lead.score
			lead = h
			offset = off
		case h.score > runnerUp:
			runnerUp = h.score
		}
	}
	return offset, lead, runnerUp
}

// remaining counts offsets that have not been ruled out
func (pn *Piconet) remaining() int {
	n := 0
	for i := range pn.hyps {
		if !pn.hyps[i].eliminated {
			n++
		}
	}
	return n
}
