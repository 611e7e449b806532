package piconet

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/btbb"
	"github.com/dbehnke/btbb-nexus/pkg/logger"
)

const (
	// DefaultThreshold is the discovery score needed to confirm a UAP
	DefaultThreshold = 40
	// minLead is how far the leading hypothesis must be ahead of the runner-up
	minLead = int(btbb.ConfidenceHigh)
	// relockAfter consecutive HEC failures send a tracked piconet back to
	// clock discovery
	relockAfter = 8
)

// Config holds tracker configuration
type Config struct {
	DiscoveryThreshold int
	// Targets maps LAPs to UAPs known in advance
	Targets map[uint32]uint8
}

// Observation is the outcome of feeding one packet to the tracker
type Observation struct {
	Info Info
	// HeaderPresent is false for ID packets
	HeaderPresent bool
	// Discovered is set when this packet confirmed the UAP and clock offset
	Discovered bool
	// Decoded is set when the header decoded against the piconet's UAP
	Decoded    bool
	Confidence btbb.Confidence
	Err        error
	// FHS is set when the packet was a validated FHS
	FHS *btbb.FHSInfo
}

// Tracker follows piconets by LAP in a thread-safe manner
type Tracker struct {
	config   Config
	log      *logger.Logger
	piconets map[uint32]*Piconet
	mu       sync.RWMutex
}

// NewTracker creates a new piconet tracker
func NewTracker(cfg Config, log *logger.Logger) *Tracker {
	if cfg.DiscoveryThreshold <= 0 {
		cfg.DiscoveryThreshold = DefaultThreshold
	}
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}
	return &Tracker{
		config:   cfg,
		log:      log.WithComponent("piconet"),
		piconets: make(map[uint32]*Piconet),
	}
}

// getOrAdd returns the piconet for lap, creating it if needed
func (t *Tracker) getOrAdd(lap uint32) *Piconet {
	t.mu.RLock()
	pn, ok := t.piconets[lap]
	t.mu.RUnlock()
	if ok {
		return pn
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if pn, ok := t.piconets[lap]; ok {
		return pn
	}
	pn = newPiconet(lap)
	if uap, ok := t.config.Targets[lap]; ok {
		pn.uap = uap
		pn.haveUAP = true
		pn.fixedUAP = true
	}
	t.piconets[lap] = pn
	t.log.Debug("New piconet", logger.Hex("lap", uint64(lap), 6))
	return pn
}

// Observe feeds a packet to the piconet owning its LAP. Packets of a piconet
// whose UAP and clock are known are decoded; others advance discovery.
func (t *Tracker) Observe(p *btbb.Packet) Observation {
	pn := t.getOrAdd(p.LAP())

	pn.mu.Lock()
	defer pn.mu.Unlock()

	pn.packets++
	pn.lastHeard = time.Now()

	var obs Observation
	if !p.HeaderPresent() {
		obs.Info = pn.info()
		return obs
	}
	obs.HeaderPresent = true

	if pn.state() == StateDiscovering {
		obs.Discovered = t.discover(pn, p)
		if !obs.Discovered {
			obs.Info = pn.info()
			return obs
		}
	}

	t.decode(pn, p, &obs)
	obs.Info = pn.info()
	return obs
}

// discover scores p against every clock offset and reports whether the
// piconet's UAP and offset are now confirmed
func (t *Tracker) discover(pn *Piconet, p *btbb.Packet) bool {
	fhs, ok := pn.score(p)
	if !ok {
		return false
	}
	if fhs {
		t.log.Info("UAP found from FHS",
			logger.Hex("lap", uint64(pn.LAP), 6),
			logger.Hex("uap", uint64(pn.uap), 2))
		return true
	}

	off, lead, runnerUp := pn.best()
	if lead.seen && lead.score >= t.config.DiscoveryThreshold && lead.score-runnerUp >= minLead {
		pn.adopt(lead.uap, off)
		t.log.Info("UAP discovered",
			logger.Hex("lap", uint64(pn.LAP), 6),
			logger.Hex("uap", uint64(pn.uap), 2),
			logger.Uint32("clock_offset", off),
			logger.Int("score", lead.score),
			logger.Int("runner_up", runnerUp))
		return true
	}

	if pn.remaining() == 0 {
		t.log.Debug("All clock offsets eliminated, restarting discovery",
			logger.Hex("lap", uint64(pn.LAP), 6))
		pn.resetHypotheses()
	}
	return false
}

// decode fully decodes p with the piconet's UAP and clock
func (t *Tracker) decode(pn *Piconet, p *btbb.Packet, obs *Observation) {
	p.SetUAP(pn.uap)
	if pn.haveNAP {
		p.SetNAP(pn.nap)
	}
	p.SetClock(pn.clock(p.CLKN()), false)

	conf, err := p.Decode()
	if err != nil {
		obs.Err = err
		if errors.Is(err, btbb.ErrBadHEC) {
			pn.failures++
			if pn.failures >= relockAfter {
				t.log.Warn("Lost clock lock, restarting discovery",
					logger.Hex("lap", uint64(pn.LAP), 6),
					logger.Int("failures", pn.failures))
				pn.haveOffset = false
				pn.fixedUAP = true
				pn.failures = 0
				pn.resetHypotheses()
			}
		}
		return
	}
	pn.failures = 0
	pn.decoded++
	obs.Decoded = true
	obs.Confidence = conf

	info, ok := p.FHSInfo()
	if !ok {
		return
	}
	// The payload may have validated on an inquiry clock; whitening of later
	// packets keeps following the header's offset.
	obs.FHS = &info
	if info.LAP == pn.LAP && info.UAP == pn.uap {
		if !pn.haveNAP {
			t.log.Info("NAP found from FHS",
				logger.Hex("lap", uint64(pn.LAP), 6),
				logger.Hex("nap", uint64(info.NAP), 4))
		}
		pn.nap = info.NAP
		pn.haveNAP = true
		pn.masterClock = info.Clock
	}
}

// Get returns a copy of the piconet using lap
func (t *Tracker) Get(lap uint32) (Info, bool) {
	t.mu.RLock()
	pn, ok := t.piconets[lap]
	t.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return pn.Info(), true
}

// Piconets returns copies of all tracked piconets ordered by LAP
func (t *Tracker) Piconets() []Info {
	t.mu.RLock()
	list := make([]*Piconet, 0, len(t.piconets))
	for _, pn := range t.piconets {
		list = append(list, pn)
	}
	t.mu.RUnlock()

	infos := make([]Info, 0, len(list))
	for _, pn := range list {
		infos = append(infos, pn.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].LAP < infos[j].LAP })
	return infos
}

// Count returns the number of tracked piconets
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.piconets)
}

// Expire removes piconets that haven't been heard from in the given duration
// and returns them
func (t *Tracker) Expire(timeout time.Duration) []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []Info
	for lap, pn := range t.piconets {
		if pn.IsTimedOut(timeout) {
			removed = append(removed, pn.Info())
			delete(t.piconets, lap)
		}
	}
	return removed
}
