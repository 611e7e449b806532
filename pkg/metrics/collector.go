package metrics

import (
	"sort"
	"sync"
)

// Collector collects sniffer metrics
type Collector struct {
	mu sync.RWMutex

	// Source metrics
	framesReceived  uint64
	framesInvalid   uint64
	symbolsReceived uint64

	// Access code search
	windowsProcessed  uint64
	accessCodes       uint64
	detectionsDropped uint64

	// Decode results
	headerFailures uint64
	packetsByType  map[string]uint64
	packetsByConf  map[string]uint64

	// Piconet metrics
	activePiconets map[uint32]bool
	uapsDiscovered uint64
}

// Stats is a point in time copy of the collector's values
type Stats struct {
	FramesReceived    uint64            `json:"frames_received"`
	FramesInvalid     uint64            `json:"frames_invalid"`
	SymbolsReceived   uint64            `json:"symbols_received"`
	WindowsProcessed  uint64            `json:"windows_processed"`
	AccessCodes       uint64            `json:"access_codes"`
	DetectionsDropped uint64            `json:"detections_dropped"`
	HeaderFailures    uint64            `json:"header_failures"`
	PacketsByType     map[string]uint64 `json:"packets_by_type"`
	PacketsByConf     map[string]uint64 `json:"packets_by_confidence"`
	ActivePiconets    int               `json:"active_piconets"`
	UAPsDiscovered    uint64            `json:"uaps_discovered"`
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		packetsByType:  make(map[string]uint64),
		packetsByConf:  make(map[string]uint64),
		activePiconets: make(map[uint32]bool),
	}
}

// FrameReceived records a symbol frame from a source
func (c *Collector) FrameReceived(symbols int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.framesReceived++
	c.symbolsReceived += uint64(symbols)
}

// FrameInvalid records a frame that could not be parsed
func (c *Collector) FrameInvalid() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.framesInvalid++
}

// WindowProcessed records a channel window searched for access codes
func (c *Collector) WindowProcessed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.windowsProcessed++
}

// AccessCodeDetected records an access code found in a window
func (c *Collector) AccessCodeDetected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accessCodes++
}

// DetectionDropped records a detection record dropped by a full queue
func (c *Collector) DetectionDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.detectionsDropped++
}

// HeaderFailed records a packet whose header did not decode
func (c *Collector) HeaderFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.headerFailures++
}

// PacketDecoded records a decoded packet by type name and confidence
func (c *Collector) PacketDecoded(packetType, confidence string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packetsByType[packetType]++
	c.packetsByConf[confidence]++
}

// PiconetActive records a piconet as being seen
func (c *Collector) PiconetActive(lap uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activePiconets[lap] = true
}

// PiconetExpired records a piconet that went idle
func (c *Collector) PiconetExpired(lap uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.activePiconets, lap)
}

// UAPDiscovered records a UAP confirmed for a piconet
func (c *Collector) UAPDiscovered(lap uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.uapsDiscovered++
}

// Reset resets gauges (useful for testing)
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activePiconets = make(map[uint32]bool)
	// Note: counters are cumulative and are not reset
}

// Getters for metrics

// GetFramesReceived returns total frames received
func (c *Collector) GetFramesReceived() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.framesReceived
}

// GetAccessCodes returns total access codes detected
func (c *Collector) GetAccessCodes() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessCodes
}

// GetDetectionsDropped returns total detections dropped
func (c *Collector) GetDetectionsDropped() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.detectionsDropped
}

// GetActivePiconets returns the number of active piconets
func (c *Collector) GetActivePiconets() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.activePiconets)
}

// GetPacketsDecoded returns decoded packets of the given type
func (c *Collector) GetPacketsDecoded(packetType string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.packetsByType[packetType]
}

// Snapshot returns a copy of all values
func (c *Collector) Snapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		FramesReceived:    c.framesReceived,
		FramesInvalid:     c.framesInvalid,
		SymbolsReceived:   c.symbolsReceived,
		WindowsProcessed:  c.windowsProcessed,
		AccessCodes:       c.accessCodes,
		DetectionsDropped: c.detectionsDropped,
		HeaderFailures:    c.headerFailures,
		PacketsByType:     make(map[string]uint64, len(c.packetsByType)),
		PacketsByConf:     make(map[string]uint64, len(c.packetsByConf)),
		ActivePiconets:    len(c.activePiconets),
		UAPsDiscovered:    c.uapsDiscovered,
	}
	for k, v := range c.packetsByType {
		s.PacketsByType[k] = v
	}
	for k, v := range c.packetsByConf {
		s.PacketsByConf[k] = v
	}
	return s
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
