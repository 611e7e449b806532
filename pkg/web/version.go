package web

import (
	"sync"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/btbb"
)

// BuildInfo describes the running binary, its capture session and the
// decoder it was built with
type BuildInfo struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	Built     string    `json:"built"`
	SessionID string    `json:"session_id,omitempty"`
	Started   time.Time `json:"started,omitzero"`
	Decoder   Decoder   `json:"decoder"`
}

// Decoder lists the limits and packet types of the baseband decoder
type Decoder struct {
	MaxSymbols      int      `json:"max_symbols"`
	PayloadOffset   int      `json:"payload_offset"`
	TunHeaderLength int      `json:"tun_header_length"`
	PacketTypes     []string `json:"packet_types"`
}

var (
	buildMu   sync.RWMutex
	buildInfo = BuildInfo{Version: "dev", Commit: "unknown", Built: "unknown"}
)

// decoderInfo is fixed at build time
var decoderInfo = func() Decoder {
	d := Decoder{
		MaxSymbols:      btbb.MaxSymbols,
		PayloadOffset:   btbb.PayloadOffset,
		TunHeaderLength: btbb.TunHeaderLength,
	}
	for t := btbb.TypeNULL; t <= btbb.TypeDH5; t++ {
		d.PacketTypes = append(d.PacketTypes, t.String())
	}
	return d
}()

// SetVersionInfo records the binary's version for /api/status
func SetVersionInfo(version, commit, built string) {
	buildMu.Lock()
	defer buildMu.Unlock()
	buildInfo.Version = version
	buildInfo.Commit = commit
	buildInfo.Built = built
}

// SetSession records the capture session being served
func SetSession(sessionID string, started time.Time) {
	buildMu.Lock()
	defer buildMu.Unlock()
	buildInfo.SessionID = sessionID
	buildInfo.Started = started
}

// GetBuildInfo returns a copy of the build and session information
func GetBuildInfo() BuildInfo {
	buildMu.RLock()
	info := buildInfo
	buildMu.RUnlock()

	info.Decoder = decoderInfo
	info.Decoder.PacketTypes = append([]string(nil), decoderInfo.PacketTypes...)
	return info
}
