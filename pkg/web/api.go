package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/config"
	"github.com/dbehnke/btbb-nexus/pkg/database"
	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/dbehnke/btbb-nexus/pkg/metrics"
	"github.com/dbehnke/btbb-nexus/pkg/piconet"
)

const (
	defaultPacketLimit = 50
	maxPacketLimit     = 1000
)

// PacketStore supplies recently decoded packets
type PacketStore interface {
	GetRecent(limit int) ([]database.DecodedPacket, error)
}

// PiconetLister supplies the currently tracked piconets
type PiconetLister interface {
	Piconets() []piconet.Info
}

// API handles REST API endpoints
type API struct {
	logger   *logger.Logger
	packets  PacketStore
	piconets PiconetLister
	metrics  *metrics.Collector
}

// NewAPI creates a new API instance
func NewAPI(log *logger.Logger) *API {
	return &API{
		logger: log,
	}
}

// SetPacketStore sets where /api/packets reads from
func (a *API) SetPacketStore(store PacketStore) { a.packets = store }

// SetPiconetLister sets where /api/piconets reads from
func (a *API) SetPiconetLister(lister PiconetLister) { a.piconets = lister }

// SetMetrics sets the collector reported by /api/stats
func (a *API) SetMetrics(collector *metrics.Collector) { a.metrics = collector }

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("Failed to encode response", logger.Error(err))
	}
}

// statusResponse is the body of /api/status
type statusResponse struct {
	Status  string  `json:"status"`
	Service string  `json:"service"`
	Uptime  float64 `json:"uptime_seconds,omitempty"`
	BuildInfo
}

// HandleStatus handles the /api/status endpoint
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{Status: "running", Service: "btbb-nexus", BuildInfo: GetBuildInfo()}
	if !resp.Started.IsZero() {
		resp.Uptime = time.Since(resp.Started).Seconds()
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// HandlePackets handles the /api/packets endpoint. The optional limit query
// parameter caps the number of packets returned.
func (a *API) HandlePackets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultPacketLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxPacketLimit)
	}

	packets := []database.DecodedPacket{}
	if a.packets != nil {
		recent, err := a.packets.GetRecent(limit)
		if err != nil {
			a.logger.Error("Failed to load packets", logger.Error(err))
			http.Error(w, "failed to load packets", http.StatusInternalServerError)
			return
		}
		packets = append(packets, recent...)
	}
	a.writeJSON(w, http.StatusOK, packets)
}

// HandlePiconets handles the /api/piconets endpoint
func (a *API) HandlePiconets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	piconets := []piconet.Info{}
	if a.piconets != nil {
		piconets = append(piconets, a.piconets.Piconets()...)
	}
	a.writeJSON(w, http.StatusOK, piconets)
}

// HandlePiconet handles /api/piconets/{lap}, where lap is hexadecimal
func (a *API) HandlePiconet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	lap, err := config.ParseLAP(r.PathValue("lap"))
	if err != nil {
		http.Error(w, "invalid LAP", http.StatusBadRequest)
		return
	}
	if a.piconets != nil {
		for _, info := range a.piconets.Piconets() {
			if info.LAP == lap {
				a.writeJSON(w, http.StatusOK, info)
				return
			}
		}
	}
	http.Error(w, "piconet not found", http.StatusNotFound)
}

// HandleStats handles the /api/stats endpoint
func (a *API) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var stats metrics.Stats
	if a.metrics != nil {
		stats = a.metrics.Snapshot()
	}
	a.writeJSON(w, http.StatusOK, stats)
}
