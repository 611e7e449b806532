package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusConfig holds Prometheus server configuration
type PrometheusConfig struct {
	Enabled bool
	Port    int
	Path    string
}

var (
	framesDesc = prometheus.NewDesc("btbb_frames_received_total",
		"Total symbol frames received from sources", nil, nil)
	framesInvalidDesc = prometheus.NewDesc("btbb_frames_invalid_total",
		"Total frames rejected as malformed", nil, nil)
	symbolsDesc = prometheus.NewDesc("btbb_symbols_received_total",
		"Total demodulated symbols received", nil, nil)
	windowsDesc = prometheus.NewDesc("btbb_windows_processed_total",
		"Total channel windows searched for access codes", nil, nil)
	accessCodesDesc = prometheus.NewDesc("btbb_access_codes_total",
		"Total access codes detected", nil, nil)
	droppedDesc = prometheus.NewDesc("btbb_detections_dropped_total",
		"Total detection records dropped because the queue was full", nil, nil)
	headerFailuresDesc = prometheus.NewDesc("btbb_header_failures_total",
		"Total packets whose header failed to decode", nil, nil)
	packetsDesc = prometheus.NewDesc("btbb_packets_decoded_total",
		"Total decoded packets by packet type", []string{"type"}, nil)
	confidenceDesc = prometheus.NewDesc("btbb_packets_confidence_total",
		"Total decoded packets by payload confidence", []string{"confidence"}, nil)
	piconetsDesc = prometheus.NewDesc("btbb_piconets_active",
		"Number of piconets currently tracked", nil, nil)
	uapsDesc = prometheus.NewDesc("btbb_uaps_discovered_total",
		"Total UAPs confirmed by discovery or FHS", nil, nil)
)

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		framesDesc, framesInvalidDesc, symbolsDesc, windowsDesc, accessCodesDesc, droppedDesc,
		headerFailuresDesc, packetsDesc, confidenceDesc, piconetsDesc, uapsDesc,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.Snapshot()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(framesDesc, s.FramesReceived)
	counter(framesInvalidDesc, s.FramesInvalid)
	counter(symbolsDesc, s.SymbolsReceived)
	counter(windowsDesc, s.WindowsProcessed)
	counter(accessCodesDesc, s.AccessCodes)
	counter(droppedDesc, s.DetectionsDropped)
	counter(headerFailuresDesc, s.HeaderFailures)
	for _, typ := range sortedKeys(s.PacketsByType) {
		counter(packetsDesc, s.PacketsByType[typ], typ)
	}
	for _, conf := range sortedKeys(s.PacketsByConf) {
		counter(confidenceDesc, s.PacketsByConf[conf], conf)
	}
	counter(uapsDesc, s.UAPsDiscovered)
	ch <- prometheus.MustNewConstMetric(piconetsDesc, prometheus.GaugeValue, float64(s.ActivePiconets))
}

// NewRegistry returns a registry exposing collector alongside Go runtime metrics
func NewRegistry(collector *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// NewPrometheusHandler creates an HTTP handler serving collector's metrics
func NewPrometheusHandler(collector *Collector) http.Handler {
	return promhttp.HandlerFor(NewRegistry(collector), promhttp.HandlerOpts{})
}

// PrometheusServer is an HTTP server for Prometheus metrics
type PrometheusServer struct {
	config    PrometheusConfig
	collector *Collector
	log       *logger.Logger
	server    *http.Server
}

// NewPrometheusServer creates a new Prometheus metrics server
func NewPrometheusServer(config PrometheusConfig, collector *Collector, log *logger.Logger) *PrometheusServer {
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}

	return &PrometheusServer{
		config:    config,
		collector: collector,
		log:       log.WithComponent("metrics"),
	}
}

// Start starts the Prometheus metrics server and blocks until ctx is done
func (s *PrometheusServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("Prometheus metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(s.config.Path, NewPrometheusHandler(s.collector))

	// Use a listener to get the actual port (useful for testing with port 0)
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Info("Starting Prometheus metrics server",
		logger.Int("port", actualPort),
		logger.String("path", s.config.Path))

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down Prometheus metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown error: %w", err)
		}
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}
