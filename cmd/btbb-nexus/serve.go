package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/capture"
	"github.com/dbehnke/btbb-nexus/pkg/config"
	"github.com/dbehnke/btbb-nexus/pkg/database"
	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/dbehnke/btbb-nexus/pkg/metrics"
	"github.com/dbehnke/btbb-nexus/pkg/mqtt"
	"github.com/dbehnke/btbb-nexus/pkg/sniffer"
	"github.com/dbehnke/btbb-nexus/pkg/source"
	"github.com/dbehnke/btbb-nexus/pkg/web"
	"github.com/spf13/cobra"
)

const (
	// statsInterval is how often a metrics snapshot is pushed to dashboard clients
	statsInterval = 5 * time.Second
	pruneInterval = time.Hour
)

var validateOnly bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the decoder with every configured service",
	Long: `Read symbol frames from the configured source and decode them until
interrupted. Enabled services (database, MQTT, web dashboard, Prometheus
metrics, pcap and CBOR output) receive every decoded packet.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&validateOnly, "validate", false, "Validate configuration and exit")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	if validateOnly {
		log.Info("Configuration is valid")
		return nil
	}

	log.Info("Starting BTBB-Nexus",
		logger.String("version", version),
		logger.String("build_time", buildTime))
	web.SetVersionInfo(version, commit, buildTime)

	pipelineCfg, err := sniffer.ConfigFrom(cfg)
	if err != nil {
		return err
	}

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector()

	src, err := source.New(cfg.Source, metricsCollector, log)
	if err != nil {
		return err
	}

	sinks, db, closeSinks, err := openSinks(cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Initialize wait group for goroutines
	var wg sync.WaitGroup

	if db != nil && cfg.Database.RetentionHours > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prunePackets(ctx, db, time.Duration(cfg.Database.RetentionHours)*time.Hour, log)
		}()
	}

	// Start Prometheus metrics server if enabled
	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metricsServer := metrics.NewPrometheusServer(
				metrics.PrometheusConfig{
					Enabled: cfg.Metrics.Prometheus.Enabled,
					Port:    cfg.Metrics.Prometheus.Port,
					Path:    cfg.Metrics.Prometheus.Path,
				},
				metricsCollector,
				log,
			)
			if err := metricsServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Prometheus metrics server error", logger.Error(err))
			}
		}()
	}

	// Initialize MQTT publisher if enabled
	if cfg.MQTT.Enabled {
		sinks.Publisher = mqtt.New(
			mqtt.Config{
				Enabled:     cfg.MQTT.Enabled,
				Broker:      cfg.MQTT.Broker,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				QoS:         cfg.MQTT.QoS,
				Retained:    cfg.MQTT.Retained,
			},
			log,
		)

		publisher := sinks.Publisher
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := publisher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("MQTT publisher error", logger.Error(err))
			}
		}()
		defer publisher.Stop()
	}

	// Start web server if enabled
	var webServer *web.Server
	if cfg.Web.Enabled {
		webServer = web.NewServer(cfg.Web, log)
		sinks.Hub = webServer.GetHub()
	}

	svc := sniffer.New(pipelineCfg, sinks, metricsCollector, log)
	web.SetSession(svc.SessionID(), time.Now())

	if webServer != nil {
		api := webServer.GetAPI()
		api.SetPiconetLister(svc)
		api.SetMetrics(metricsCollector)
		if sinks.Packets != nil {
			api.SetPacketStore(sinks.Packets)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := webServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Web server error", logger.Error(err))
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			pushStats(ctx, webServer.GetHub(), metricsCollector)
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx, src)
	}()

	log.Info("BTBB-Nexus initialized",
		logger.String("source", cfg.Source.Type),
		logger.String("session_id", svc.SessionID()))

	// Wait for shutdown signal or the end of the source
	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal",
			logger.String("signal", sig.String()))
		cancel()
		runErr = <-errChan
	case runErr = <-errChan:
		cancel()
	}

	// Wait for all components to stop
	wg.Wait()

	log.Info("BTBB-Nexus stopped")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// openSinks opens the database and capture outputs named in cfg. The
// database is nil when disabled.
func openSinks(cfg *config.Config, log *logger.Logger) (sniffer.Sinks, *database.DB, func(), error) {
	var sinks sniffer.Sinks
	var db *database.DB
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Database.Enabled {
		var err error
		db, err = database.NewDB(database.Config{
			Path:      cfg.Database.Path,
			Retention: time.Duration(cfg.Database.RetentionHours) * time.Hour,
		}, log)
		if err != nil {
			return sinks, nil, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		sinks.Packets = db.Packets()
		sinks.Piconets = db.Piconets()
	}

	if cfg.Output.PCAP != "" {
		pw, err := capture.CreatePCAP(cfg.Output.PCAP)
		if err != nil {
			closeAll()
			return sinks, nil, nil, err
		}
		closers = append(closers, func() { _ = pw.Close() })
		sinks.PCAP = pw
		log.Info("Writing pcap", logger.String("path", cfg.Output.PCAP))
	}

	if cfg.Output.CBORLog != "" {
		cl, err := capture.CreateCBORLog(cfg.Output.CBORLog)
		if err != nil {
			closeAll()
			return sinks, nil, nil, err
		}
		closers = append(closers, func() { _ = cl.Close() })
		sinks.CBOR = cl
		log.Info("Writing CBOR packet log", logger.String("path", cfg.Output.CBORLog))
	}

	return sinks, db, closeAll, nil
}

// pushStats sends a metrics snapshot to dashboard clients until ctx is done
func pushStats(ctx context.Context, hub *web.WebSocketHub, collector *metrics.Collector) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if hub.GetClientCount() > 0 {
				hub.BroadcastStats(collector.Snapshot())
			}
		}
	}
}

// prunePackets deletes packets older than maxAge until ctx is done
func prunePackets(ctx context.Context, db *database.DB, maxAge time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := db.Prune(maxAge); err != nil {
				log.Warn("Failed to prune old packets", logger.Error(err))
			}
		}
	}
}
