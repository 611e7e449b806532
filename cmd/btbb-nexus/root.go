package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dbehnke/btbb-nexus/pkg/config"
	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "btbb-nexus",
	Short: "Bluetooth baseband packet decoder",
	Long: `BTBB-Nexus - Bluetooth Basic Rate baseband decoder.

Searches demodulated symbol streams for access codes, discovers the UAP and
clock of each piconet heard, and decodes packet headers and payloads.

Symbol frames arrive over UDP, from capture hardware on a serial port, or
from a capture file. Decoded packets can be stored in SQLite, published to
MQTT, streamed to the web dashboard, and written to pcap or CBOR logs.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("BTBB-Nexus %s (commit %s, built %s)\n", version, commit, buildTime))
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the configuration named by --config
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the application logger. The returned func closes the log
// file, if one is configured.
func newLogger(cfg config.LoggingConfig) (*logger.Logger, func(), error) {
	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	return logger.New(logger.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: out,
	}), closeFn, nil
}
