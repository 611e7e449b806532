package config

import (
	"fmt"
	"strconv"
	"strings"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// Bluetooth Basic Rate channels
const maxChannel = 78

// validate validates the configuration
func validate(cfg *Config) error {
	// Validate capture config
	c := cfg.Capture
	if c.LowChannel < 0 || c.HighChannel > maxChannel || c.LowChannel > c.HighChannel {
		return fmt.Errorf("capture channels must satisfy 0 <= low_channel <= high_channel <= %d", maxChannel)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("capture.workers must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("capture.queue_size must be positive")
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("capture.search_limit must be positive")
	}
	if c.DiscoveryThreshold <= 0 {
		return fmt.Errorf("capture.discovery_threshold must be positive")
	}
	if c.PiconetTimeout <= 0 {
		return fmt.Errorf("capture.piconet_timeout must be positive")
	}
	for i, target := range c.Targets {
		if _, err := ParseLAP(target.LAP); err != nil {
			return fmt.Errorf("capture target %d: %w", i, err)
		}
		if _, err := ParseUAP(target.UAP); err != nil {
			return fmt.Errorf("capture target %d: %w", i, err)
		}
	}

	// Validate source config
	switch strings.ToLower(cfg.Source.Type) {
	case "udp":
		if cfg.Source.UDP.Port <= 0 || cfg.Source.UDP.Port > 65535 {
			return fmt.Errorf("source.udp.port must be between 1 and 65535")
		}
	case "file":
		if cfg.Source.File.Path == "" {
			return fmt.Errorf("source.file.path is required for file sources")
		}
	case "serial":
		if cfg.Source.Serial.Port == "" {
			return fmt.Errorf("source.serial.port is required for serial sources")
		}
		if cfg.Source.Serial.BaudRate <= 0 {
			return fmt.Errorf("source.serial.baud_rate must be positive")
		}
	default:
		return fmt.Errorf("invalid source.type %s (must be udp, file, or serial)", cfg.Source.Type)
	}

	// Validate database config
	if cfg.Database.Enabled && cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required when database is enabled")
	}
	if cfg.Database.RetentionHours < 0 {
		return fmt.Errorf("database.retention_hours must not be negative")
	}

	// Validate web config
	if cfg.Web.Enabled {
		if cfg.Web.Port <= 0 || cfg.Web.Port > 65535 {
			return fmt.Errorf("web.port must be between 1 and 65535")
		}
	}

	// Validate MQTT config
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1, or 2")
		}
	}

	// Validate logging config
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// ParseLAP parses a 24-bit lower address part written in hexadecimal
func ParseLAP(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 24)
	if err != nil {
		return 0, fmt.Errorf("invalid LAP %q: must be 6 hex digits", s)
	}
	return uint32(v), nil
}

// ParseUAP parses an 8-bit upper address part written in hexadecimal
func ParseUAP(s string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid UAP %q: must be 2 hex digits", s)
	}
	return uint8(v), nil
}
