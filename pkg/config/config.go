package config

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Source   SourceConfig   `mapstructure:"source" yaml:"source"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Web      WebConfig      `mapstructure:"web" yaml:"web"`
	MQTT     MQTTConfig     `mapstructure:"mqtt" yaml:"mqtt"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// CaptureConfig controls access code search and piconet tracking
type CaptureConfig struct {
	Whitened    bool `mapstructure:"whitened" yaml:"whitened"`
	LowChannel  int  `mapstructure:"low_channel" yaml:"low_channel"`
	HighChannel int  `mapstructure:"high_channel" yaml:"high_channel"`
	Workers     int  `mapstructure:"workers" yaml:"workers"`
	QueueSize   int  `mapstructure:"queue_size" yaml:"queue_size"`
	// SearchLimit caps the offsets searched for an access code per window
	SearchLimit        int `mapstructure:"search_limit" yaml:"search_limit"`
	DiscoveryThreshold int `mapstructure:"discovery_threshold" yaml:"discovery_threshold"`
	PiconetTimeout     int `mapstructure:"piconet_timeout" yaml:"piconet_timeout"` // Seconds

	// Targets are piconets whose UAP is already known
	Targets []TargetConfig `mapstructure:"targets" yaml:"targets"`
}

// TargetConfig names a piconet by LAP and UAP, both hexadecimal
type TargetConfig struct {
	LAP string `mapstructure:"lap" yaml:"lap"`
	UAP string `mapstructure:"uap" yaml:"uap"`
}

// SourceConfig selects where demodulated symbols come from
type SourceConfig struct {
	Type   string             `mapstructure:"type" yaml:"type"` // udp, file, serial
	UDP    UDPSourceConfig    `mapstructure:"udp" yaml:"udp"`
	File   FileSourceConfig   `mapstructure:"file" yaml:"file"`
	Serial SerialSourceConfig `mapstructure:"serial" yaml:"serial"`
}

// UDPSourceConfig holds the listen address for symbol frames
type UDPSourceConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// FileSourceConfig names a capture file
type FileSourceConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SerialSourceConfig holds serial port settings for capture hardware
type SerialSourceConfig struct {
	Port     string `mapstructure:"port" yaml:"port"`
	BaudRate int    `mapstructure:"baud_rate" yaml:"baud_rate"`
}

// OutputConfig names capture files written while decoding
type OutputConfig struct {
	PCAP    string `mapstructure:"pcap" yaml:"pcap"`
	CBORLog string `mapstructure:"cbor_log" yaml:"cbor_log"`
}

// DatabaseConfig holds decoded packet store settings
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	// RetentionHours bounds the age of stored packets; 0 keeps them all
	RetentionHours int `mapstructure:"retention_hours" yaml:"retention_hours"`
}

// WebConfig holds web dashboard configuration
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// MQTTConfig holds MQTT client configuration
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker      string `mapstructure:"broker" yaml:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	QoS         byte   `mapstructure:"qos" yaml:"qos"`
	Retained    bool   `mapstructure:"retained" yaml:"retained"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled    bool             `mapstructure:"enabled" yaml:"enabled"`
	Prometheus PrometheusConfig `mapstructure:"prometheus" yaml:"prometheus"`
}

// PrometheusConfig holds Prometheus metrics configuration
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Set defaults
	setDefaults()

	// Set config file
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/btbb-nexus")
	}

	// Environment variables, e.g. BTBB_SOURCE_TYPE
	viper.SetEnvPrefix("BTBB")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is OK, use defaults
		} else if os.IsNotExist(err) {
			// File explicitly specified but doesn't exist - that's also OK
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal to struct
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Dump writes the configuration as YAML
func Dump(cfg *Config, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// setDefaults sets default configuration values
func setDefaults() {
	// Capture defaults
	viper.SetDefault("capture.whitened", true)
	viper.SetDefault("capture.low_channel", 0)
	viper.SetDefault("capture.high_channel", 78)
	viper.SetDefault("capture.workers", 4)
	viper.SetDefault("capture.queue_size", 20)
	viper.SetDefault("capture.search_limit", 625)
	viper.SetDefault("capture.discovery_threshold", 40)
	viper.SetDefault("capture.piconet_timeout", 300)

	// Source defaults
	viper.SetDefault("source.type", "udp")
	viper.SetDefault("source.udp.host", "0.0.0.0")
	viper.SetDefault("source.udp.port", 4729)
	viper.SetDefault("source.serial.baud_rate", 921600)

	// Database defaults
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.path", "btbb-nexus.db")
	viper.SetDefault("database.retention_hours", 0)

	// Web defaults
	viper.SetDefault("web.enabled", true)
	viper.SetDefault("web.host", "0.0.0.0")
	viper.SetDefault("web.port", 8080)

	// MQTT defaults
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.topic_prefix", "btbb/nexus")
	viper.SetDefault("mqtt.client_id", "btbb-nexus")
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.retained", false)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.prometheus.enabled", true)
	viper.SetDefault("metrics.prometheus.port", 9090)
	viper.SetDefault("metrics.prometheus.path", "/metrics")
}
