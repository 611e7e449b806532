package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/logger"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config holds MQTT publisher configuration
type Config struct {
	Enabled     bool
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	Retained    bool
}

// publishTimeout bounds how long a publish waits for the broker
const publishTimeout = 5 * time.Second

// ErrNotConnected is returned when publishing before Start
var ErrNotConnected = errors.New("mqtt: not connected")

// client is the part of paho.Client the publisher uses
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher handles MQTT event publishing
type Publisher struct {
	config Config
	log    *logger.Logger

	mu     sync.Mutex
	client client
}

// Event types for MQTT publishing

// PacketEvent describes a decoded baseband packet
type PacketEvent struct {
	SessionID  string    `json:"session_id"`
	LAP        string    `json:"lap"`
	UAP        string    `json:"uap,omitempty"`
	Channel    int       `json:"channel"`
	CLKN       uint32    `json:"clkn"`
	Type       string    `json:"type"`
	LTAddr     uint8     `json:"lt_addr"`
	LLID       uint8     `json:"llid,omitempty"`
	Length     int       `json:"length"`
	Confidence string    `json:"confidence"`
	Payload    string    `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PiconetEvent describes a change in what is known about a piconet
type PiconetEvent struct {
	SessionID string    `json:"session_id"`
	LAP       string    `json:"lap"`
	UAP       string    `json:"uap,omitempty"`
	NAP       string    `json:"nap,omitempty"`
	Clock     uint32    `json:"clock,omitempty"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a new MQTT publisher
func New(config Config, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}

	return &Publisher{
		config: config,
		log:    log.WithComponent("mqtt"),
	}
}

// Start connects to the broker. The client reconnects on its own after a
// lost connection.
func (p *Publisher) Start(ctx context.Context) error {
	if !p.config.Enabled {
		p.log.Info("MQTT publisher disabled")
		return nil
	}

	p.log.Info("Starting MQTT publisher",
		logger.String("broker", p.config.Broker),
		logger.String("client_id", p.config.ClientID))

	opts := paho.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
	}
	if p.config.Password != "" {
		opts.SetPassword(p.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(paho.Client) {
		p.log.Info("Connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.log.Warn("Connection lost", logger.Error(err))
	})

	c := paho.NewClient(opts)
	token := c.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker %s: %w", p.config.Broker, err)
		}
	case <-ctx.Done():
		c.Disconnect(0)
		return ctx.Err()
	}

	p.mu.Lock()
	p.client = c
	p.mu.Unlock()
	return nil
}

// Stop stops the MQTT publisher
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return
	}
	p.log.Info("Stopping MQTT publisher")
	p.client.Disconnect(250)
	p.client = nil
}

// PublishPacket publishes a decoded packet event
func (p *Publisher) PublishPacket(event PacketEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("packets/" + strings.ToLower(event.LAP))
	return p.publish(topic, event)
}

// PublishPiconet publishes a piconet state change event
func (p *Publisher) PublishPiconet(event PiconetEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("piconets/" + strings.ToLower(event.LAP))
	return p.publish(topic, event)
}

// publish publishes an event to a topic
func (p *Publisher) publish(topic string, event interface{}) error {
	payload, err := p.serializeEvent(event)
	if err != nil {
		p.log.Error("Failed to serialize event",
			logger.String("topic", topic),
			logger.Error(err))
		return err
	}

	p.mu.Lock()
	c := p.client
	p.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}

	token := c.Publish(topic, p.config.QoS, p.config.Retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.log.Debug("Published MQTT event",
		logger.String("topic", topic),
		logger.Int("payload_size", len(payload)))
	return nil
}

// serializeEvent serializes an event to JSON
func (p *Publisher) serializeEvent(event interface{}) ([]byte, error) {
	return json.Marshal(event)
}

// formatTopic formats a topic with the configured prefix
func (p *Publisher) formatTopic(suffix string) string {
	prefix := strings.TrimSuffix(p.config.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return fmt.Sprintf("%s/%s", prefix, suffix)
}
