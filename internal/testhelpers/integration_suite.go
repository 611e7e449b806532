package testhelpers

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/btbb"
	"github.com/dbehnke/btbb-nexus/pkg/config"
	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/dbehnke/btbb-nexus/pkg/source"
)

// IntegrationSuite provides infrastructure for integration tests
type IntegrationSuite struct {
	T       *testing.T
	Config  *config.Config
	Logger  *logger.Logger
	Ctx     context.Context
	Cancel  context.CancelFunc
	Senders []*FrameSender
}

// NewIntegrationSuite creates a new integration test suite
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	log := logger.New(logger.Config{
		Level:  "debug",
		Format: "text",
	})

	return &IntegrationSuite{
		T:       t,
		Config:  CreateDefaultConfig(),
		Logger:  log,
		Ctx:     ctx,
		Cancel:  cancel,
		Senders: make([]*FrameSender, 0),
	}
}

// CreateSender creates a frame sender and adds it to the suite
func (s *IntegrationSuite) CreateSender(addr string) *FrameSender {
	sender := NewFrameSender()
	if err := sender.Connect(addr); err != nil {
		s.T.Fatalf("failed to connect sender to %s: %v", addr, err)
	}
	s.Senders = append(s.Senders, sender)
	return sender
}

// GetFreePort gets a free port for testing
func (s *IntegrationSuite) GetFreePort() int {
	addr, err := net.ResolveUDPAddr("udp", "localhost:0")
	if err != nil {
		s.T.Fatal(err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		s.T.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

// Cleanup cleans up resources
func (s *IntegrationSuite) Cleanup() {
	for _, sender := range s.Senders {
		_ = sender.Close()
	}
	s.Cancel()
}

// WaitFor waits for a condition to be true
func (s *IntegrationSuite) WaitFor(condition func() bool, timeout time.Duration, message string) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.T.Logf("WaitFor timeout: %s", message)
	return false
}

// AssertEventually asserts that a condition becomes true within timeout
func (s *IntegrationSuite) AssertEventually(condition func() bool, timeout time.Duration, message string) {
	if !s.WaitFor(condition, timeout, message) {
		s.T.Errorf("Assertion failed: %s", message)
	}
}

// Piconet describes a synthetic piconet whose master clock runs Offset ahead
// of the receiver's native clock
type Piconet struct {
	LAP     uint32
	UAP     uint8
	Offset  uint32
	Channel int
}

// Frame builds a frame holding a packet of the piconet received at clkn.
// lead zero symbols precede the access code.
func (p Piconet) Frame(b btbb.Builder, clkn uint32, lead int) (source.Frame, error) {
	b.LAP = p.LAP
	b.UAP = p.UAP
	b.Clock = (clkn + p.Offset) & 0x3f
	symbols, err := b.Build()
	if err != nil {
		return source.Frame{}, fmt.Errorf("build packet at clkn %d: %w", clkn, err)
	}
	return source.Frame{
		Channel: p.Channel,
		CLKN:    clkn,
		Symbols: append(make([]byte, lead), symbols...),
	}, nil
}

// DM1Frames builds n DM1 frames received two slots apart from clkn
func (p Piconet) DM1Frames(n int, clkn uint32) ([]source.Frame, error) {
	frames := make([]source.Frame, 0, n)
	for i := 0; i < n; i++ {
		f, err := p.Frame(btbb.Builder{
			Type:   btbb.TypeDM1,
			LTAddr: 1,
			LLID:   btbb.LLIDStart,
			Body:   []byte(fmt.Sprintf("pkt-%d", i)),
		}, clkn+uint32(2*i), 10)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// CreateDefaultConfig creates a default test configuration
func CreateDefaultConfig() *config.Config {
	return &config.Config{
		Capture: config.CaptureConfig{
			Whitened:           true,
			HighChannel:        78,
			Workers:            1,
			QueueSize:          20,
			SearchLimit:        625,
			DiscoveryThreshold: 40,
			PiconetTimeout:     300,
		},
		Source: config.SourceConfig{
			Type: "udp",
			UDP:  config.UDPSourceConfig{Host: "127.0.0.1", Port: 0},
		},
		Web: config.WebConfig{
			Enabled: false,
		},
		MQTT: config.MQTTConfig{
			Enabled: false,
		},
		Metrics: config.MetricsConfig{
			Enabled: false,
		},
	}
}
