package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/dbehnke/btbb-nexus/pkg/metrics"
)

// UDPSource receives one frame per datagram
type UDPSource struct {
	host    string
	port    int
	log     *logger.Logger
	metrics *metrics.Collector
	conn    *net.UDPConn
	// started is closed once the UDP listener is bound and ready
	started chan struct{}
}

// NewUDPSource creates a UDP frame listener
func NewUDPSource(host string, port int, collector *metrics.Collector, log *logger.Logger) *UDPSource {
	collector, log = withDefaults(collector, log)
	return &UDPSource{
		host:    host,
		port:    port,
		log:     log.WithComponent("source.udp"),
		metrics: collector,
		started: make(chan struct{}),
	}
}

// Run listens for frames until ctx is done
func (s *UDPSource) Run(ctx context.Context, out chan<- Frame) error {
	localAddr := &net.UDPAddr{
		IP:   net.ParseIP(s.host),
		Port: s.port,
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn
	close(s.started)
	defer func() {
		_ = conn.Close()
	}()

	s.log.Info("Listening for symbol frames", logger.String("addr", conn.LocalAddr().String()))

	buffer := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Set read deadline to allow context checking
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			s.log.Warn("Failed to set read deadline", logger.Error(err))
			continue
		}
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.log.Error("Failed to read from UDP", logger.Error(err))
			continue
		}

		f, _, err := ParseFrame(buffer[:n])
		if err != nil {
			s.metrics.FrameInvalid()
			s.log.Debug("Dropping invalid frame",
				logger.String("from", addr.String()),
				logger.Int("size", n),
				logger.Error(err))
			continue
		}
		s.metrics.FrameReceived(len(f.Symbols))
		if err := deliver(ctx, out, f); err != nil {
			return err
		}
	}
}

// WaitStarted blocks until the UDP listener is bound or the context is canceled
func (s *UDPSource) WaitStarted(ctx context.Context) error {
	select {
	case <-s.started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the local UDP address. It should be called after WaitStarted.
func (s *UDPSource) Addr() (*net.UDPAddr, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("source not started")
	}
	udpAddr, ok := s.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("not a UDP address")
	}
	return udpAddr, nil
}
