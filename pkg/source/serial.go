package source

import (
	"context"
	"fmt"

	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/dbehnke/btbb-nexus/pkg/metrics"
	"go.bug.st/serial"
)

// SerialSource reads a stream of frames from capture hardware on a serial port
type SerialSource struct {
	port     string
	baudRate int
	log      *logger.Logger
	metrics  *metrics.Collector
}

// NewSerialSource creates a serial port frame reader
func NewSerialSource(port string, baudRate int, collector *metrics.Collector, log *logger.Logger) *SerialSource {
	collector, log = withDefaults(collector, log)
	return &SerialSource{
		port:     port,
		baudRate: baudRate,
		log:      log.WithComponent("source.serial"),
		metrics:  collector,
	}
}

// Run reads frames until the port fails or ctx is done
func (s *SerialSource) Run(ctx context.Context, out chan<- Frame) error {
	mode := &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(s.port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}
	s.log.Info("Reading symbol frames",
		logger.String("port", s.port),
		logger.Int("baud_rate", s.baudRate))

	// closing the port unblocks the pending read
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = port.Close()
	}()

	err = readAll(ctx, NewReader(port), out, s.metrics)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("serial port %s: %w", s.port, err)
}
