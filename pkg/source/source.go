package source

import (
	"context"
	"fmt"

	"github.com/dbehnke/btbb-nexus/pkg/config"
	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/dbehnke/btbb-nexus/pkg/metrics"
)

// Source delivers symbol frames until its input ends or ctx is done
type Source interface {
	Run(ctx context.Context, out chan<- Frame) error
}

// New creates the source selected by cfg
func New(cfg config.SourceConfig, collector *metrics.Collector, log *logger.Logger) (Source, error) {
	switch cfg.Type {
	case "udp":
		return NewUDPSource(cfg.UDP.Host, cfg.UDP.Port, collector, log), nil
	case "file":
		return NewFileSource(cfg.File.Path, collector, log), nil
	case "serial":
		return NewSerialSource(cfg.Serial.Port, cfg.Serial.BaudRate, collector, log), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// withDefaults fills in a collector and logger when the caller passed nil
func withDefaults(collector *metrics.Collector, log *logger.Logger) (*metrics.Collector, *logger.Logger) {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}
	return collector, log
}

// deliver sends f to out unless ctx is done first
func deliver(ctx context.Context, out chan<- Frame, f Frame) error {
	select {
	case out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readAll delivers every frame of r
func readAll(ctx context.Context, r *Reader, out chan<- Frame, collector *metrics.Collector) error {
	for {
		f, err := r.Next()
		if err != nil {
			return err
		}
		collector.FrameReceived(len(f.Symbols))
		if err := deliver(ctx, out, f); err != nil {
			return err
		}
	}
}
