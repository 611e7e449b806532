package channel

import (
	"context"
	"sync/atomic"

	"github.com/dbehnke/btbb-nexus/pkg/btbb"
	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/dbehnke/btbb-nexus/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSearchLimit is the number of offsets searched per window, one
	// slot of symbols
	DefaultSearchLimit = 625
	// DefaultQueueSize is the number of detections held before dropping
	DefaultQueueSize = 20
	// MaxChannel is the highest Basic Rate RF channel
	MaxChannel = 78
)

// Window is a run of demodulated symbols from one channel
type Window struct {
	Channel int
	// CLKN is the native clock at the first symbol
	CLKN    uint32
	Symbols []byte
}

// Detection is a packet found in a window
type Detection struct {
	Record  [DetectionLength]byte
	Channel int
	Offset  int
	Packet  *btbb.Packet
}

// Config holds processor configuration
type Config struct {
	LowChannel  int
	HighChannel int
	SearchLimit int
	QueueSize   int
	Workers     int
	Whitened    bool
}

// Processor searches symbol windows for access codes and queues a detection
// for each packet found
type Processor struct {
	config  Config
	log     *logger.Logger
	metrics *metrics.Collector

	queue   chan Detection
	dropped atomic.Uint64
}

// NewProcessor creates a new channel processor
func NewProcessor(cfg Config, collector *metrics.Collector, log *logger.Logger) *Processor {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.LowChannel == 0 && cfg.HighChannel == 0 {
		cfg.HighChannel = MaxChannel
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Processor{
		config:  cfg,
		log:     log.WithComponent("channel"),
		metrics: collector,
		queue:   make(chan Detection, cfg.QueueSize),
	}
}

// Detections returns the queue of detected packets
func (p *Processor) Detections() <-chan Detection {
	return p.queue
}

// Dropped returns the number of detections dropped because the queue was full
func (p *Processor) Dropped() uint64 {
	return p.dropped.Load()
}

// inRange reports whether the processor listens on channel
func (p *Processor) inRange(channel int) bool {
	return channel >= p.config.LowChannel && channel <= p.config.HighChannel
}

// Process searches one window and queues a detection for the first access
// code found. It reports whether a packet was found.
func (p *Processor) Process(w Window) bool {
	if !p.inRange(w.Channel) || len(w.Symbols) < btbb.SyncSymbols {
		return false
	}
	p.metrics.WindowProcessed()

	limit := min(len(w.Symbols)-btbb.SyncSymbols, p.config.SearchLimit)
	offset := btbb.SniffAccessCode(w.Symbols, limit)
	if offset < 0 {
		return false
	}

	pkt := btbb.NewPacketAt(w.Symbols[offset:], w.CLKN, w.Channel)
	pkt.SetWhitened(p.config.Whitened)
	p.metrics.AccessCodeDetected()

	d := Detection{
		Record:  DetectionRecord(pkt.LAP()),
		Channel: w.Channel,
		Offset:  offset,
		Packet:  pkt,
	}
	select {
	case p.queue <- d:
		p.log.Debug("Access code detected",
			logger.Hex("lap", uint64(pkt.LAP()), 6),
			logger.Int("channel", w.Channel),
			logger.Int("offset", offset))
	default:
		p.dropped.Add(1)
		p.metrics.DetectionDropped()
		p.log.Debug("Detection queue full, dropping",
			logger.Hex("lap", uint64(pkt.LAP()), 6))
	}
	return true
}

// Run processes windows with the configured number of workers until windows
// is closed or ctx is done. The detection queue is closed on return.
func (p *Processor) Run(ctx context.Context, windows <-chan Window) error {
	defer close(p.queue)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.config.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case w, ok := <-windows:
					if !ok {
						return nil
					}
					p.Process(w)
				}
			}
		})
	}
	return g.Wait()
}
