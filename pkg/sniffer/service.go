package sniffer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/btbb"
	"github.com/dbehnke/btbb-nexus/pkg/capture"
	"github.com/dbehnke/btbb-nexus/pkg/channel"
	"github.com/dbehnke/btbb-nexus/pkg/config"
	"github.com/dbehnke/btbb-nexus/pkg/database"
	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/dbehnke/btbb-nexus/pkg/metrics"
	"github.com/dbehnke/btbb-nexus/pkg/mqtt"
	"github.com/dbehnke/btbb-nexus/pkg/piconet"
	"github.com/dbehnke/btbb-nexus/pkg/source"
	"github.com/dbehnke/btbb-nexus/pkg/web"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPiconetTimeout is how long a silent piconet is kept
	DefaultPiconetTimeout = 5 * time.Minute
	frameBuffer           = 64
)

// Config holds the decode pipeline settings
type Config struct {
	Processor      channel.Config
	Tracker        piconet.Config
	PiconetTimeout time.Duration
}

// ConfigFrom derives pipeline settings from the application configuration
func ConfigFrom(cfg *config.Config) (Config, error) {
	targets := make(map[uint32]uint8, len(cfg.Capture.Targets))
	for _, t := range cfg.Capture.Targets {
		lap, err := config.ParseLAP(t.LAP)
		if err != nil {
			return Config{}, fmt.Errorf("target %q: %w", t.LAP, err)
		}
		uap, err := config.ParseUAP(t.UAP)
		if err != nil {
			return Config{}, fmt.Errorf("target %q: %w", t.LAP, err)
		}
		targets[lap] = uap
	}
	return Config{
		Processor: channel.Config{
			LowChannel:  cfg.Capture.LowChannel,
			HighChannel: cfg.Capture.HighChannel,
			SearchLimit: cfg.Capture.SearchLimit,
			QueueSize:   cfg.Capture.QueueSize,
			Workers:     cfg.Capture.Workers,
			Whitened:    cfg.Capture.Whitened,
		},
		Tracker: piconet.Config{
			DiscoveryThreshold: cfg.Capture.DiscoveryThreshold,
			Targets:            targets,
		},
		PiconetTimeout: time.Duration(cfg.Capture.PiconetTimeout) * time.Second,
	}, nil
}

// Sinks receive what the pipeline decodes. Every field is optional.
type Sinks struct {
	Packets   *database.PacketRepository
	Piconets  *database.PiconetRepository
	Publisher *mqtt.Publisher
	Hub       *web.WebSocketHub
	PCAP      *capture.PCAPWriter
	CBOR      *capture.CBORLog
	// OnResult is called for every packet after the tracker has seen it
	OnResult func(Result)
}

// Result is the outcome of one detected packet
type Result struct {
	Detection   channel.Detection
	Observation piconet.Observation
	Time        time.Time
}

// Service runs the decode pipeline: source frames are searched for access
// codes, detected packets are fed to the piconet tracker, and decoded
// packets are handed to the sinks.
type Service struct {
	config    Config
	log       *logger.Logger
	metrics   *metrics.Collector
	sessionID string

	processor *channel.Processor
	tracker   *piconet.Tracker
	sinks     Sinks
}

// New creates a decode pipeline
func New(cfg Config, sinks Sinks, collector *metrics.Collector, log *logger.Logger) *Service {
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if cfg.PiconetTimeout <= 0 {
		cfg.PiconetTimeout = DefaultPiconetTimeout
	}
	return &Service{
		config:    cfg,
		log:       log.WithComponent("sniffer"),
		metrics:   collector,
		sessionID: uuid.New().String(),
		processor: channel.NewProcessor(cfg.Processor, collector, log),
		tracker:   piconet.NewTracker(cfg.Tracker, log),
		sinks:     sinks,
	}
}

// SessionID identifies this run in stored and published records
func (s *Service) SessionID() string {
	return s.sessionID
}

// Tracker returns the piconet tracker
func (s *Service) Tracker() *piconet.Tracker {
	return s.tracker
}

// Piconets returns the tracked piconets
func (s *Service) Piconets() []piconet.Info {
	return s.tracker.Piconets()
}

// Run decodes frames from src until src ends or ctx is done. A source that
// ends cleanly, such as a capture file, makes Run return nil once every
// queued packet has been handled.
func (s *Service) Run(ctx context.Context, src source.Source) error {
	s.log.Info("Starting decode pipeline", logger.String("session_id", s.sessionID))

	g, ctx := errgroup.WithContext(ctx)
	frames := make(chan source.Frame, frameBuffer)
	windows := make(chan channel.Window, frameBuffer)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(frames)
		return src.Run(ctx, frames)
	})

	g.Go(func() error {
		defer close(windows)
		for f := range frames {
			select {
			case windows <- f.Window():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		return s.processor.Run(ctx, windows)
	})

	g.Go(func() error {
		defer close(done)
		for d := range s.processor.Detections() {
			s.handle(d, time.Now())
		}
		return nil
	})

	g.Go(func() error {
		return s.expireLoop(ctx, done)
	})

	err := g.Wait()
	s.log.Info("Decode pipeline stopped",
		logger.Int("piconets", s.tracker.Count()),
		logger.Uint64("dropped", s.processor.Dropped()))
	return err
}

// expireLoop removes silent piconets until done is closed or ctx is done
func (s *Service) expireLoop(ctx context.Context, done <-chan struct{}) error {
	interval := s.config.PiconetTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case <-ticker.C:
			s.Expire()
		}
	}
}

// Expire removes piconets silent for longer than the timeout and returns them
func (s *Service) Expire() []piconet.Info {
	expired := s.tracker.Expire(s.config.PiconetTimeout)
	for _, info := range expired {
		s.log.Info("Piconet expired",
			logger.Hex("lap", uint64(info.LAP), 6),
			logger.Uint64("packets", info.Packets))
		s.metrics.PiconetExpired(info.LAP)
		s.savePiconet(info)
		if s.sinks.Hub != nil {
			s.sinks.Hub.BroadcastPiconetExpired(info.LAP)
		}
	}
	return expired
}

// Handle feeds one detection through the tracker and the sinks
func (s *Service) Handle(d channel.Detection) Result {
	return s.handle(d, time.Now())
}

func (s *Service) handle(d channel.Detection, now time.Time) Result {
	p := d.Packet
	obs := s.tracker.Observe(p)
	res := Result{Detection: d, Observation: obs, Time: now}
	s.metrics.PiconetActive(p.LAP())

	if obs.Discovered {
		s.metrics.UAPDiscovered(p.LAP())
	}
	if obs.Discovered || obs.FHS != nil {
		s.piconetChanged(obs.Info, now)
	}

	switch {
	case obs.Err != nil:
		if errors.Is(obs.Err, btbb.ErrBadHEC) {
			s.metrics.HeaderFailed()
		}
		s.log.Debug("Packet not decoded",
			logger.Hex("lap", uint64(p.LAP()), 6),
			logger.Error(obs.Err))
	case obs.Decoded:
		s.packetDecoded(p, obs, now)
	}

	if s.sinks.OnResult != nil {
		s.sinks.OnResult(res)
	}
	return res
}

func (s *Service) packetDecoded(p *btbb.Packet, obs piconet.Observation, now time.Time) {
	s.metrics.PacketDecoded(p.Type().String(), obs.Confidence.String())
	s.log.Debug("Packet decoded",
		logger.String("packet", p.String()),
		logger.Int("channel", p.Channel()),
		logger.String("confidence", obs.Confidence.String()))

	rec := capture.NewRecord(s.sessionID, p, now)

	if s.sinks.Packets != nil {
		if err := s.sinks.Packets.Create(packetModel(rec, p, obs)); err != nil {
			s.log.Warn("Failed to store packet", logger.Error(err))
		}
	}
	if s.sinks.CBOR != nil {
		if err := s.sinks.CBOR.Write(rec); err != nil {
			s.log.Warn("Failed to log packet", logger.Error(err))
		}
	}
	if s.sinks.PCAP != nil {
		if err := s.sinks.PCAP.WritePacket(p, now); err != nil {
			s.log.Warn("Failed to write pcap record", logger.Error(err))
		}
	}

	event := packetEvent(rec, p, obs)
	if s.sinks.Publisher != nil {
		if err := s.sinks.Publisher.PublishPacket(event); err != nil {
			s.log.Debug("Failed to publish packet", logger.Error(err))
		}
	}
	if s.sinks.Hub != nil {
		s.sinks.Hub.BroadcastPacket(event)
	}
}

func (s *Service) piconetChanged(info piconet.Info, now time.Time) {
	s.savePiconet(info)

	event := mqtt.PiconetEvent{
		SessionID: s.sessionID,
		LAP:       fmt.Sprintf("%06x", info.LAP),
		State:     info.State,
		Timestamp: now.UTC(),
	}
	if info.UAPKnown {
		event.UAP = fmt.Sprintf("%02x", info.UAP)
	}
	if info.NAPKnown {
		event.NAP = fmt.Sprintf("%04x", info.NAP)
		event.Clock = info.MasterClock
	}
	if s.sinks.Publisher != nil {
		if err := s.sinks.Publisher.PublishPiconet(event); err != nil {
			s.log.Debug("Failed to publish piconet", logger.Error(err))
		}
	}
	if s.sinks.Hub != nil {
		s.sinks.Hub.BroadcastPiconet(info)
	}
}

func (s *Service) savePiconet(info piconet.Info) {
	if s.sinks.Piconets == nil {
		return
	}
	err := s.sinks.Piconets.Upsert(&database.Piconet{
		LAP:         info.LAP,
		UAP:         info.UAP,
		UAPKnown:    info.UAPKnown,
		NAP:         info.NAP,
		NAPKnown:    info.NAPKnown,
		Clock:       info.MasterClock,
		PacketCount: int64(info.Packets),
		FirstSeen:   info.FirstSeen,
		LastSeen:    info.LastSeen,
	})
	if err != nil {
		s.log.Warn("Failed to store piconet",
			logger.Hex("lap", uint64(info.LAP), 6),
			logger.Error(err))
	}
}

func packetModel(rec capture.Record, p *btbb.Packet, obs piconet.Observation) *database.DecodedPacket {
	payload, _ := p.Payload()
	return &database.DecodedPacket{
		SessionID:  rec.SessionID,
		LAP:        rec.LAP,
		UAP:        rec.UAP,
		UAPKnown:   rec.UAPKnown,
		Channel:    rec.Channel,
		CLKN:       rec.CLKN,
		Clock:      rec.Clock,
		TypeCode:   rec.Type,
		Type:       p.Type().String(),
		LTAddr:     rec.LTAddr,
		LLID:       rec.LLID,
		Flow:       payload.Flow,
		Length:     rec.Length,
		Confidence: obs.Confidence.String(),
		Payload:    rec.Payload,
		ReceivedAt: rec.Timestamp,
	}
}

func packetEvent(rec capture.Record, p *btbb.Packet, obs piconet.Observation) mqtt.PacketEvent {
	event := mqtt.PacketEvent{
		SessionID:  rec.SessionID,
		LAP:        fmt.Sprintf("%06x", rec.LAP),
		Channel:    rec.Channel,
		CLKN:       rec.CLKN,
		Type:       p.Type().String(),
		LTAddr:     rec.LTAddr,
		LLID:       rec.LLID,
		Length:     rec.Length,
		Confidence: obs.Confidence.String(),
		Payload:    strings.ToUpper(hex.EncodeToString(rec.Payload)),
		Timestamp:  rec.Timestamp,
	}
	if rec.UAPKnown {
		event.UAP = fmt.Sprintf("%02x", rec.UAP)
	}
	return event
}
