package sniffer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/btbb"
	"github.com/dbehnke/btbb-nexus/pkg/capture"
	"github.com/dbehnke/btbb-nexus/pkg/channel"
	"github.com/dbehnke/btbb-nexus/pkg/config"
	"github.com/dbehnke/btbb-nexus/pkg/database"
	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/dbehnke/btbb-nexus/pkg/metrics"
	"github.com/dbehnke/btbb-nexus/pkg/piconet"
	"github.com/dbehnke/btbb-nexus/pkg/source"
)

const (
	testLAP    = 0x9e8b33
	testUAP    = 0x47
	testOffset = 0x15
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error"})
}

// dm1Symbols builds the i-th DM1 packet of a master whose whitening clock is
// clkn+testOffset
func dm1Symbols(t *testing.T, i int, clkn uint32) []byte {
	t.Helper()
	symbols, err := btbb.Builder{
		LAP:    testLAP,
		UAP:    testUAP,
		Clock:  (clkn + testOffset) & 0x3f,
		Type:   btbb.TypeDM1,
		LTAddr: 1,
		LLID:   btbb.LLIDStart,
		Body:   []byte(fmt.Sprintf("pkt-%d", i)),
	}.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return symbols
}

func detection(t *testing.T, i int, clkn uint32) channel.Detection {
	p := btbb.NewPacketAt(dm1Symbols(t, i, clkn), clkn, 39)
	return channel.Detection{Record: channel.DetectionRecord(testLAP), Channel: 39, Packet: p}
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(database.Config{Path: filepath.Join(t.TempDir(), "test.db")}, testLogger())
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfigFrom(t *testing.T) {
	cfg := &config.Config{
		Capture: config.CaptureConfig{
			Whitened:           true,
			HighChannel:        78,
			Workers:            2,
			DiscoveryThreshold: 30,
			PiconetTimeout:     60,
			Targets:            []config.TargetConfig{{LAP: "9e8b33", UAP: "47"}},
		},
	}
	got, err := ConfigFrom(cfg)
	if err != nil {
		t.Fatalf("ConfigFrom: %v", err)
	}
	if !got.Processor.Whitened || got.Processor.Workers != 2 || got.Processor.HighChannel != 78 {
		t.Errorf("Processor = %+v", got.Processor)
	}
	if got.Tracker.DiscoveryThreshold != 30 || got.Tracker.Targets[testLAP] != testUAP {
		t.Errorf("Tracker = %+v", got.Tracker)
	}
	if got.PiconetTimeout != time.Minute {
		t.Errorf("PiconetTimeout = %v", got.PiconetTimeout)
	}

	cfg.Capture.Targets = []config.TargetConfig{{LAP: "zz", UAP: "47"}}
	if _, err := ConfigFrom(cfg); err == nil {
		t.Error("expected error for bad target LAP")
	}
}

func TestService_Handle(t *testing.T) {
	db := newTestDB(t)
	packets := db.Packets()
	piconets := db.Piconets()

	var pcapBuf, cborBuf bytes.Buffer
	pw, err := capture.NewPCAPWriter(&pcapBuf)
	if err != nil {
		t.Fatalf("NewPCAPWriter: %v", err)
	}
	cl, err := capture.NewCBORLog(&cborBuf)
	if err != nil {
		t.Fatalf("NewCBORLog: %v", err)
	}

	var results []Result
	collector := metrics.NewCollector()
	svc := New(Config{}, Sinks{
		Packets:  packets,
		Piconets: piconets,
		PCAP:     pw,
		CBOR:     cl,
		OnResult: func(r Result) { results = append(results, r) },
	}, collector, testLogger())

	for i := 0; i < 4; i++ {
		svc.Handle(detection(t, i, uint32(100+2*i)))
	}
	res := svc.Handle(detection(t, 9, 500))

	if len(results) != 5 {
		t.Fatalf("OnResult called %d times, want 5", len(results))
	}
	if !results[3].Observation.Discovered {
		t.Error("Expected UAP discovery on the fourth packet")
	}
	if !res.Observation.Decoded || res.Observation.Confidence != btbb.ConfidenceHigh {
		t.Errorf("Expected high confidence decode, got %+v", res.Observation)
	}

	stored, err := packets.GetRecent(10)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("Expected 2 stored packets, got %d", len(stored))
	}
	if stored[0].SessionID != svc.SessionID() || stored[0].Type != "DM1" || stored[0].Confidence != "high" {
		t.Errorf("Unexpected stored packet: %+v", stored[0])
	}

	pn, err := piconets.GetByLAP(testLAP)
	if err != nil {
		t.Fatalf("GetByLAP: %v", err)
	}
	if !pn.UAPKnown || pn.UAP != testUAP {
		t.Errorf("Expected stored UAP %02x, got %+v", testUAP, pn)
	}

	if collector.GetPacketsDecoded("DM1") != 2 {
		t.Errorf("Expected 2 DM1 packets counted, got %d", collector.GetPacketsDecoded("DM1"))
	}
	if collector.GetActivePiconets() != 1 {
		t.Errorf("Expected 1 active piconet, got %d", collector.GetActivePiconets())
	}
	if pw.Count() != 2 {
		t.Errorf("Expected 2 pcap records, got %d", pw.Count())
	}
	records, err := capture.ReadRecords(&cborBuf)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(records) != 2 || records[1].CLKN != 500 {
		t.Errorf("Unexpected CBOR records: %+v", records)
	}
}

func TestService_HeaderFailure(t *testing.T) {
	collector := metrics.NewCollector()
	svc := New(Config{Tracker: piconet.Config{Targets: map[uint32]uint8{testLAP: testUAP}}}, Sinks{}, collector, testLogger())

	for i := 0; i < 4; i++ {
		svc.Handle(detection(t, i, uint32(100+2*i)))
	}
	// a packet whose clock is not the tracked offset fails its HEC
	p := btbb.NewPacketAt(dm1Symbols(t, 5, 0x20-testOffset), 0x15, 39)
	res := svc.Handle(channel.Detection{Channel: 39, Packet: p})
	if res.Observation.Err == nil {
		t.Fatal("Expected decode error")
	}
	if collector.Snapshot().HeaderFailures != 1 {
		t.Errorf("Expected 1 header failure, got %d", collector.Snapshot().HeaderFailures)
	}
}

func TestService_Expire(t *testing.T) {
	collector := metrics.NewCollector()
	svc := New(Config{PiconetTimeout: time.Millisecond}, Sinks{}, collector, testLogger())

	svc.Handle(detection(t, 0, 100))
	time.Sleep(10 * time.Millisecond)

	expired := svc.Expire()
	if len(expired) != 1 || expired[0].LAP != testLAP {
		t.Fatalf("Expected LAP %06x to expire, got %+v", testLAP, expired)
	}
	if collector.GetActivePiconets() != 0 {
		t.Errorf("Expected no active piconets, got %d", collector.GetActivePiconets())
	}
	if len(svc.Piconets()) != 0 {
		t.Errorf("Expected tracker to be empty")
	}
}

func TestService_RunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.btsf")
	fw, err := source.CreateCapture(path, true)
	if err != nil {
		t.Fatalf("CreateCapture: %v", err)
	}
	clkns := []uint32{100, 102, 104, 106, 500}
	for i, clkn := range clkns {
		symbols := append(make([]byte, 10), dm1Symbols(t, i, clkn)...)
		if err := fw.Write(source.Frame{Channel: 39, CLKN: clkn, Symbols: symbols}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	// a frame without a packet
	if err := fw.Write(source.Frame{Channel: 39, CLKN: 600, Symbols: make([]byte, 200)}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var mu sync.Mutex
	decoded := 0
	collector := metrics.NewCollector()
	svc := New(Config{
		Processor: channel.Config{Whitened: true, Workers: 1},
	}, Sinks{
		OnResult: func(r Result) {
			mu.Lock()
			defer mu.Unlock()
			if r.Observation.Decoded {
				decoded++
			}
		},
	}, collector, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Run(ctx, source.NewFileSource(path, collector, testLogger())); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if collector.GetFramesReceived() != 6 {
		t.Errorf("Expected 6 frames, got %d", collector.GetFramesReceived())
	}
	if collector.GetAccessCodes() != 5 {
		t.Errorf("Expected 5 access codes, got %d", collector.GetAccessCodes())
	}
	mu.Lock()
	defer mu.Unlock()
	if decoded != 2 {
		t.Errorf("Expected 2 decoded packets, got %d", decoded)
	}
	info, ok := svc.Tracker().Get(testLAP)
	if !ok || info.State != "tracking" {
		t.Errorf("Expected tracked piconet, got %+v", info)
	}
}
