package piconet

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/btbb"
	"github.com/dbehnke/btbb-nexus/pkg/logger"
)

const (
	testLAP    = 0x9e8b33
	testUAP    = 0x47
	testOffset = 0x15
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error"})
}

// packetAt builds a packet received at clkn from a master whose whitening
// clock is clkn+offset
func packetAt(t *testing.T, b btbb.Builder, clkn, offset uint32) *btbb.Packet {
	t.Helper()
	b.LAP = testLAP
	b.UAP = testUAP
	b.Clock = (clkn + offset) & 0x3f
	symbols, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return btbb.NewPacketAt(symbols, clkn, 39)
}

func dm1At(t *testing.T, i int, clkn, offset uint32) *btbb.Packet {
	return packetAt(t, btbb.Builder{
		Type:   btbb.TypeDM1,
		LTAddr: 1,
		LLID:   btbb.LLIDStart,
		Body:   []byte(fmt.Sprintf("pkt-%d", i)),
	}, clkn, offset)
}

func TestTracker_New(t *testing.T) {
	tr := NewTracker(Config{}, nil)

	if tr == nil {
		t.Fatal("NewTracker returned nil")
	}
	if tr.config.DiscoveryThreshold != DefaultThreshold {
		t.Errorf("Expected default threshold %d, got %d", DefaultThreshold, tr.config.DiscoveryThreshold)
	}
	if tr.Count() != 0 {
		t.Errorf("Expected 0 piconets, got %d", tr.Count())
	}
}

func TestTracker_IDPacket(t *testing.T) {
	tr := NewTracker(Config{}, testLogger())

	symbols := btbb.AccessCodeSymbols(testLAP)
	for i := 0; i < 80; i++ {
		symbols = append(symbols, byte(i&1))
	}
	obs := tr.Observe(btbb.NewPacketAt(symbols, 0, 0))

	if obs.HeaderPresent {
		t.Error("Expected ID packet to have no header")
	}
	if obs.Info.Packets != 1 || obs.Info.LAP != testLAP {
		t.Errorf("Unexpected info: %+v", obs.Info)
	}
	if tr.Count() != 1 {
		t.Errorf("Expected 1 piconet, got %d", tr.Count())
	}
}

func TestTracker_DiscoverUAP(t *testing.T) {
	tr := NewTracker(Config{DiscoveryThreshold: 40}, testLogger())

	for i := 0; i < 4; i++ {
		clkn := uint32(100 + 2*i)
		obs := tr.Observe(dm1At(t, i, clkn, testOffset))

		if !obs.HeaderPresent {
			t.Fatalf("packet %d: header not present", i)
		}
		if i < 3 {
			if obs.Discovered || obs.Decoded {
				t.Fatalf("packet %d: discovered too early: %+v", i, obs)
			}
			if obs.Info.State != StateDiscovering.String() {
				t.Errorf("packet %d: state %s", i, obs.Info.State)
			}
			continue
		}

		if !obs.Discovered {
			t.Fatalf("packet %d: UAP not discovered, candidates %d", i, obs.Info.Candidates)
		}
		if !obs.Decoded || obs.Confidence != btbb.ConfidenceHigh {
			t.Errorf("Expected high confidence decode, got decoded=%v confidence=%s err=%v",
				obs.Decoded, obs.Confidence, obs.Err)
		}
		if obs.Info.UAP != testUAP || !obs.Info.UAPKnown {
			t.Errorf("Expected UAP %02x, got %02x", testUAP, obs.Info.UAP)
		}
		if obs.Info.ClockOffset != testOffset || !obs.Info.ClockKnown {
			t.Errorf("Expected clock offset %02x, got %02x", testOffset, obs.Info.ClockOffset)
		}
		if obs.Info.State != StateTracking.String() {
			t.Errorf("Expected state tracking, got %s", obs.Info.State)
		}
	}

	// later packets decode directly
	obs := tr.Observe(dm1At(t, 9, 500, testOffset))
	if obs.Discovered || !obs.Decoded || obs.Confidence != btbb.ConfidenceHigh {
		t.Errorf("Unexpected observation after discovery: %+v", obs)
	}
	if obs.Info.Decoded != 2 || obs.Info.Packets != 5 {
		t.Errorf("Expected 2 decoded of 5 packets, got %d of %d", obs.Info.Decoded, obs.Info.Packets)
	}
}

func TestTracker_FHS(t *testing.T) {
	tr := NewTracker(Config{}, testLogger())

	body := btbb.FHSPayload(btbb.FHSInfo{LAP: testLAP, UAP: testUAP, NAP: 0x0123, Clock: 0x1234567}, 0)
	p := packetAt(t, btbb.Builder{Type: btbb.TypeFHS, Body: body}, 200, testOffset)

	obs := tr.Observe(p)
	if !obs.Discovered {
		t.Fatalf("Expected FHS to confirm the UAP at once: %+v", obs)
	}
	if obs.FHS == nil {
		t.Fatal("Expected FHS info")
	}
	if obs.FHS.NAP != 0x0123 || obs.FHS.Clock != 0x1234567 {
		t.Errorf("Unexpected FHS info: %+v", *obs.FHS)
	}
	if obs.Info.State != StateIdentified.String() {
		t.Errorf("Expected state identified, got %s", obs.Info.State)
	}
	if !obs.Info.NAPKnown || obs.Info.NAP != 0x0123 || obs.Info.MasterClock != 0x1234567 {
		t.Errorf("Unexpected info: %+v", obs.Info)
	}
	if obs.Info.ClockOffset != testOffset {
		t.Errorf("Expected clock offset %02x, got %02x", testOffset, obs.Info.ClockOffset)
	}
}

func TestTracker_FHSInquiryClock(t *testing.T) {
	tr := NewTracker(Config{}, testLogger())

	// header whitened with the piconet clock (5), payload with an inquiry
	// clock (40)
	const clkn = 48
	body := btbb.FHSPayload(btbb.FHSInfo{LAP: testLAP, UAP: testUAP, NAP: 0x0123, Clock: 0x1234567}, 0)
	header := packetAt(t, btbb.Builder{Type: btbb.TypeFHS, Body: body}, clkn, testOffset).Symbols()
	payload := packetAt(t, btbb.Builder{Type: btbb.TypeFHS, Body: body}, clkn, 56).Symbols()
	symbols := append(append([]byte(nil), header[:btbb.PayloadOffset]...), payload[btbb.PayloadOffset:]...)

	obs := tr.Observe(btbb.NewPacketAt(symbols, clkn, 39))
	if !obs.Discovered || obs.FHS == nil {
		t.Fatalf("Expected FHS to confirm the UAP: %+v", obs)
	}
	if obs.FHS.WhiteningClock != 40 {
		t.Errorf("Expected payload clock 40, got %d", obs.FHS.WhiteningClock)
	}
	if obs.Info.ClockOffset != testOffset {
		t.Errorf("Expected clock offset %02x, got %02x", testOffset, obs.Info.ClockOffset)
	}
	if !obs.Info.NAPKnown || obs.Info.MasterClock != 0x1234567 {
		t.Errorf("Expected NAP and master clock from FHS: %+v", obs.Info)
	}

	obs = tr.Observe(dm1At(t, 0, clkn+2, testOffset))
	if obs.Err != nil || !obs.Decoded {
		t.Fatalf("Expected next DM1 to decode, got err %v", obs.Err)
	}
	if obs.Confidence != btbb.ConfidenceHigh {
		t.Errorf("Expected high confidence, got %v", obs.Confidence)
	}
	if obs.Info.ClockOffset != testOffset {
		t.Errorf("Expected clock offset %02x kept, got %02x", testOffset, obs.Info.ClockOffset)
	}
}

func TestTracker_Target(t *testing.T) {
	tr := NewTracker(Config{Targets: map[uint32]uint8{testLAP: testUAP}}, testLogger())

	var obs Observation
	for i := 0; i < 4; i++ {
		obs = tr.Observe(dm1At(t, i, uint32(300+2*i), testOffset))
		if i == 0 && !obs.Info.UAPKnown {
			t.Error("Expected target UAP to be known from the first packet")
		}
		if i == 0 && obs.Info.Candidates > 2 {
			t.Errorf("Expected the known UAP to rule out most offsets, %d remain", obs.Info.Candidates)
		}
	}
	if !obs.Discovered || obs.Info.ClockOffset != testOffset {
		t.Errorf("Expected clock offset %02x discovered, got %+v", testOffset, obs.Info)
	}
}

func TestTracker_Relock(t *testing.T) {
	tr := NewTracker(Config{}, testLogger())

	for i := 0; i < 4; i++ {
		tr.Observe(dm1At(t, i, uint32(100+2*i), testOffset))
	}
	info, ok := tr.Get(testLAP)
	if !ok || !info.ClockKnown {
		t.Fatalf("Expected clock to be known: %+v", info)
	}

	// the master's clock has moved
	for i := 0; i < relockAfter; i++ {
		obs := tr.Observe(dm1At(t, i, uint32(400+2*i), 0x20))
		if !errors.Is(obs.Err, btbb.ErrBadHEC) {
			t.Fatalf("packet %d: expected ErrBadHEC, got %v", i, obs.Err)
		}
	}

	info, _ = tr.Get(testLAP)
	if info.ClockKnown {
		t.Error("Expected clock offset to be dropped")
	}
	if !info.UAPKnown || info.UAP != testUAP {
		t.Errorf("Expected UAP to be kept, got %+v", info)
	}
	if info.State != StateDiscovering.String() {
		t.Errorf("Expected state discovering, got %s", info.State)
	}
}

func TestTracker_Expire(t *testing.T) {
	tr := NewTracker(Config{}, testLogger())

	tr.Observe(dm1At(t, 0, 0, testOffset))
	if tr.Count() != 1 {
		t.Fatalf("Expected 1 piconet, got %d", tr.Count())
	}

	if removed := tr.Expire(time.Hour); len(removed) != 0 {
		t.Errorf("Expected nothing expired, got %d", len(removed))
	}

	time.Sleep(20 * time.Millisecond)
	removed := tr.Expire(10 * time.Millisecond)
	if len(removed) != 1 || removed[0].LAP != testLAP {
		t.Errorf("Expected LAP %06x expired, got %+v", testLAP, removed)
	}
	if tr.Count() != 0 {
		t.Errorf("Expected 0 piconets, got %d", tr.Count())
	}
}

func TestTracker_Piconets(t *testing.T) {
	tr := NewTracker(Config{}, testLogger())

	for _, lap := range []uint32{0x333333, 0x111111, 0x222222} {
		symbols := btbb.AccessCodeSymbols(lap)
		tr.Observe(btbb.NewPacket(symbols))
	}

	list := tr.Piconets()
	if len(list) != 3 {
		t.Fatalf("Expected 3 piconets, got %d", len(list))
	}
	for i, want := range []uint32{0x111111, 0x222222, 0x333333} {
		if list[i].LAP != want {
			t.Errorf("piconet %d: expected LAP %06x, got %06x", i, want, list[i].LAP)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDiscovering, "discovering"},
		{StateTracking, "tracking"},
		{StateIdentified, "identified"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
