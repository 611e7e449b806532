package btbb

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func dm1Stream(t *testing.T, body []byte) []byte {
	t.Helper()
	packet := mustBuild(t, Builder{
		LAP: testLAP, UAP: testUAP, Clock: testClock, Type: TypeDM1,
		LTAddr: 1, LLID: LLIDStart, Body: body,
	})
	return append(make([]byte, 100), packet...)
}

func TestPacketEndToEnd(t *testing.T) {
	body := []byte("hello")
	stream := dm1Stream(t, body)

	offset := SniffAccessCode(stream, 625)
	if offset != 100 {
		t.Fatalf("SniffAccessCode() = %d, want 100", offset)
	}

	p := NewPacketAt(stream[offset:], 1234, 39)
	if p.LAP() != testLAP {
		t.Errorf("LAP() = %06x, want %06x", p.LAP(), testLAP)
	}
	if !p.HeaderPresent() {
		t.Error("HeaderPresent() = false")
	}

	p.SetClock(testClock, false)
	p.SetUAP(testUAP)
	c, err := p.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c != ConfidenceHigh {
		t.Fatalf("confidence = %v, want high", c)
	}
	if p.State() != StatePayloadDecoded {
		t.Errorf("State() = %v", p.State())
	}
	if p.Type() != TypeDM1 {
		t.Errorf("Type() = %v, want DM1", p.Type())
	}

	payload, _ := p.Payload()
	if payload.LLID != LLIDStart {
		t.Errorf("LLID = %d, want %d", payload.LLID, LLIDStart)
	}
	if got := payload.Body(true); !bytes.Equal(got, body) {
		t.Errorf("body = %q, want %q", got, body)
	}
}

func TestPacketCorruptedPayload(t *testing.T) {
	stream := dm1Stream(t, []byte("hello"))
	for i := 0; i < 8; i++ {
		stream[100+PayloadOffset+i] ^= 1
	}

	p := NewPacket(stream[100:])
	p.SetClock(testClock, false)
	p.SetUAP(testUAP)
	c, err := p.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c == ConfidenceHigh {
		t.Error("corrupted payload decoded with high confidence")
	}
}

func TestPacketStateMachine(t *testing.T) {
	stream := dm1Stream(t, []byte("hello"))[100:]

	t.Run("clock required", func(t *testing.T) {
		p := NewPacket(stream)
		p.SetUAP(testUAP)
		if err := p.DecodeHeader(); !errors.Is(err, ErrClockUnknown) {
			t.Errorf("err = %v, want ErrClockUnknown", err)
		}
	})

	t.Run("UAP required", func(t *testing.T) {
		p := NewPacket(stream)
		p.SetClock(testClock, false)
		if err := p.DecodeHeader(); !errors.Is(err, ErrUAPUnknown) {
			t.Errorf("err = %v, want ErrUAPUnknown", err)
		}
	})

	t.Run("payload before header", func(t *testing.T) {
		p := NewPacket(stream)
		if _, err := p.DecodePayload(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("payload decoded twice", func(t *testing.T) {
		p := NewPacket(stream)
		p.SetClock(testClock, false)
		p.SetUAP(testUAP)
		if _, err := p.Decode(); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if _, err := p.DecodePayload(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
		if p.State() != StatePayloadDecoded {
			t.Errorf("State() = %v, want payload-decoded", p.State())
		}
		if _, c := p.Payload(); c != ConfidenceHigh {
			t.Errorf("confidence after rejected decode = %v, want high", c)
		}
	})

	t.Run("bad HEC leaves packet created", func(t *testing.T) {
		p := NewPacket(stream)
		p.SetClock(testClock, false)
		p.SetUAP(testUAP + 1)
		if err := p.DecodeHeader(); !errors.Is(err, ErrBadHEC) {
			t.Errorf("err = %v, want ErrBadHEC", err)
		}
		if p.State() != StateCreated {
			t.Errorf("State() = %v, want created", p.State())
		}
	})

	t.Run("setter resets decode", func(t *testing.T) {
		p := NewPacket(stream)
		p.SetClock(testClock, false)
		p.SetUAP(testUAP)
		if err := p.DecodeHeader(); err != nil {
			t.Fatalf("DecodeHeader: %v", err)
		}
		if p.State() != StateHeaderDecoded {
			t.Fatalf("State() = %v, want header-decoded", p.State())
		}
		p.SetWhitened(true)
		if p.State() != StateCreated {
			t.Errorf("State() after setter = %v, want created", p.State())
		}
	})
}

func TestPacketSetClock(t *testing.T) {
	p := NewPacket(nil)
	if _, ok := p.Clock(); ok {
		t.Error("new packet should not have a clock")
	}
	p.SetClock(0xfffffff, false)
	if clk, _ := p.Clock(); clk != 0x3f || p.HaveClock27() {
		t.Errorf("6-bit clock = %#x have27=%v", clk, p.HaveClock27())
	}
	p.SetClock(0xfffffff, true)
	if clk, _ := p.Clock(); clk != 0x7ffffff || !p.HaveClock27() {
		t.Errorf("27-bit clock = %#x have27=%v", clk, p.HaveClock27())
	}
}

func TestNewPacketTruncates(t *testing.T) {
	p := NewPacket(make([]byte, MaxSymbols+100))
	if p.Len() != MaxSymbols {
		t.Errorf("Len() = %d, want %d", p.Len(), MaxSymbols)
	}
}

func TestPacketTryClock(t *testing.T) {
	p := NewPacket(dm1Stream(t, []byte("hello"))[100:])

	uap, err := p.TryClock(testClock)
	if err != nil {
		t.Fatalf("TryClock: %v", err)
	}
	if uap != testUAP || p.Type() != TypeDM1 {
		t.Errorf("TryClock() = %#x type %v", uap, p.Type())
	}
	if c := p.CRCCheck(testClock); c != ConfidenceHigh {
		t.Errorf("CRCCheck() = %v, want high", c)
	}
	if _, ok := p.UAP(); ok {
		t.Error("TryClock must not set the UAP")
	}

	// only the true clock validates the payload
	high := 0
	for clock := range ClockHypotheses() {
		if _, err := p.TryClock(clock); err != nil {
			t.Fatalf("TryClock(%d): %v", clock, err)
		}
		if p.CRCCheck(clock) == ConfidenceHigh {
			high++
		}
	}
	if high != 1 {
		t.Errorf("%d clocks validated, want 1", high)
	}
}

func TestPacketTryClockDiscardsDecode(t *testing.T) {
	body := FHSPayload(FHSInfo{LAP: testLAP, UAP: testUAP, NAP: 0x3456}, 1)
	p := NewPacket(mustBuild(t, Builder{
		LAP: testLAP, UAP: testUAP, Clock: testClock, Type: TypeFHS, Body: body,
	}))
	p.SetClock(testClock, false)
	p.SetUAP(testUAP)
	if c, err := p.Decode(); err != nil || c != ConfidenceHigh {
		t.Fatalf("Decode() = %v, %v", c, err)
	}

	for clock := range ClockHypotheses() {
		if clock == testClock {
			continue
		}
		if _, err := p.TryClock(clock); err != nil {
			t.Fatalf("TryClock(%d): %v", clock, err)
		}
		if p.State() != StateCreated {
			t.Fatalf("State() after TryClock = %v, want created", p.State())
		}
		if _, ok := p.FHSInfo(); ok {
			t.Fatalf("FHSInfo() after TryClock(%d) should fail", clock)
		}
		if got := p.String(); got != "LAP 9e8b33 UAP 47" {
			t.Fatalf("String() after TryClock(%d) = %q", clock, got)
		}
	}

	if c, err := p.Decode(); err != nil || c != ConfidenceHigh {
		t.Fatalf("Decode() after TryClock = %v, %v", c, err)
	}
	if _, ok := p.FHSInfo(); !ok {
		t.Error("FHSInfo() after redecode failed")
	}
}

func TestPacketFHSInfo(t *testing.T) {
	info := FHSInfo{LAP: 0xabcdef, UAP: 0x12, NAP: 0x3456, Clock: 0x155555}
	symbols := mustBuild(t, Builder{
		LAP: testLAP, UAP: testUAP, Clock: testClock, Type: TypeFHS,
		Body: FHSPayload(info, 3),
	})

	p := NewPacket(symbols)
	if _, ok := p.FHSInfo(); ok {
		t.Error("FHSInfo() before decode should fail")
	}
	p.SetClock(testClock, false)
	p.SetUAP(testUAP)
	if c, err := p.Decode(); err != nil || c != ConfidenceHigh {
		t.Fatalf("Decode() = %v, %v", c, err)
	}
	got, ok := p.FHSInfo()
	if !ok {
		t.Fatal("FHSInfo() failed")
	}
	if got.LAP != info.LAP || got.UAP != info.UAP || got.NAP != info.NAP || got.Clock != info.Clock {
		t.Errorf("FHSInfo() = %+v, want %+v", got, info)
	}
}

func TestPacketTunFormat(t *testing.T) {
	p := NewPacketAt(dm1Stream(t, []byte("hello"))[100:], 0, 7)
	p.SetClock(0x0102032a, true)
	p.SetUAP(testUAP)
	p.SetNAP(0x1234)

	// only the low 6 bits whiten, so the full clock decodes as well
	if _, err := p.Decode(); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	rec := p.TunFormat()
	if len(rec) != TunHeaderLength+8 {
		t.Fatalf("len = %d, want %d", len(rec), TunHeaderLength+8)
	}
	if !bytes.Equal(rec[:4], []byte{0x2a, 0x03, 0x02, 0x01}) {
		t.Errorf("clock bytes = %x", rec[:4])
	}
	if rec[4] != 7 {
		t.Errorf("channel = %d, want 7", rec[4])
	}
	if rec[5] != TunFlagClock27|TunFlagNAP {
		t.Errorf("flags = %#x", rec[5])
	}
	// LT_ADDR 1, type DM1
	if rec[6] != 1|byte(TypeDM1)<<3 {
		t.Errorf("header byte 6 = %#x", rec[6])
	}
	if rec[8] != HEC(uint16(rec[6])|uint16(rec[7])<<7, testUAP) {
		t.Errorf("HEC byte = %#x", rec[8])
	}
	if !bytes.Equal(rec[TunHeaderLength+1:TunHeaderLength+6], []byte("hello")) {
		t.Errorf("payload = %x", rec[TunHeaderLength:])
	}
}

func TestPacketString(t *testing.T) {
	p := NewPacket(dm1Stream(t, []byte("hello"))[100:])
	if got := p.String(); got != "LAP 9e8b33" {
		t.Errorf("String() = %q", got)
	}
	p.SetClock(testClock, false)
	p.SetUAP(testUAP)
	if _, err := p.Decode(); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := p.String()
	for _, want := range []string{"UAP 47", "DM1", "LLID 2", "length 8"} {
		if !strings.Contains(got, want) {
			t.Errorf("String() = %q, missing %q", got, want)
		}
	}
}

func TestPacketTypeString(t *testing.T) {
	tests := map[PacketType]string{
		TypeNULL: "NULL",
		TypeDH1:  "DH1/2-DH1",
		TypeHV3:  "HV3/EV3/3-EV3",
		TypeDH5:  "DH5/3-DH5",
		16:       "TYPE(16)",
	}
	for typ, want := range tests {
		if got := typ.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
	if TypeDM5.MaxPayloadLength() != 228 || !TypeDM5.HasCRC() || TypeDM5.FEC() != FEC23 {
		t.Error("unexpected DM5 metadata")
	}
	if TypeAUX1.HasCRC() || TypeHV1.FEC() != FEC13 {
		t.Error("unexpected AUX1/HV1 metadata")
	}
}
