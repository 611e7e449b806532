package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/btbb"
	"github.com/fxamacker/cbor/v2"
)

// Record is one decoded packet in the CBOR packet log. Keys are small
// integers to keep records compact.
type Record struct {
	SessionID  string    `cbor:"1,keyasint"`
	Timestamp  time.Time `cbor:"2,keyasint"`
	LAP        uint32    `cbor:"3,keyasint"`
	UAP        uint8     `cbor:"4,keyasint"`
	UAPKnown   bool      `cbor:"5,keyasint"`
	Channel    int       `cbor:"6,keyasint"`
	CLKN       uint32    `cbor:"7,keyasint"`
	Clock      uint32    `cbor:"8,keyasint"`
	Type       uint8     `cbor:"9,keyasint"`
	LTAddr     uint8     `cbor:"10,keyasint"`
	LLID       uint8     `cbor:"11,keyasint,omitempty"`
	Length     int       `cbor:"12,keyasint"`
	Confidence int       `cbor:"13,keyasint"`
	Payload    []byte    `cbor:"14,keyasint,omitempty"`
}

// NewRecord describes a packet decoded in session sessionID
func NewRecord(sessionID string, p *btbb.Packet, ts time.Time) Record {
	payload, conf := p.Payload()
	uap, haveUAP := p.UAP()
	clock, _ := p.Clock()
	return Record{
		SessionID:  sessionID,
		Timestamp:  ts.UTC(),
		LAP:        p.LAP(),
		UAP:        uap,
		UAPKnown:   haveUAP,
		Channel:    p.Channel(),
		CLKN:       p.CLKN(),
		Clock:      clock,
		Type:       uint8(p.Type()),
		LTAddr:     p.Header().LTAddr,
		LLID:       payload.LLID,
		Length:     payload.Length,
		Confidence: int(conf),
		Payload:    payload.Bytes(),
	}
}

// CBORLog appends records to a stream of CBOR items
type CBORLog struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
}

// NewCBORLog creates a log writing to w
func NewCBORLog(w io.Writer) (*CBORLog, error) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}
	return &CBORLog{enc: em.NewEncoder(w)}, nil
}

// CreateCBORLog creates, or appends to, the log file at path
func CreateCBORLog(path string) (*CBORLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open CBOR log: %w", err)
	}
	l, err := NewCBORLog(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	l.closer = f
	return l, nil
}

// Write appends one record
func (l *CBORLog) Write(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return nil
}

// Close closes the underlying file, if the log created it
func (l *CBORLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ReadRecords decodes every record of a CBOR log
func ReadRecords(r io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(r)
	var records []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("failed to decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}
