package capture

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/btbb"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	// LinkTypeTun is the link type of pcap files holding tunnel records
	// (LINKTYPE_USER0)
	LinkTypeTun = layers.LinkType(147)
	snapLength  = 65535
)

// PCAPWriter writes decoded packets to a pcap file as tunnel records
type PCAPWriter struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	count  int
}

// NewPCAPWriter writes the pcap file header to w
func NewPCAPWriter(w io.Writer) (*PCAPWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLength, LinkTypeTun); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &PCAPWriter{w: pw}, nil
}

// CreatePCAP creates a pcap file at path
func CreatePCAP(path string) (*PCAPWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap: %w", err)
	}
	pw, err := NewPCAPWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	pw.closer = f
	return pw, nil
}

// WritePacket appends the tunnel record of a decoded packet
func (pw *PCAPWriter) WritePacket(p *btbb.Packet, ts time.Time) error {
	data := p.TunFormat()

	pw.mu.Lock()
	defer pw.mu.Unlock()

	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := pw.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write pcap record: %w", err)
	}
	pw.count++
	return nil
}

// Count returns the number of records written
func (pw *PCAPWriter) Count() int {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.count
}

// Close closes the underlying file, if the writer created it
func (pw *PCAPWriter) Close() error {
	if pw.closer == nil {
		return nil
	}
	return pw.closer.Close()
}
