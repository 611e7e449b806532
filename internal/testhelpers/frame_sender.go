package testhelpers

import (
	"net"
	"sync"

	"github.com/dbehnke/btbb-nexus/pkg/source"
)

// FrameSender plays the part of capture hardware, sending symbol frames to a
// UDP source
type FrameSender struct {
	conn   *net.UDPConn
	mu     sync.RWMutex
	sent   int
	closed bool
}

// NewFrameSender creates a new frame sender
func NewFrameSender() *FrameSender {
	return &FrameSender{}
}

// Connect connects the sender to a UDP source
func (m *FrameSender) Connect(addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return err
	}
	m.conn = conn
	return nil
}

// Send sends one frame
func (m *FrameSender) Send(f source.Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	return m.SendRaw(data)
}

// SendRaw sends a datagram as is
func (m *FrameSender) SendRaw(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || m.closed {
		return net.ErrClosed
	}
	if _, err := m.conn.Write(data); err != nil {
		return err
	}
	m.sent++
	return nil
}

// SentCount returns the number of datagrams sent
func (m *FrameSender) SentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sent
}

// Close closes the sender
func (m *FrameSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
