package testhelpers

import (
	"context"
	"sync"

	"github.com/dbehnke/btbb-nexus/pkg/source"
)

// MockSource is an in-memory frame source. Run delivers the queued frames
// in order and returns nil once they are all delivered.
type MockSource struct {
	mu        sync.RWMutex
	frames    []source.Frame
	delivered int
}

// NewMockSource creates a source delivering frames
func NewMockSource(frames ...source.Frame) *MockSource {
	return &MockSource{frames: frames}
}

// Add queues more frames
func (m *MockSource) Add(frames ...source.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frames...)
}

// Run implements source.Source
func (m *MockSource) Run(ctx context.Context, out chan<- source.Frame) error {
	m.mu.RLock()
	frames := make([]source.Frame, len(m.frames))
	copy(frames, m.frames)
	m.mu.RUnlock()

	for _, f := range frames {
		select {
		case out <- f:
			m.mu.Lock()
			m.delivered++
			m.mu.Unlock()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Delivered returns the number of frames handed to the pipeline
func (m *MockSource) Delivered() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.delivered
}
