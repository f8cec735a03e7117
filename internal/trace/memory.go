package trace

import (
	"context"
	"sync"
)

// Memory keeps the most recent records in a fixed-size ring, for the
// monitor's live views. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	buf   []Record
	start int
	count int
}

// NewMemory creates a ring holding up to capacity records.
func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{buf: make([]Record, capacity)}
}

// Record implements Recorder. The oldest record is dropped once the
// ring is full.
func (m *Memory) Record(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count < len(m.buf) {
		m.buf[(m.start+m.count)%len(m.buf)] = rec
		m.count++
		return nil
	}
	m.buf[m.start] = rec
	m.start = (m.start + 1) % len(m.buf)
	return nil
}

// Close implements Recorder.
func (m *Memory) Close() error { return nil }

// Records returns the retained records in arrival order.
func (m *Memory) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, m.count)
	for i := 0; i < m.count; i++ {
		out = append(out, m.buf[(m.start+i)%len(m.buf)])
	}
	return out
}

// Since returns the retained records with a sequence number greater
// than seq, in arrival order. Streaming consumers poll with their last
// seen sequence.
func (m *Memory) Since(seq uint64) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for i := 0; i < m.count; i++ {
		rec := m.buf[(m.start+i)%len(m.buf)]
		if rec.Seq > seq {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of retained records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}
