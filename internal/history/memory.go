package history

import (
	"context"
	"sync"
)

// Memory keeps totals in an ordered in-process slice.
type Memory struct {
	mu     sync.Mutex
	totals []float64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Append implements Sink.
func (m *Memory) Append(_ context.Context, total float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals = append(m.totals, total)
	return nil
}

// List implements Reader. The returned slice is a copy.
func (m *Memory) List(_ context.Context) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.totals))
	copy(out, m.totals)
	return out, nil
}

// Len returns the number of recorded totals.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.totals)
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
