package persistence

import (
	"context"
	"sync"
)

// Memory is an in-process Backend. State survives only for the life of the
// process.
type Memory struct {
	mu      sync.Mutex
	batches []Batch
	entries []Entry
	counter int64
}

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{}
}

// SaveBatch implements Backend.
func (m *Memory) SaveBatch(_ context.Context, batch Batch, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	m.entries = append(m.entries, entries...)
	if batch.ID >= m.counter {
		m.counter = batch.ID + 1
	}
	return nil
}

// Load implements Backend.
func (m *Memory) Load(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &State{
		BatchCounter: m.counter,
		Batches:      make([]Batch, len(m.batches)),
		Entries:      make([]Entry, len(m.entries)),
	}
	copy(st.Batches, m.batches)
	copy(st.Entries, m.entries)
	return st, nil
}

// Close implements Backend.
func (m *Memory) Close() error { return nil }
