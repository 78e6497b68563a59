package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryRepository keeps the last snapshot encoded in memory. Encoding on
// Save detaches the stored copy from the live engine state.
type MemoryRepository struct {
	mu      sync.Mutex
	payload []byte
	saves   int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Load(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payload == nil {
		return nil, ErrStateNotFound
	}
	var state State
	if err := json.Unmarshal(m.payload, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *MemoryRepository) Save(ctx context.Context, state *State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload = payload
	m.saves++
	return nil
}

// Saves reports how many snapshots were written.
func (m *MemoryRepository) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
