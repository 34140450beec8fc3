package store

import (
	"context"
	"sync"
)

// MemorySnapshots keeps snapshots in memory, in write order.
type MemorySnapshots struct {
	mu    sync.Mutex
	snaps []Snapshot
}

// NewMemorySnapshots creates an empty in-memory snapshot store.
func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{}
}

func (m *MemorySnapshots) Write(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *MemorySnapshots) LoadLatest(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snaps) == 0 {
		return nil, nil
	}
	snap := m.snaps[len(m.snaps)-1]
	return &snap, nil
}

// Len returns the number of snapshots written.
func (m *MemorySnapshots) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}
