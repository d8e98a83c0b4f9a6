package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
)

// MemoryStore is a thread-safe in-memory DatasetStore used by tests and
// ephemeral runs. It mirrors the merge-and-overwrite semantics of the file
// backends.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string]map[time.Time]models.Entry
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[string]map[time.Time]models.Entry)}
}

// Save implements DatasetStore.
func (m *MemoryStore) Save(ctx context.Context, ds *models.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("store is closed")
	}

	key := storeKey(ds.Region, ds.Resolution)
	if m.series[key] == nil {
		m.series[key] = make(map[time.Time]models.Entry)
	}
	for ts := range m.series[key] {
		if ds.Requested.Contains(ts) {
			delete(m.series[key], ts)
		}
	}
	for _, e := range ds.Entries() {
		if e.Empty() {
			continue
		}
		// Deep-copy records so later dataset mutation cannot leak in.
		copied := models.Entry{Timestamp: e.Timestamp}
		if e.Record != nil {
			copied.Record = e.Record.Clone()
		}
		if e.Gap != nil {
			g := *e.Gap
			copied.Gap = &g
		}
		m.series[key][e.Timestamp] = copied
	}
	return nil
}

// Load implements DatasetStore.
func (m *MemoryStore) Load(ctx context.Context, region models.Region, res models.Resolution, requested models.Range) (*models.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := requested.Validate(); err != nil {
		return nil, nemerrors.InvalidRange("%v", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.New("store is closed")
	}

	stored, ok := m.series[storeKey(region, res)]
	if !ok {
		return nil, fmt.Errorf("%w: no stored series for %s %s", nemerrors.ErrNotFound, region, res)
	}
	return assemble(region, res, requested, stored, "store:memory")
}

// HealthCheck implements DatasetStore.
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.New("store is closed")
	}
	return nil
}

// Close implements DatasetStore.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
