package dataset

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"cloud.google.com/go/civil"
)

// ErrNotFound is returned by Store.Load when no dataset exists yet.
var ErrNotFound = errors.New("dataset not found")

// Store persists datasets.
type Store interface {
	// Load returns the dataset for a station and day, or ErrNotFound.
	Load(ctx context.Context, station string, date civil.Date) (*Dataset, error)

	// Save replaces the stored dataset atomically.
	Save(ctx context.Context, d *Dataset) error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Dataset
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Dataset)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, station string, date civil.Date) (*Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.items[Name(station, date)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(d), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, d *Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[d.Name()] = clone(d)
	return nil
}

// Count returns the number of stored datasets.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func clone(d *Dataset) *Dataset {
	out := &Dataset{
		Station: d.Station,
		Date:    d.Date,
		Columns: slices.Clone(d.Columns),
		Rows:    make([]Row, len(d.Rows)),
	}
	for i, r := range d.Rows {
		out.Rows[i] = maps.Clone(r)
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
