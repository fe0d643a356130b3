// Package store – offline dataset record.
//
// DatasetStore is the narrow read/write surface over the single JSON record
// holding the OfflineDataset. No other component touches raw storage for
// dataset state, which keeps the single-writer discipline enforceable here.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rosterly/shiftsync/internal/domain"
)

// DatasetStore persists the offline dataset under its well-known key.
// Updates are read-modify-write under one mutex, so two optimistic UI writes
// can never interleave into a half-applied dataset.
type DatasetStore struct {
	s  Store
	mu sync.Mutex
}

// NewDatasetStore wraps s with the dataset record surface.
func NewDatasetStore(s Store) *DatasetStore {
	return &DatasetStore{s: s}
}

// Load returns the persisted dataset, or an empty one when none exists yet.
func (d *DatasetStore) Load() (*domain.OfflineDataset, error) {
	raw, err := d.s.Get(KeyDataset)
	if err == ErrNotFound {
		return &domain.OfflineDataset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset record: %w", err)
	}
	var ds domain.OfflineDataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("decode dataset record: %w", err)
	}
	return &ds, nil
}

// Update applies fn to the current dataset and persists the result as one
// atomic record replacement. If fn returns an error nothing is written, so a
// failed fetch can never clobber the previous snapshot.
func (d *DatasetStore) Update(fn func(*domain.OfflineDataset) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ds, err := d.Load()
	if err != nil {
		return err
	}
	if err := fn(ds); err != nil {
		return err
	}
	raw, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("encode dataset record: %w", err)
	}
	if err := d.s.Set(KeyDataset, raw); err != nil {
		return fmt.Errorf("persist dataset record: %w", err)
	}
	return nil
}

// Clear removes the dataset record entirely. The mutation queue is not
// touched; clearing cached reads must never lose queued writes.
func (d *DatasetStore) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.Delete(KeyDataset)
}
