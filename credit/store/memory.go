// Package store provides credit.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/limpahora/hours-engine/credit"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	batches map[string]*credit.Batch // by batch id
	order   map[string][]string      // customer id -> batch ids, insertion order
}

func NewMemory() *Memory {
	return &Memory{
		batches: make(map[string]*credit.Batch),
		order:   make(map[string][]string),
	}
}

// InsertBatch adds a batch. Existing ids are never overwritten.
func (m *Memory) InsertBatch(_ context.Context, b credit.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.batches[b.ID]; exists {
		return credit.ErrConcurrentModification
	}
	cp := b
	m.batches[b.ID] = &cp
	m.order[b.CustomerID] = append(m.order[b.CustomerID], b.ID)
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id string) (*credit.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, credit.ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

// BatchesByCustomer returns copies ordered by PurchasedAt ascending,
// insertion order breaking ties.
func (m *Memory) BatchesByCustomer(_ context.Context, customerID string) ([]credit.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.order[customerID]
	result := make([]credit.Batch, 0, len(ids))
	for _, id := range ids {
		result = append(result, *m.batches[id])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].PurchasedAt.Before(result[j].PurchasedAt)
	})
	return result, nil
}

// ApplyDecrements applies all decrements atomically. Any CAS mismatch
// leaves every batch untouched and returns ErrConcurrentModification.
func (m *Memory) ApplyDecrements(_ context.Context, decs []credit.Decrement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate every CAS guard before touching anything.
	for _, d := range decs {
		b, ok := m.batches[d.BatchID]
		if !ok {
			return credit.ErrBatchNotFound
		}
		if !b.HoursRemaining.Equal(d.Expected) {
			return credit.ErrConcurrentModification
		}
		if d.Hours.GreaterThan(b.HoursRemaining) {
			return credit.ErrConcurrentModification
		}
	}

	for _, d := range decs {
		b := m.batches[d.BatchID]
		b.HoursRemaining = b.HoursRemaining.Sub(d.Hours)
	}
	return nil
}

// ArchiveExpired stamps ArchivedAt on expired, unarchived batches.
func (m *Memory) ArchiveExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, b := range m.batches {
		if b.ArchivedAt == nil && b.Expired(now) {
			t := now
			b.ArchivedAt = &t
			count++
		}
	}
	return count, nil
}
