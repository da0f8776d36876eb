// memory.go - In-memory IntentStore (for testing/dev).
package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/limpahora/hours-engine/credit"
)

// MemoryIntents keeps purchase intents in memory and writes batches
// through to the wrapped credit store. Completion is atomic under the
// store's mutex, mirroring the SQLite transaction.
type MemoryIntents struct {
	mu      sync.Mutex
	intents map[string]*Intent
	batches credit.Store
}

// NewMemoryIntents creates an intent store backed by the given batch store.
func NewMemoryIntents(batches credit.Store) *MemoryIntents {
	return &MemoryIntents{
		intents: make(map[string]*Intent),
		batches: batches,
	}
}

func (m *MemoryIntents) ClaimIntent(_ context.Context, intent Intent) (*Intent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := m.intents[intent.Token]
	if !ok {
		intent.Status = IntentPending
		intent.CreatedAt = now
		intent.UpdatedAt = now
		cp := intent
		m.intents[intent.Token] = &cp
		out := cp
		return &out, true, nil
	}

	if existing.Status == IntentFailed {
		// Retry after failure: the token is re-claimed with a fresh
		// attempt; the failed attempt created no batch.
		intent.Status = IntentPending
		intent.CreatedAt = existing.CreatedAt
		intent.UpdatedAt = now
		cp := intent
		m.intents[intent.Token] = &cp
		out := cp
		return &out, true, nil
	}

	out := *existing
	return &out, false, nil
}

func (m *MemoryIntents) GetIntent(_ context.Context, token string) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.intents[token]
	if !ok {
		return nil, nil
	}
	out := *existing
	return &out, nil
}

func (m *MemoryIntents) CompleteIntent(ctx context.Context, token string, batch credit.Batch, providerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.intents[token]
	if !ok {
		return fmt.Errorf("complete intent %s: not found", token)
	}
	if existing.Status != IntentPending {
		return fmt.Errorf("complete intent %s: status is %s, expected pending", token, existing.Status)
	}

	if err := m.batches.InsertBatch(ctx, batch); err != nil {
		return err
	}

	existing.Status = IntentCompleted
	existing.BatchID = batch.ID
	existing.ProviderRef = providerRef
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryIntents) FailIntent(_ context.Context, token string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.intents[token]
	if !ok {
		return fmt.Errorf("fail intent %s: not found", token)
	}
	if existing.Status != IntentPending {
		return fmt.Errorf("fail intent %s: status is %s, expected pending", token, existing.Status)
	}

	existing.Status = IntentFailed
	existing.FailureReason = reason
	existing.UpdatedAt = time.Now().UTC()
	return nil
}
