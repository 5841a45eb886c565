package memory

import (
	"context"
	"sync"
	"time"

	gateway "enp-settlement/internal/gateway/domain"
)

// DedupStore is an in-memory idempotency key store for tests and
// demos.
type DedupStore struct {
	mu    sync.RWMutex
	byKey map[string]gateway.DedupRecord
}

// NewDedupStore constructs a store.
func NewDedupStore() *DedupStore {
	return &DedupStore{byKey: make(map[string]gateway.DedupRecord)}
}

// Find returns the stored outcome for a key, or nil when unseen or
// expired.
func (s *DedupStore) Find(ctx context.Context, key string) (*gateway.DedupRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byKey[key]
	if !ok || !record.ExpiresAt.After(time.Now().UTC()) {
		return nil, nil
	}
	clone := record
	return &clone, nil
}

// Record stores a processed key, first writer wins.
func (s *DedupStore) Record(ctx context.Context, record gateway.DedupRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[record.IdempotencyKey]; ok {
		return nil
	}
	s.byKey[record.IdempotencyKey] = record
	return nil
}

// PurgeExpired deletes keys past their TTL.
func (s *DedupStore) PurgeExpired(ctx context.Context) (int64, error) {
	_ = ctx
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, record := range s.byKey {
		if !record.ExpiresAt.After(now) {
			delete(s.byKey, key)
			removed++
		}
	}
	return removed, nil
}
