package memory

import (
	"context"
	"sync"

	"enp-settlement/internal/eventing"
)

// ProcessedStore is an in-memory idempotency store for tests.
type ProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore() *ProcessedStore {
	return &ProcessedStore{seen: make(map[string]struct{})}
}

// HasProcessed checks if the event was already handled.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[eventID+"|"+consumerName]
	return ok, nil
}

// MarkProcessed records an event as handled.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[eventID+"|"+consumerName] = struct{}{}
	return nil
}

// OutboxStore is an in-memory outbox for tests.
type OutboxStore struct {
	mu      sync.Mutex
	pending []eventing.OutboxRecord
	sent    map[string]eventing.OutboxRecord
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{sent: make(map[string]eventing.OutboxRecord)}
}

// Insert queues an envelope.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	_ = ctx
	id := eventing.NewEventID()
	s.mu.Lock()
	s.pending = append(s.pending, eventing.OutboxRecord{ID: id, Envelope: env})
	s.mu.Unlock()
	return id, nil
}

// ListPending returns queued records.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	if n > limit {
		n = limit
	}
	return append([]eventing.OutboxRecord(nil), s.pending[:n]...), nil
}

// MarkSent removes a record from the pending queue.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, record := range s.pending {
		if record.ID == id {
			s.sent[id] = record
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

// MarkFailed removes a record from the pending queue.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, record := range s.pending {
		if record.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

// SentCount reports delivered records (assertion helper).
func (s *OutboxStore) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
