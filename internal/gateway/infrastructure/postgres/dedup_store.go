package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	gateway "enp-settlement/internal/gateway/domain"
)

// DedupStore persists processed idempotency keys with a TTL.
type DedupStore struct {
	db *sql.DB
}

// NewDedupStore constructs a store.
func NewDedupStore(db *sql.DB) *DedupStore {
	return &DedupStore{db: db}
}

// Find returns the stored outcome for a key, or nil when unseen or
// expired.
func (s *DedupStore) Find(ctx context.Context, key string) (*gateway.DedupRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("dedup store: nil db")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT idempotency_key, transaction_id, status, expires_at
FROM idempotency_keys
WHERE idempotency_key = $1 AND expires_at > $2
LIMIT 1`, key, time.Now().UTC())
	var record gateway.DedupRecord
	err := row.Scan(&record.IdempotencyKey, &record.TransactionID, &record.Status, &record.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Record stores a processed key. Concurrent writers for the same key
// resolve to the first outcome.
func (s *DedupStore) Record(ctx context.Context, record gateway.DedupRecord) error {
	if s == nil || s.db == nil {
		return errors.New("dedup store: nil db")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO idempotency_keys (idempotency_key, transaction_id, status, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (idempotency_key) DO NOTHING`,
		record.IdempotencyKey, record.TransactionID, record.Status, record.ExpiresAt)
	return err
}

// PurgeExpired deletes keys past their TTL. Returns rows removed.
func (s *DedupStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("dedup store: nil db")
	}
	result, err := s.db.ExecContext(ctx, `
DELETE FROM idempotency_keys WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
