package memory

import (
	"context"
	"sync"
	"time"

	ledger "enp-settlement/internal/ledger/domain"
	"enp-settlement/internal/money"
)

// LedgerRepository is an in-memory append-only ledger for tests and
// demos. It enforces the same idempotency-key uniqueness and
// per-vehicle ordering as the Postgres implementation.
type LedgerRepository struct {
	mu        sync.RWMutex
	byID      map[string]*ledger.Transaction
	byKey     map[string]*ledger.Transaction
	byVehicle map[string][]*ledger.Transaction
}

// NewLedgerRepository constructs a repository.
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{
		byID:      make(map[string]*ledger.Transaction),
		byKey:     make(map[string]*ledger.Transaction),
		byVehicle: make(map[string][]*ledger.Transaction),
	}
}

// Append writes one transaction, assigning the next per-vehicle seq.
func (r *LedgerRepository) Append(ctx context.Context, txn *ledger.Transaction) (*ledger.Transaction, error) {
	_ = ctx
	if txn == nil {
		return nil, ledger.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[txn.IdempotencyKey]; ok {
		return nil, ledger.ErrDuplicateKey
	}
	clone := *txn
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	clone.Seq = int64(len(r.byVehicle[clone.VehicleID])) + 1
	r.byID[clone.ID] = &clone
	r.byKey[clone.IdempotencyKey] = &clone
	r.byVehicle[clone.VehicleID] = append(r.byVehicle[clone.VehicleID], &clone)
	result := clone
	return &result, nil
}

// FindByIdempotencyKey loads the stored outcome for a key.
func (r *LedgerRepository) FindByIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	txn := r.byKey[key]
	if txn == nil {
		return nil, ledger.ErrNotFound
	}
	clone := *txn
	return &clone, nil
}

// History lists a vehicle's transactions newest first.
func (r *LedgerRepository) History(ctx context.Context, vehicleID string, limit int, kind string) ([]ledger.Transaction, error) {
	_ = ctx
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.byVehicle[vehicleID]
	var result []ledger.Transaction
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		if kind != "" && all[i].Kind != kind {
			continue
		}
		result = append(result, *all[i])
	}
	return result, nil
}

// SumSignedDeltas replays the vehicle's full history.
func (r *LedgerRepository) SumSignedDeltas(ctx context.Context, vehicleID string) (money.Amount, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total money.Amount
	for _, txn := range r.byVehicle[vehicleID] {
		total = total.Add(txn.SignedDelta())
	}
	return total, nil
}

// CountRecentDeclines counts consecutive head-of-history
// insufficient-funds declines inside the window.
func (r *LedgerRepository) CountRecentDeclines(ctx context.Context, vehicleID string, window time.Duration) (int, error) {
	_ = ctx
	since := time.Now().UTC().Add(-window)
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.byVehicle[vehicleID]
	count := 0
	for i := len(all) - 1; i >= 0; i-- {
		txn := all[i]
		if txn.Kind != ledger.KindTollCharge || txn.CreatedAt.Before(since) {
			if txn.Kind != ledger.KindTollCharge {
				continue
			}
			break
		}
		if txn.Status != ledger.StatusDeclinedInsufficient {
			break
		}
		count++
	}
	return count, nil
}

// ListNeedingReconciliation returns flagged recharges, oldest first.
func (r *LedgerRepository) ListNeedingReconciliation(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []ledger.Transaction
	for _, vehicleTxns := range r.byVehicle {
		for _, txn := range vehicleTxns {
			if txn.NeedsReconciliation && txn.Kind == ledger.KindRecharge && txn.Status == ledger.StatusFailed {
				result = append(result, *txn)
				if len(result) >= limit {
					return result, nil
				}
			}
		}
	}
	return result, nil
}

// MarkReconciled clears the reconciliation flag.
func (r *LedgerRepository) MarkReconciled(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	txn := r.byID[id]
	if txn == nil {
		return ledger.ErrNotFound
	}
	txn.NeedsReconciliation = false
	return nil
}
