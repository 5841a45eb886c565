package application

import (
	"context"
	"errors"
	"log"
	"time"

	"enp-settlement/internal/eventing"
	ledger "enp-settlement/internal/ledger/domain"
	"enp-settlement/internal/observability/metrics"
)

// ReconciliationLedger is the ledger surface the replayer needs.
type ReconciliationLedger interface {
	Ledger
	ListNeedingReconciliation(ctx context.Context, limit int) ([]ledger.Transaction, error)
	MarkReconciled(ctx context.Context, id string) error
}

// Replayer re-credits recharges whose payment was captured but whose
// balance credit never landed. Each replay appends a fresh success
// transaction rather than editing the failed one, so the ledger stays
// append-only and replaying it still reproduces the balance.
type Replayer struct {
	vehicles VehicleStore
	ledger   ReconciliationLedger
	logger   *log.Logger
	batch    int
}

// NewReplayer constructs a reconciliation replayer.
func NewReplayer(vehicles VehicleStore, txns ReconciliationLedger, logger *log.Logger) (*Replayer, error) {
	if vehicles == nil {
		return nil, errors.New("reconcile replayer: nil vehicle store")
	}
	if txns == nil {
		return nil, errors.New("reconcile replayer: nil ledger")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Replayer{vehicles: vehicles, ledger: txns, logger: logger, batch: 50}, nil
}

// Run processes one batch of flagged recharges. Returns the number of
// recharges successfully replayed.
func (r *Replayer) Run(ctx context.Context) (int, error) {
	pending, err := r.ledger.ListNeedingReconciliation(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	replayed := 0
	for i := range pending {
		if err := r.replay(ctx, &pending[i]); err != nil {
			metrics.IncReconciliationReplay("failure")
			r.logger.Printf("recharge replay failed txn=%s vehicle=%s: %v", pending[i].ID, pending[i].VehicleID, err)
			continue
		}
		metrics.IncReconciliationReplay("success")
		replayed++
	}
	return replayed, nil
}

func (r *Replayer) replay(ctx context.Context, failed *ledger.Transaction) error {
	vehicle, err := r.vehicles.GetByID(ctx, failed.VehicleID)
	if err != nil {
		return err
	}

	txn := &ledger.Transaction{
		ID:             eventing.NewEventID(),
		VehicleID:      vehicle.ID,
		TagID:          vehicle.Tag,
		Kind:           ledger.KindRecharge,
		Amount:         failed.Amount,
		BalanceBefore:  vehicle.Balance,
		BalanceAfter:   vehicle.Balance.Add(failed.Amount),
		Status:         ledger.StatusSuccess,
		PaymentMethod:  failed.PaymentMethod,
		IdempotencyKey: failed.IdempotencyKey + ":replay",
		CreatedAt:      time.Now().UTC(),
	}

	if atomic, ok := r.ledger.(AtomicLedger); ok {
		if _, err := atomic.AppendWithBalanceDelta(ctx, txn, failed.Amount, vehicle.Balance); err != nil {
			if errors.Is(err, ledger.ErrDuplicateKey) {
				// A previous run committed the credit and the row in one
				// transaction but crashed before clearing the flag.
				return r.ledger.MarkReconciled(ctx, failed.ID)
			}
			// Contended right now; the next tick picks it up again.
			return err
		}
		metrics.IncSettlement(txn.Kind, txn.Status)
		return r.ledger.MarkReconciled(ctx, failed.ID)
	}

	if _, err := r.vehicles.ApplyBalanceDelta(ctx, vehicle.ID, failed.Amount, vehicle.Balance); err != nil {
		return err
	}
	if _, err := r.ledger.Append(ctx, txn); err != nil {
		if errors.Is(err, ledger.ErrDuplicateKey) {
			// A previous run credited and appended but crashed before
			// clearing the flag. Undo the double credit and clear it.
			current, getErr := r.vehicles.GetByID(ctx, vehicle.ID)
			if getErr == nil {
				_, _ = r.vehicles.ApplyBalanceDelta(ctx, vehicle.ID, failed.Amount.Neg(), current.Balance)
			}
			return r.ledger.MarkReconciled(ctx, failed.ID)
		}
		return err
	}
	metrics.IncSettlement(txn.Kind, txn.Status)
	return r.ledger.MarkReconciled(ctx, failed.ID)
}
