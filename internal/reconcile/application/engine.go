// Package application hosts the balance reconciliation engine: the
// single writer path that turns charge and recharge requests into
// ledger transactions under optimistic concurrency.
package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"enp-settlement/internal/eventing"
	ledger "enp-settlement/internal/ledger/domain"
	"enp-settlement/internal/money"
	"enp-settlement/internal/observability/metrics"
	"enp-settlement/internal/reconcile/application/events"
	reconcile "enp-settlement/internal/reconcile/domain"
	registry "enp-settlement/internal/registry/domain"
)

// VehicleStore is the registry surface the engine needs.
type VehicleStore interface {
	FindByTag(ctx context.Context, tag string) (*registry.Vehicle, error)
	GetByID(ctx context.Context, id string) (*registry.Vehicle, error)
	ApplyBalanceDelta(ctx context.Context, id string, delta, expected money.Amount) (*registry.Vehicle, error)
}

// Ledger is the transaction store the engine appends to.
type Ledger interface {
	Append(ctx context.Context, txn *ledger.Transaction) (*ledger.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error)
}

// AtomicLedger lands a balance mutation and its ledger row in one
// commit. The Postgres ledger implements it; when the ledger does
// not, the engine falls back to CAS-then-append with compensation.
type AtomicLedger interface {
	AppendWithBalanceDelta(ctx context.Context, txn *ledger.Transaction, delta, expected money.Amount) (*ledger.Transaction, error)
}

// OutcomePublisher receives a TransactionSettled event for every
// terminal outcome. Downstream consumers run on the calling goroutine.
type OutcomePublisher interface {
	Publish(ctx context.Context, event any) error
}

const (
	defaultMaxAttempts = 5
	defaultBaseBackoff = 5 * time.Millisecond
)

// Engine settles charges and recharges. All balance writes go through
// compare-and-swap against the balance read at the start of each
// attempt; conflicts are retried with jittered backoff.
type Engine struct {
	vehicles  VehicleStore
	ledger    Ledger
	publisher OutcomePublisher
	logger    *log.Logger

	maxAttempts int
	baseBackoff time.Duration
	sleep       func(ctx context.Context, d time.Duration)
}

// Option configures the engine.
type Option func(*Engine)

// WithMaxAttempts bounds the CAS retry loop.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBaseBackoff sets the first retry delay. Subsequent attempts
// double it, with jitter.
func WithBaseBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.baseBackoff = d
		}
	}
}

// WithSleep overrides the backoff sleeper.
func WithSleep(fn func(ctx context.Context, d time.Duration)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// NewEngine constructs the reconciliation engine.
func NewEngine(vehicles VehicleStore, txns Ledger, publisher OutcomePublisher, logger *log.Logger, opts ...Option) (*Engine, error) {
	if vehicles == nil {
		return nil, errors.New("reconcile engine: nil vehicle store")
	}
	if txns == nil {
		return nil, errors.New("reconcile engine: nil ledger")
	}
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		vehicles:    vehicles,
		ledger:      txns,
		publisher:   publisher,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SettleCharge applies a toll charge for a checkpoint scan. Exactly
// one ledger transaction exists per idempotency key afterwards, and
// the returned transaction is the authoritative outcome whether this
// call or an earlier one produced it.
func (e *Engine) SettleCharge(ctx context.Context, req reconcile.ChargeRequest) (*ledger.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Answer replays before touching any balance.
	if stored, err := e.storedOutcome(ctx, req.IdempotencyKey); stored != nil || err != nil {
		return stored, err
	}

	vehicle, err := e.vehicles.FindByTag(ctx, req.TagID)
	if errors.Is(err, registry.ErrNotFound) {
		txn := e.newChargeTxn(req, nil, ledger.StatusDeclinedInvalid)
		return e.record(ctx, txn, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reconcile.ErrStorageUnavailable, err)
	}

	// A stolen vehicle is never charged; the scan is declined and the
	// outcome event carries the vehicle status for enforcement.
	if vehicle.Status == registry.StatusStolen {
		txn := e.newChargeTxn(req, vehicle, ledger.StatusDeclinedInvalid)
		return e.record(ctx, txn, vehicle)
	}

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.IncConflictRetry()
			e.sleep(ctx, e.backoff(attempt))
			vehicle, err = e.vehicles.GetByID(ctx, vehicle.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", reconcile.ErrStorageUnavailable, err)
			}
		}

		if vehicle.Balance < req.Amount {
			txn := e.newChargeTxn(req, vehicle, ledger.StatusDeclinedInsufficient)
			return e.record(ctx, txn, vehicle)
		}

		txn := e.newChargeTxn(req, vehicle, ledger.StatusSuccess)
		appended, err := e.applyAndRecord(ctx, txn, vehicle, req.Amount.Neg())
		if errors.Is(err, registry.ErrBalanceConflict) {
			continue
		}
		return appended, err
	}

	e.logger.Printf("charge settlement exhausted retries key=%s vehicle=%s", req.IdempotencyKey, vehicle.ID)
	txn := e.newChargeTxn(req, vehicle, ledger.StatusFailed)
	return e.record(ctx, txn, vehicle)
}

// SettleRecharge credits a vehicle after an external payment capture.
// The payment is already taken when this runs, so a credit that cannot
// land is recorded as failed with the reconciliation flag set and
// replayed later instead of being dropped.
func (e *Engine) SettleRecharge(ctx context.Context, req reconcile.RechargeRequest) (*ledger.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if stored, err := e.storedOutcome(ctx, req.IdempotencyKey); stored != nil || err != nil {
		return stored, err
	}

	vehicle, err := e.vehicles.GetByID(ctx, req.VehicleID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", reconcile.ErrStorageUnavailable, err)
	}

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.IncConflictRetry()
			e.sleep(ctx, e.backoff(attempt))
			vehicle, err = e.vehicles.GetByID(ctx, vehicle.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", reconcile.ErrStorageUnavailable, err)
			}
		}

		txn := e.newRechargeTxn(req, vehicle, ledger.StatusSuccess)
		appended, err := e.applyAndRecord(ctx, txn, vehicle, req.Amount)
		if errors.Is(err, registry.ErrBalanceConflict) {
			continue
		}
		return appended, err
	}

	e.logger.Printf("recharge settlement exhausted retries key=%s vehicle=%s", req.IdempotencyKey, req.VehicleID)
	txn := e.newRechargeTxn(req, vehicle, ledger.StatusFailed)
	txn.NeedsReconciliation = true
	return e.record(ctx, txn, vehicle)
}

// storedOutcome returns the previously settled transaction for the
// key, or nil when the key is fresh.
func (e *Engine) storedOutcome(ctx context.Context, key string) (*ledger.Transaction, error) {
	stored, err := e.ledger.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reconcile.ErrStorageUnavailable, err)
	}
	metrics.IncIdempotentReplay()
	return stored, nil
}

// replayedOutcome loads the outcome a duplicate-key append points at.
// The ledger reported the key as taken, so a missing row means the
// store is inconsistent right now; that must surface as an error, not
// as a nil transaction handed back to the caller.
func (e *Engine) replayedOutcome(ctx context.Context, key string) (*ledger.Transaction, error) {
	stored, err := e.storedOutcome(ctx, key)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: duplicate key %q has no stored transaction", reconcile.ErrStorageUnavailable, key)
	}
	return stored, nil
}

// applyAndRecord lands a balance mutation and its ledger row. With an
// AtomicLedger both happen in one commit; otherwise the CAS lands
// first and a failed append is compensated. A balance conflict is
// returned as-is for the caller's retry loop.
func (e *Engine) applyAndRecord(ctx context.Context, txn *ledger.Transaction, vehicle *registry.Vehicle, delta money.Amount) (*ledger.Transaction, error) {
	if atomic, ok := e.ledger.(AtomicLedger); ok {
		txn.BalanceAfter = vehicle.Balance.Add(delta)
		appended, err := atomic.AppendWithBalanceDelta(ctx, txn, delta, vehicle.Balance)
		if errors.Is(err, registry.ErrBalanceConflict) {
			return nil, err
		}
		if errors.Is(err, ledger.ErrDuplicateKey) {
			return e.replayedOutcome(ctx, txn.IdempotencyKey)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", reconcile.ErrStorageUnavailable, err)
		}
		e.publish(ctx, appended, vehicle)
		metrics.IncSettlement(appended.Kind, appended.Status)
		return appended, nil
	}

	updated, err := e.vehicles.ApplyBalanceDelta(ctx, vehicle.ID, delta, vehicle.Balance)
	if errors.Is(err, registry.ErrBalanceConflict) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reconcile.ErrStorageUnavailable, err)
	}
	txn.BalanceAfter = updated.Balance
	return e.recordMutated(ctx, txn, updated, delta.Neg())
}

// record appends a transaction that did not mutate any balance.
func (e *Engine) record(ctx context.Context, txn *ledger.Transaction, vehicle *registry.Vehicle) (*ledger.Transaction, error) {
	appended, err := e.ledger.Append(ctx, txn)
	if errors.Is(err, ledger.ErrDuplicateKey) {
		// Lost the append race; the other writer's outcome stands.
		return e.replayedOutcome(ctx, txn.IdempotencyKey)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reconcile.ErrStorageUnavailable, err)
	}
	e.publish(ctx, appended, vehicle)
	metrics.IncSettlement(appended.Kind, appended.Status)
	return appended, nil
}

// recordMutated appends a transaction whose balance mutation already
// landed. If the append cannot land, the mutation is reverted so the
// ledger stays the source of truth: no balance change without a row.
func (e *Engine) recordMutated(ctx context.Context, txn *ledger.Transaction, vehicle *registry.Vehicle, revertDelta money.Amount) (*ledger.Transaction, error) {
	appended, err := e.ledger.Append(ctx, txn)
	if errors.Is(err, ledger.ErrDuplicateKey) {
		e.revert(ctx, vehicle.ID, revertDelta)
		return e.replayedOutcome(ctx, txn.IdempotencyKey)
	}
	if err != nil {
		e.revert(ctx, vehicle.ID, revertDelta)
		return nil, fmt.Errorf("%w: %v", reconcile.ErrStorageUnavailable, err)
	}
	e.publish(ctx, appended, vehicle)
	metrics.IncSettlement(appended.Kind, appended.Status)
	return appended, nil
}

// revert compensates a balance mutation whose ledger append failed.
func (e *Engine) revert(ctx context.Context, vehicleID string, delta money.Amount) {
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		current, err := e.vehicles.GetByID(ctx, vehicleID)
		if err != nil {
			break
		}
		if _, err := e.vehicles.ApplyBalanceDelta(ctx, vehicleID, delta, current.Balance); err == nil {
			return
		} else if !errors.Is(err, registry.ErrBalanceConflict) {
			break
		}
		e.sleep(ctx, e.backoff(attempt+1))
	}
	e.logger.Printf("failed to revert balance mutation vehicle=%s delta=%s", vehicleID, delta)
}

func (e *Engine) publish(ctx context.Context, txn *ledger.Transaction, vehicle *registry.Vehicle) {
	if e.publisher == nil {
		return
	}
	evt := events.TransactionSettled{
		TransactionID:  txn.ID,
		VehicleID:      txn.VehicleID,
		TagID:          txn.TagID,
		Kind:           txn.Kind,
		Status:         txn.Status,
		AmountMinor:    txn.Amount.Minor(),
		CheckpointID:   txn.CheckpointID,
		IdempotencyKey: txn.IdempotencyKey,
		OccurredAt:     txn.CreatedAt,
	}
	if vehicle != nil {
		evt.VehicleStatus = vehicle.Status
		evt.WarrantFlag = vehicle.WarrantFlag
		evt.RegistrationExpired = vehicle.RegistrationExpired(txn.CreatedAt)
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		e.logger.Printf("failed to publish settlement outcome txn=%s: %v", txn.ID, err)
	}
}

func (e *Engine) newChargeTxn(req reconcile.ChargeRequest, vehicle *registry.Vehicle, status string) *ledger.Transaction {
	txn := &ledger.Transaction{
		ID:             eventing.NewEventID(),
		TagID:          req.TagID,
		Kind:           ledger.KindTollCharge,
		Amount:         req.Amount,
		Status:         status,
		CheckpointID:   req.CheckpointID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	if vehicle != nil {
		txn.VehicleID = vehicle.ID
		txn.BalanceBefore = vehicle.Balance
		txn.BalanceAfter = vehicle.Balance
	}
	return txn
}

func (e *Engine) newRechargeTxn(req reconcile.RechargeRequest, vehicle *registry.Vehicle, status string) *ledger.Transaction {
	return &ledger.Transaction{
		ID:             eventing.NewEventID(),
		VehicleID:      vehicle.ID,
		TagID:          vehicle.Tag,
		Kind:           ledger.KindRecharge,
		Amount:         req.Amount,
		BalanceBefore:  vehicle.Balance,
		BalanceAfter:   vehicle.Balance,
		Status:         status,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
}

// backoff doubles the base delay per attempt and jitters it between
// half and full value so colliding writers spread out.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.baseBackoff << uint(attempt-1)
	if d <= 0 {
		return 0
	}
	half := int64(d) / 2
	return time.Duration(half + rand.Int63n(half+1))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
