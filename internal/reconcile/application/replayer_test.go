package application

import (
	"context"
	"log"
	"testing"
	"time"

	"enp-settlement/internal/eventing"
	ledger "enp-settlement/internal/ledger/domain"
	ledgermem "enp-settlement/internal/ledger/infrastructure/memory"
	"enp-settlement/internal/money"
	registry "enp-settlement/internal/registry/domain"
	registrymem "enp-settlement/internal/registry/infrastructure/memory"
)

func seedFlaggedRecharge(t *testing.T, txns *ledgermem.LedgerRepository, vehicle *registry.Vehicle, key string, amount money.Amount) *ledger.Transaction {
	t.Helper()
	failed := &ledger.Transaction{
		ID:             eventing.NewEventID(),
		VehicleID:      vehicle.ID,
		TagID:          vehicle.Tag,
		Kind:           ledger.KindRecharge,
		Amount:         amount,
		BalanceBefore:  vehicle.Balance,
		BalanceAfter:   vehicle.Balance,
		Status:         ledger.StatusFailed,
		PaymentMethod:  "card",
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
	failed.NeedsReconciliation = true
	appended, err := txns.Append(context.Background(), failed)
	if err != nil {
		t.Fatalf("seed flagged recharge: %v", err)
	}
	return appended
}

func TestReplayerCreditsThroughSingleCommitLedger(t *testing.T) {
	vehicles := registrymem.NewVehicleRepository()
	txns := &atomicTestLedger{LedgerRepository: ledgermem.NewLedgerRepository(), vehicles: vehicles}
	ctx := context.Background()
	vehicle := &registry.Vehicle{
		ID: "veh-replay-1", Tag: "RF400001", VehicleType: registry.TypePassenger,
		Balance: money.FromMinor(500), Status: registry.StatusActive,
	}
	if err := vehicles.Create(ctx, vehicle); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
	seedFlaggedRecharge(t, txns.LedgerRepository, vehicle, "pay-77", money.FromMinor(2500))

	replayer, err := NewReplayer(vehicles, txns, log.New(testWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("NewReplayer: %v", err)
	}
	replayed, err := replayer.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if replayed != 1 {
		t.Fatalf("replayed = %d, want 1", replayed)
	}
	if txns.atomicCalls != 1 {
		t.Fatalf("single-commit path used %d times, want 1", txns.atomicCalls)
	}
	current, _ := vehicles.GetByID(ctx, vehicle.ID)
	if current.Balance != money.FromMinor(3000) {
		t.Fatalf("balance = %d, want 3000", current.Balance.Minor())
	}
	pending, err := txns.ListNeedingReconciliation(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("flag not cleared, %d pending", len(pending))
	}
}

func TestReplayerDoesNotDoubleCreditAfterCommittedReplay(t *testing.T) {
	vehicles := registrymem.NewVehicleRepository()
	txns := &atomicTestLedger{LedgerRepository: ledgermem.NewLedgerRepository(), vehicles: vehicles}
	ctx := context.Background()
	// A previous run committed the credit and the replay row in one
	// transaction but crashed before clearing the flag.
	vehicle := &registry.Vehicle{
		ID: "veh-replay-2", Tag: "RF400002", VehicleType: registry.TypePassenger,
		Balance: money.FromMinor(3000), Status: registry.StatusActive,
	}
	if err := vehicles.Create(ctx, vehicle); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
	seedFlaggedRecharge(t, txns.LedgerRepository, vehicle, "pay-88", money.FromMinor(2500))
	replayRow := &ledger.Transaction{
		ID:             eventing.NewEventID(),
		VehicleID:      vehicle.ID,
		TagID:          vehicle.Tag,
		Kind:           ledger.KindRecharge,
		Amount:         money.FromMinor(2500),
		BalanceBefore:  money.FromMinor(500),
		BalanceAfter:   money.FromMinor(3000),
		Status:         ledger.StatusSuccess,
		PaymentMethod:  "card",
		IdempotencyKey: "pay-88:replay",
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := txns.LedgerRepository.Append(ctx, replayRow); err != nil {
		t.Fatalf("seed replay row: %v", err)
	}

	replayer, err := NewReplayer(vehicles, txns, log.New(testWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("NewReplayer: %v", err)
	}
	if _, err := replayer.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	current, _ := vehicles.GetByID(ctx, vehicle.ID)
	if current.Balance != money.FromMinor(3000) {
		t.Fatalf("balance = %d, want 3000 with no double credit", current.Balance.Minor())
	}
	pending, err := txns.ListNeedingReconciliation(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("flag not cleared, %d pending", len(pending))
	}
}
