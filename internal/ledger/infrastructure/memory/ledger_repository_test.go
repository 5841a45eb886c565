package memory

import (
	"context"
	"testing"

	ledger "enp-settlement/internal/ledger/domain"
	"enp-settlement/internal/money"
)

func TestAppend_DuplicateKey(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository()

	first := &ledger.Transaction{
		ID:             "txn-1",
		VehicleID:      "veh-1",
		Kind:           ledger.KindTollCharge,
		Amount:         money.FromMinor(1500),
		BalanceBefore:  money.FromMinor(2000),
		BalanceAfter:   money.FromMinor(500),
		Status:         ledger.StatusSuccess,
		IdempotencyKey: "key-1",
	}
	if _, err := repo.Append(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}

	dup := *first
	dup.ID = "txn-2"
	if _, err := repo.Append(ctx, &dup); err != ledger.ErrDuplicateKey {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	stored, err := repo.FindByIdempotencyKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("find by key: %v", err)
	}
	if stored.ID != "txn-1" {
		t.Fatalf("expected the first transaction to survive, got %s", stored.ID)
	}
}

func TestHistory_OrderAndFilter(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository()

	append := func(id, kind, status string, amount int64) {
		t.Helper()
		_, err := repo.Append(ctx, &ledger.Transaction{
			ID:             id,
			VehicleID:      "veh-1",
			Kind:           kind,
			Amount:         money.FromMinor(amount),
			Status:         status,
			IdempotencyKey: "key-" + id,
		})
		if err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	append("a", ledger.KindRecharge, ledger.StatusSuccess, 2000)
	append("b", ledger.KindTollCharge, ledger.StatusSuccess, 1500)
	append("c", ledger.KindTollCharge, ledger.StatusDeclinedInsufficient, 1500)

	history, err := repo.History(ctx, "veh-1", 10, "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	if history[0].ID != "c" || history[2].ID != "a" {
		t.Fatalf("history not newest-first: %s..%s", history[0].ID, history[2].ID)
	}
	for i, txn := range history {
		wantSeq := int64(3 - i)
		if txn.Seq != wantSeq {
			t.Fatalf("entry %d: seq=%d want %d", i, txn.Seq, wantSeq)
		}
	}

	charges, err := repo.History(ctx, "veh-1", 10, ledger.KindTollCharge)
	if err != nil {
		t.Fatalf("history filtered: %v", err)
	}
	if len(charges) != 2 {
		t.Fatalf("expected 2 charges, got %d", len(charges))
	}
}

func TestSumSignedDeltas_ReplaysBalance(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository()

	entries := []struct {
		kind   string
		status string
		amount int64
	}{
		{ledger.KindRecharge, ledger.StatusSuccess, 2000},
		{ledger.KindTollCharge, ledger.StatusSuccess, 1500},
		{ledger.KindTollCharge, ledger.StatusDeclinedInsufficient, 1500},
		{ledger.KindRecharge, ledger.StatusFailed, 1000},
	}
	for i, e := range entries {
		_, err := repo.Append(ctx, &ledger.Transaction{
			ID:             "txn-" + string(rune('a'+i)),
			VehicleID:      "veh-1",
			Kind:           e.kind,
			Amount:         money.FromMinor(e.amount),
			Status:         e.status,
			IdempotencyKey: "key-" + string(rune('a'+i)),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	total, err := repo.SumSignedDeltas(ctx, "veh-1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total.Minor() != 500 {
		t.Fatalf("expected net 500, got %d", total.Minor())
	}
}
