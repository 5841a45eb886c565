// Package ledger defines the append-only toll transaction record,
// the source of truth for balance history and idempotency.
package ledger

import (
	"time"

	"enp-settlement/internal/money"
)

// Transaction kinds.
const (
	KindTollCharge = "toll-charge"
	KindRecharge   = "recharge"
)

// Transaction statuses. Only status success implies a balance
// mutation; every other status leaves balance-before == balance-after.
const (
	StatusSuccess              = "success"
	StatusDeclinedInsufficient = "declined-insufficient-funds"
	StatusDeclinedInvalid      = "declined-invalid-vehicle"
	StatusFailed               = "failed"
)

// Transaction is one immutable ledger row. Corrections are new
// transactions, never edits.
type Transaction struct {
	ID string `json:"id"`
	// VehicleID is empty for scans of unregistered tags; TagID always
	// records the raw tag read for charges.
	VehicleID     string       `json:"vehicle_id,omitempty"`
	TagID         string       `json:"tag_id,omitempty"`
	Kind          string       `json:"kind"`
	Amount        money.Amount `json:"amount_minor"`
	BalanceBefore money.Amount `json:"balance_before_minor"`
	BalanceAfter  money.Amount `json:"balance_after_minor"`
	Status        string       `json:"status"`

	// CheckpointID is set for toll charges, PaymentMethod for recharges.
	CheckpointID  string `json:"checkpoint_id,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`

	IdempotencyKey string `json:"idempotency_key"`

	// Seq is the per-vehicle ordering assigned on append. Replaying a
	// vehicle's transactions in Seq order reproduces its balance.
	Seq int64 `json:"seq"`

	// NeedsReconciliation marks a recharge whose external payment was
	// captured but whose credit did not land (replayed later).
	NeedsReconciliation bool `json:"needs_reconciliation,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SignedDelta is the transaction's contribution to the running
// balance: negative for successful charges, positive for successful
// recharges, zero otherwise.
func (t Transaction) SignedDelta() money.Amount {
	if t.Status != StatusSuccess {
		return 0
	}
	if t.Kind == KindTollCharge {
		return t.Amount.Neg()
	}
	return t.Amount
}
