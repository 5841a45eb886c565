// Package reconcile defines the canonical settlement requests fed to
// the balance reconciliation engine.
package reconcile

import (
	"errors"
	"time"

	"enp-settlement/internal/money"
)

// ChargeRequest is a normalized checkpoint scan ready for settlement.
type ChargeRequest struct {
	TagID          string
	CheckpointID   string
	Amount         money.Amount
	IdempotencyKey string
	ScannedAt      time.Time
}

// RechargeRequest credits a vehicle after an external payment
// capture succeeded.
type RechargeRequest struct {
	VehicleID      string
	Amount         money.Amount
	PaymentMethod  string
	IdempotencyKey string
}

var (
	// ErrInvalidRequest indicates a request missing required fields.
	ErrInvalidRequest = errors.New("reconcile: invalid request")
	// ErrStorageUnavailable indicates the engine could not reach its
	// stores; the request fails closed with no mutation applied.
	ErrStorageUnavailable = errors.New("reconcile: storage unavailable")
)

// Validate checks required charge fields.
func (r ChargeRequest) Validate() error {
	if r.TagID == "" || r.CheckpointID == "" || r.IdempotencyKey == "" || !r.Amount.IsPositive() {
		return ErrInvalidRequest
	}
	return nil
}

// Validate checks required recharge fields.
func (r RechargeRequest) Validate() error {
	if r.VehicleID == "" || r.PaymentMethod == "" || r.IdempotencyKey == "" || !r.Amount.IsPositive() {
		return ErrInvalidRequest
	}
	return nil
}
