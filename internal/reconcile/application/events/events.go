// Package events defines the settlement outcome events published by
// the reconciliation engine.
package events

import "time"

// TransactionSettled is emitted for every terminal settlement
// outcome, successful or not. The alert dispatcher derives
// enforcement alerts from it synchronously.
type TransactionSettled struct {
	TransactionID  string `json:"transaction_id"`
	VehicleID      string `json:"vehicle_id,omitempty"`
	TagID          string `json:"tag_id"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	AmountMinor    int64  `json:"amount_minor"`
	CheckpointID   string `json:"checkpoint_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`

	// Vehicle context captured at settlement time.
	VehicleStatus       string `json:"vehicle_status,omitempty"`
	WarrantFlag         bool   `json:"warrant_flag,omitempty"`
	RegistrationExpired bool   `json:"registration_expired,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}
