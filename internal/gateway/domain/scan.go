// Package gateway defines the checkpoint scan events admitted into
// the settlement pipeline.
package gateway

import (
	"errors"
	"time"
)

// ScanEvent is one RFID read reported by a checkpoint.
type ScanEvent struct {
	CheckpointID   string    `json:"checkpointId"`
	TagID          string    `json:"tagId"`
	Timestamp      time.Time `json:"timestamp"`
	IdempotencyKey string    `json:"idempotencyKey"`
}

var (
	// ErrInvalidScan indicates a scan missing required fields.
	ErrInvalidScan = errors.New("gateway: invalid scan event")
	// ErrUnavailable indicates the gateway could not consult its dedup
	// store; the scan is rejected rather than risked twice.
	ErrUnavailable = errors.New("gateway: dedup store unavailable")
)

// Validate checks required scan fields.
func (s ScanEvent) Validate() error {
	if s.CheckpointID == "" || s.TagID == "" || s.IdempotencyKey == "" || s.Timestamp.IsZero() {
		return ErrInvalidScan
	}
	return nil
}

// DedupRecord is the stored outcome for a processed idempotency key.
type DedupRecord struct {
	IdempotencyKey string    `json:"idempotency_key"`
	TransactionID  string    `json:"transaction_id"`
	Status         string    `json:"status"`
	ExpiresAt      time.Time `json:"expires_at"`
}
