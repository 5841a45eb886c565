// Package application hosts the scan ingestion service: validation,
// dedup, rate resolution, and hand-off to the settlement engine.
package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	gateway "enp-settlement/internal/gateway/domain"
	ledger "enp-settlement/internal/ledger/domain"
	"enp-settlement/internal/money"
	"enp-settlement/internal/observability/metrics"
	"enp-settlement/internal/rates"
	reconcile "enp-settlement/internal/reconcile/domain"
	registry "enp-settlement/internal/registry/domain"
)

// DedupStore remembers processed idempotency keys for a bounded
// window so checkpoint retries are answered without resettlement.
type DedupStore interface {
	Find(ctx context.Context, key string) (*gateway.DedupRecord, error)
	Record(ctx context.Context, record gateway.DedupRecord) error
}

// VehicleFinder resolves a vehicle by its RFID tag.
type VehicleFinder interface {
	FindByTag(ctx context.Context, tag string) (*registry.Vehicle, error)
}

// ChargeSettler is the reconciliation engine surface the gateway uses.
type ChargeSettler interface {
	SettleCharge(ctx context.Context, req reconcile.ChargeRequest) (*ledger.Transaction, error)
}

// ScanOutcome is what checkpoints get back for a scan.
type ScanOutcome struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Replayed      bool   `json:"replayed,omitempty"`
}

const defaultDedupTTL = 24 * time.Hour

// Service admits checkpoint scans into settlement.
type Service struct {
	dedup    DedupStore
	vehicles VehicleFinder
	rates    rates.Provider
	engine   ChargeSettler
	logger   *log.Logger
	ttl      time.Duration
}

// ServiceOption customizes the gateway service.
type ServiceOption func(*Service)

// WithDedupTTL sets the retention window for processed keys.
func WithDedupTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewService constructs the ingestion service.
func NewService(dedup DedupStore, vehicles VehicleFinder, provider rates.Provider, engine ChargeSettler, logger *log.Logger, opts ...ServiceOption) (*Service, error) {
	if dedup == nil {
		return nil, errors.New("gateway: nil dedup store")
	}
	if vehicles == nil {
		return nil, errors.New("gateway: nil vehicle finder")
	}
	if provider == nil {
		return nil, errors.New("gateway: nil rate provider")
	}
	if engine == nil {
		return nil, errors.New("gateway: nil engine")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		dedup:    dedup,
		vehicles: vehicles,
		rates:    provider,
		engine:   engine,
		logger:   logger,
		ttl:      defaultDedupTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleScan processes one checkpoint scan end to end.
func (s *Service) HandleScan(ctx context.Context, scan gateway.ScanEvent) (ScanOutcome, error) {
	start := time.Now()
	outcome, err := s.handleScan(ctx, scan)
	result := outcome.Status
	if err != nil {
		result = "error"
	}
	metrics.ObserveScan(result, time.Since(start))
	return outcome, err
}

func (s *Service) handleScan(ctx context.Context, scan gateway.ScanEvent) (ScanOutcome, error) {
	if err := scan.Validate(); err != nil {
		metrics.IncScanError("invalid")
		return ScanOutcome{}, err
	}

	// A dedup store that cannot answer fails the scan closed. Admitting
	// a possibly seen key would push the double-charge decision onto
	// the ledger under error conditions we cannot see.
	if record, err := s.dedup.Find(ctx, scan.IdempotencyKey); err != nil {
		metrics.IncScanError("dedup-unavailable")
		return ScanOutcome{}, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	} else if record != nil {
		metrics.IncDedupHit()
		return ScanOutcome{TransactionID: record.TransactionID, Status: record.Status, Replayed: true}, nil
	}

	amount, err := s.resolveRate(ctx, scan)
	if err != nil {
		metrics.IncScanError("no-rate")
		return ScanOutcome{}, err
	}

	txn, err := s.engine.SettleCharge(ctx, reconcile.ChargeRequest{
		TagID:          scan.TagID,
		CheckpointID:   scan.CheckpointID,
		Amount:         amount,
		IdempotencyKey: scan.IdempotencyKey,
		ScannedAt:      scan.Timestamp.UTC(),
	})
	if err != nil {
		metrics.IncScanError("settlement")
		return ScanOutcome{}, err
	}

	// Best effort: the ledger's unique key constraint is authoritative,
	// the dedup window just answers retries cheaply.
	record := gateway.DedupRecord{
		IdempotencyKey: scan.IdempotencyKey,
		TransactionID:  txn.ID,
		Status:         txn.Status,
		ExpiresAt:      time.Now().UTC().Add(s.ttl),
	}
	if err := s.dedup.Record(ctx, record); err != nil {
		s.logger.Printf("dedup record failed key=%s: %v", scan.IdempotencyKey, err)
	}

	return ScanOutcome{TransactionID: txn.ID, Status: txn.Status}, nil
}

// resolveRate prices the scan by checkpoint and vehicle type. Unknown
// tags price at the checkpoint default so the decline still carries
// the attempted amount.
func (s *Service) resolveRate(ctx context.Context, scan gateway.ScanEvent) (money.Amount, error) {
	vehicleType := ""
	vehicle, err := s.vehicles.FindByTag(ctx, scan.TagID)
	if err == nil {
		vehicleType = vehicle.VehicleType
	} else if !errors.Is(err, registry.ErrNotFound) {
		return 0, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	return s.rates.RateFor(ctx, scan.CheckpointID, vehicleType)
}
