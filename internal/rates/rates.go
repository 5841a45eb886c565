// Package rates resolves the toll amount for a checkpoint and
// vehicle type. The rate table is an external collaborator of the
// settlement core; this package provides a fixed provider and a
// yaml-backed table.
package rates

import (
	"context"
	"errors"

	"enp-settlement/internal/money"
)

// Provider resolves a toll amount.
type Provider interface {
	RateFor(ctx context.Context, checkpointID, vehicleType string) (money.Amount, error)
}

// ErrNoRate indicates no rate is configured for the checkpoint.
var ErrNoRate = errors.New("rates: no rate configured")

// FixedProvider returns one flat rate for every checkpoint.
type FixedProvider struct {
	rate money.Amount
}

// NewFixedProvider constructs the provider.
func NewFixedProvider(rate money.Amount) (*FixedProvider, error) {
	if !rate.IsPositive() {
		return nil, errors.New("rates: rate must be positive")
	}
	return &FixedProvider{rate: rate}, nil
}

// RateFor returns the configured flat rate.
func (p *FixedProvider) RateFor(ctx context.Context, checkpointID, vehicleType string) (money.Amount, error) {
	_ = ctx
	_ = checkpointID
	_ = vehicleType
	return p.rate, nil
}
