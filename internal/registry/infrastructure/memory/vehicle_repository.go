package memory

import (
	"context"
	"sync"
	"time"

	"enp-settlement/internal/money"
	registry "enp-settlement/internal/registry/domain"
)

// VehicleRepository is an in-memory vehicle store for tests and demos.
type VehicleRepository struct {
	mu       sync.RWMutex
	byID     map[string]*registry.Vehicle
	tagIndex map[string]string
}

// NewVehicleRepository constructs a repository.
func NewVehicleRepository() *VehicleRepository {
	return &VehicleRepository{
		byID:     make(map[string]*registry.Vehicle),
		tagIndex: make(map[string]string),
	}
}

// FindByTag resolves a vehicle by RFID tag.
func (r *VehicleRepository) FindByTag(ctx context.Context, tag string) (*registry.Vehicle, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.tagIndex[tag]
	if !ok {
		return nil, registry.ErrNotFound
	}
	vehicle := r.byID[id]
	if vehicle == nil || vehicle.Status == registry.StatusUnregistered {
		return nil, registry.ErrNotFound
	}
	clone := *vehicle
	return &clone, nil
}

// GetByID fetches a vehicle by id.
func (r *VehicleRepository) GetByID(ctx context.Context, id string) (*registry.Vehicle, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	vehicle := r.byID[id]
	if vehicle == nil {
		return nil, registry.ErrNotFound
	}
	clone := *vehicle
	return &clone, nil
}

// Create registers a new vehicle.
func (r *VehicleRepository) Create(ctx context.Context, vehicle *registry.Vehicle) error {
	_ = ctx
	if vehicle == nil {
		return registry.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existingID, ok := r.tagIndex[vehicle.Tag]; ok {
		if existing := r.byID[existingID]; existing != nil && existing.Status != registry.StatusUnregistered {
			return registry.ErrTagTaken
		}
	}
	clone := *vehicle
	r.byID[clone.ID] = &clone
	r.tagIndex[clone.Tag] = clone.ID
	return nil
}

// UpdateStatus applies a status transition.
func (r *VehicleRepository) UpdateStatus(ctx context.Context, id, status string) (*registry.Vehicle, error) {
	_ = ctx
	if !registry.ValidStatus(status) {
		return nil, registry.ErrInvalidTransition
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	vehicle := r.byID[id]
	if vehicle == nil {
		return nil, registry.ErrNotFound
	}
	if !registry.CanTransition(vehicle.Status, status) {
		return nil, registry.ErrInvalidTransition
	}
	vehicle.Status = status
	vehicle.UpdatedAt = time.Now().UTC()
	clone := *vehicle
	return &clone, nil
}

// ApplyBalanceDelta conditionally mutates the balance, failing with
// ErrBalanceConflict when the expectation is stale.
func (r *VehicleRepository) ApplyBalanceDelta(ctx context.Context, id string, delta, expected money.Amount) (*registry.Vehicle, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	vehicle := r.byID[id]
	if vehicle == nil {
		return nil, registry.ErrNotFound
	}
	if vehicle.Balance != expected {
		return nil, registry.ErrBalanceConflict
	}
	vehicle.Balance = vehicle.Balance.Add(delta)
	vehicle.UpdatedAt = time.Now().UTC()
	clone := *vehicle
	return &clone, nil
}
