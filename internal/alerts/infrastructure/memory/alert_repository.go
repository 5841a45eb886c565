package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	alerts "enp-settlement/internal/alerts/domain"
)

// AlertRepository is an in-memory alert store for tests and demos.
type AlertRepository struct {
	mu   sync.RWMutex
	byID map[string]*alerts.Alert
}

// NewAlertRepository constructs a repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{byID: make(map[string]*alerts.Alert)}
}

// Create inserts an alert.
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.Alert) error {
	_ = ctx
	if alert == nil {
		return alerts.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *alert
	r.byID[clone.ID] = &clone
	return nil
}

// GetByID fetches an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert := r.byID[id]
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	clone := *alert
	return &clone, nil
}

// FindOpen returns an unresolved alert for the subject and reason.
func (r *AlertRepository) FindOpen(ctx context.Context, vehicleID, tagID, reason string) (*alerts.Alert, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, alert := range r.byID {
		if alert.VehicleID == vehicleID && alert.TagID == tagID && alert.Reason == reason && alert.Open() {
			clone := *alert
			return &clone, nil
		}
	}
	return nil, alerts.ErrNotFound
}

// UpdateStatus applies a status change.
func (r *AlertRepository) UpdateStatus(ctx context.Context, id, status string, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	alert := r.byID[id]
	if alert == nil {
		return alerts.ErrNotFound
	}
	alert.Status = status
	alert.UpdatedAt = at
	if status == alerts.StatusResolved {
		alert.ResolvedAt = at
	}
	return nil
}

// ListByStatus returns alerts newest first, optionally filtered.
func (r *AlertRepository) ListByStatus(ctx context.Context, status string, limit int) ([]alerts.Alert, error) {
	_ = ctx
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []alerts.Alert
	for _, alert := range r.byID {
		if status != "" && alert.Status != status {
			continue
		}
		result = append(result, *alert)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
