// Package application hosts the vehicle registry service: enrollment,
// status transitions, and watch-field updates.
package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"enp-settlement/internal/audit"
	"enp-settlement/internal/auth"
	"enp-settlement/internal/eventing"
	"enp-settlement/internal/money"
	registry "enp-settlement/internal/registry/domain"
)

// VehicleRepository is the registry persistence surface.
type VehicleRepository interface {
	Create(ctx context.Context, vehicle *registry.Vehicle) error
	GetByID(ctx context.Context, id string) (*registry.Vehicle, error)
	FindByTag(ctx context.Context, tag string) (*registry.Vehicle, error)
	UpdateStatus(ctx context.Context, id, status string) (*registry.Vehicle, error)
}

// RegisterInput is the enrollment payload.
type RegisterInput struct {
	LicensePlate   string       `json:"license_plate"`
	Tag            string       `json:"tag"`
	VehicleType    string       `json:"vehicle_type"`
	OwnerID        string       `json:"owner_id"`
	InitialBalance money.Amount `json:"initial_balance_minor"`
}

// ErrInvalidInput indicates a malformed enrollment request.
var ErrInvalidInput = errors.New("registry: invalid input")

// Service manages vehicle records.
type Service struct {
	repo   VehicleRepository
	audit  audit.Logger
	logger *log.Logger
}

// NewService constructs the registry service.
func NewService(repo VehicleRepository, auditLog audit.Logger, logger *log.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("registry: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{repo: repo, audit: auditLog, logger: logger}, nil
}

// Register enrolls a vehicle. The tag must not already be bound to a
// registered vehicle.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*registry.Vehicle, error) {
	if in.LicensePlate == "" || in.Tag == "" {
		return nil, ErrInvalidInput
	}
	if !registry.ValidType(in.VehicleType) {
		return nil, ErrInvalidInput
	}
	if in.InitialBalance.IsNegative() {
		return nil, ErrInvalidInput
	}

	now := time.Now().UTC()
	vehicle := &registry.Vehicle{
		ID:           "veh-" + eventing.NewEventID(),
		LicensePlate: in.LicensePlate,
		Tag:          in.Tag,
		VehicleType:  in.VehicleType,
		Balance:      in.InitialBalance,
		Status:       registry.StatusActive,
		OwnerID:      in.OwnerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, vehicle); err != nil {
		return nil, err
	}
	s.auditAction(ctx, "vehicle.registered", vehicle.ID, in)
	return vehicle, nil
}

// Get loads a vehicle by id.
func (s *Service) Get(ctx context.Context, id string) (*registry.Vehicle, error) {
	if id == "" {
		return nil, registry.ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// ChangeStatus applies a lifecycle transition.
func (s *Service) ChangeStatus(ctx context.Context, id, status string) (*registry.Vehicle, error) {
	if id == "" {
		return nil, registry.ErrNotFound
	}
	vehicle, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.auditAction(ctx, "vehicle.status-changed", id, map[string]string{"status": status})
	return vehicle, nil
}

func (s *Service) auditAction(ctx context.Context, action, vehicleID string, payload any) {
	if s.audit == nil {
		return
	}
	metadata, err := json.Marshal(payload)
	if err != nil {
		metadata = nil
	}
	entry := audit.Entry{
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       action,
		ResourceType: "vehicle",
		ResourceID:   vehicleID,
		VehicleID:    vehicleID,
		Metadata:     metadata,
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.logger.Printf("audit log failed action=%s vehicle=%s: %v", action, vehicleID, err)
	}
}
