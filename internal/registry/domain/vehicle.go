// Package registry holds the authoritative vehicle records: the
// mapping from RFID tag to vehicle identity, prepaid balance and
// enforcement status.
package registry

import (
	"time"

	"enp-settlement/internal/money"
)

// Vehicle status values. A vehicle is never hard-deleted; enforcement
// and owner actions only move it between statuses.
const (
	StatusActive       = "active"
	StatusSuspended    = "suspended"
	StatusStolen       = "stolen"
	StatusUnregistered = "unregistered"
)

// Vehicle type values used by the toll-rate table.
const (
	TypePassenger  = "passenger"
	TypeCommercial = "commercial"
	TypeHeavy      = "heavy"
)

// Vehicle is one registered vehicle with its RFID tag and prepaid
// balance. Balance is only ever mutated by the reconciliation engine
// through ApplyBalanceDelta.
type Vehicle struct {
	ID           string       `json:"id"`
	LicensePlate string       `json:"license_plate"`
	Tag          string       `json:"rfid_tag"`
	VehicleType  string       `json:"vehicle_type"`
	Balance      money.Amount `json:"balance_minor"`
	Status       string       `json:"status"`
	OwnerID      string       `json:"owner_id"`

	// Watch fields feeding enforcement alerts at scan time.
	WarrantFlag           bool      `json:"warrant_flag,omitempty"`
	RegistrationExpiresAt time.Time `json:"registration_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidStatus reports whether the value is a known vehicle status.
func ValidStatus(status string) bool {
	switch status {
	case StatusActive, StatusSuspended, StatusStolen, StatusUnregistered:
		return true
	default:
		return false
	}
}

// ValidType reports whether the value is a known vehicle type.
func ValidType(vehicleType string) bool {
	switch vehicleType {
	case TypePassenger, TypeCommercial, TypeHeavy:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a status change is allowed. Any
// status may be reinstated to active; active vehicles may be
// suspended or marked stolen; suspended vehicles may escalate to
// stolen. Unregistered is an intake state and only moves to active.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusActive:
		return to == StatusSuspended || to == StatusStolen
	case StatusSuspended:
		return to == StatusActive || to == StatusStolen
	case StatusStolen:
		return to == StatusActive
	case StatusUnregistered:
		return to == StatusActive
	default:
		return false
	}
}

// RegistrationExpired reports whether the vehicle's registration has
// lapsed as of now. A zero expiry means no registration tracking.
func (v Vehicle) RegistrationExpired(now time.Time) bool {
	return !v.RegistrationExpiresAt.IsZero() && now.After(v.RegistrationExpiresAt)
}
