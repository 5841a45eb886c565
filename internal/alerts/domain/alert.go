// Package alerts defines enforcement alerts raised from settlement
// outcomes.
package alerts

import "time"

// Alert reasons.
const (
	ReasonStolenVehicle       = "stolen-vehicle"
	ReasonUnregisteredTag     = "unregistered-tag"
	ReasonSuspendedVehicle    = "suspended-vehicle"
	ReasonWarrant             = "warrant"
	ReasonRepeatedDeclines    = "insufficient-funds-repeated"
	ReasonExpiredRegistration = "expired-registration"
)

// Alert priorities.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Alert lifecycle statuses.
const (
	StatusActive        = "active"
	StatusInvestigating = "investigating"
	StatusResolved      = "resolved"
)

// Alert is one enforcement case. An open alert for the same vehicle
// and reason absorbs repeat observations instead of duplicating.
type Alert struct {
	ID        string `json:"id"`
	VehicleID string `json:"vehicle_id,omitempty"`
	TagID     string `json:"tag_id"`
	Reason    string `json:"reason"`
	Priority  string `json:"priority"`
	Status    string `json:"status"`

	// Context from the settlement that raised the alert.
	CheckpointID  string `json:"checkpoint_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// Open reports whether the alert still needs attention.
func (a Alert) Open() bool {
	return a.Status == StatusActive || a.Status == StatusInvestigating
}

// CanTransition reports whether a status change is allowed. Resolved
// is terminal.
func CanTransition(from, to string) bool {
	switch from {
	case StatusActive:
		return to == StatusInvestigating || to == StatusResolved
	case StatusInvestigating:
		return to == StatusResolved
	default:
		return false
	}
}

// ValidStatus reports whether the value is a known alert status.
func ValidStatus(status string) bool {
	switch status {
	case StatusActive, StatusInvestigating, StatusResolved:
		return true
	}
	return false
}

// PriorityRank orders priorities for escalation comparisons.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// PriorityFor maps an alert reason to its dispatch priority.
func PriorityFor(reason string) string {
	switch reason {
	case ReasonStolenVehicle:
		return PriorityCritical
	case ReasonUnregisteredTag, ReasonSuspendedVehicle, ReasonWarrant:
		return PriorityHigh
	case ReasonRepeatedDeclines, ReasonExpiredRegistration:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
