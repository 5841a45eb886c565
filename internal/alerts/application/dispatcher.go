// Package application hosts the enforcement alert dispatcher. It
// consumes settlement outcomes and drives the alert lifecycle.
package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log"
	"time"

	alerts "enp-settlement/internal/alerts/domain"
	"enp-settlement/internal/audit"
	"enp-settlement/internal/auth"
	ledger "enp-settlement/internal/ledger/domain"
	"enp-settlement/internal/observability/metrics"
	"enp-settlement/internal/reconcile/application/events"
	registry "enp-settlement/internal/registry/domain"
)

// AlertRepository persists alerts.
type AlertRepository interface {
	Create(ctx context.Context, alert *alerts.Alert) error
	GetByID(ctx context.Context, id string) (*alerts.Alert, error)
	FindOpen(ctx context.Context, vehicleID, tagID, reason string) (*alerts.Alert, error)
	UpdateStatus(ctx context.Context, id, status string, at time.Time) error
	ListByStatus(ctx context.Context, status string, limit int) ([]alerts.Alert, error)
}

// DeclineCounter reports the consecutive insufficient-funds declines
// at the head of a vehicle's charge history.
type DeclineCounter interface {
	CountRecentDeclines(ctx context.Context, vehicleID string, window time.Duration) (int, error)
}

// AlertNotifier publishes alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent represents a lifecycle update.
type AlertEvent struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

const (
	defaultDeclineWindow    = 24 * time.Hour
	defaultDeclineThreshold = 3
)

// Dispatcher raises and transitions enforcement alerts.
type Dispatcher struct {
	repo     AlertRepository
	declines DeclineCounter
	notifier AlertNotifier
	auditLog audit.Logger
	clock    Clock
	logger   *log.Logger

	declineWindow    time.Duration
	declineThreshold int
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlertNotifier) DispatcherOption {
	return func(d *Dispatcher) {
		d.notifier = notifier
	}
}

// WithAudit records enforcement actions to the audit log.
func WithAudit(auditLog audit.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.auditLog = auditLog
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithDeclineWindow sets the rolling window for decline escalation.
func WithDeclineWindow(window time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if window > 0 {
			d.declineWindow = window
		}
	}
}

// WithDeclineThreshold sets how many consecutive declines escalate.
func WithDeclineThreshold(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.declineThreshold = n
		}
	}
}

// NewDispatcher constructs an alert dispatcher.
func NewDispatcher(repo AlertRepository, declines DeclineCounter, logger *log.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if repo == nil {
		return nil, errors.New("alerts: nil repository")
	}
	if declines == nil {
		return nil, errors.New("alerts: nil decline counter")
	}
	if logger == nil {
		logger = log.Default()
	}
	d := &Dispatcher{
		repo:             repo,
		declines:         declines,
		logger:           logger,
		clock:            systemClock{},
		declineWindow:    defaultDeclineWindow,
		declineThreshold: defaultDeclineThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// HandleTransactionSettled derives enforcement alerts from one
// settlement outcome. Charges only; recharges never raise alerts.
func (d *Dispatcher) HandleTransactionSettled(ctx context.Context, evt events.TransactionSettled) error {
	if d == nil {
		return errors.New("alerts: nil dispatcher")
	}
	if evt.Kind != ledger.KindTollCharge {
		return nil
	}

	for _, reason := range d.reasonsFor(ctx, evt) {
		if err := d.raise(ctx, evt, reason); err != nil {
			return err
		}
	}
	return nil
}

// reasonsFor maps an outcome to zero or more alert reasons. A single
// scan can raise several: a stolen vehicle with a warrant gets both.
func (d *Dispatcher) reasonsFor(ctx context.Context, evt events.TransactionSettled) []string {
	var reasons []string

	if evt.Status == ledger.StatusDeclinedInvalid && evt.VehicleID == "" {
		return []string{alerts.ReasonUnregisteredTag}
	}

	switch evt.VehicleStatus {
	case registry.StatusStolen:
		reasons = append(reasons, alerts.ReasonStolenVehicle)
	case registry.StatusSuspended:
		reasons = append(reasons, alerts.ReasonSuspendedVehicle)
	}
	if evt.WarrantFlag {
		reasons = append(reasons, alerts.ReasonWarrant)
	}
	if evt.RegistrationExpired {
		reasons = append(reasons, alerts.ReasonExpiredRegistration)
	}

	if evt.Status == ledger.StatusDeclinedInsufficient && evt.VehicleID != "" {
		count, err := d.declines.CountRecentDeclines(ctx, evt.VehicleID, d.declineWindow)
		if err != nil {
			d.logger.Printf("decline count failed vehicle=%s: %v", evt.VehicleID, err)
		} else if count >= d.declineThreshold {
			reasons = append(reasons, alerts.ReasonRepeatedDeclines)
		}
	}
	return reasons
}

func (d *Dispatcher) raise(ctx context.Context, evt events.TransactionSettled, reason string) error {
	open, err := d.repo.FindOpen(ctx, evt.VehicleID, evt.TagID, reason)
	if err != nil && !errors.Is(err, alerts.ErrNotFound) {
		return err
	}
	if open != nil {
		// Already under enforcement; don't flood operators.
		return nil
	}

	now := d.clock.Now().UTC()
	alert := &alerts.Alert{
		ID:            buildAlertID(evt.VehicleID, evt.TagID, reason, now),
		VehicleID:     evt.VehicleID,
		TagID:         evt.TagID,
		Reason:        reason,
		Priority:      alerts.PriorityFor(reason),
		Status:        alerts.StatusActive,
		CheckpointID:  evt.CheckpointID,
		TransactionID: evt.TransactionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.repo.Create(ctx, alert); err != nil {
		return err
	}
	d.notify(ctx, "active", *alert)
	return nil
}

// Resolve closes an alert.
func (d *Dispatcher) Resolve(ctx context.Context, id string) (*alerts.Alert, error) {
	return d.transition(ctx, id, alerts.StatusResolved, "resolved")
}

// Investigate marks an alert as being worked.
func (d *Dispatcher) Investigate(ctx context.Context, id string) (*alerts.Alert, error) {
	return d.transition(ctx, id, alerts.StatusInvestigating, "investigating")
}

func (d *Dispatcher) transition(ctx context.Context, id, status, eventType string) (*alerts.Alert, error) {
	if d == nil {
		return nil, errors.New("alerts: nil dispatcher")
	}
	if id == "" {
		return nil, errors.New("alerts: alert id required")
	}
	alert, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status == status {
		return alert, nil
	}
	if !alerts.CanTransition(alert.Status, status) {
		return nil, alerts.ErrInvalidTransition
	}
	now := d.clock.Now().UTC()
	if err := d.repo.UpdateStatus(ctx, alert.ID, status, now); err != nil {
		return nil, err
	}
	alert.Status = status
	alert.UpdatedAt = now
	if status == alerts.StatusResolved {
		alert.ResolvedAt = now
	}
	d.auditAction(ctx, "alert."+eventType, alert)
	d.notify(ctx, eventType, *alert)
	return alert, nil
}

func (d *Dispatcher) auditAction(ctx context.Context, action string, alert *alerts.Alert) {
	if d.auditLog == nil {
		return
	}
	entry := audit.Entry{
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       action,
		ResourceType: "alert",
		ResourceID:   alert.ID,
		VehicleID:    alert.VehicleID,
	}
	if err := d.auditLog.Log(ctx, entry); err != nil {
		d.logger.Printf("audit log failed action=%s alert=%s: %v", action, alert.ID, err)
	}
}

// List returns alerts, optionally filtered by status.
func (d *Dispatcher) List(ctx context.Context, status string, limit int) ([]alerts.Alert, error) {
	if d == nil {
		return nil, errors.New("alerts: nil dispatcher")
	}
	if status != "" && !alerts.ValidStatus(status) {
		return nil, errors.New("alerts: unknown status filter")
	}
	return d.repo.ListByStatus(ctx, status, limit)
}

func (d *Dispatcher) notify(ctx context.Context, eventType string, alert alerts.Alert) {
	metrics.IncAlertEvent(eventType, alert.Reason)
	if d.notifier == nil {
		return
	}
	d.notifier.Notify(ctx, AlertEvent{Type: eventType, Alert: alert})
}

func buildAlertID(vehicleID, tagID, reason string, at time.Time) string {
	sum := sha1.Sum([]byte(vehicleID + "|" + tagID + "|" + reason + "|" + at.Format(time.RFC3339Nano)))
	return "alert-" + hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
