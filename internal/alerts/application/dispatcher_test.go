package application

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"

	alerts "enp-settlement/internal/alerts/domain"
	alertmem "enp-settlement/internal/alerts/infrastructure/memory"
	ledger "enp-settlement/internal/ledger/domain"
	"enp-settlement/internal/reconcile/application/events"
	registry "enp-settlement/internal/registry/domain"
)

type stubDeclines struct {
	count int
	err   error
}

func (s stubDeclines) CountRecentDeclines(context.Context, string, time.Duration) (int, error) {
	return s.count, s.err
}

type captureNotifier struct {
	mu     sync.Mutex
	events []AlertEvent
}

func (n *captureNotifier) Notify(_ context.Context, event AlertEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *captureNotifier) all() []AlertEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]AlertEvent, len(n.events))
	copy(out, n.events)
	return out
}

func newDispatcher(t *testing.T, declines DeclineCounter, opts ...DispatcherOption) (*Dispatcher, *alertmem.AlertRepository, *captureNotifier) {
	t.Helper()
	repo := alertmem.NewAlertRepository()
	notifier := &captureNotifier{}
	base := []DispatcherOption{WithNotifier(notifier)}
	d, err := NewDispatcher(repo, declines, log.New(logWriter{t}, "", 0), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d, repo, notifier
}

type logWriter struct{ t *testing.T }

func (w logWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func chargeOutcome(vehicleID, tagID, status, vehicleStatus string) events.TransactionSettled {
	return events.TransactionSettled{
		TransactionID: "txn-" + tagID,
		VehicleID:     vehicleID,
		TagID:         tagID,
		Kind:          ledger.KindTollCharge,
		Status:        status,
		AmountMinor:   1500,
		CheckpointID:  "CP-EAST-01",
		VehicleStatus: vehicleStatus,
		OccurredAt:    time.Now().UTC(),
	}
}

func TestStolenVehicleRaisesCriticalAlert(t *testing.T) {
	d, repo, notifier := newDispatcher(t, stubDeclines{})
	evt := chargeOutcome("veh-1", "RF900001", ledger.StatusDeclinedInvalid, registry.StatusStolen)

	if err := d.HandleTransactionSettled(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}

	open, err := repo.FindOpen(context.Background(), "veh-1", "RF900001", alerts.ReasonStolenVehicle)
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if open.Priority != alerts.PriorityCritical {
		t.Fatalf("priority = %s, want critical", open.Priority)
	}
	if open.Status != alerts.StatusActive {
		t.Fatalf("status = %s, want active", open.Status)
	}

	evts := notifier.all()
	if len(evts) != 1 || evts[0].Type != "active" {
		t.Fatalf("expected one active notification, got %+v", evts)
	}
}

func TestUnregisteredTagRaisesHighAlert(t *testing.T) {
	d, repo, _ := newDispatcher(t, stubDeclines{})
	evt := chargeOutcome("", "RF000000", ledger.StatusDeclinedInvalid, "")

	if err := d.HandleTransactionSettled(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	open, err := repo.FindOpen(context.Background(), "", "RF000000", alerts.ReasonUnregisteredTag)
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if open.Priority != alerts.PriorityHigh {
		t.Fatalf("priority = %s, want high", open.Priority)
	}
}

func TestSuspendedVehicleFlaggedOnSuccessfulCharge(t *testing.T) {
	d, repo, _ := newDispatcher(t, stubDeclines{})
	evt := chargeOutcome("veh-2", "RF900002", ledger.StatusSuccess, registry.StatusSuspended)

	if err := d.HandleTransactionSettled(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	open, err := repo.FindOpen(context.Background(), "veh-2", "RF900002", alerts.ReasonSuspendedVehicle)
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if open.Priority != alerts.PriorityHigh {
		t.Fatalf("priority = %s, want high", open.Priority)
	}
}

func TestRepeatedDeclinesEscalateAtThreshold(t *testing.T) {
	t.Run("below threshold", func(t *testing.T) {
		d, repo, _ := newDispatcher(t, stubDeclines{count: 2})
		evt := chargeOutcome("veh-3", "RF104220", ledger.StatusDeclinedInsufficient, registry.StatusActive)
		if err := d.HandleTransactionSettled(context.Background(), evt); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if _, err := repo.FindOpen(context.Background(), "veh-3", "RF104220", alerts.ReasonRepeatedDeclines); err == nil {
			t.Fatalf("alert raised below threshold")
		}
	})

	t.Run("at threshold", func(t *testing.T) {
		d, repo, _ := newDispatcher(t, stubDeclines{count: 3})
		evt := chargeOutcome("veh-3", "RF104220", ledger.StatusDeclinedInsufficient, registry.StatusActive)
		if err := d.HandleTransactionSettled(context.Background(), evt); err != nil {
			t.Fatalf("handle: %v", err)
		}
		open, err := repo.FindOpen(context.Background(), "veh-3", "RF104220", alerts.ReasonRepeatedDeclines)
		if err != nil {
			t.Fatalf("find open: %v", err)
		}
		if open.Priority != alerts.PriorityMedium {
			t.Fatalf("priority = %s, want medium", open.Priority)
		}
	})
}

func TestOpenAlertAbsorbsRepeatObservations(t *testing.T) {
	d, _, notifier := newDispatcher(t, stubDeclines{})
	evt := chargeOutcome("veh-4", "RF900004", ledger.StatusDeclinedInvalid, registry.StatusStolen)
	ctx := context.Background()

	if err := d.HandleTransactionSettled(ctx, evt); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	if err := d.HandleTransactionSettled(ctx, evt); err != nil {
		t.Fatalf("second handle: %v", err)
	}

	if got := len(notifier.all()); got != 1 {
		t.Fatalf("notifications = %d, want 1 (open alert must absorb repeats)", got)
	}
}

func TestWarrantAndExpiredRegistrationStack(t *testing.T) {
	d, repo, _ := newDispatcher(t, stubDeclines{})
	evt := chargeOutcome("veh-5", "RF900005", ledger.StatusSuccess, registry.StatusActive)
	evt.WarrantFlag = true
	evt.RegistrationExpired = true

	if err := d.HandleTransactionSettled(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := repo.FindOpen(context.Background(), "veh-5", "RF900005", alerts.ReasonWarrant); err != nil {
		t.Fatalf("warrant alert missing: %v", err)
	}
	open, err := repo.FindOpen(context.Background(), "veh-5", "RF900005", alerts.ReasonExpiredRegistration)
	if err != nil {
		t.Fatalf("expired registration alert missing: %v", err)
	}
	if open.Priority != alerts.PriorityMedium {
		t.Fatalf("priority = %s, want medium", open.Priority)
	}
}

func TestRechargeOutcomesNeverRaiseAlerts(t *testing.T) {
	d, repo, _ := newDispatcher(t, stubDeclines{count: 10})
	evt := chargeOutcome("veh-6", "RF900006", ledger.StatusFailed, registry.StatusSuspended)
	evt.Kind = ledger.KindRecharge

	if err := d.HandleTransactionSettled(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	list, err := repo.ListByStatus(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("recharge raised %d alerts", len(list))
	}
}

func TestAlertLifecycleTransitions(t *testing.T) {
	d, repo, notifier := newDispatcher(t, stubDeclines{})
	ctx := context.Background()
	evt := chargeOutcome("veh-7", "RF900007", ledger.StatusDeclinedInvalid, registry.StatusStolen)
	if err := d.HandleTransactionSettled(ctx, evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	created, err := repo.FindOpen(ctx, "veh-7", "RF900007", alerts.ReasonStolenVehicle)
	if err != nil {
		t.Fatalf("find open: %v", err)
	}

	investigating, err := d.Investigate(ctx, created.ID)
	if err != nil {
		t.Fatalf("investigate: %v", err)
	}
	if investigating.Status != alerts.StatusInvestigating {
		t.Fatalf("status = %s, want investigating", investigating.Status)
	}

	resolved, err := d.Resolve(ctx, created.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != alerts.StatusResolved || resolved.ResolvedAt.IsZero() {
		t.Fatalf("resolved alert not terminal: %+v", resolved)
	}

	// Resolved is terminal.
	if _, err := d.Investigate(ctx, created.ID); err == nil {
		t.Fatalf("investigate after resolve must fail")
	}

	types := []string{}
	for _, e := range notifier.all() {
		types = append(types, e.Type)
	}
	want := []string{"active", "investigating", "resolved"}
	if len(types) != len(want) {
		t.Fatalf("notification types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("notification types = %v, want %v", types, want)
		}
	}
}
