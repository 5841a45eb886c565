// Closed-loop tests wiring the full scan-to-alert pipeline against
// in-memory infrastructure: gateway -> engine -> ledger -> outbox ->
// alert dispatcher.
package integration

import (
	"context"
	"log"
	"testing"
	"time"

	alertapp "enp-settlement/internal/alerts/application"
	alerts "enp-settlement/internal/alerts/domain"
	alertmem "enp-settlement/internal/alerts/infrastructure/memory"
	"enp-settlement/internal/eventing"
	eventingmem "enp-settlement/internal/eventing/infrastructure/memory"
	gwapp "enp-settlement/internal/gateway/application"
	gateway "enp-settlement/internal/gateway/domain"
	gwmem "enp-settlement/internal/gateway/infrastructure/memory"
	ledger "enp-settlement/internal/ledger/domain"
	ledgermem "enp-settlement/internal/ledger/infrastructure/memory"
	"enp-settlement/internal/money"
	"enp-settlement/internal/rates"
	reconapp "enp-settlement/internal/reconcile/application"
	"enp-settlement/internal/reconcile/application/events"
	registry "enp-settlement/internal/registry/domain"
	registrymem "enp-settlement/internal/registry/infrastructure/memory"
)

type harness struct {
	vehicles *registrymem.VehicleRepository
	txns     *ledgermem.LedgerRepository
	alerts   *alertmem.AlertRepository
	outbox   *eventingmem.OutboxStore
	gateway  *gwapp.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := log.New(discard{}, "", 0)

	vehicles := registrymem.NewVehicleRepository()
	txns := ledgermem.NewLedgerRepository()
	alertRepo := alertmem.NewAlertRepository()
	dedup := gwmem.NewDedupStore()

	bus := eventing.NewInMemoryBus()
	reg := eventing.NewRegistry()
	reg.Register(events.TransactionSettled{})
	outbox := eventingmem.NewOutboxStore()
	processed := eventingmem.NewProcessedStore()
	dispatcher := eventing.NewDispatcher(bus, outbox, reg, nil)
	publisher := eventing.NewPublisher(outbox, dispatcher, bus)

	engine, err := reconapp.NewEngine(vehicles, txns, publisher, logger,
		reconapp.WithSleep(func(context.Context, time.Duration) {}))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	alertDispatcher, err := alertapp.NewDispatcher(alertRepo, txns, logger)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	eventing.Subscribe(bus, eventing.EventTypeOf[events.TransactionSettled](), "alerts.settled", func(ctx context.Context, event any) error {
		evt, ok := event.(events.TransactionSettled)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return alertDispatcher.HandleTransactionSettled(ctx, evt)
	}, processed)

	provider, err := rates.NewFixedProvider(money.FromMinor(1500))
	if err != nil {
		t.Fatalf("NewFixedProvider: %v", err)
	}
	service, err := gwapp.NewService(dedup, vehicles, provider, engine, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	return &harness{vehicles: vehicles, txns: txns, alerts: alertRepo, outbox: outbox, gateway: service}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (h *harness) seed(t *testing.T, vehicle *registry.Vehicle) {
	t.Helper()
	if vehicle.Status == "" {
		vehicle.Status = registry.StatusActive
	}
	if vehicle.VehicleType == "" {
		vehicle.VehicleType = registry.TypePassenger
	}
	if err := h.vehicles.Create(context.Background(), vehicle); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
}

func scan(tag, key string) gateway.ScanEvent {
	return gateway.ScanEvent{
		CheckpointID:   "cp-north-1",
		TagID:          tag,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: key,
	}
}

func TestScanChargesAndDeliversOutcome(t *testing.T) {
	h := newHarness(t)
	h.seed(t, &registry.Vehicle{ID: "veh-1", Tag: "RF100001", Balance: money.FromMinor(5000)})

	outcome, err := h.gateway.HandleScan(context.Background(), scan("RF100001", "scan-1"))
	if err != nil {
		t.Fatalf("HandleScan: %v", err)
	}
	if outcome.Status != ledger.StatusSuccess {
		t.Fatalf("status = %s, want success", outcome.Status)
	}

	vehicle, err := h.vehicles.GetByID(context.Background(), "veh-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if vehicle.Balance != money.FromMinor(3500) {
		t.Fatalf("balance = %d, want 3500", vehicle.Balance.Minor())
	}
	if h.outbox.SentCount() != 1 {
		t.Fatalf("outbox sent = %d, want 1", h.outbox.SentCount())
	}

	open, err := h.alerts.ListByStatus(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("clean charge raised %d alerts", len(open))
	}
}

func TestScanReplayIsIdempotentEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.seed(t, &registry.Vehicle{ID: "veh-1", Tag: "RF100001", Balance: money.FromMinor(5000)})

	first, err := h.gateway.HandleScan(context.Background(), scan("RF100001", "scan-1"))
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	second, err := h.gateway.HandleScan(context.Background(), scan("RF100001", "scan-1"))
	if err != nil {
		t.Fatalf("replay scan: %v", err)
	}
	if !second.Replayed {
		t.Fatal("replay not flagged")
	}
	if second.TransactionID != first.TransactionID {
		t.Fatalf("replay returned %s, want %s", second.TransactionID, first.TransactionID)
	}

	vehicle, _ := h.vehicles.GetByID(context.Background(), "veh-1")
	if vehicle.Balance != money.FromMinor(3500) {
		t.Fatalf("balance = %d after replay, want 3500", vehicle.Balance.Minor())
	}
	history, err := h.txns.History(context.Background(), "veh-1", 0, "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d rows, want 1", len(history))
	}
}

func TestStolenVehicleScanRaisesCriticalAlert(t *testing.T) {
	h := newHarness(t)
	h.seed(t, &registry.Vehicle{ID: "veh-9", Tag: "RF900009", Balance: money.FromMinor(5000), Status: registry.StatusStolen})

	outcome, err := h.gateway.HandleScan(context.Background(), scan("RF900009", "scan-stolen"))
	if err != nil {
		t.Fatalf("HandleScan: %v", err)
	}
	if outcome.Status != ledger.StatusDeclinedInvalid {
		t.Fatalf("status = %s, want declined-invalid-vehicle", outcome.Status)
	}

	vehicle, _ := h.vehicles.GetByID(context.Background(), "veh-9")
	if vehicle.Balance != money.FromMinor(5000) {
		t.Fatalf("stolen vehicle was charged: balance = %d", vehicle.Balance.Minor())
	}

	raised, err := h.alerts.ListByStatus(context.Background(), alerts.StatusActive, 10)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(raised) != 1 {
		t.Fatalf("alerts = %d, want 1", len(raised))
	}
	if raised[0].Reason != alerts.ReasonStolenVehicle || raised[0].Priority != alerts.PriorityCritical {
		t.Fatalf("alert = %s/%s, want stolen-vehicle/critical", raised[0].Reason, raised[0].Priority)
	}
}

func TestRepeatedDeclinesEscalateThroughPipeline(t *testing.T) {
	h := newHarness(t)
	h.seed(t, &registry.Vehicle{ID: "veh-2", Tag: "RF200002", Balance: money.FromMinor(100)})

	for _, key := range []string{"d1", "d2", "d3"} {
		outcome, err := h.gateway.HandleScan(context.Background(), scan("RF200002", key))
		if err != nil {
			t.Fatalf("scan %s: %v", key, err)
		}
		if outcome.Status != ledger.StatusDeclinedInsufficient {
			t.Fatalf("scan %s status = %s, want declined-insufficient-funds", key, outcome.Status)
		}
	}

	raised, err := h.alerts.ListByStatus(context.Background(), alerts.StatusActive, 10)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(raised) != 1 {
		t.Fatalf("alerts = %d, want 1 after third decline", len(raised))
	}
	if raised[0].Reason != alerts.ReasonRepeatedDeclines {
		t.Fatalf("reason = %s, want insufficient-funds-repeated", raised[0].Reason)
	}
}
