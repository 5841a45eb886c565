package application

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	gateway "enp-settlement/internal/gateway/domain"
	gwmem "enp-settlement/internal/gateway/infrastructure/memory"
	ledger "enp-settlement/internal/ledger/domain"
	ledgermem "enp-settlement/internal/ledger/infrastructure/memory"
	"enp-settlement/internal/money"
	"enp-settlement/internal/rates"
	reconapp "enp-settlement/internal/reconcile/application"
	registry "enp-settlement/internal/registry/domain"
	registrymem "enp-settlement/internal/registry/infrastructure/memory"
)

type serviceFixture struct {
	service  *Service
	dedup    *gwmem.DedupStore
	vehicles *registrymem.VehicleRepository
	ledger   *ledgermem.LedgerRepository
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	vehicles := registrymem.NewVehicleRepository()
	txns := ledgermem.NewLedgerRepository()
	dedup := gwmem.NewDedupStore()
	logger := log.New(testLog{t}, "", 0)

	engine, err := reconapp.NewEngine(vehicles, txns, nil, logger,
		reconapp.WithSleep(func(context.Context, time.Duration) {}))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	provider, err := rates.NewFixedProvider(money.FromMinor(1500))
	if err != nil {
		t.Fatalf("NewFixedProvider: %v", err)
	}
	service, err := NewService(dedup, vehicles, provider, engine, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &serviceFixture{service: service, dedup: dedup, vehicles: vehicles, ledger: txns}
}

type testLog struct{ t *testing.T }

func (w testLog) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (f *serviceFixture) seedVehicle(t *testing.T, tag string, balance money.Amount) *registry.Vehicle {
	t.Helper()
	vehicle := &registry.Vehicle{
		ID:          "veh-" + tag,
		Tag:         tag,
		VehicleType: registry.TypePassenger,
		Balance:     balance,
		Status:      registry.StatusActive,
	}
	if err := f.vehicles.Create(context.Background(), vehicle); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
	return vehicle
}

func scanEvent(tag, key string) gateway.ScanEvent {
	return gateway.ScanEvent{
		CheckpointID:   "CP-EAST-01",
		TagID:          tag,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: key,
	}
}

func TestHandleScanSettlesCharge(t *testing.T) {
	f := newServiceFixture(t)
	f.seedVehicle(t, "RF104220", money.FromMinor(5000))

	outcome, err := f.service.HandleScan(context.Background(), scanEvent("RF104220", "scan-1"))
	if err != nil {
		t.Fatalf("handle scan: %v", err)
	}
	if outcome.Status != ledger.StatusSuccess {
		t.Fatalf("status = %s, want success", outcome.Status)
	}
	if outcome.TransactionID == "" {
		t.Fatalf("missing transaction id")
	}
}

func TestHandleScanDedupReplay(t *testing.T) {
	f := newServiceFixture(t)
	vehicle := f.seedVehicle(t, "RF104221", money.FromMinor(5000))
	ctx := context.Background()

	first, err := f.service.HandleScan(ctx, scanEvent("RF104221", "scan-dup"))
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	replay, err := f.service.HandleScan(ctx, scanEvent("RF104221", "scan-dup"))
	if err != nil {
		t.Fatalf("replay scan: %v", err)
	}
	if !replay.Replayed {
		t.Fatalf("replay not served from dedup window")
	}
	if replay.TransactionID != first.TransactionID {
		t.Fatalf("replay transaction %s != original %s", replay.TransactionID, first.TransactionID)
	}

	current, _ := f.vehicles.GetByID(ctx, vehicle.ID)
	if current.Balance != money.FromMinor(3500) {
		t.Fatalf("balance = %d, charged more than once", current.Balance.Minor())
	}
}

func TestHandleScanValidation(t *testing.T) {
	f := newServiceFixture(t)
	scan := scanEvent("RF104222", "scan-bad")
	scan.TagID = ""
	if _, err := f.service.HandleScan(context.Background(), scan); !errors.Is(err, gateway.ErrInvalidScan) {
		t.Fatalf("err = %v, want ErrInvalidScan", err)
	}
}

type failingDedup struct{}

func (failingDedup) Find(context.Context, string) (*gateway.DedupRecord, error) {
	return nil, errors.New("connection refused")
}

func (failingDedup) Record(context.Context, gateway.DedupRecord) error {
	return errors.New("connection refused")
}

func TestHandleScanFailsClosedWhenDedupDown(t *testing.T) {
	f := newServiceFixture(t)
	f.seedVehicle(t, "RF104223", money.FromMinor(5000))

	logger := log.New(testLog{t}, "", 0)
	engine, err := reconapp.NewEngine(f.vehicles, f.ledger, nil, logger,
		reconapp.WithSleep(func(context.Context, time.Duration) {}))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	provider, err := rates.NewFixedProvider(money.FromMinor(1500))
	if err != nil {
		t.Fatalf("NewFixedProvider: %v", err)
	}
	service, err := NewService(failingDedup{}, f.vehicles, provider, engine, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = service.HandleScan(context.Background(), scanEvent("RF104223", "scan-down"))
	if !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	history, _ := f.ledger.History(context.Background(), "veh-RF104223", 10, "")
	if len(history) != 0 {
		t.Fatalf("scan admitted while dedup store down")
	}
}

func TestHandleScanUnknownTagDeclines(t *testing.T) {
	f := newServiceFixture(t)
	outcome, err := f.service.HandleScan(context.Background(), scanEvent("RF000000", "scan-ghost"))
	if err != nil {
		t.Fatalf("handle scan: %v", err)
	}
	if outcome.Status != ledger.StatusDeclinedInvalid {
		t.Fatalf("status = %s, want declined-invalid-vehicle", outcome.Status)
	}
}
