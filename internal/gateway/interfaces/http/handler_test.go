package http

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gwapp "enp-settlement/internal/gateway/application"
	gwmem "enp-settlement/internal/gateway/infrastructure/memory"
	ledgermem "enp-settlement/internal/ledger/infrastructure/memory"
	"enp-settlement/internal/money"
	"enp-settlement/internal/rates"
	reconapp "enp-settlement/internal/reconcile/application"
	registrymem "enp-settlement/internal/registry/infrastructure/memory"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	vehicles := registrymem.NewVehicleRepository()
	logger := log.New(discard{}, "", 0)
	engine, err := reconapp.NewEngine(vehicles, ledgermem.NewLedgerRepository(), nil, logger,
		reconapp.WithSleep(func(context.Context, time.Duration) {}))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	provider, err := rates.NewFixedProvider(money.FromMinor(1500))
	if err != nil {
		t.Fatalf("NewFixedProvider: %v", err)
	}
	service, err := gwapp.NewService(gwmem.NewDedupStore(), vehicles, provider, engine, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	handler, err := NewHandler(service)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return handler
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestScanEventMalformedJSON(t *testing.T) {
	handler := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/ingest/scan-event", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestScanEventMissingFields(t *testing.T) {
	handler := newTestHandler(t)
	body := `{"checkpointId":"CP-EAST-01","tagId":"","timestamp":"2026-08-30T10:00:00Z","idempotencyKey":"k1"}`
	req := httptest.NewRequest(http.MethodPost, "/ingest/scan-event", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestScanEventMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/ingest/scan-event", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestScanEventDeclineResponse(t *testing.T) {
	handler := newTestHandler(t)
	body := `{"checkpointId":"CP-EAST-01","tagId":"RF000000","timestamp":"2026-08-30T10:00:00Z","idempotencyKey":"k2"}`
	req := httptest.NewRequest(http.MethodPost, "/ingest/scan-event", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "declined-invalid-vehicle") {
		t.Fatalf("body = %s, want declined-invalid-vehicle status", rec.Body.String())
	}
}
