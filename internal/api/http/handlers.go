// Package apihttp hosts the operator-facing REST handlers for
// vehicles and recharges.
package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	ledger "enp-settlement/internal/ledger/domain"
	"enp-settlement/internal/money"
	reconcile "enp-settlement/internal/reconcile/domain"
	registryapp "enp-settlement/internal/registry/application"
	registry "enp-settlement/internal/registry/domain"
)

// HistoryReader lists a vehicle's ledger history.
type HistoryReader interface {
	History(ctx context.Context, vehicleID string, limit int, kind string) ([]ledger.Transaction, error)
}

// RechargeSettler credits vehicle balances.
type RechargeSettler interface {
	SettleRecharge(ctx context.Context, req reconcile.RechargeRequest) (*ledger.Transaction, error)
}

// VehiclesHandler serves vehicle registry endpoints.
type VehiclesHandler struct {
	service *registryapp.Service
	txns    HistoryReader
}

// NewVehiclesHandler constructs a handler.
func NewVehiclesHandler(service *registryapp.Service, txns HistoryReader) (*VehiclesHandler, error) {
	if service == nil {
		return nil, errors.New("vehicles handler: nil service")
	}
	if txns == nil {
		return nil, errors.New("vehicles handler: nil history reader")
	}
	return &VehiclesHandler{service: service, txns: txns}, nil
}

// ServeHTTP handles /api/v1/vehicles and subroutes.
func (h *VehiclesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/vehicles":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleRegister(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/vehicles/"):
		h.handleVehicle(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *VehiclesHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		LicensePlate   string `json:"licensePlate"`
		Tag            string `json:"tag"`
		VehicleType    string `json:"vehicleType"`
		OwnerID        string `json:"ownerId"`
		InitialBalance string `json:"initialBalance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	balance := money.Amount(0)
	if payload.InitialBalance != "" {
		parsed, err := money.Parse(payload.InitialBalance)
		if err != nil {
			http.Error(w, "initialBalance must be a decimal amount", http.StatusBadRequest)
			return
		}
		balance = parsed
	}

	vehicle, err := h.service.Register(r.Context(), registryapp.RegisterInput{
		LicensePlate:   payload.LicensePlate,
		Tag:            payload.Tag,
		VehicleType:    payload.VehicleType,
		OwnerID:        payload.OwnerID,
		InitialBalance: balance,
	})
	if err != nil {
		switch {
		case errors.Is(err, registryapp.ErrInvalidInput):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, registry.ErrTagTaken):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "vehicle registration failed", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(vehicle)
}

func (h *VehiclesHandler) handleVehicle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/vehicles/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r, id)
	case len(parts) == 2 && parts[1] == "transactions":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTransactions(w, r, id)
	case len(parts) == 2 && parts[1] == "status":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleStatus(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *VehiclesHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	vehicle, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, "vehicle lookup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(vehicle)
}

func (h *VehiclesHandler) handleTransactions(w http.ResponseWriter, r *http.Request, id string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != ledger.KindTollCharge && kind != ledger.KindRecharge {
		http.Error(w, "kind must be toll-charge or recharge", http.StatusBadRequest)
		return
	}

	if _, err := h.service.Get(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, "vehicle lookup failed", http.StatusInternalServerError)
		return
	}

	history, err := h.txns.History(r.Context(), id, limit, kind)
	if err != nil {
		http.Error(w, "history lookup failed", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []ledger.Transaction{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(history)
}

func (h *VehiclesHandler) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	vehicle, err := h.service.ChangeStatus(r.Context(), id, payload.Status)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, registry.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "status change failed", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(vehicle)
}

// RechargesHandler serves balance top-ups.
type RechargesHandler struct {
	engine RechargeSettler
}

// NewRechargesHandler constructs a handler.
func NewRechargesHandler(engine RechargeSettler) (*RechargesHandler, error) {
	if engine == nil {
		return nil, errors.New("recharges handler: nil engine")
	}
	return &RechargesHandler{engine: engine}, nil
}

// ServeHTTP handles POST /api/v1/recharges.
func (h *RechargesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		VehicleID      string `json:"vehicleId"`
		Amount         string `json:"amount"`
		PaymentMethod  string `json:"paymentMethod"`
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	amount, err := money.Parse(payload.Amount)
	if err != nil {
		http.Error(w, "amount must be a decimal amount", http.StatusBadRequest)
		return
	}

	txn, err := h.engine.SettleRecharge(r.Context(), reconcile.RechargeRequest{
		VehicleID:      payload.VehicleID,
		Amount:         amount,
		PaymentMethod:  payload.PaymentMethod,
		IdempotencyKey: payload.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrInvalidRequest):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, registry.ErrNotFound):
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, reconcile.ErrStorageUnavailable):
			http.Error(w, "settlement temporarily unavailable", http.StatusServiceUnavailable)
		default:
			http.Error(w, "recharge failed", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(txn)
}
