package http

import (
	"encoding/json"
	"errors"
	"net/http"

	gwapp "enp-settlement/internal/gateway/application"
	gateway "enp-settlement/internal/gateway/domain"
	"enp-settlement/internal/rates"
	reconcile "enp-settlement/internal/reconcile/domain"
)

// Handler accepts checkpoint scan events.
type Handler struct {
	service *gwapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *gwapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("gateway handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP handles POST /ingest/scan-event.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var scan gateway.ScanEvent
	if err := json.NewDecoder(r.Body).Decode(&scan); err != nil {
		http.Error(w, "malformed scan event", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.HandleScan(r.Context(), scan)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidScan), errors.Is(err, reconcile.ErrInvalidRequest):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, rates.ErrNoRate):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, gateway.ErrUnavailable), errors.Is(err, reconcile.ErrStorageUnavailable):
			http.Error(w, "settlement temporarily unavailable", http.StatusServiceUnavailable)
		default:
			http.Error(w, "scan processing failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(outcome)
}
