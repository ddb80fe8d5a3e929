package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const pingTimeout = 2 * time.Second

// StatusSource is what the health endpoints report on. *service.InventoryFacade
// satisfies it.
type StatusSource interface {
	Strategy() service.StrategyKind
	Capabilities() []domain.Capability
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	source StatusSource
}

type HealthHTTPResponse struct {
	Status       string              `json:"status"`
	Strategy     string              `json:"strategy"`
	Capabilities []domain.Capability `json:"capabilities"`
	Error        string              `json:"error,omitempty"`
}

func NewHTTPHandler(source StatusSource) *HTTPHandler {
	return &HTTPHandler{source: source}
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthHTTPResponse{
		Status:       "ok",
		Strategy:     string(h.source.Strategy()),
		Capabilities: h.source.Capabilities(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.source.Ping(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
