package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

type stubSource struct {
	pingErr error
}

func (s *stubSource) Strategy() service.StrategyKind { return service.StrategyJournaling }

func (s *stubSource) Capabilities() []domain.Capability {
	return []domain.Capability{domain.CapabilityAllocationTracked}
}

func (s *stubSource) Ping(ctx context.Context) error { return s.pingErr }

func newFacade(t *testing.T) *service.InventoryFacade {
	t.Helper()
	strategy, err := service.NewStrategy(service.StrategySynchronous, storage.NewMemoryAdapter(), domain.StockPolicy{})
	require.NoError(t, err)
	return service.NewInventoryFacade(strategy, zap.NewNop())
}

func TestHealthCheck_OK(t *testing.T) {
	h := NewHTTPHandler(newFacade(t))

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthHTTPResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "synchronous", resp.Strategy)
	assert.Equal(t, []domain.Capability{
		domain.CapabilityAllocationTracked,
		domain.CapabilityPreOrBackOrderLimit,
	}, resp.Capabilities)
	assert.Empty(t, resp.Error)
}

func TestHealthCheck_StoreDown(t *testing.T) {
	h := NewHTTPHandler(&stubSource{pingErr: errors.New("connection refused")})

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthHTTPResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "journaling", resp.Strategy)
	assert.Equal(t, "connection refused", resp.Error)
}

func TestHealthCheck_MethodNotAllowed(t *testing.T) {
	h := NewHTTPHandler(&stubSource{})

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGRPCProbe(t *testing.T) {
	source := &stubSource{}
	h := NewGRPCHandler(source, zap.NewNop())
	ctx := context.Background()

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, h.Probe(ctx))
	resp, err := h.Server().Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	source.pingErr = errors.New("down")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.Probe(ctx))
	resp, err = h.Server().Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestGRPCWatch_ShutsDownOnCancel(t *testing.T) {
	h := NewGRPCHandler(&stubSource{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Watch(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
