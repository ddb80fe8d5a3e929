package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside the
// overall ("") status.
const ServiceName = "stockledger.Inventory"

type GRPCHandler struct {
	source StatusSource
	health *health.Server
	logger *zap.Logger
}

func NewGRPCHandler(source StatusSource, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{
		source: source,
		health: health.NewServer(),
		logger: logger,
	}
}

// Server returns the health server to register on a *grpc.Server.
func (h *GRPCHandler) Server() *health.Server {
	return h.health
}

// Probe pings the store once and publishes the result.
func (h *GRPCHandler) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.source.Ping(ctx); err != nil {
		h.logger.Warn("store ping failed", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	return status
}

// Watch probes every interval until ctx is done, then marks the service as
// shutting down.
func (h *GRPCHandler) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}
