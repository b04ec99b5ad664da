package control

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// EngineService is the gRPC health service name reporting engine liveness.
const EngineService = "engine"

// GRPCHealth serves the standard gRPC health protocol.
type GRPCHealth struct {
	health *health.Server
}

// NewGRPCHealth creates a health service reporting NOT_SERVING until the
// engine is up.
func NewGRPCHealth() *GRPCHealth {
	h := &GRPCHealth{health: health.NewServer()}
	h.health.SetServingStatus(EngineService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// SetServing updates the engine service status.
func (h *GRPCHealth) SetServing(alive bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if alive {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(EngineService, status)
}

// Check answers a health check without going over the network.
func (h *GRPCHealth) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{Service: EngineService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Serve listens on port until ctx is done.
func (h *GRPCHealth) Serve(ctx context.Context, port int) error {
	socket, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen grpc health: %w", err)
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.health)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(socket) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		h.health.Shutdown()
		srv.GracefulStop()
		<-errCh
		return nil
	}
}
