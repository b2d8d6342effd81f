package health

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCChecker queries the standard grpc.health.v1 service of a server
type GRPCChecker struct {
	// Address is the gRPC target (e.g., "10.0.0.5:9100")
	Address string

	// Service is the service name to ask about; empty means the whole server
	Service string

	// DialOptions override the default insecure transport
	DialOptions []grpc.DialOption
}

// NewGRPCChecker creates a new gRPC health checker
func NewGRPCChecker(address string) *GRPCChecker {
	return &GRPCChecker{
		Address:     address,
		DialOptions: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
}

// Check performs the gRPC health check
func (g *GRPCChecker) Check(ctx context.Context) Result {
	start := time.Now()

	conn, err := grpc.NewClient(g.Address, g.DialOptions...)
	if err != nil {
		return failed(start, "failed to create client: %v", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: g.Service})
	if err != nil {
		return failed(start, "health rpc failed: %v", err)
	}

	healthy := resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	return Result{
		Healthy:   healthy,
		Message:   fmt.Sprintf("gRPC health %s", resp.GetStatus()),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (g *GRPCChecker) Type() CheckType {
	return CheckTypeGRPC
}

// WithService sets the service name sent in the request
func (g *GRPCChecker) WithService(service string) *GRPCChecker {
	g.Service = service
	return g
}
