// Package health exposes the standard gRPC health service for the daemon and
// a small client to query it.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the service name reported alongside the overall ("") status.
const Service = "pomodoro.Daemon"

const unixScheme = "unix://"

// Server serves grpc.health.v1.Health on a TCP or unix address.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener
	address  string
}

// Listen binds address, which is either host:port or unix:///abs/path.
// Services start out NOT_SERVING.
func Listen(address string) (*Server, error) {
	network, target := "tcp", address
	if strings.HasPrefix(address, unixScheme) {
		network, target = "unix", strings.TrimPrefix(address, unixScheme)
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return nil, fmt.Errorf("create health socket directory: %w", err)
		}
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale health socket: %w", err)
		}
	}

	ln, err := net.Listen(network, target)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	if network == "tcp" {
		address = ln.Addr().String()
	}
	return &Server{grpc: gs, health: hs, listener: ln, address: address}, nil
}

// Address returns the bound address in the form accepted by Check.
func (s *Server) Address() string { return s.address }

// SetServing flips every service between SERVING and NOT_SERVING.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

// Serve blocks until ctx is done, then stops the server.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	slog.Default().Info("health server listening", "component", "health", "address", s.address)
	if err := s.grpc.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Check queries the health service at address.
func Check(ctx context.Context, address string, timeout time.Duration) (healthpb.HealthCheckResponse_ServingStatus, error) {
	target := address
	if !strings.HasPrefix(address, unixScheme) {
		target = "passthrough:///" + address
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", address, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %s: %w", address, err)
	}
	return resp.GetStatus(), nil
}
