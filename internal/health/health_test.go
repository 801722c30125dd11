package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startHealth(t *testing.T, address string) *Server {
	t.Helper()
	srv, err := Listen(address)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("health server did not stop")
		}
	})
	return srv
}

func TestHealthOverTCP(t *testing.T) {
	srv := startHealth(t, "127.0.0.1:0")

	status, err := Check(context.Background(), srv.Address(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	srv.SetServing(true)
	status, err = Check(context.Background(), srv.Address(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	srv.SetServing(false)
	status, err = Check(context.Background(), srv.Address(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}

func TestHealthOverUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "pomo")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	address := unixScheme + filepath.Join(dir, "health.sock")
	srv := startHealth(t, address)
	srv.SetServing(true)

	status, err := Check(context.Background(), address, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)
}

func TestCheckUnreachable(t *testing.T) {
	status, err := Check(context.Background(), "127.0.0.1:1", 300*time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, status)
}
