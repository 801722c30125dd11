package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/pomodoro/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "pomo")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "nested", "p.sock")
}

func echoHandler() Handler {
	return HandlerFunc(func(req Request) Response {
		if req.Command == CommandStart {
			return Success("Timer started", &ResponseData{TaskName: req.TaskName})
		}
		return Success("ok "+req.Command, nil)
	})
}

func startServer(t *testing.T, path string, h Handler, configure ...func(*Server)) *Server {
	t.Helper()
	srv, err := Listen(path)
	require.NoError(t, err)
	for _, fn := range configure {
		fn(srv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, h) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

// rawServer accepts connections and hands each to fn.
func rawServer(t *testing.T, path string, fn func(n int, conn net.Conn)) *atomic.Int32 {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var count atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n := int(count.Add(1))
			go fn(n, conn)
		}
	}()
	return &count
}

// ============================================================================
// Server
// ============================================================================

func TestClientServerExchange(t *testing.T) {
	path := socketPath(t)
	startServer(t, path, echoHandler())

	client := NewClient(path)
	resp, err := client.Send(context.Background(), NewStartRequest(types.StartParams{TaskName: types.Ptr("Focus")}))
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "Timer started", resp.Message)
	assert.Equal(t, "Focus", types.Deref(resp.Data.TaskName))

	resp, err = client.Status(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "ok status", resp.Message)
}

func TestListenPreparesSocket(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	srv := startServer(t, path, echoHandler())
	assert.Equal(t, path, srv.Path())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, info.Mode()&os.ModeSocket)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, srv.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "socket file should be removed on close")
	assert.NoError(t, srv.Close(), "second close is a no-op")
}

func TestServerSurvivesBadConnections(t *testing.T) {
	path := socketPath(t)
	startServer(t, path, echoHandler())

	// Zero bytes.
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	conn.Close()

	// Malformed JSON is dropped without a response.
	conn, err = net.Dial("unix", path)
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"command":`))
	require.NoError(t, err)
	conn.(*net.UnixConn).CloseWrite()
	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ := conn.Read(buf)
	assert.Equal(t, 0, n)
	conn.Close()

	// Unknown command is dropped too.
	conn, err = net.Dial("unix", path)
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"command":"snooze"}`))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ = conn.Read(buf)
	assert.Equal(t, 0, n)
	conn.Close()

	resp, err := NewClient(path).Send(context.Background(), NewRequest(CommandPause))
	require.NoError(t, err)
	assert.Equal(t, "ok pause", resp.Message)
}

func TestServerReadTimeout(t *testing.T) {
	path := socketPath(t)
	startServer(t, path, echoHandler(), func(s *Server) { s.SetTimeout(100 * time.Millisecond) })

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	start := time.Now()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, err := conn.Read(make([]byte, 16))
	assert.Equal(t, 0, n)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "server should drop an idle connection")
}

func TestServeStopsOnContextCancel(t *testing.T) {
	path := socketPath(t)
	srv, err := Listen(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, echoHandler()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

// ============================================================================
// Client
// ============================================================================

func TestClientDaemonUnavailable(t *testing.T) {
	path := socketPath(t)

	_, err := NewClient(path).Send(context.Background(), NewRequest(CommandStatus))
	require.Error(t, err)
	assert.True(t, IsUnavailable(err), "got %v", err)
	assert.True(t, IsRetryable(err))
}

func TestClientTimeout(t *testing.T) {
	path := socketPath(t)
	rawServer(t, path, func(_ int, conn net.Conn) {
		time.Sleep(time.Second)
		conn.Close()
	})

	_, err := NewClient(path, WithTimeout(100*time.Millisecond)).Send(context.Background(), NewRequest(CommandStatus))
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
}

func TestSendWithRetryRecoversAfterMalformedResponse(t *testing.T) {
	path := socketPath(t)
	count := rawServer(t, path, func(n int, conn net.Conn) {
		defer conn.Close()
		var req Request
		if err := readMessage(conn, &req, time.Second); err != nil {
			return
		}
		if n == 1 {
			conn.Write([]byte(`{"status":"sure"}`))
			return
		}
		writeMessage(conn, Success("ok", nil), time.Second)
	})

	resp, err := NewClient(path).SendWithRetry(context.Background(), NewRequest(CommandStatus), 3)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, int32(2), count.Load(), "the protocol error was retried once")
}

func TestSendWithRetryExhaustsOnProtocolErrors(t *testing.T) {
	path := socketPath(t)
	count := rawServer(t, path, func(_ int, conn net.Conn) {
		defer conn.Close()
		var req Request
		readMessage(conn, &req, time.Second)
		conn.Write([]byte(`{"status":"sure"}`))
	})

	_, err := NewClient(path).SendWithRetry(context.Background(), NewRequest(CommandStatus), 2)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindProtocol), "got %v", err)
	assert.False(t, IsRetryable(err), "callers can still tell a protocol error apart")
	assert.Equal(t, int32(3), count.Load())
}

func TestSendWithRetryRecovers(t *testing.T) {
	const failures = 2
	path := socketPath(t)
	count := rawServer(t, path, func(n int, conn net.Conn) {
		defer conn.Close()
		var req Request
		if err := readMessage(conn, &req, time.Second); err != nil {
			return
		}
		if n <= failures {
			return
		}
		writeMessage(conn, Success("ok", nil), time.Second)
	})

	start := time.Now()
	resp, err := NewClient(path).SendWithRetry(context.Background(), NewRequest(CommandStatus), 3)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, int32(failures+1), count.Load())
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond, "100ms + 200ms of backoff")
	assert.Less(t, elapsed, 3*2000*time.Millisecond)
}

func TestSendWithRetryNoSleepAfterLastAttempt(t *testing.T) {
	path := socketPath(t)

	start := time.Now()
	_, err := NewClient(path).SendWithRetry(context.Background(), NewRequest(CommandStatus), 2)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 700*time.Millisecond, "a third 400ms sleep would have happened")
}

func TestSendWithRetryHonorsContext(t *testing.T) {
	path := socketPath(t)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClient(path).SendWithRetry(ctx, NewRequest(CommandStatus), 10)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
