package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Handler answers one decoded request. It must not block on I/O.
type Handler interface {
	Handle(req Request) Response
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(req Request) Response

func (f HandlerFunc) Handle(req Request) Response { return f(req) }

// Server accepts control connections on a unix socket.
type Server struct {
	listener net.Listener
	path     string
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
	connWg sync.WaitGroup
}

// Listen binds the socket at path. Missing parent directories are created and
// a stale socket file left behind by a previous daemon is removed first.
func Listen(path string) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	logger().Info("IPC listening", "path", path)
	return &Server{listener: ln, path: path, timeout: DefaultTimeout}, nil
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// SetTimeout overrides the per-connection read and write timeout.
func (s *Server) SetTimeout(d time.Duration) { s.timeout = d }

// Serve accepts connections until ctx is cancelled or Close is called. Each
// connection is handled on its own goroutine. Serve waits for in-flight
// connections before returning.
func (s *Server) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()
	defer s.connWg.Wait()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger().Warn("IPC accept error", "error", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.connWg.Add(1)
		go func() {
			defer s.connWg.Done()
			s.handleConn(conn, h)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn, h Handler) {
	defer conn.Close()

	var req Request
	if err := readMessage(conn, &req, s.timeout); err != nil {
		err = wrap("read request", err)
		if errors.Is(err, ErrConnectionClosed) {
			logger().Debug("connection closed before a request was read")
		} else {
			logger().Warn("dropping connection", "error", err)
		}
		return
	}

	resp := h.Handle(req)

	if err := writeMessage(conn, resp, s.timeout); err != nil {
		logger().Warn("failed to write response", "command", req.Command, "error", wrap("write response", err))
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting connections and removes the socket file. It is safe
// to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.listener.Close()
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		logger().Warn("failed to remove socket", "path", s.path, "error", rmErr)
	}
	return err
}

func logger() *slog.Logger {
	return slog.Default().With("component", "ipc")
}
