package ipc

import (
	"context"
	"net"
	"time"

	"github.com/ChuLiYu/pomodoro/pkg/types"
)

// Retry backoff bounds for SendWithRetry.
const (
	InitialRetryDelay = 100 * time.Millisecond
	MaxRetryDelay     = 2000 * time.Millisecond
)

// Client sends requests to a daemon over its unix socket. A Client holds no
// connection; each request dials a fresh one.
type Client struct {
	path    string
	timeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout overrides the dial, write and read timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a client for the socket at path.
func NewClient(path string, opts ...ClientOption) *Client {
	c := &Client{path: path, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send performs one request/response exchange. Transport failures are
// returned as *Error; a daemon-side rejection is a successful exchange whose
// Response is not OK.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.path)
	if err != nil {
		return Response{}, wrap("connect", err)
	}
	defer conn.Close()

	// Abort blocked reads and writes when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := writeMessage(conn, req, c.timeout); err != nil {
		return Response{}, wrap("send request", err)
	}

	var resp Response
	if err := readMessage(conn, &resp, c.timeout); err != nil {
		if ctx.Err() != nil {
			return Response{}, wrap("receive response", ctx.Err())
		}
		return Response{}, wrap("receive response", err)
	}
	return resp, nil
}

// SendWithRetry retries Send up to maxRetries extra times on any failure,
// sleeping with exponential backoff between attempts. It never sleeps after
// the final attempt. Callers that need to tell failures apart use IsRetryable
// and IsKind on the returned error.
func (c *Client) SendWithRetry(ctx context.Context, req Request, maxRetries int) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := c.Send(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}

		delay := Backoff(attempt)
		logger().Debug("request failed, retrying", "command", req.Command, "attempt", attempt+1, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return Response{}, wrap("retry", err)
		}
	}
	return Response{}, lastErr
}

// Backoff returns the delay before retry number attempt+1: 100ms doubling per
// attempt, capped at MaxRetryDelay.
func Backoff(attempt int) time.Duration {
	delay := InitialRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= MaxRetryDelay {
			return MaxRetryDelay
		}
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// Convenience wrappers
// ============================================================================

func (c *Client) Start(ctx context.Context, params types.StartParams, maxRetries int) (Response, error) {
	return c.SendWithRetry(ctx, NewStartRequest(params), maxRetries)
}

func (c *Client) Pause(ctx context.Context, maxRetries int) (Response, error) {
	return c.SendWithRetry(ctx, NewRequest(CommandPause), maxRetries)
}

func (c *Client) Resume(ctx context.Context, maxRetries int) (Response, error) {
	return c.SendWithRetry(ctx, NewRequest(CommandResume), maxRetries)
}

func (c *Client) Stop(ctx context.Context, maxRetries int) (Response, error) {
	return c.SendWithRetry(ctx, NewRequest(CommandStop), maxRetries)
}

func (c *Client) Status(ctx context.Context, maxRetries int) (Response, error) {
	return c.SendWithRetry(ctx, NewRequest(CommandStatus), maxRetries)
}

// Ping reports whether a daemon answers on the socket.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.Send(ctx, NewRequest(CommandStatus))
	return err == nil
}
