// Package stream pushes timer events to WebSocket clients and optionally
// accepts control requests over the same connection.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ChuLiYu/pomodoro/internal/ipc"
	"github.com/ChuLiYu/pomodoro/pkg/types"
)

const (
	defaultBuffer = 64
	writeTimeout  = 5 * time.Second
)

// Message is the JSON frame sent for every timer event.
type Message struct {
	Kind             types.EventKind `json:"kind"`
	Phase            types.Phase     `json:"phase"`
	RemainingSeconds uint32          `json:"remainingSeconds"`
	Duration         uint32          `json:"duration"`
	PomodoroCount    uint32          `json:"pomodoroCount"`
	TaskName         *string         `json:"taskName,omitempty"`
	IsLongBreak      bool            `json:"isLongBreak,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// NewMessage converts a timer event into its wire frame.
func NewMessage(ev types.TimerEvent) Message {
	return Message{
		Kind:             ev.Kind,
		Phase:            ev.State.Phase,
		RemainingSeconds: ev.State.RemainingSeconds,
		Duration:         ev.State.Duration(),
		PomodoroCount:    ev.State.PomodoroCount,
		TaskName:         ev.State.TaskName,
		IsLongBreak:      ev.IsLongBreak,
		Timestamp:        ev.At,
	}
}

type client struct {
	send chan []byte
}

// Broadcaster fans timer events out to every connected WebSocket client.
// A client that cannot keep up misses frames instead of slowing the daemon.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	buffer  int
	control ipc.Handler
	origins []string
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithControl lets clients send ipc.Request frames that are answered with
// ipc.Response frames.
func WithControl(h ipc.Handler) Option {
	return func(b *Broadcaster) { b.control = h }
}

// WithOrigins allows cross-origin browser clients matching the patterns.
func WithOrigins(patterns ...string) Option {
	return func(b *Broadcaster) { b.origins = patterns }
}

// WithBuffer sets the per-client frame buffer.
func WithBuffer(n int) Option {
	return func(b *Broadcaster) { b.buffer = n }
}

func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{clients: make(map[*client]struct{}), buffer: defaultBuffer}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broadcaster) Name() string { return "stream" }

// HandleEvent queues ev for every client without blocking.
func (b *Broadcaster) HandleEvent(_ context.Context, ev types.TimerEvent) error {
	data, err := json.Marshal(NewMessage(ev))
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			logger().Debug("client too slow, dropping frame", "kind", ev.Kind)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) subscribe() *client {
	c := &client{send: make(chan []byte, b.buffer)}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	return c
}

func (b *Broadcaster) unsubscribe(c *client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

// ServeHTTP upgrades the request and streams events until either side closes.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.origins})
	if err != nil {
		logger().Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	c := b.subscribe()
	defer b.unsubscribe(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if b.control == nil {
		ctx = conn.CloseRead(ctx)
	} else {
		go func() {
			defer cancel()
			b.readRequests(ctx, conn, c)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				logger().Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func (b *Broadcaster) readRequests(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				logger().Debug("websocket read failed", "error", err)
			}
			return
		}

		var resp ipc.Response
		var req ipc.Request
		if err := json.Unmarshal(data, &req); err != nil {
			resp = ipc.Failure("invalid request: " + err.Error())
		} else {
			resp = b.control.Handle(req)
		}

		out, err := json.Marshal(resp)
		if err != nil {
			return
		}
		select {
		case c.send <- out:
		case <-ctx.Done():
			return
		}
	}
}

func logger() *slog.Logger {
	return slog.Default().With("component", "stream")
}
