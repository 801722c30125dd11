// ============================================================================
// Pomodoro Daemon Supervisor - owns the timer and everything around it
// ============================================================================
//
// Package: internal/daemon
// File: supervisor.go
//
// Goroutines:
//   ┌──────────────────────────────────────────────────────────────┐
//   │ Supervisor                                                   │
//   │  ├─ acceptLoop  (ipc.Server.Serve, one goroutine per client) │
//   │  ├─ tickLoop    (time.Ticker, Engine.Tick under mu)          │
//   │  └─ eventLoop   (single consumer of the event channel)       │
//   │        ├─ metrics                                            │
//   │        ├─ hooks.Dispatch (fire-and-forget)                   │
//   │        └─ sinks in order (timeout + recover per call)        │
//   └──────────────────────────────────────────────────────────────┘
//
// Locking:
//   mu guards the engine and the closed flag. It is held only around engine
//   calls; socket I/O, hooks and sinks all run outside it. Producers (accept
//   and tick) never block on the consumer: the engine reports a full channel
//   as ErrEventDelivery and Run returns it.
//
// Shutdown order:
//   cancel -> server.Close (socket removed) -> wait producers -> closed=true
//   -> close(events) -> drain consumer -> wait hook batches (ShutdownGrace)
//
// ============================================================================

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/pomodoro/internal/hooks"
	"github.com/ChuLiYu/pomodoro/internal/ipc"
	"github.com/ChuLiYu/pomodoro/internal/metrics"
	"github.com/ChuLiYu/pomodoro/internal/timer"
	"github.com/ChuLiYu/pomodoro/pkg/types"
)

var (
	ErrAlreadyStarted = errors.New("supervisor already started")
	ErrShuttingDown   = errors.New("daemon is shutting down")
)

// ============================================================================
// Configuration
// ============================================================================

type Config struct {
	SocketPath string               // control socket
	Timer      types.PomodoroConfig // initial timer settings

	TickInterval  time.Duration // countdown resolution (default: 1s)
	EventBuffer   int           // buffered timer events (default: 256)
	SinkTimeout   time.Duration // per sink call (default: 5s)
	ShutdownGrace time.Duration // wait for running hooks on exit (default: 5s)
}

// DefaultConfig returns the daemon defaults for socketPath.
func DefaultConfig(socketPath string) Config {
	return Config{
		SocketPath:    socketPath,
		Timer:         types.DefaultPomodoroConfig(),
		TickInterval:  time.Second,
		EventBuffer:   256,
		SinkTimeout:   5 * time.Second,
		ShutdownGrace: 5 * time.Second,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig(c.SocketPath)
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = d.SinkTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
}

// EventSink receives every timer event, in order, from the consumer goroutine.
// Errors are logged and counted; they never reach the timer.
type EventSink interface {
	Name() string
	HandleEvent(ctx context.Context, ev types.TimerEvent) error
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithSinks appends sinks to the fan-out.
func WithSinks(sinks ...EventSink) Option {
	return func(s *Supervisor) { s.sinks = append(s.sinks, sinks...) }
}

// WithHooks sets the hook executor. Without it no hooks run.
func WithHooks(x *hooks.Executor) Option {
	return func(s *Supervisor) { s.hooks = x }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// ============================================================================
// Supervisor
// ============================================================================

type Supervisor struct {
	config Config

	mu     sync.Mutex
	engine *timer.Engine
	closed bool

	events  chan types.TimerEvent
	sinks   []EventSink
	hooks   *hooks.Executor
	metrics *metrics.Collector

	// owned by the consumer goroutine
	session uuid.UUID

	started atomic.Bool
	ready   chan struct{}
	fatal   chan error
	loopWg  sync.WaitGroup
}

// New validates cfg and builds a supervisor. Nothing is bound until Run.
func New(cfg Config, opts ...Option) (*Supervisor, error) {
	if cfg.SocketPath == "" {
		return nil, errors.New("socket path is required")
	}
	if err := cfg.Timer.Validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	s := &Supervisor{
		config: cfg,
		events: make(chan types.TimerEvent, cfg.EventBuffer),
		ready:  make(chan struct{}),
		fatal:  make(chan error, 1),
	}
	s.engine = timer.New(cfg.Timer, s.events)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ready is closed once the control socket accepts connections.
func (s *Supervisor) Ready() <-chan struct{} { return s.ready }

// SocketPath returns the control socket path.
func (s *Supervisor) SocketPath() string { return s.config.SocketPath }

// State returns a snapshot of the timer.
func (s *Supervisor) State() types.TimerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.State()
}

// Run binds the socket and serves until ctx is done or a fatal error occurs.
// A nil return means a clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	server, err := ipc.Listen(s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("bind control socket: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		s.eventLoop()
	}()

	serveErr := make(chan error, 1)
	s.loopWg.Add(2)
	go func() {
		defer s.loopWg.Done()
		serveErr <- server.Serve(ctx, s)
	}()
	go s.tickLoop(ctx)

	close(s.ready)
	logger().Info("Daemon started",
		"socket", s.config.SocketPath,
		"work", s.config.Timer.WorkMinutes,
		"break", s.config.Timer.BreakMinutes,
		"longBreak", s.config.Timer.LongBreakMinutes,
		"sinks", len(s.sinks),
		"hooks", s.hooks.Enabled())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-s.fatal:
		logger().Error("Fatal daemon error", "error", runErr)
	case runErr = <-serveErr:
		if runErr != nil {
			logger().Error("Control socket failed", "error", runErr)
		}
	}

	logger().Info("Stopping daemon...")

	// 1. stop producers: no new requests, no more ticks
	cancel()
	server.Close()
	s.loopWg.Wait()

	// 2. late Handle calls (e.g. from the event stream) now fail fast
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	// 3. drain the consumer
	close(s.events)
	<-consumerDone

	// 4. give running hooks a chance to finish
	if s.hooks != nil {
		graceCtx, graceCancel := context.WithTimeout(context.Background(), s.config.ShutdownGrace)
		if err := s.hooks.Wait(graceCtx); err != nil {
			logger().Warn("Hooks still running at shutdown", "error", err)
		}
		graceCancel()
	}

	logger().Info("Daemon stopped")
	return runErr
}

// fail records the first fatal error; Run picks it up.
func (s *Supervisor) fail(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

// ============================================================================
// Request handling
// ============================================================================

// Handle executes one control request. It implements ipc.Handler.
func (s *Supervisor) Handle(req ipc.Request) ipc.Response {
	resp := s.handle(req)
	s.metrics.RecordRequest(req.Command, resp.Status)
	return resp
}

func (s *Supervisor) handle(req ipc.Request) ipc.Response {
	if req.Command == ipc.CommandStart && req.TaskName != nil {
		if err := types.ValidateTaskName(*req.TaskName); err != nil {
			return ipc.Failure(err.Error())
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ipc.Failure(ErrShuttingDown.Error())
	}

	var (
		err      error
		message  string
		withData bool
	)
	switch req.Command {
	case ipc.CommandStart:
		err = s.engine.Start(req.StartParams)
		message, withData = "Timer started", true
	case ipc.CommandPause:
		err = s.engine.Pause()
		message = "Timer paused"
	case ipc.CommandResume:
		err = s.engine.Resume()
		message = "Timer resumed"
	case ipc.CommandStop:
		err = s.engine.Stop()
		message = "Timer stopped"
	case ipc.CommandStatus:
		withData = true
	default:
		s.mu.Unlock()
		return ipc.Failure(fmt.Sprintf("%v: %q", ipc.ErrUnknownCommand, req.Command))
	}
	state := s.engine.State()
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, timer.ErrEventDelivery) {
			s.fail(err)
		}
		logger().Debug("Request rejected", "command", req.Command, "error", err)
		return ipc.Failure(err.Error())
	}

	if req.Command != ipc.CommandStatus {
		logger().Info("Request handled", "command", req.Command, "phase", state.Phase)
	}
	if withData {
		return ipc.Success(message, ipc.DataFromState(state))
	}
	return ipc.Success(message, nil)
}

// ============================================================================
// Tick loop
// ============================================================================

func (s *Supervisor) tickLoop(ctx context.Context) {
	defer s.loopWg.Done()
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger().Debug("Tick loop stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Supervisor) tick() {
	s.mu.Lock()
	active, err := s.engine.Tick()
	state := s.engine.State()
	s.mu.Unlock()

	if active {
		s.metrics.RecordTick()
	}
	s.metrics.ObserveState(state)
	if err != nil {
		s.fail(err)
	}
}

// ============================================================================
// Event fan-out
// ============================================================================

func (s *Supervisor) eventLoop() {
	for ev := range s.events {
		s.metrics.SetQueueDepth(len(s.events))
		s.dispatch(ev)
	}
	logger().Debug("Event loop stopped")
}

func (s *Supervisor) dispatch(ev types.TimerEvent) {
	s.metrics.RecordEvent(ev)

	if ev.Kind == types.EventWorkStarted && s.session == uuid.Nil {
		s.session = uuid.New()
	}
	if he, ok := types.HookEventFor(ev); ok {
		s.hooks.Dispatch(hooks.NewContext(he, ev.State, s.session, ev.At))
	}

	for _, sink := range s.sinks {
		s.notify(sink, ev)
	}

	if endsSession(ev) {
		s.session = uuid.Nil
	}
}

// endsSession reports whether ev leaves the timer stopped.
func endsSession(ev types.TimerEvent) bool {
	switch ev.Kind {
	case types.EventStopped:
		return true
	case types.EventBreakCompleted:
		return !ev.State.Config.AutoCycle
	}
	return false
}

func (s *Supervisor) notify(sink EventSink, ev types.TimerEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SinkTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger().Error("Sink panicked", "sink", sink.Name(), "event", ev.Kind, "panic", r)
			s.metrics.RecordSinkError(sink.Name())
		}
	}()

	if err := sink.HandleEvent(ctx, ev); err != nil {
		logger().Warn("Sink failed", "sink", sink.Name(), "event", ev.Kind, "error", err)
		s.metrics.RecordSinkError(sink.Name())
	}
}

// HookObserver returns a hooks.ResultObserver that records runs in m.
func HookObserver(m *metrics.Collector) hooks.ResultObserver {
	return func(r hooks.Result) {
		m.RecordHook(r.Event, hookResult(r), r.Duration)
	}
}

func hookResult(r hooks.Result) string {
	switch {
	case r.Success:
		return metrics.HookSuccess
	case errors.Is(r.Error, hooks.ErrHookTimeout):
		return metrics.HookTimeout
	case errors.Is(r.Error, hooks.ErrScriptNotAbsolute),
		errors.Is(r.Error, hooks.ErrScriptNotFound),
		errors.Is(r.Error, hooks.ErrScriptIsDirectory),
		errors.Is(r.Error, hooks.ErrScriptNotExecutable):
		return metrics.HookInvalid
	}
	return metrics.HookFailure
}

func logger() *slog.Logger {
	return slog.Default().With("component", "daemon")
}
