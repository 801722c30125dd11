// ============================================================================
// Pomodoro Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
//
// Metric groups:
//
//   1. Counters:
//      - pomodoro_ticks_total: processed one-second ticks
//      - pomodoro_events_total{kind}: timer events by kind
//      - pomodoro_completed_total: completed work phases
//      - pomodoro_ipc_requests_total{command,status}: control requests
//      - pomodoro_hook_runs_total{event,result}: hook executions
//      - pomodoro_sink_errors_total{sink}: failed side effects
//
//   2. Histograms:
//      - pomodoro_hook_duration_seconds: hook run time
//
//   3. Gauges:
//      - pomodoro_phase{phase}: 1 for the current phase, 0 otherwise
//      - pomodoro_remaining_seconds: countdown value
//      - pomodoro_event_queue_depth: buffered events awaiting fan-out
//
// Example queries:
//
//   # pomodoros completed today
//   increase(pomodoro_completed_total[24h])
//
//   # hook failure ratio
//   sum(rate(pomodoro_hook_runs_total{result!="success"}[1h]))
//     / sum(rate(pomodoro_hook_runs_total[1h]))
//
// A nil *Collector is valid and records nothing.
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/pomodoro/pkg/types"
)

// Hook result labels.
const (
	HookSuccess = "success"
	HookFailure = "failure"
	HookTimeout = "timeout"
	HookInvalid = "invalid"
)

var phases = []types.Phase{
	types.PhaseStopped,
	types.PhaseWorking,
	types.PhaseBreaking,
	types.PhaseLongBreaking,
	types.PhasePaused,
}

// Collector holds the daemon's Prometheus metrics.
type Collector struct {
	ticks       prometheus.Counter
	events      *prometheus.CounterVec
	completed   prometheus.Counter
	requests    *prometheus.CounterVec
	hookRuns    *prometheus.CounterVec
	sinkErrors  *prometheus.CounterVec
	hookLatency prometheus.Histogram

	phase      *prometheus.GaugeVec
	remaining  prometheus.Gauge
	queueDepth prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewCollector creates the metrics and registers them with
// prometheus.DefaultRegisterer.
func NewCollector() *Collector {
	c := &Collector{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pomodoro_ticks_total",
			Help: "Total number of one-second ticks processed while a phase was active",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pomodoro_events_total",
			Help: "Total number of timer events by kind",
		}, []string{"kind"}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pomodoro_completed_total",
			Help: "Total number of completed work phases",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pomodoro_ipc_requests_total",
			Help: "Total number of control requests by command and status",
		}, []string{"command", "status"}),
		hookRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pomodoro_hook_runs_total",
			Help: "Total number of hook executions by event and result",
		}, []string{"event", "result"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pomodoro_sink_errors_total",
			Help: "Total number of failed side effects by sink",
		}, []string{"sink"}),
		hookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pomodoro_hook_duration_seconds",
			Help:    "Hook execution time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pomodoro_phase",
			Help: "1 for the current timer phase, 0 for the others",
		}, []string{"phase"}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pomodoro_remaining_seconds",
			Help: "Seconds left in the current phase",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pomodoro_event_queue_depth",
			Help: "Timer events waiting to be fanned out",
		}),
	}

	reg := prometheus.DefaultRegisterer
	reg.MustRegister(
		c.ticks, c.events, c.completed, c.requests, c.hookRuns,
		c.sinkErrors, c.hookLatency, c.phase, c.remaining, c.queueDepth,
	)

	c.gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}

	c.ObserveState(types.TimerState{Phase: types.PhaseStopped})
	return c
}

// RecordTick counts one processed tick.
func (c *Collector) RecordTick() {
	if c == nil {
		return
	}
	c.ticks.Inc()
}

// RecordEvent counts ev and updates the state gauges from its snapshot.
func (c *Collector) RecordEvent(ev types.TimerEvent) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Kind == types.EventWorkCompleted {
		c.completed.Inc()
	}
	c.ObserveState(ev.State)
}

// ObserveState sets the phase and remaining-time gauges.
func (c *Collector) ObserveState(s types.TimerState) {
	if c == nil {
		return
	}
	for _, p := range phases {
		v := 0.0
		if p == s.Phase {
			v = 1
		}
		c.phase.WithLabelValues(string(p)).Set(v)
	}
	c.remaining.Set(float64(s.RemainingSeconds))
}

// RecordRequest counts one handled control request.
func (c *Collector) RecordRequest(command, status string) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(command, status).Inc()
}

// RecordHook counts one hook run and its duration.
func (c *Collector) RecordHook(event types.HookEvent, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.hookRuns.WithLabelValues(string(event), result).Inc()
	c.hookLatency.Observe(d.Seconds())
}

// RecordSinkError counts a failed side effect.
func (c *Collector) RecordSinkError(sink string) {
	if c == nil {
		return
	}
	c.sinkErrors.WithLabelValues(sink).Inc()
}

// SetQueueDepth records how many events are buffered.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

// Handler serves the registered metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Server exposes /metrics plus any extra handlers over HTTP.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Listen binds addr and prepares a server for /metrics and extra.
func (c *Collector) Listen(addr string, extra map[string]http.Handler) (*Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	for pattern, h := range extra {
		mux.Handle(pattern, h)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve blocks until ctx is done, then shuts the server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	slog.Default().Info("metrics server listening", "component", "metrics", "addr", s.Addr())
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
