package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/pomodoro/internal/daemon"
	"github.com/ChuLiYu/pomodoro/internal/health"
	"github.com/ChuLiYu/pomodoro/internal/hooks"
	"github.com/ChuLiYu/pomodoro/internal/ipc"
	"github.com/ChuLiYu/pomodoro/internal/metrics"
	"github.com/ChuLiYu/pomodoro/internal/sink"
	"github.com/ChuLiYu/pomodoro/internal/stream"
)

func buildDaemonCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the timer daemon in the foreground",
		Long: `Run the timer daemon until SIGINT or SIGTERM.

The daemon binds the control socket, loads hooks from hooks.path and, when
configured, serves /metrics and /events over HTTP and the gRPC health service.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, opts.cfg)
		},
	}
}

// runDaemon wires the supervisor to its collaborators and blocks until ctx is
// done or the supervisor fails.
func runDaemon(ctx context.Context, cfg *Config) error {
	log := slog.Default().With("component", "cli")

	m := metrics.NewCollector()

	hookExec, err := hooks.LoadExecutor(cfg.Hooks.Path, hooks.WithObserver(daemon.HookObserver(m)))
	switch {
	case errors.Is(err, hooks.ErrConfigNotFound):
		log.Debug("No hook file, hooks disabled", "path", cfg.Hooks.Path)
	case err != nil:
		log.Warn("Invalid hook file, hooks disabled", "path", cfg.Hooks.Path, "error", err)
	default:
		log.Info("Hooks loaded", "path", cfg.Hooks.Path, "count", len(hookExec.Config().Hooks))
	}

	dcfg := daemon.DefaultConfig(cfg.Socket)
	dcfg.Timer = cfg.Timer

	var sup *daemon.Supervisor
	sinks := buildSinks(cfg)

	var events *stream.Broadcaster
	if cfg.Metrics.Enabled && cfg.Metrics.Stream {
		streamOpts := []stream.Option{stream.WithOrigins(cfg.Metrics.Origins...)}
		if cfg.Metrics.Control {
			streamOpts = append(streamOpts, stream.WithControl(ipc.HandlerFunc(func(req ipc.Request) ipc.Response {
				return sup.Handle(req)
			})))
		}
		events = stream.NewBroadcaster(streamOpts...)
		sinks = append(sinks, events)
	}

	sup, err = daemon.New(dcfg,
		daemon.WithSinks(sinks...),
		daemon.WithHooks(hookExec),
		daemon.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	if cfg.Metrics.Enabled {
		extra := map[string]http.Handler{}
		if events != nil {
			extra["/events"] = events
		}
		srv, err := m.Listen(cfg.Metrics.Address, extra)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	var hs *health.Server
	if cfg.Health.Address != "" {
		hs, err = health.Listen(cfg.Health.Address)
		if err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := hs.Serve(ctx); err != nil {
				log.Error("Health server error", "error", err)
			}
		}()
		go func() {
			defer wg.Done()
			select {
			case <-sup.Ready():
				hs.SetServing(true)
			case <-ctx.Done():
			}
		}()
	}

	log.Info("Starting pomodoro daemon", "pid", os.Getpid(), "socket", cfg.Socket)
	runErr := sup.Run(ctx)
	if hs != nil {
		hs.SetServing(false)
	}

	cancel()
	wg.Wait()
	if runErr != nil {
		return fmt.Errorf("daemon failed: %w", runErr)
	}
	log.Info("Pomodoro daemon stopped. Goodbye!")
	return nil
}

// buildSinks returns the enabled desktop side effects in fan-out order.
func buildSinks(cfg *Config) []daemon.EventSink {
	log := slog.Default().With("component", "cli")
	var sinks []daemon.EventSink

	if cfg.Sound.Enabled {
		player := sink.NewCommandPlayer()
		if !player.Available() {
			log.Warn("No sound player found, sounds disabled")
		}
		sinks = append(sinks, sink.NewSound(player, cfg.Sound.WorkEnd, cfg.Sound.BreakEnd))
	}
	if cfg.Notification.Enabled {
		sinks = append(sinks, sink.NewNotification(sink.NewCommandSender()))
	}

	focus := sink.NewShortcutController(cfg.Focus.EnableShortcut, cfg.Focus.DisableShortcut)
	if focus.Available() {
		sinks = append(sinks, sink.NewFocus(focus))
	} else {
		log.Debug("shortcuts command not found, focus mode disabled")
	}
	return sinks
}
