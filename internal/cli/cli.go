// ============================================================================
// Pomodoro CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: cobra command tree for the daemon and its short-lived clients
//
// Command Structure:
//   pomodoro                       # Root command
//   ├── daemon                     # Run the timer daemon in the foreground
//   ├── start                      # Start a work session
//   │   ├── -w/--work, -b/--break, -l/--long-break   (minutes)
//   │   ├── -t/--task              # Task name (<= 100 chars)
//   │   └── -a/--auto-cycle, -f/--focus-mode
//   ├── pause | resume | stop      # Control the running timer
//   ├── status                     # Show phase, progress and count
//   ├── health                     # Query the gRPC health endpoint
//   └── hooks validate [path]      # Check a hook file offline
//
// Global flags:
//   --config/-c   YAML config (default: ~/.pomodoro/config.yaml, optional)
//   --socket      control socket (overrides config)
//   --retries     extra attempts when a request fails (default: 3)
//   --verbose/-v  debug logging
//
// Errors:
//   Commands return errors; main prints a single "Error: ..." line and exits
//   1. An unreachable daemon reads "daemon is not running (...)", a refused
//   request reads "daemon error: <message>".
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ChuLiYu/pomodoro/internal/health"
	"github.com/ChuLiYu/pomodoro/internal/ipc"
	"github.com/ChuLiYu/pomodoro/pkg/types"
)

const version = "0.1.0"

type rootOptions struct {
	configFile string
	socket     string
	retries    int
	verbose    bool

	cfg       *Config
	logCloser io.Closer
}

func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "pomodoro",
		Short: "Pomodoro timer daemon and client",
		Long: `A pomodoro timer that runs as a background daemon:
- work / break / long-break cycles
- local unix socket control
- hook scripts, sounds, notifications and focus mode
- Prometheus metrics and a live event stream`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", defaultConfigPath(), "config file path")
	flags.StringVar(&opts.socket, "socket", "", "control socket path (default from config)")
	flags.IntVar(&opts.retries, "retries", 3, "extra attempts when a request fails")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(buildDaemonCommand(opts))
	rootCmd.AddCommand(buildStartCommand(opts))
	rootCmd.AddCommand(buildControlCommand(opts, ipc.CommandPause, "Pause the running timer"))
	rootCmd.AddCommand(buildControlCommand(opts, ipc.CommandResume, "Resume a paused timer"))
	rootCmd.AddCommand(buildControlCommand(opts, ipc.CommandStop, "Stop the timer"))
	rootCmd.AddCommand(buildStatusCommand(opts))
	rootCmd.AddCommand(buildHealthCommand(opts))
	rootCmd.AddCommand(buildHooksCommand(opts))

	return rootCmd
}

func (o *rootOptions) init(cmd *cobra.Command) error {
	cfg, err := loadConfig(o.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if o.socket != "" {
		cfg.Socket = o.socket
	}
	o.cfg = cfg

	closer, err := setupLogging(cfg, o.verbose, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	o.logCloser = closer
	return nil
}

func (o *rootOptions) client() *ipc.Client {
	return ipc.NewClient(o.cfg.Socket)
}

// send runs one request and turns transport and daemon failures into the
// user-facing errors.
func (o *rootOptions) send(ctx context.Context, req ipc.Request) (ipc.Response, error) {
	resp, err := o.client().SendWithRetry(ctx, req, o.retries)
	if err != nil {
		if ipc.IsUnavailable(err) {
			return resp, fmt.Errorf("daemon is not running (start it with 'pomodoro daemon'): %w", err)
		}
		return resp, fmt.Errorf("failed to reach daemon: %w", err)
	}
	if !resp.OK() {
		return resp, fmt.Errorf("daemon error: %s", resp.Message)
	}
	return resp, nil
}

// ============================================================================
// Client commands
// ============================================================================

func buildStartCommand(opts *rootOptions) *cobra.Command {
	var (
		work, brk, long uint32
		task            string
		autoCycle       bool
		focusMode       bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a work session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var params types.StartParams
			f := cmd.Flags()
			if f.Changed("work") {
				params.WorkMinutes = types.Ptr(work)
			}
			if f.Changed("break") {
				params.BreakMinutes = types.Ptr(brk)
			}
			if f.Changed("long-break") {
				params.LongBreakMinutes = types.Ptr(long)
			}
			if f.Changed("task") {
				params.TaskName = types.Ptr(task)
			}
			if f.Changed("auto-cycle") {
				params.AutoCycle = types.Ptr(autoCycle)
			}
			if f.Changed("focus-mode") {
				params.FocusMode = types.Ptr(focusMode)
			}
			if err := validateStartParams(params); err != nil {
				return err
			}

			resp, err := opts.send(cmd.Context(), ipc.NewStartRequest(params))
			if err != nil {
				return err
			}
			printStarted(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().Uint32VarP(&work, "work", "w", 25, "work minutes (1-120)")
	cmd.Flags().Uint32VarP(&brk, "break", "b", 5, "break minutes (1-60)")
	cmd.Flags().Uint32VarP(&long, "long-break", "l", 15, "long break minutes (1-60)")
	cmd.Flags().StringVarP(&task, "task", "t", "", "task name (max 100 characters)")
	cmd.Flags().BoolVarP(&autoCycle, "auto-cycle", "a", false, "start the next work session after each break")
	cmd.Flags().BoolVarP(&focusMode, "focus-mode", "f", false, "toggle focus mode with work sessions")

	return cmd
}

// validateStartParams checks overrides before they reach the daemon.
func validateStartParams(params types.StartParams) error {
	if err := types.DefaultPomodoroConfig().Apply(params).Validate(); err != nil {
		return err
	}
	if params.TaskName != nil {
		return types.ValidateTaskName(*params.TaskName)
	}
	return nil
}

func buildControlCommand(opts *rootOptions, command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   command,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.send(cmd.Context(), ipc.NewRequest(command))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
}

func buildStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the timer status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.send(cmd.Context(), ipc.NewRequest(ipc.CommandStatus))
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), resp.Data)
			return nil
		},
	}
}

func buildHealthCommand(opts *rootOptions) *cobra.Command {
	var address string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the daemon's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if address == "" {
				address = opts.cfg.Health.Address
			}
			if address == "" {
				return fmt.Errorf("no health address configured (set health.address or --address)")
			}

			status, err := health.Check(cmd.Context(), address, timeout)
			if err != nil {
				return fmt.Errorf("daemon is not running (%s): %w", address, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("daemon is not serving: %s", status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "health address (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "check timeout")
	return cmd
}

// ============================================================================
// Output
// ============================================================================

func printStarted(w io.Writer, resp ipc.Response) {
	fmt.Fprintln(w, resp.Message)
	if d := resp.Data; d != nil {
		if d.TaskName != nil {
			fmt.Fprintf(w, "  Task:      %s\n", *d.TaskName)
		}
		fmt.Fprintf(w, "  Remaining: %s\n", formatClock(types.Deref(d.RemainingSeconds)))
	}
}

func printStatus(w io.Writer, d *ipc.ResponseData) {
	if d == nil {
		fmt.Fprintln(w, "No status available")
		return
	}

	state := types.Deref(d.State)
	fmt.Fprintf(w, "State:     %s\n", state)
	if d.TaskName != nil {
		fmt.Fprintf(w, "Task:      %s\n", *d.TaskName)
	}
	if state != string(types.PhaseStopped) {
		total := types.Deref(d.Duration)
		remaining := types.Deref(d.RemainingSeconds)
		elapsed := uint32(0)
		if total > remaining {
			elapsed = total - remaining
		}
		fmt.Fprintf(w, "Progress:  %s\n", formatProgress(elapsed, total))
		fmt.Fprintf(w, "Remaining: %s\n", formatClock(remaining))
	}
	fmt.Fprintf(w, "Pomodoros: %d\n", types.Deref(d.PomodoroCount))
}

// formatClock renders seconds as mm:ss.
func formatClock(secs uint32) string {
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// formatProgress renders "mm:ss/mm:ss (p%)", capping the percentage at 100.
func formatProgress(elapsed, total uint32) string {
	pct := uint64(0)
	if total > 0 {
		pct = min(uint64(elapsed)*100/uint64(total), 100)
	}
	return fmt.Sprintf("%s/%s (%d%%)", formatClock(elapsed), formatClock(total), pct)
}
