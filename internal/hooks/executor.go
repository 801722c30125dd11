// ============================================================================
// Hook Executor - script execution unit
// ============================================================================
//
// Package: internal/hooks
// File: executor.go
//
// Execution model:
//   ┌─────────────────────────────────────────┐
//   │  Dispatch(ctx) - returns immediately      │
//   │  └─ one goroutine per event batch         │
//   │       for hook := range HooksFor(event)   │
//   │         ├─ ValidateScript                 │
//   │         ├─ context.WithTimeout            │
//   │         ├─ exec script with POMODORO_*    │
//   │         └─ log + observe Result           │
//   └─────────────────────────────────────────┘
//
//   Hooks of one event run one after another. Batches of different events run
//   concurrently with each other and with the daemon.
//
// Failure handling:
//   A failing hook (invalid script, non-zero exit, timeout, spawn error) is
//   logged and recorded in its Result. It never stops the hooks after it and
//   is never reported to the timer or the IPC caller.
//
// ============================================================================

package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/pomodoro/pkg/types"
)

const (
	// MaxOutputBytes is how much of each output stream is kept for logging.
	MaxOutputBytes = 10 * 1024

	// waitDelay bounds how long Wait blocks on pipes held open by grandchildren
	// after the script itself has exited or been killed.
	waitDelay = 2 * time.Second
)

// Result describes one hook run.
type Result struct {
	Hook     string
	Event    types.HookEvent
	Success  bool
	Error    error
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ResultObserver is called after every hook run, from the batch goroutine.
type ResultObserver func(Result)

// Executor dispatches hook batches. The zero value is not usable; use
// NewExecutor.
type Executor struct {
	config   *Config
	observer ResultObserver
	wg       sync.WaitGroup
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithObserver registers fn to receive every Result.
func WithObserver(fn ResultObserver) ExecutorOption {
	return func(x *Executor) { x.observer = fn }
}

// NewExecutor creates an executor for cfg. A nil cfg disables execution.
func NewExecutor(cfg *Config, opts ...ExecutorOption) *Executor {
	x := &Executor{config: cfg}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// LoadExecutor loads the hook file at path and returns an executor for it.
// Missing or invalid files degrade to a disabled executor; the error is
// returned for logging only.
func LoadExecutor(path string, opts ...ExecutorOption) (*Executor, error) {
	cfg, err := Load(path)
	if err != nil {
		return NewExecutor(nil, opts...), err
	}
	return NewExecutor(cfg, opts...), nil
}

// Enabled reports whether any hook can run.
func (x *Executor) Enabled() bool {
	return x != nil && x.config.HasHooks()
}

// Config returns the loaded configuration, or nil.
func (x *Executor) Config() *Config {
	if x == nil {
		return nil
	}
	return x.config
}

// Dispatch starts the hooks registered for hctx.Event in the background and
// returns without waiting. It reports whether a batch was started.
func (x *Executor) Dispatch(hctx Context) bool {
	if !x.Enabled() {
		return false
	}
	hooks := x.config.HooksFor(hctx.Event)
	if len(hooks) == 0 {
		return false
	}

	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		for _, def := range hooks {
			x.RunHook(context.Background(), def, hctx)
		}
	}()
	return true
}

// Wait blocks until every dispatched batch has finished or ctx is done.
func (x *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		x.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunHook executes a single hook synchronously, bounded by its timeout.
func (x *Executor) RunHook(ctx context.Context, def Definition, hctx Context) Result {
	start := time.Now()
	result := Result{Hook: def.Name, Event: hctx.Event}

	stdout, stderr, err := run(ctx, def, hctx)
	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Error = err
	result.Success = err == nil

	log := logger().With("hook", def.Name, "event", hctx.Event)
	if result.Stdout != "" {
		log.Info("hook stdout", "output", result.Stdout)
	}
	if result.Stderr != "" {
		log.Warn("hook stderr", "output", result.Stderr)
	}
	if err != nil {
		log.Error("hook failed", "error", err, "duration", result.Duration)
	} else {
		log.Info("hook finished", "duration", result.Duration)
	}

	if x != nil && x.observer != nil {
		x.observer(result)
	}
	return result
}

func run(ctx context.Context, def Definition, hctx Context) (*cappedBuffer, *cappedBuffer, error) {
	stdout := newCappedBuffer(MaxOutputBytes)
	stderr := newCappedBuffer(MaxOutputBytes)

	if err := ValidateScript(def.Script); err != nil {
		return stdout, stderr, err
	}

	timeout := time.Duration(def.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, def.Script)
	cmd.Env = buildEnv(hctx, def.Name)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	logger().Info("running hook", "hook", def.Name, "timeout", timeout)
	err := cmd.Run()
	switch {
	case err == nil:
		return stdout, stderr, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return stdout, stderr, fmt.Errorf("%w after %s", ErrHookTimeout, timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return stdout, stderr, &ExitError{Code: exitErr.ExitCode()}
	}
	return stdout, stderr, fmt.Errorf("run script: %w", err)
}

// buildEnv returns the daemon's environment plus the context variables and
// POMODORO_HOOK_NAME, in a stable order.
func buildEnv(hctx Context, hookName string) []string {
	vars := hctx.Env()
	vars["POMODORO_HOOK_NAME"] = Sanitize(hookName)

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := os.Environ()
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

// ValidateScript checks that path is absolute, exists, is a regular file and
// has at least one execute bit set.
func ValidateScript(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s", ErrScriptNotAbsolute, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrScriptNotFound, path)
		}
		return fmt.Errorf("stat script: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", ErrScriptIsDirectory, path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s", ErrScriptNotExecutable, path)
	}
	return nil
}

func logger() *slog.Logger {
	return slog.Default().With("component", "hooks")
}
