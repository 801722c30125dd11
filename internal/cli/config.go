package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/pomodoro/internal/hooks"
	"github.com/ChuLiYu/pomodoro/internal/ipc"
	"github.com/ChuLiYu/pomodoro/internal/sink"
	"github.com/ChuLiYu/pomodoro/pkg/types"
)

// Config is the daemon and client configuration read from config.yaml.
// Every field has a default, so a missing file is not an error.
type Config struct {
	Socket string `yaml:"socket"`

	Timer types.PomodoroConfig `yaml:"timer"`

	Hooks struct {
		Path string `yaml:"path"`
	} `yaml:"hooks"`

	Metrics struct {
		Enabled bool     `yaml:"enabled"`
		Address string   `yaml:"address"`
		Stream  bool     `yaml:"stream"`  // serve /events
		Control bool     `yaml:"control"` // accept requests on /events
		Origins []string `yaml:"origins"`
	} `yaml:"metrics"`

	Health struct {
		Address string `yaml:"address"` // host:port or unix:///path; empty disables
	} `yaml:"health"`

	Sound struct {
		Enabled  bool   `yaml:"enabled"`
		WorkEnd  string `yaml:"work_end"`
		BreakEnd string `yaml:"break_end"`
	} `yaml:"sound"`

	Notification struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"notification"`

	Focus struct {
		EnableShortcut  string `yaml:"enable_shortcut"`
		DisableShortcut string `yaml:"disable_shortcut"`
	} `yaml:"focus"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text or json
		File   string `yaml:"file"`
	} `yaml:"log"`
}

// baseDir is ~/.pomodoro, where the socket, hook file and config live.
func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pomodoro"
	}
	return filepath.Join(home, ".pomodoro")
}

func defaultConfigPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

func defaultConfig() *Config {
	cfg := &Config{Timer: types.DefaultPomodoroConfig()}

	cfg.Socket = filepath.Join(baseDir(), "pomodoro.sock")
	if p, err := ipc.DefaultSocketPath(); err == nil {
		cfg.Socket = p
	}
	cfg.Hooks.Path = filepath.Join(baseDir(), "hooks.json")
	if p, err := hooks.DefaultConfigPath(); err == nil {
		cfg.Hooks.Path = p
	}

	cfg.Metrics.Address = "127.0.0.1:9090"
	cfg.Metrics.Stream = true
	cfg.Sound.Enabled = true
	cfg.Sound.WorkEnd = sink.DefaultWorkEndSound
	cfg.Sound.BreakEnd = sink.DefaultBreakEndSound
	cfg.Notification.Enabled = true
	cfg.Focus.EnableShortcut = sink.DefaultEnableShortcut
	cfg.Focus.DisableShortcut = sink.DefaultDisableShortcut
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// loadConfig overlays the YAML file at path on the defaults. A missing file
// yields the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Timer.Validate(); err != nil {
		return nil, fmt.Errorf("invalid timer config: %w", err)
	}

	cfg.Socket = expandHome(cfg.Socket)
	cfg.Hooks.Path = expandHome(cfg.Hooks.Path)
	cfg.Log.File = expandHome(cfg.Log.File)
	return cfg, nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// setupLogging installs the process-wide slog handler. The returned closer
// releases the log file, if any.
func setupLogging(cfg *Config, verbose bool, stderr io.Writer) (io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = stderr
	var closer io.Closer = io.NopCloser(nil)
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "", "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		closer.Close()
		return nil, fmt.Errorf("invalid log format %q", cfg.Log.Format)
	}
	slog.SetDefault(slog.New(handler))
	return closer, nil
}
