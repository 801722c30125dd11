// Package hooks runs user-configured scripts in response to timer lifecycle
// events.
//
// Hooks are declared in ~/.pomodoro/hooks.json:
//
//	{
//	  "version": "1.0",
//	  "hooks": [
//	    {"name": "log", "event": "work_end", "script": "~/bin/log.sh", "timeout_secs": 10}
//	  ],
//	  "defaults": {"timeout_secs": 30}
//	}
//
// Every definition is validated on load. Execution is fire-and-forget and never
// reports back to the timer.
package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ChuLiYu/pomodoro/pkg/types"
)

const (
	ConfigVersion      = "1.0"
	DefaultTimeoutSecs = 30
	MinTimeoutSecs     = 1
	MaxTimeoutSecs     = 300
	MaxHooksPerEvent   = 10
)

// Definition is one configured hook.
type Definition struct {
	Name        string          `json:"name"`
	Event       types.HookEvent `json:"event"`
	Script      string          `json:"script"`
	TimeoutSecs uint64          `json:"timeout_secs"`
	Enabled     bool            `json:"enabled"`
}

// Defaults holds values applied to definitions that omit them.
type Defaults struct {
	TimeoutSecs uint64 `json:"timeout_secs"`
}

// Config is a validated hook file.
type Config struct {
	Version  string       `json:"version"`
	Hooks    []Definition `json:"hooks"`
	Defaults Defaults     `json:"defaults"`

	byEvent map[types.HookEvent][]Definition
}

type rawDefinition struct {
	Name        string          `json:"name"`
	Event       types.HookEvent `json:"event"`
	Script      string          `json:"script"`
	TimeoutSecs *uint64         `json:"timeout_secs"`
	Enabled     *bool           `json:"enabled"`
}

type rawConfig struct {
	Version  string          `json:"version"`
	Hooks    []rawDefinition `json:"hooks"`
	Defaults struct {
		TimeoutSecs *uint64 `json:"timeout_secs"`
	} `json:"defaults"`
}

// DefaultConfigPath returns ~/.pomodoro/hooks.json.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".pomodoro", "hooks.json"), nil
}

// Load reads and validates the hook file at path. A missing file yields an
// error wrapping ErrConfigNotFound.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read hook config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			parseErr.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates a hook file. Omitted per-hook timeouts inherit
// defaults.timeout_secs; omitted "enabled" means true.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Err: err}
	}

	cfg := &Config{
		Version:  raw.Version,
		Defaults: Defaults{TimeoutSecs: DefaultTimeoutSecs},
	}
	if cfg.Version == "" {
		cfg.Version = ConfigVersion
	}
	if raw.Defaults.TimeoutSecs != nil {
		cfg.Defaults.TimeoutSecs = *raw.Defaults.TimeoutSecs
	}
	if err := checkTimeout(cfg.Defaults.TimeoutSecs); err != nil {
		return nil, &ValidationError{Field: "timeout_secs", Err: ErrTimeoutRange, Detail: err.Error()}
	}

	perEvent := make(map[types.HookEvent]int)
	for _, r := range raw.Hooks {
		def := Definition{
			Name:        r.Name,
			Event:       r.Event,
			Script:      r.Script,
			TimeoutSecs: cfg.Defaults.TimeoutSecs,
			Enabled:     true,
		}
		if r.TimeoutSecs != nil {
			def.TimeoutSecs = *r.TimeoutSecs
		}
		if r.Enabled != nil {
			def.Enabled = *r.Enabled
		}

		if err := validateDefinition(&def); err != nil {
			return nil, err
		}

		perEvent[def.Event]++
		if perEvent[def.Event] > MaxHooksPerEvent {
			return nil, &ValidationError{
				Hook:   def.Name,
				Field:  "event",
				Err:    ErrTooManyHooks,
				Detail: fmt.Sprintf("%s has more than %d hooks", def.Event, MaxHooksPerEvent),
			}
		}

		cfg.Hooks = append(cfg.Hooks, def)
	}

	cfg.index()
	return cfg, nil
}

func validateDefinition(def *Definition) error {
	if !def.Event.IsValid() {
		return &ValidationError{Hook: def.Name, Field: "event", Err: ErrUnknownEvent, Detail: string(def.Event)}
	}
	if err := checkTimeout(def.TimeoutSecs); err != nil {
		return &ValidationError{Hook: def.Name, Field: "timeout_secs", Err: ErrTimeoutRange, Detail: err.Error()}
	}

	script, err := normalizeScriptPath(def.Script)
	if err != nil {
		return &ValidationError{Hook: def.Name, Field: "script", Err: err, Detail: def.Script}
	}
	def.Script = script
	return nil
}

func checkTimeout(secs uint64) error {
	if secs < MinTimeoutSecs || secs > MaxTimeoutSecs {
		return fmt.Errorf("%d not in [%d, %d]", secs, MinTimeoutSecs, MaxTimeoutSecs)
	}
	return nil
}

// normalizeScriptPath expands a leading ~/ and rejects relative paths.
func normalizeScriptPath(p string) (string, error) {
	switch {
	case p == "":
		return "", ErrEmptyScript
	case p == "~" || strings.HasPrefix(p, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand ~: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
	case filepath.IsAbs(p):
		return filepath.Clean(p), nil
	}
	return "", ErrRelativeScript
}

func (c *Config) index() {
	c.byEvent = make(map[types.HookEvent][]Definition)
	for _, def := range c.Hooks {
		if def.Enabled {
			c.byEvent[def.Event] = append(c.byEvent[def.Event], def)
		}
	}
}

// HooksFor returns the enabled hooks for event in file order.
func (c *Config) HooksFor(event types.HookEvent) []Definition {
	if c == nil {
		return nil
	}
	return c.byEvent[event]
}

// HasHooks reports whether at least one hook is enabled.
func (c *Config) HasHooks() bool {
	if c == nil {
		return false
	}
	return len(c.byEvent) > 0
}
