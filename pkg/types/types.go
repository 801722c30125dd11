// Package types defines the core domain model shared by the pomodoro daemon and its clients.
package types

import (
	"errors"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"
)

// Phase is one value of the timer's finite state set.
type Phase string

const (
	PhaseStopped      Phase = "stopped"       // idle, nothing counting down
	PhaseWorking      Phase = "working"       // work phase counting down
	PhaseBreaking     Phase = "breaking"      // short break counting down
	PhaseLongBreaking Phase = "long_breaking" // long break counting down
	PhasePaused       Phase = "paused"        // countdown suspended
)

// IsActive reports whether the countdown runs in this phase.
func (p Phase) IsActive() bool {
	switch p {
	case PhaseWorking, PhaseBreaking, PhaseLongBreaking:
		return true
	}
	return false
}

// IsBreak reports whether the phase is a short or long break.
func (p Phase) IsBreak() bool {
	return p == PhaseBreaking || p == PhaseLongBreaking
}

func (p Phase) String() string { return string(p) }

// ParsePhase converts a wire name into a Phase.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseStopped, PhaseWorking, PhaseBreaking, PhaseLongBreaking, PhasePaused:
		return p, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Allowed ranges for PomodoroConfig, in minutes.
const (
	MinWorkMinutes      = 1
	MaxWorkMinutes      = 120
	MinBreakMinutes     = 1
	MaxBreakMinutes     = 60
	MinLongBreakMinutes = 1
	MaxLongBreakMinutes = 60

	// LongBreakInterval is the number of completed pomodoros between long breaks.
	LongBreakInterval = 4
)

// ErrInvalidConfig is the cause of every *ConfigError.
var ErrInvalidConfig = errors.New("invalid pomodoro config")

// ConfigError reports a PomodoroConfig field outside its allowed range.
type ConfigError struct {
	Field string
	Value uint32
	Min   uint32
	Max   uint32
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s must be between %d and %d minutes (got %d)", e.Field, e.Min, e.Max, e.Value)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// PomodoroConfig holds the per-session timer parameters.
type PomodoroConfig struct {
	WorkMinutes      uint32 `json:"workMinutes" yaml:"work_minutes"`
	BreakMinutes     uint32 `json:"breakMinutes" yaml:"break_minutes"`
	LongBreakMinutes uint32 `json:"longBreakMinutes" yaml:"long_break_minutes"`
	AutoCycle        bool   `json:"autoCycle" yaml:"auto_cycle"`
	FocusMode        bool   `json:"focusMode" yaml:"focus_mode"`
}

// DefaultPomodoroConfig returns the classic 25/5/15 configuration.
func DefaultPomodoroConfig() PomodoroConfig {
	return PomodoroConfig{
		WorkMinutes:      25,
		BreakMinutes:     5,
		LongBreakMinutes: 15,
	}
}

// Validate checks every minute field against its range. Values are never clamped.
func (c PomodoroConfig) Validate() error {
	checks := []struct {
		field    string
		value    uint32
		min, max uint32
	}{
		{"work_minutes", c.WorkMinutes, MinWorkMinutes, MaxWorkMinutes},
		{"break_minutes", c.BreakMinutes, MinBreakMinutes, MaxBreakMinutes},
		{"long_break_minutes", c.LongBreakMinutes, MinLongBreakMinutes, MaxLongBreakMinutes},
	}
	for _, check := range checks {
		if check.value < check.min || check.value > check.max {
			return &ConfigError{Field: check.field, Value: check.value, Min: check.min, Max: check.max}
		}
	}
	return nil
}

// Apply returns a copy of c with every non-nil override in params applied.
func (c PomodoroConfig) Apply(params StartParams) PomodoroConfig {
	if params.WorkMinutes != nil {
		c.WorkMinutes = *params.WorkMinutes
	}
	if params.BreakMinutes != nil {
		c.BreakMinutes = *params.BreakMinutes
	}
	if params.LongBreakMinutes != nil {
		c.LongBreakMinutes = *params.LongBreakMinutes
	}
	if params.AutoCycle != nil {
		c.AutoCycle = *params.AutoCycle
	}
	if params.FocusMode != nil {
		c.FocusMode = *params.FocusMode
	}
	return c
}

// PhaseSeconds returns the full length of an active phase in seconds, or 0.
func (c PomodoroConfig) PhaseSeconds(p Phase) uint32 {
	switch p {
	case PhaseWorking:
		return c.WorkMinutes * 60
	case PhaseBreaking:
		return c.BreakMinutes * 60
	case PhaseLongBreaking:
		return c.LongBreakMinutes * 60
	}
	return 0
}

// StartParams carries the optional overrides of a start request.
type StartParams struct {
	WorkMinutes      *uint32 `json:"workMinutes,omitempty"`
	BreakMinutes     *uint32 `json:"breakMinutes,omitempty"`
	LongBreakMinutes *uint32 `json:"longBreakMinutes,omitempty"`
	TaskName         *string `json:"taskName,omitempty"`
	AutoCycle        *bool   `json:"autoCycle,omitempty"`
	FocusMode        *bool   `json:"focusMode,omitempty"`
}

// MaxTaskNameLength is the longest accepted task label, in characters.
const MaxTaskNameLength = 100

// ErrInvalidTaskName is returned by ValidateTaskName.
var ErrInvalidTaskName = errors.New("invalid task name")

// ValidateTaskName rejects labels that are too long or contain control characters.
func ValidateTaskName(name string) error {
	if n := utf8.RuneCountInString(name); n > MaxTaskNameLength {
		return fmt.Errorf("%w: %d characters (max %d)", ErrInvalidTaskName, n, MaxTaskNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidTaskName)
		}
	}
	return nil
}

// TimerState is a point-in-time snapshot of the engine state.
type TimerState struct {
	Phase            Phase          `json:"phase"`
	RemainingSeconds uint32         `json:"remainingSeconds"`
	PomodoroCount    uint32         `json:"pomodoroCount"`
	TaskName         *string        `json:"taskName,omitempty"`
	Config           PomodoroConfig `json:"config"`

	// PausedFrom is the active phase to resume into; set only while Phase is PhasePaused.
	PausedFrom Phase `json:"-"`
}

// EffectivePhase returns the phase the countdown belongs to, looking through a pause.
func (s TimerState) EffectivePhase() Phase {
	if s.Phase == PhasePaused {
		return s.PausedFrom
	}
	return s.Phase
}

// Duration returns the total length of the current phase in seconds.
func (s TimerState) Duration() uint32 {
	return s.Config.PhaseSeconds(s.EffectivePhase())
}

// Elapsed returns how many seconds of the current phase have passed.
func (s TimerState) Elapsed() uint32 {
	d := s.Duration()
	if s.RemainingSeconds >= d {
		return 0
	}
	return d - s.RemainingSeconds
}

// EventKind identifies a TimerEvent.
type EventKind string

const (
	EventWorkStarted    EventKind = "work_started"
	EventWorkCompleted  EventKind = "work_completed"
	EventBreakStarted   EventKind = "break_started"
	EventBreakCompleted EventKind = "break_completed"
	EventPaused         EventKind = "paused"
	EventResumed        EventKind = "resumed"
	EventStopped        EventKind = "stopped"
	EventTick           EventKind = "tick"
)

// TimerEvent is emitted by the engine once per state change and once per tick.
type TimerEvent struct {
	Kind             EventKind `json:"kind"`
	TaskName         *string   `json:"taskName,omitempty"`
	PomodoroCount    uint32    `json:"pomodoroCount,omitempty"`
	IsLongBreak      bool      `json:"isLongBreak,omitempty"`
	RemainingSeconds uint32    `json:"remainingSeconds,omitempty"`

	// State is the engine state right after the event was produced.
	State TimerState `json:"-"`
	At    time.Time  `json:"-"`
}

func WorkStarted(task *string) TimerEvent {
	return TimerEvent{Kind: EventWorkStarted, TaskName: task}
}

func WorkCompleted(count uint32, task *string) TimerEvent {
	return TimerEvent{Kind: EventWorkCompleted, PomodoroCount: count, TaskName: task}
}

func BreakStarted(long bool) TimerEvent {
	return TimerEvent{Kind: EventBreakStarted, IsLongBreak: long}
}

func BreakCompleted(long bool) TimerEvent {
	return TimerEvent{Kind: EventBreakCompleted, IsLongBreak: long}
}

func Paused() TimerEvent  { return TimerEvent{Kind: EventPaused} }
func Resumed() TimerEvent { return TimerEvent{Kind: EventResumed} }
func Stopped() TimerEvent { return TimerEvent{Kind: EventStopped} }

func Tick(remaining uint32) TimerEvent {
	return TimerEvent{Kind: EventTick, RemainingSeconds: remaining}
}

// HookEvent is the external name of a lifecycle event as used in hook configuration.
type HookEvent string

const (
	HookWorkStart      HookEvent = "work_start"
	HookWorkEnd        HookEvent = "work_end"
	HookBreakStart     HookEvent = "break_start"
	HookBreakEnd       HookEvent = "break_end"
	HookLongBreakStart HookEvent = "long_break_start"
	HookLongBreakEnd   HookEvent = "long_break_end"
	HookPause          HookEvent = "pause"
	HookResume         HookEvent = "resume"
	HookStop           HookEvent = "stop"
)

// HookEvents lists every valid hook event name.
var HookEvents = []HookEvent{
	HookWorkStart, HookWorkEnd,
	HookBreakStart, HookBreakEnd,
	HookLongBreakStart, HookLongBreakEnd,
	HookPause, HookResume, HookStop,
}

// IsValid reports whether e is one of HookEvents.
func (e HookEvent) IsValid() bool {
	for _, known := range HookEvents {
		if e == known {
			return true
		}
	}
	return false
}

// HookEventFor maps a timer event to its hook event. Ticks have none.
func HookEventFor(ev TimerEvent) (HookEvent, bool) {
	switch ev.Kind {
	case EventWorkStarted:
		return HookWorkStart, true
	case EventWorkCompleted:
		return HookWorkEnd, true
	case EventBreakStarted:
		if ev.IsLongBreak {
			return HookLongBreakStart, true
		}
		return HookBreakStart, true
	case EventBreakCompleted:
		if ev.IsLongBreak {
			return HookLongBreakEnd, true
		}
		return HookBreakEnd, true
	case EventPaused:
		return HookPause, true
	case EventResumed:
		return HookResume, true
	case EventStopped:
		return HookStop, true
	}
	return "", false
}

// Ptr returns a pointer to v. Handy for optional fields.
func Ptr[T any](v T) *T { return &v }

// Deref returns *p, or the zero value when p is nil.
func Deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
