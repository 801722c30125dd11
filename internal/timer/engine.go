// ============================================================================
// Pomodoro Timer Engine - phase state machine
// ============================================================================
//
// Package: internal/timer
// File: engine.go
//
// State machine:
//   Stopped
//      ↓ Start()
//   Working ──(remaining hits 0)──► Breaking / LongBreaking
//      ▲                                   │
//      └──────── auto-cycle ◄──────────────┘ (otherwise back to Stopped)
//
//   Any active phase ⇄ Paused via Pause() / Resume().
//   Stop() resets to Stopped from any running phase; the pomodoro count survives.
//
// Concurrency:
//   The engine is NOT locked internally. The daemon owns one engine behind a
//   mutex and is the only caller. Events are pushed onto a buffered channel
//   without blocking; a full channel is reported as ErrEventDelivery and the
//   daemon treats it as fatal.
//
// ============================================================================

package timer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/pomodoro/pkg/types"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// Start was called while the timer is not stopped.
	ErrAlreadyRunning = errors.New("timer is already running")
	// Pause was called while no countdown is active.
	ErrNotRunning = errors.New("timer is not running")
	// Resume was called while the timer is not paused.
	ErrNotPaused = errors.New("timer is not paused")
	// The event consumer has gone away or fallen too far behind.
	ErrEventDelivery = errors.New("timer event could not be delivered")
)

// ============================================================================
// Engine
// ============================================================================

// Engine owns a TimerState and drives it through its transitions.
type Engine struct {
	state  types.TimerState
	events chan<- types.TimerEvent
	now    func() time.Time
}

// New creates a stopped engine. Events are sent to events; a nil channel
// discards them.
func New(cfg types.PomodoroConfig, events chan<- types.TimerEvent) *Engine {
	return &Engine{
		state: types.TimerState{
			Phase:  types.PhaseStopped,
			Config: cfg,
		},
		events: events,
		now:    time.Now,
	}
}

// State returns a snapshot of the current state.
func (e *Engine) State() types.TimerState {
	return e.state
}

// UpdateConfig replaces the stored configuration while the timer is stopped.
func (e *Engine) UpdateConfig(cfg types.PomodoroConfig) error {
	if e.state.Phase != types.PhaseStopped {
		return ErrAlreadyRunning
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.state.Config = cfg
	return nil
}

// Start begins a work phase. Overrides in params are validated against the
// stored config and persist only when the start succeeds.
func (e *Engine) Start(params types.StartParams) error {
	if e.state.Phase != types.PhaseStopped {
		return ErrAlreadyRunning
	}

	cfg := e.state.Config.Apply(params)
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.state.Config = cfg
	e.state.TaskName = params.TaskName
	e.startWorking()
	return e.emit(types.WorkStarted(e.state.TaskName))
}

// Pause suspends an active countdown.
func (e *Engine) Pause() error {
	if !e.state.Phase.IsActive() {
		return ErrNotRunning
	}

	e.state.PausedFrom = e.state.Phase
	e.state.Phase = types.PhasePaused
	return e.emit(types.Paused())
}

// Resume continues a paused countdown with the same remaining seconds.
func (e *Engine) Resume() error {
	if e.state.Phase != types.PhasePaused {
		return ErrNotPaused
	}

	target := e.state.PausedFrom
	if !target.IsActive() {
		// Pause always records the phase it left, so this only guards against
		// a state built by hand.
		slog.Default().Warn("paused without a previous phase, resuming into work", "component", "timer")
		target = types.PhaseWorking
	}

	e.state.Phase = target
	e.state.PausedFrom = ""
	return e.emit(types.Resumed())
}

// Stop returns to Stopped from an active or paused phase.
func (e *Engine) Stop() error {
	if e.state.Phase == types.PhaseStopped {
		return ErrNotRunning
	}
	e.reset()
	return e.emit(types.Stopped())
}

// Tick advances the countdown by one second. It reports whether the state
// changed; ticks outside an active phase do nothing.
func (e *Engine) Tick() (bool, error) {
	if !e.state.Phase.IsActive() {
		return false, nil
	}

	if e.state.RemainingSeconds > 0 {
		e.state.RemainingSeconds--
	}
	if err := e.emit(types.Tick(e.state.RemainingSeconds)); err != nil {
		return true, err
	}

	if e.state.RemainingSeconds == 0 {
		return true, e.complete()
	}
	return true, nil
}

// ============================================================================
// Internal transitions
// ============================================================================

func (e *Engine) complete() error {
	switch e.state.Phase {
	case types.PhaseWorking:
		e.state.PomodoroCount++
		if err := e.emit(types.WorkCompleted(e.state.PomodoroCount, e.state.TaskName)); err != nil {
			return err
		}
		return e.startBreak()

	case types.PhaseBreaking, types.PhaseLongBreaking:
		long := e.state.Phase == types.PhaseLongBreaking
		if err := e.emit(types.BreakCompleted(long)); err != nil {
			return err
		}
		if e.state.Config.AutoCycle {
			e.startWorking()
			return e.emit(types.WorkStarted(e.state.TaskName))
		}
		// BreakCompleted closes the cycle; no separate Stopped event.
		e.reset()
		return nil
	}
	return nil
}

func (e *Engine) startWorking() {
	e.state.Phase = types.PhaseWorking
	e.state.PausedFrom = ""
	e.state.RemainingSeconds = e.state.Config.PhaseSeconds(types.PhaseWorking)
}

func (e *Engine) startBreak() error {
	long := e.state.PomodoroCount > 0 && e.state.PomodoroCount%types.LongBreakInterval == 0
	if long {
		e.state.Phase = types.PhaseLongBreaking
	} else {
		e.state.Phase = types.PhaseBreaking
	}
	e.state.RemainingSeconds = e.state.Config.PhaseSeconds(e.state.Phase)
	return e.emit(types.BreakStarted(long))
}

// reset clears everything except the config and the pomodoro count.
func (e *Engine) reset() {
	e.state.Phase = types.PhaseStopped
	e.state.PausedFrom = ""
	e.state.RemainingSeconds = 0
	e.state.TaskName = nil
}

func (e *Engine) emit(ev types.TimerEvent) error {
	if e.events == nil {
		return nil
	}

	ev.State = e.state
	ev.At = e.now()

	select {
	case e.events <- ev:
		return nil
	default:
		return fmt.Errorf("%w: %s (buffer of %d full)", ErrEventDelivery, ev.Kind, cap(e.events))
	}
}
