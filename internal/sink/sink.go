// Package sink holds the best-effort side effects driven by timer events:
// sounds, desktop notifications and focus-mode toggling.
//
// Each sink wraps a small collaborator interface so the platform specific
// command runners in command.go can be swapped for fakes.
package sink

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/pomodoro/pkg/types"
)

// Player plays a named or absolute-path sound.
type Player interface {
	Play(ctx context.Context, source string) error
	Available() bool
}

// Sender delivers desktop notifications.
type Sender interface {
	SendWorkComplete(ctx context.Context, task *string) error
	SendBreakComplete(ctx context.Context, task *string, long bool) error
}

// FocusController toggles the system focus mode.
type FocusController interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
}

// ============================================================================
// Sound
// ============================================================================

// Sound plays a sound when a work phase or a break completes.
type Sound struct {
	player   Player
	workEnd  string
	breakEnd string
}

// NewSound creates a sound sink. An empty source silences that event.
func NewSound(player Player, workEnd, breakEnd string) *Sound {
	return &Sound{player: player, workEnd: workEnd, breakEnd: breakEnd}
}

func (s *Sound) Name() string { return "sound" }

func (s *Sound) HandleEvent(ctx context.Context, ev types.TimerEvent) error {
	var source string
	switch ev.Kind {
	case types.EventWorkCompleted:
		source = s.workEnd
	case types.EventBreakCompleted:
		source = s.breakEnd
	default:
		return nil
	}
	if source == "" || !s.player.Available() {
		return nil
	}
	if err := s.player.Play(ctx, source); err != nil {
		return fmt.Errorf("play %s: %w", source, err)
	}
	return nil
}

// ============================================================================
// Notification
// ============================================================================

// Notification shows a desktop notification when a phase completes.
type Notification struct {
	sender Sender
}

func NewNotification(sender Sender) *Notification {
	return &Notification{sender: sender}
}

func (n *Notification) Name() string { return "notification" }

func (n *Notification) HandleEvent(ctx context.Context, ev types.TimerEvent) error {
	switch ev.Kind {
	case types.EventWorkCompleted:
		return n.sender.SendWorkComplete(ctx, ev.TaskName)
	case types.EventBreakCompleted:
		return n.sender.SendBreakComplete(ctx, ev.State.TaskName, ev.IsLongBreak)
	}
	return nil
}

// ============================================================================
// Focus
// ============================================================================

// Focus enables focus mode for work phases and disables it for breaks and
// on stop. It only acts when the session was started with focus mode on.
type Focus struct {
	controller FocusController
}

func NewFocus(controller FocusController) *Focus {
	return &Focus{controller: controller}
}

func (f *Focus) Name() string { return "focus" }

func (f *Focus) HandleEvent(ctx context.Context, ev types.TimerEvent) error {
	if !ev.State.Config.FocusMode {
		return nil
	}
	switch ev.Kind {
	case types.EventWorkStarted:
		return f.controller.Enable(ctx)
	case types.EventBreakStarted, types.EventStopped:
		return f.controller.Disable(ctx)
	}
	return nil
}
