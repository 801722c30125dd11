package hooks

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/ChuLiYu/pomodoro/pkg/types"
)

// Context is the event snapshot handed to hook scripts as environment
// variables.
type Context struct {
	Event         types.HookEvent
	TaskName      *string
	Phase         string
	DurationSecs  uint64
	ElapsedSecs   uint64
	RemainingSecs uint64
	Cycle         uint32
	TotalCycles   uint32
	Timestamp     time.Time
	SessionID     uuid.UUID
}

// NewContext builds a Context for event from the timer state captured when the
// event fired.
func NewContext(event types.HookEvent, state types.TimerState, session uuid.UUID, at time.Time) Context {
	return Context{
		Event:         event,
		TaskName:      state.TaskName,
		Phase:         state.Phase.String(),
		DurationSecs:  uint64(state.Duration()),
		ElapsedSecs:   uint64(state.Elapsed()),
		RemainingSecs: uint64(state.RemainingSeconds),
		Cycle:         cycleOf(event, state),
		TotalCycles:   types.LongBreakInterval,
		Timestamp:     at,
		SessionID:     session,
	}
}

// cycleOf returns the 1-based position of the current pomodoro within its set
// of LongBreakInterval. During a break it is the pomodoro just completed.
func cycleOf(event types.HookEvent, state types.TimerState) uint32 {
	count := state.PomodoroCount
	completed := event == types.HookWorkEnd || state.EffectivePhase().IsBreak()
	if completed && count > 0 {
		return (count-1)%types.LongBreakInterval + 1
	}
	return count%types.LongBreakInterval + 1
}

// Env returns the POMODORO_* variables for this context. Free-text values are
// sanitized so they are safe to interpolate in a shell.
func (c Context) Env() map[string]string {
	env := map[string]string{
		"POMODORO_EVENT":          string(c.Event),
		"POMODORO_PHASE":          Sanitize(c.Phase),
		"POMODORO_DURATION_SECS":  strconv.FormatUint(c.DurationSecs, 10),
		"POMODORO_ELAPSED_SECS":   strconv.FormatUint(c.ElapsedSecs, 10),
		"POMODORO_REMAINING_SECS": strconv.FormatUint(c.RemainingSecs, 10),
		"POMODORO_CYCLE":          strconv.FormatUint(uint64(c.Cycle), 10),
		"POMODORO_TOTAL_CYCLES":   strconv.FormatUint(uint64(c.TotalCycles), 10),
		"POMODORO_TIMESTAMP":      c.Timestamp.Format(time.RFC3339),
		"POMODORO_SESSION_ID":     c.SessionID.String(),
	}
	if c.TaskName != nil {
		env["POMODORO_TASK_NAME"] = Sanitize(*c.TaskName)
	}
	return env
}

// Sanitize keeps letters, digits, spaces and - _ . : / and drops everything
// else.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(" -_.:/", r) {
			return r
		}
		return -1
	}, s)
}
