package timer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/pomodoro/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func newTestEngine(t *testing.T, cfg types.PomodoroConfig) (*Engine, chan types.TimerEvent) {
	t.Helper()
	events := make(chan types.TimerEvent, 1<<14)
	return New(cfg, events), events
}

func shortConfig() types.PomodoroConfig {
	return types.PomodoroConfig{WorkMinutes: 1, BreakMinutes: 1, LongBreakMinutes: 2}
}

// drainKinds returns the kinds of every buffered event, skipping ticks.
func drainKinds(events chan types.TimerEvent) []types.EventKind {
	var kinds []types.EventKind
	for {
		select {
		case ev := <-events:
			if ev.Kind != types.EventTick {
				kinds = append(kinds, ev.Kind)
			}
		default:
			return kinds
		}
	}
}

func tickN(t *testing.T, e *Engine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := e.Tick()
		require.NoError(t, err)
	}
}

// ============================================================================
// Transitions
// ============================================================================

func TestNewEngineIsStopped(t *testing.T) {
	e, _ := newTestEngine(t, types.DefaultPomodoroConfig())
	state := e.State()

	assert.Equal(t, types.PhaseStopped, state.Phase)
	assert.Equal(t, uint32(0), state.RemainingSeconds)
	assert.Equal(t, uint32(0), state.PomodoroCount)
	assert.Nil(t, state.TaskName)
}

func TestStart(t *testing.T) {
	e, events := newTestEngine(t, types.DefaultPomodoroConfig())

	require.NoError(t, e.Start(types.StartParams{TaskName: types.Ptr("Write report")}))

	state := e.State()
	assert.Equal(t, types.PhaseWorking, state.Phase)
	assert.Equal(t, uint32(1500), state.RemainingSeconds)
	assert.Equal(t, "Write report", types.Deref(state.TaskName))

	ev := <-events
	assert.Equal(t, types.EventWorkStarted, ev.Kind)
	assert.Equal(t, "Write report", types.Deref(ev.TaskName))
	assert.Equal(t, types.PhaseWorking, ev.State.Phase)
	assert.False(t, ev.At.IsZero())

	err := e.Start(types.StartParams{})
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
}

func TestStartWithOverrides(t *testing.T) {
	e, _ := newTestEngine(t, types.DefaultPomodoroConfig())

	require.NoError(t, e.Start(types.StartParams{
		WorkMinutes: types.Ptr(uint32(50)),
		AutoCycle:   types.Ptr(true),
	}))

	state := e.State()
	assert.Equal(t, uint32(3000), state.RemainingSeconds)
	assert.Equal(t, uint32(50), state.Config.WorkMinutes)
	assert.True(t, state.Config.AutoCycle)
}

func TestStartRejectsInvalidOverrides(t *testing.T) {
	e, events := newTestEngine(t, types.DefaultPomodoroConfig())

	err := e.Start(types.StartParams{WorkMinutes: types.Ptr(uint32(0))})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))

	state := e.State()
	assert.Equal(t, types.PhaseStopped, state.Phase)
	assert.Equal(t, uint32(25), state.Config.WorkMinutes, "rejected overrides must not persist")
	assert.Empty(t, drainKinds(events))
}

func TestPauseResume(t *testing.T) {
	e, events := newTestEngine(t, types.DefaultPomodoroConfig())
	require.NoError(t, e.Start(types.StartParams{}))
	tickN(t, e, 10)

	before := e.State().RemainingSeconds
	require.NoError(t, e.Pause())
	assert.Equal(t, types.PhasePaused, e.State().Phase)
	assert.Equal(t, types.PhaseWorking, e.State().PausedFrom)

	changed, err := e.Tick()
	require.NoError(t, err)
	assert.False(t, changed, "paused timers do not count down")

	assert.True(t, errors.Is(e.Pause(), ErrNotRunning))

	require.NoError(t, e.Resume())
	state := e.State()
	assert.Equal(t, types.PhaseWorking, state.Phase)
	assert.Equal(t, before, state.RemainingSeconds)
	assert.Equal(t, types.Phase(""), state.PausedFrom)

	assert.True(t, errors.Is(e.Resume(), ErrNotPaused))
	assert.Equal(t,
		[]types.EventKind{types.EventWorkStarted, types.EventPaused, types.EventResumed},
		drainKinds(events))
}

func TestPauseResumeDuringBreak(t *testing.T) {
	e, _ := newTestEngine(t, shortConfig())
	require.NoError(t, e.Start(types.StartParams{}))
	tickN(t, e, 60)
	require.Equal(t, types.PhaseBreaking, e.State().Phase)

	require.NoError(t, e.Pause())
	require.NoError(t, e.Resume())
	assert.Equal(t, types.PhaseBreaking, e.State().Phase)
}

func TestResumeFallsBackToWorking(t *testing.T) {
	e, _ := newTestEngine(t, types.DefaultPomodoroConfig())
	e.state.Phase = types.PhasePaused
	e.state.RemainingSeconds = 42

	require.NoError(t, e.Resume())
	assert.Equal(t, types.PhaseWorking, e.State().Phase)
	assert.Equal(t, uint32(42), e.State().RemainingSeconds)
}

func TestStop(t *testing.T) {
	e, events := newTestEngine(t, types.DefaultPomodoroConfig())

	assert.True(t, errors.Is(e.Stop(), ErrNotRunning))

	require.NoError(t, e.Start(types.StartParams{TaskName: types.Ptr("Focus")}))
	require.NoError(t, e.Pause())
	require.NoError(t, e.Stop())

	state := e.State()
	assert.Equal(t, types.PhaseStopped, state.Phase)
	assert.Equal(t, uint32(0), state.RemainingSeconds)
	assert.Nil(t, state.TaskName)
	assert.Equal(t, types.Phase(""), state.PausedFrom)
	assert.Equal(t,
		[]types.EventKind{types.EventWorkStarted, types.EventPaused, types.EventStopped},
		drainKinds(events))
}

func TestTickOrderOnCompletion(t *testing.T) {
	e, events := newTestEngine(t, shortConfig())
	require.NoError(t, e.Start(types.StartParams{TaskName: types.Ptr("Focus")}))
	<-events

	tickN(t, e, 59)
	for i := 0; i < 59; i++ {
		ev := <-events
		require.Equal(t, types.EventTick, ev.Kind)
	}

	changed, err := e.Tick()
	require.NoError(t, err)
	assert.True(t, changed)

	tick := <-events
	assert.Equal(t, types.EventTick, tick.Kind)
	assert.Equal(t, uint32(0), tick.RemainingSeconds)

	done := <-events
	assert.Equal(t, types.EventWorkCompleted, done.Kind)
	assert.Equal(t, uint32(1), done.PomodoroCount)
	assert.Equal(t, "Focus", types.Deref(done.TaskName))

	brk := <-events
	assert.Equal(t, types.EventBreakStarted, brk.Kind)
	assert.False(t, brk.IsLongBreak)

	state := e.State()
	assert.Equal(t, types.PhaseBreaking, state.Phase)
	assert.Equal(t, uint32(60), state.RemainingSeconds)
	assert.Equal(t, uint32(1), state.PomodoroCount)
}

func TestBreakCompletesToStopped(t *testing.T) {
	e, events := newTestEngine(t, shortConfig())
	require.NoError(t, e.Start(types.StartParams{TaskName: types.Ptr("Focus")}))
	tickN(t, e, 120)

	state := e.State()
	assert.Equal(t, types.PhaseStopped, state.Phase)
	assert.Equal(t, uint32(0), state.RemainingSeconds)
	assert.Nil(t, state.TaskName)
	assert.Equal(t, uint32(1), state.PomodoroCount)

	assert.Equal(t, []types.EventKind{
		types.EventWorkStarted,
		types.EventWorkCompleted,
		types.EventBreakStarted,
		types.EventBreakCompleted,
	}, drainKinds(events), "auto-stop emits no Stopped event")
}

func TestAutoCycleKeepsTask(t *testing.T) {
	cfg := shortConfig()
	cfg.AutoCycle = true
	e, events := newTestEngine(t, cfg)
	require.NoError(t, e.Start(types.StartParams{TaskName: types.Ptr("Focus")}))
	tickN(t, e, 120)

	state := e.State()
	assert.Equal(t, types.PhaseWorking, state.Phase)
	assert.Equal(t, uint32(60), state.RemainingSeconds)
	assert.Equal(t, "Focus", types.Deref(state.TaskName))

	assert.Equal(t, []types.EventKind{
		types.EventWorkStarted,
		types.EventWorkCompleted,
		types.EventBreakStarted,
		types.EventBreakCompleted,
		types.EventWorkStarted,
	}, drainKinds(events))
}

func TestEveryFourthPomodoroIsLongBreak(t *testing.T) {
	cfg := shortConfig()
	cfg.AutoCycle = true
	e, events := newTestEngine(t, cfg)
	require.NoError(t, e.Start(types.StartParams{}))

	for cycle := 1; cycle <= 8; cycle++ {
		tickN(t, e, 60)
		state := e.State()
		require.Equal(t, uint32(cycle), state.PomodoroCount)

		if cycle%4 == 0 {
			assert.Equal(t, types.PhaseLongBreaking, state.Phase, "cycle %d", cycle)
			assert.Equal(t, uint32(120), state.RemainingSeconds)
			tickN(t, e, 120)
		} else {
			assert.Equal(t, types.PhaseBreaking, state.Phase, "cycle %d", cycle)
			assert.Equal(t, uint32(60), state.RemainingSeconds)
			tickN(t, e, 60)
		}
	}

	var long []bool
	for ev := range drainAll(events) {
		if ev.Kind == types.EventBreakStarted {
			long = append(long, ev.IsLongBreak)
		}
	}
	assert.Equal(t, []bool{false, false, false, true, false, false, false, true}, long)
}

func TestPomodoroCountSurvivesStop(t *testing.T) {
	e, _ := newTestEngine(t, shortConfig())
	require.NoError(t, e.Start(types.StartParams{}))
	tickN(t, e, 60)
	require.NoError(t, e.Stop())

	require.NoError(t, e.Start(types.StartParams{}))
	assert.Equal(t, uint32(1), e.State().PomodoroCount)
}

func TestTickWhenStopped(t *testing.T) {
	e, events := newTestEngine(t, types.DefaultPomodoroConfig())
	changed, err := e.Tick()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, events, 0)
}

func TestUpdateConfig(t *testing.T) {
	e, _ := newTestEngine(t, types.DefaultPomodoroConfig())

	err := e.UpdateConfig(types.PomodoroConfig{WorkMinutes: 200, BreakMinutes: 5, LongBreakMinutes: 15})
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))

	require.NoError(t, e.UpdateConfig(shortConfig()))
	require.NoError(t, e.Start(types.StartParams{}))
	assert.Equal(t, uint32(60), e.State().RemainingSeconds)

	assert.ErrorIs(t, e.UpdateConfig(types.DefaultPomodoroConfig()), ErrAlreadyRunning)
	assert.Equal(t, uint32(1), e.State().Config.WorkMinutes)
}

func TestEventDeliveryFailure(t *testing.T) {
	events := make(chan types.TimerEvent, 1)
	e := New(types.DefaultPomodoroConfig(), events)

	require.NoError(t, e.Start(types.StartParams{}))

	_, err := e.Tick()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEventDelivery))
}

func TestNilEventChannelDiscards(t *testing.T) {
	e := New(shortConfig(), nil)
	require.NoError(t, e.Start(types.StartParams{}))
	for i := 0; i < 60; i++ {
		_, err := e.Tick()
		require.NoError(t, err)
	}
	assert.Equal(t, types.PhaseBreaking, e.State().Phase)
}

func drainAll(events chan types.TimerEvent) <-chan types.TimerEvent {
	out := make(chan types.TimerEvent, len(events))
	for {
		select {
		case ev := <-events:
			out <- ev
		default:
			close(out)
			return out
		}
	}
}
