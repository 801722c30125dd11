package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/pomodoro/internal/ipc"
	"github.com/ChuLiYu/pomodoro/pkg/types"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func waitForClients(t *testing.T, b *Broadcaster, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastEvents(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, b, 1)

	ev := types.WorkStarted(types.Ptr("Focus"))
	ev.State = types.TimerState{
		Phase:            types.PhaseWorking,
		RemainingSeconds: 1500,
		TaskName:         types.Ptr("Focus"),
		Config:           types.DefaultPomodoroConfig(),
	}
	ev.At = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, b.HandleEvent(context.Background(), ev))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, types.EventWorkStarted, msg.Kind)
	assert.Equal(t, types.PhaseWorking, msg.Phase)
	assert.Equal(t, uint32(1500), msg.RemainingSeconds)
	assert.Equal(t, uint32(1500), msg.Duration)
	assert.Equal(t, "Focus", types.Deref(msg.TaskName))
	assert.True(t, ev.At.Equal(msg.Timestamp))
}

func TestClientDisconnectUnsubscribes(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, b, 1)

	conn.Close(websocket.StatusNormalClosure, "bye")
	waitForClients(t, b, 0)

	assert.NoError(t, b.HandleEvent(context.Background(), types.Stopped()))
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(WithBuffer(1))
	c := b.subscribe()
	defer b.unsubscribe(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.HandleEvent(context.Background(), types.Tick(uint32(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleEvent blocked on a full client buffer")
	}
	assert.Len(t, c.send, 1)
}

func TestControlRequests(t *testing.T) {
	handler := ipc.HandlerFunc(func(req ipc.Request) ipc.Response {
		return ipc.Success("handled "+req.Command, nil)
	})
	b := NewBroadcaster(WithControl(handler))
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dial(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"command":"pause"}`)))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var resp ipc.Response
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.True(t, resp.OK())
	assert.Equal(t, "handled pause", resp.Message)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"command":"dance"}`)))
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.False(t, resp.OK())
	assert.Contains(t, resp.Message, "invalid request")
}
