package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func startHub(t *testing.T, viewports ViewportSink) (*Hub, func()) {
	t.Helper()
	hub := NewHub(nil, viewports, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	return hub, func() {
		cancel()
		<-done
	}
}

func subscribe(t *testing.T, hub *Hub, sessionID string) *Client {
	t.Helper()
	client := NewClient(hub, nil, sessionID, "user-1")
	before := hub.Subscribers(sessionID)
	hub.register <- client
	require.Eventually(t, func() bool { return hub.Subscribers(sessionID) == before+1 }, time.Second, 5*time.Millisecond)
	return client
}

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case raw, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestBroadcastToSession_OnlyReachesThatSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub, stop := startHub(t, nil)
	defer stop()

	a1 := subscribe(t, hub, "session-a")
	a2 := subscribe(t, hub, "session-a")
	b := subscribe(t, hub, "session-b")

	require.NoError(t, hub.BroadcastToSession(context.Background(), "session-a", map[string]interface{}{
		"type": "agent_progress",
		"data": map[string]interface{}{"progress": 30},
	}))

	for _, c := range []*Client{a1, a2} {
		msg := receive(t, c)
		assert.Equal(t, "agent_progress", msg["type"])
	}
	assert.Len(t, b.Send, 0)
}

func TestUnregisterClosesSend(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub, stop := startHub(t, nil)
	defer stop()

	c := subscribe(t, hub, "session-a")
	hub.unregister <- c
	require.Eventually(t, func() bool { return hub.Subscribers("session-a") == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-c.Send
	assert.False(t, ok)
	assert.NoError(t, hub.BroadcastToSession(context.Background(), "session-a", map[string]interface{}{"type": "x"}))
}

func TestBroadcastRacingUnregisterDoesNotPanic(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub, stop := startHub(t, nil)
	defer stop()

	clients := make([]*Client, 20)
	for i := range clients {
		clients[i] = subscribe(t, hub, "session-a")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			assert.NoError(t, hub.BroadcastToSession(context.Background(), "session-a", map[string]interface{}{"seq": i}))
		}
	}()
	go func() {
		defer wg.Done()
		for _, c := range clients {
			hub.unregisterClient(c)
		}
	}()
	wg.Wait()

	require.Eventually(t, func() bool { return hub.Subscribers("session-a") == 0 }, time.Second, 5*time.Millisecond)
	for _, c := range clients {
		assert.True(t, c.isClosed())
		assert.False(t, c.trySend([]byte(`{}`)))
	}
}

func TestSlowClientIsDroppedInline(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub, stop := startHub(t, nil)
	defer stop()

	slow := subscribe(t, hub, "session-a")
	for i := 0; i < cap(slow.Send); i++ {
		require.True(t, slow.trySend([]byte(fmt.Sprintf(`{"seq":%d}`, i))))
	}

	require.NoError(t, hub.BroadcastToSession(context.Background(), "session-a", map[string]interface{}{"type": "overflow"}))
	assert.Equal(t, 0, hub.Subscribers("session-a"))
	assert.True(t, slow.isClosed())

	drained := 0
	for range slow.Send {
		drained++
	}
	assert.Equal(t, cap(slow.Send), drained)
}

func TestUnregisterAfterRunReturnsDoesNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub, stop := startHub(t, nil)

	c := subscribe(t, hub, "session-a")
	stop()

	done := make(chan struct{})
	go func() {
		hub.unregisterClient(c)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unregister blocked after the hub stopped")
	}
	assert.True(t, c.isClosed())
	assert.Equal(t, 0, hub.Subscribers("session-a"))
}

func TestHandleInbound(t *testing.T) {
	viewports := memory.NewViewportRepository()
	hub := NewHub(nil, viewports, logger.NewNopLogger())
	c := NewClient(hub, nil, "session-a", "user-1")

	hub.HandleInbound(c, []byte(`{"type":"ping"}`))
	raw := <-c.Send
	assert.JSONEq(t, `{"type":"pong"}`, string(raw))

	hub.HandleInbound(c, []byte(`{"type":"viewport_update","data":{"file_id":"f-1","page":3,"visible_range":[2,4]}}`))
	vp, ok := viewports.Get("session-a", "f-1")
	require.True(t, ok)
	assert.Equal(t, 3, vp.Page)
	assert.Equal(t, [2]int{2, 4}, vp.VisibleRange)

	hub.HandleInbound(c, []byte(`{"type":"viewport_update","data":{"page":1}}`))
	hub.HandleInbound(c, []byte(`not json`))
	assert.Len(t, viewports.List("session-a"), 1)
}
