package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, nil, nil)
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func TestSendReachesEveryTabOfUser(t *testing.T) {
	hub := startHub(t)
	user, other := uuid.New(), uuid.New()
	tabs := []*Client{
		{Hub: hub, UserID: user, Send: make(chan []byte, 4)},
		{Hub: hub, UserID: user, Send: make(chan []byte, 4)},
		{Hub: hub, UserID: other, Send: make(chan []byte, 4)},
	}
	for _, c := range tabs {
		require.True(t, hub.join(c))
	}
	require.Eventually(t, func() bool { return hub.Connected(user) == 2 }, time.Second, 5*time.Millisecond)

	hub.Send(user, EventSaveStatus, map[string]string{"status": "stale"})

	for _, c := range tabs[:2] {
		select {
		case frame := <-c.Send:
			var env struct {
				Type string            `json:"type"`
				Data map[string]string `json:"data"`
			}
			require.NoError(t, json.Unmarshal(frame, &env))
			assert.Equal(t, EventSaveStatus, env.Type)
			assert.Equal(t, "stale", env.Data["status"])
		case <-time.After(time.Second):
			t.Fatal("tab did not receive the event")
		}
	}
	assert.Empty(t, tabs[2].Send)
}

func TestLeaveClosesSendOnce(t *testing.T) {
	hub := startHub(t)
	c := &Client{Hub: hub, UserID: uuid.New(), Send: make(chan []byte, 1)}
	require.True(t, hub.join(c))

	hub.leave(c)
	hub.leave(c)
	require.Eventually(t, func() bool { return hub.Connected(c.UserID) == 0 }, time.Second, 5*time.Millisecond)

	_, open := <-c.Send
	assert.False(t, open)
}

func TestSignalsReachCallback(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	got := make(chan Signal, 1)
	hub.OnSignal(func(s Signal) { got <- s })

	visible := false
	hub.signal(Signal{UserID: uuid.New(), Type: "visibility", Visible: &visible})

	s := <-got
	assert.Equal(t, "visibility", s.Type)
	require.NotNil(t, s.Visible)
	assert.False(t, *s.Visible)
}

func TestClientHandleRoutesSignals(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	got := make(chan Signal, 2)
	hub.OnSignal(func(s Signal) { got <- s })
	user := uuid.New()
	c := &Client{Hub: hub, UserID: user, Send: make(chan []byte, 2)}

	c.handle([]byte(`{"type":"connectivity","online":false}`))
	s := <-got
	assert.Equal(t, user, s.UserID)
	require.NotNil(t, s.Online)
	assert.False(t, *s.Online)

	c.handle([]byte(`{"type":"ping"}`))
	var env Envelope
	require.NoError(t, json.Unmarshal(<-c.Send, &env))
	assert.Equal(t, EventPong, env.Type)

	c.handle([]byte(`{"type":"shutdown"}`))
	c.handle([]byte(`not json`))
	assert.Empty(t, got)
	assert.Empty(t, c.Send)
}
