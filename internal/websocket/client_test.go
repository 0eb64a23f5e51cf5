package websocket

import (
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptions_Defaults(t *testing.T) {
	tests := []struct {
		name     string
		in       ClientOptions
		wantPong time.Duration
		wantPing time.Duration
	}{
		{"zero", ClientOptions{}, 60 * time.Second, 54 * time.Second},
		{"explicit", ClientOptions{PongWait: 10 * time.Second, PingPeriod: 5 * time.Second}, 10 * time.Second, 5 * time.Second},
		{"ping not shorter than pong", ClientOptions{PongWait: 10 * time.Second, PingPeriod: 10 * time.Second}, 10 * time.Second, 9 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.withDefaults()
			assert.Equal(t, tt.wantPong, got.PongWait)
			assert.Equal(t, tt.wantPing, got.PingPeriod)
		})
	}
}

func TestClient_WritePumpSendsQueuedMessages(t *testing.T) {
	hub := NewHub(testLogger())
	client, conn := newTestClient(hub)

	done := make(chan struct{})
	go func() {
		client.WritePump()
		close(done)
	}()

	client.send <- []byte(`{"type":"license:state"}`)
	close(client.send)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write pump did not stop")
	}

	written := conn.Written()
	require.Len(t, written, 2)
	assert.Equal(t, websocket.TextMessage, written[0].Type)
	assert.JSONEq(t, `{"type":"license:state"}`, string(written[0].Data))
	assert.Equal(t, websocket.CloseMessage, written[1].Type)
	assert.True(t, conn.IsClosed())
}

func TestClient_WritePumpStopsOnWriteError(t *testing.T) {
	hub := NewHub(testLogger())
	client, conn := newTestClient(hub)
	conn.SetWriteError(errors.New("broken pipe"))

	done := make(chan struct{})
	go func() {
		client.WritePump()
		close(done)
	}()
	client.send <- []byte(`{}`)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write pump did not stop")
	}
	assert.True(t, conn.IsClosed())
}

func TestClient_WritePumpPings(t *testing.T) {
	hub := NewHub(testLogger())
	conn := NewMockConnection()
	client := NewClient(hub, conn, "", ClientOptions{PongWait: 40 * time.Millisecond, PingPeriod: 10 * time.Millisecond}, testLogger())

	go client.WritePump()
	defer close(client.send)

	assert.Eventually(t, func() bool {
		for _, m := range conn.Written() {
			if m.Type == websocket.PingMessage {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestClient_ReadPumpUnregistersOnClose(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	client, conn := newTestClient(hub)
	hub.Register(client)
	receive(t, client)

	done := make(chan struct{})
	go func() {
		client.ReadPump()
		close(done)
	}()

	conn.AddReadMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
	assert.Equal(t, 1, hub.ClientCount())

	require.NoError(t, conn.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read pump did not stop")
	}
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, int64(maxMessageSize), conn.readLimit)
	assert.NotNil(t, conn.pongHandler)
}
