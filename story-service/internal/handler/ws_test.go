package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel-server/pkg/jobtracker"
)

// serverConn поднимает echo-сервер и возвращает серверную сторону одного
// WebSocket соединения.
func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()

	upgraded := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgraded <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialed, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dialed.Close() })

	select {
	case conn := <-upgraded:
		return conn
	case <-time.After(time.Second):
		t.Fatal("websocket upgrade timed out")
		return nil
	}
}

func TestConnectionManager_StaleUnregisterKeepsNewClient(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())

	old := &Client{StoryID: "story-1", Conn: serverConn(t), send: make(chan []byte, 1)}
	fresh := &Client{StoryID: "story-1", Conn: serverConn(t), send: make(chan []byte, 1)}

	m.register <- old
	m.register <- fresh
	// readPump вытесненного соединения завершается позже и шлет
	// отписку уже после регистрации нового клиента.
	m.unregister <- old

	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.clients["story-1"] == fresh
	}, time.Second, 5*time.Millisecond, "stale unregister must not evict the fresh client")

	m.SendToClient("story-1", jobtracker.ProgressUpdate{Progress: 50})
	select {
	case body := <-fresh.send:
		assert.Contains(t, string(body), `"progress":50`)
	case <-time.After(time.Second):
		t.Fatal("fresh client did not receive the update")
	}
}

func TestConnectionManager_UnregisterRemovesOwnClient(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())

	client := &Client{StoryID: "story-2", Conn: serverConn(t), send: make(chan []byte, 1)}
	m.register <- client
	m.unregister <- client

	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		_, ok := m.clients["story-2"]
		return !ok
	}, time.Second, 5*time.Millisecond)

	// Канал закрыт менеджером при отписке.
	select {
	case _, open := <-client.send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
}
