package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		hub.Stop()
		cancel()
	})

	r := gin.New()
	r.GET("/ws", hub.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, have %d", n, hub.ClientCount())
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub, srv := wsTestServer(t)
	c1 := dial(t, srv)
	c2 := dial(t, srv)
	waitForClients(t, hub, 2)

	hub.Broadcast("action_resolved", map[string]string{"attemptId": "act_1", "outcome": "success"})

	for _, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		assert.Equal(t, "action_resolved", msg.Type)

		var payload map[string]string
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, "act_1", payload["attemptId"])
	}
}

func TestHubTracksDisconnects(t *testing.T) {
	hub, srv := wsTestServer(t)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHubStopDisconnectsClients(t *testing.T) {
	hub, srv := wsTestServer(t)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
