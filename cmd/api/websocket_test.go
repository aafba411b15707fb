package main

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	go hub.Run()

	router := gin.New()
	router.GET("/ws", hub.Handler())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcast(t *testing.T) {
	hub, srv := newTestHubServer(t)
	conn := dialWS(t, srv)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Broadcast("trade_update", map[string]string{"symbol": "BTC-USD"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(message, &frame))
	assert.Equal(t, "trade_update", frame.Type)
	assert.False(t, frame.Timestamp.IsZero())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, "BTC-USD", payload["symbol"])
}

func TestHubPingPong(t *testing.T) {
	_, srv := newTestHubServer(t)
	conn := dialWS(t, srv)

	ping, err := json.Marshal(Frame{Type: "ping", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ping))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(message, &frame))
	assert.Equal(t, "pong", frame.Type)
}

func TestHubClientDisconnect(t *testing.T) {
	hub, srv := newTestHubServer(t)
	conn := dialWS(t, srv)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
