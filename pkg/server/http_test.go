package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aeolun/craftlink/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthAndMetrics(t *testing.T) {
	srv, _, _ := startTestServer(t)
	ts := httptest.NewServer(srv.HTTPHandler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "craftlink_active_sessions")
}

func TestWebSocketRejectedAfterStop(t *testing.T) {
	srv, _, _ := startTestServer(t)
	ts := httptest.NewServer(srv.HTTPHandler())
	defer ts.Close()

	require.NoError(t, srv.Stop())

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 0, srv.SessionCount())
}

func TestWebSocketTransport(t *testing.T) {
	srv, db, addr := startTestServer(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	ts := httptest.NewServer(srv.HTTPHandler())
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	frame, err := protocol.EncodeFrame(map[string]any{"type": "login", "username": "alice", "password": "secret", "seq": "w1"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, frame))

	readWS := func() map[string]any {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		m, err := protocol.DecodeFrame(data)
		require.NoError(t, err)
		return m
	}

	login := readWS()
	require.Equal(t, true, login["success"], login["message"])
	assert.Equal(t, "w1", login["seq"])

	// A TCP client can push to the WebSocket session
	b := connectClient(t, addr)
	b.login("bob")
	b.call(map[string]any{"type": "send_message", "sender_id": bob, "receiver_id": alice, "content": "across transports"})

	push := readWS()
	assert.Equal(t, protocol.TypeRealTimeMessage, push["type"])

	resp, err := http.Get(ts.URL + "/online")
	require.NoError(t, err)
	defer resp.Body.Close()
	var online struct {
		OnlineUsers []int64 `json:"online_users"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&online))
	assert.ElementsMatch(t, []int64{alice, bob}, online.OnlineUsers)
}
