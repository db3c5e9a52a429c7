package server

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aeolun/craftlink/pkg/database"
	"github.com/aeolun/craftlink/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Integration test helpers

// startTestServer starts a real server on a random port backed by a fresh
// SQLite database
func startTestServer(t *testing.T) (*Server, *database.DB, string) {
	t.Helper()

	db, err := database.Open(t.TempDir()+"/test.db", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := DefaultConfig()
	cfg.TCPPort = 0
	cfg.HTTPPort = 0

	srv := NewServer(cfg, StoresFromDB(db), Options{Logger: zap.NewNop()})
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return srv, db, srv.Addr().String()
}

var userSeq atomic.Int64

func createUser(t *testing.T, db *database.DB, name string) int64 {
	t.Helper()
	n := userSeq.Add(1)
	id, err := db.CreateUser(database.NewUser{
		Username:   name,
		Password:   "secret",
		Nickname:   name,
		Email:      fmt.Sprintf("%s@example.com", name),
		Phone:      fmt.Sprintf("1390000%04d", n),
		PlayerName: name,
	})
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", name, err)
	}
	return id
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	seq  int
}

func connectClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(req map[string]any) {
	c.t.Helper()
	if err := protocol.WriteFrame(c.conn, req); err != nil {
		c.t.Fatalf("Failed to send request: %v", err)
	}
}

func (c *testClient) recv() map[string]any {
	c.t.Helper()
	frame, err := c.tryRecv(2 * time.Second)
	if err != nil {
		c.t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

func (c *testClient) tryRecv(timeout time.Duration) (map[string]any, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	body, err := protocol.ReadFrame(c.conn, 0)
	if err != nil {
		return nil, err
	}
	var frame map[string]any
	if err := json.Unmarshal(body, &frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// call sends req with a fresh seq and returns the matching response
func (c *testClient) call(req map[string]any) map[string]any {
	c.t.Helper()
	c.seq++
	req["seq"] = c.seq
	c.send(req)

	resp := c.recv()
	if resp["type"] == protocol.TypeRealTimeMessage {
		c.t.Fatalf("Expected response to %v, got push %v", req["type"], resp)
	}
	if resp["seq"] != float64(c.seq) {
		c.t.Fatalf("Expected seq %d, got %v", c.seq, resp["seq"])
	}
	return resp
}

func (c *testClient) login(name string) map[string]any {
	c.t.Helper()
	resp := c.call(map[string]any{"type": "login", "username": name, "password": "secret"})
	if resp["success"] != true {
		c.t.Fatalf("Login %s failed: %v", name, resp["message"])
	}
	return resp
}

func idList(v any) []int64 {
	var out []int64
	for _, x := range v.([]any) {
		out = append(out, int64(x.(float64)))
	}
	return out
}

func TestLoginAndRealTimePush(t *testing.T) {
	_, db, addr := startTestServer(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	a := connectClient(t, addr)
	b := connectClient(t, addr)
	a.login("alice")
	resp := b.login("bob")

	assert.ElementsMatch(t, []int64{alice, bob}, idList(resp["online_users"]))
	user := resp["user"].(map[string]any)
	assert.Equal(t, "bob", user["username"])

	sent := a.call(map[string]any{"type": "send_message", "sender_id": alice, "receiver_id": bob, "content": "hello"})
	assert.Equal(t, true, sent["success"])
	assert.Equal(t, "send_message", sent["type"])

	push := b.recv()
	assert.Equal(t, protocol.TypeRealTimeMessage, push["type"])
	assert.NotContains(t, push, "seq")
	msg := push["message"].(map[string]any)
	assert.Equal(t, "hello", msg["content"])
	assert.Equal(t, float64(alice), msg["sender_id"])

	unread := b.call(map[string]any{"type": "get_unread_messages", "user_id": bob})
	assert.Equal(t, 1.0, unread["unread_count"])
	assert.Equal(t, map[string]any{strconv.FormatInt(alice, 10): 1.0}, unread["unread_details"])

	read := b.call(map[string]any{"type": "mark_messages_as_read", "user_id": bob, "contact_id": alice})
	assert.Equal(t, 0.0, read["unread_count"])

	// A fresh message after the read is counted again
	sent = a.call(map[string]any{"type": "send_message", "sender_id": alice, "receiver_id": bob, "content": "again"})
	require.Equal(t, true, sent["success"])
	push = b.recv()
	assert.Equal(t, "again", push["message"].(map[string]any)["content"])

	unread = b.call(map[string]any{"type": "get_unread_messages", "user_id": bob})
	assert.Equal(t, 1.0, unread["unread_count"])
	assert.Equal(t, map[string]any{strconv.FormatInt(alice, 10): 1.0}, unread["unread_details"])
}

func TestDuplicateLoginRejected(t *testing.T) {
	srv, db, addr := startTestServer(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	first := connectClient(t, addr)
	first.login("alice")

	second := connectClient(t, addr)
	resp := second.call(map[string]any{"type": "login", "username": "alice", "password": "secret"})
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, ErrDuplicateLogin.Error(), resp["message"])

	// The original binding still receives pushes
	b := connectClient(t, addr)
	b.login("bob")
	b.call(map[string]any{"type": "send_message", "sender_id": bob, "receiver_id": alice, "content": "still there?"})
	push := first.recv()
	assert.Equal(t, protocol.TypeRealTimeMessage, push["type"])

	// The rejected connection stays usable
	pong := second.call(map[string]any{"type": "get_users_count"})
	assert.Equal(t, true, pong["success"])

	conn, ok := srv.Presence().Lookup(alice)
	require.True(t, ok)
	assert.NotNil(t, conn)
}

func TestConcurrentLoginsSingleWinner(t *testing.T) {
	_, db, addr := startTestServer(t)
	createUser(t, db, "alice")

	const n = 8
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		c := connectClient(t, addr)
		go func() {
			c.send(map[string]any{"type": "login", "username": "alice", "password": "secret"})
			frame, err := c.tryRecv(5 * time.Second)
			results <- err == nil && frame["success"] == true
		}()
	}

	wins := 0
	for i := 0; i < n; i++ {
		if <-results {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestDisconnectReleasesIdentity(t *testing.T) {
	srv, db, addr := startTestServer(t)
	alice := createUser(t, db, "alice")

	a := connectClient(t, addr)
	a.login("alice")
	a.conn.Close()

	require.Eventually(t, func() bool {
		_, bound := srv.Presence().Lookup(alice)
		online, _ := db.IsOnline(alice)
		return !bound && !online
	}, 2*time.Second, 10*time.Millisecond)

	again := connectClient(t, addr)
	again.login("alice")
}

func TestLogoutKeepsConnectionOpen(t *testing.T) {
	srv, db, addr := startTestServer(t)
	alice := createUser(t, db, "alice")

	a := connectClient(t, addr)
	a.login("alice")

	resp := a.call(map[string]any{"type": "logout"})
	assert.Equal(t, true, resp["success"])
	assert.NotContains(t, idList(resp["online_users"]), alice)
	_, bound := srv.Presence().Lookup(alice)
	assert.False(t, bound)

	a.login("alice")
	_, bound = srv.Presence().Lookup(alice)
	assert.True(t, bound)
}

func TestOfflineMessagesCountedAtLogin(t *testing.T) {
	_, db, addr := startTestServer(t)
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	a := connectClient(t, addr)
	a.login("alice")
	for i := 0; i < 2; i++ {
		a.call(map[string]any{"type": "send_message", "sender_id": alice, "receiver_id": bob, "content": "ping"})
	}

	b := connectClient(t, addr)
	resp := b.login("bob")
	assert.Equal(t, 2.0, resp["unread_count"])
	assert.Equal(t, map[string]any{strconv.FormatInt(alice, 10): 2.0}, resp["unread_details"])
}

func TestUnknownTypeAndValidationKeepConnection(t *testing.T) {
	_, _, addr := startTestServer(t)
	c := connectClient(t, addr)

	resp := c.call(map[string]any{"type": "teleport"})
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "teleport", resp["type"])

	resp = c.call(map[string]any{"type": "send_message", "sender_id": 1})
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["message"], "receiver_id")

	resp = c.call(map[string]any{"type": "get_users_count"})
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, 0.0, resp["count"])
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	_, _, addr := startTestServer(t)
	c := connectClient(t, addr)

	body := []byte(`[1,2,3]`)
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	_, err := c.conn.Write(append(header[:], body...))
	require.NoError(t, err)

	_, err = c.tryRecv(2 * time.Second)
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestStopReleasesSessions(t *testing.T) {
	srv, db, addr := startTestServer(t)
	alice := createUser(t, db, "alice")

	a := connectClient(t, addr)
	a.login("alice")
	require.NoError(t, srv.Stop())

	assert.Empty(t, srv.Presence().ListOnline())
	assert.Equal(t, 0, srv.SessionCount())
	online, err := db.IsOnline(alice)
	require.NoError(t, err)
	assert.False(t, online)
}
