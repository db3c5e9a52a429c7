package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/aeolun/craftlink/pkg/database"
	"github.com/aeolun/craftlink/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// runPipeSession runs a session on one end of a pipe and returns the other
// end plus a channel closed when the session loop exits
func runPipeSession(t *testing.T, cfg ServerConfig) (*Server, *Session, net.Conn, <-chan struct{}) {
	t.Helper()
	srv := NewServer(cfg, Stores{}, Options{Logger: zap.NewNop()})
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	sess := newSession(1, "pipe", server, srv)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.run(context.Background())
	}()
	return srv, sess, client, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session loop did not exit")
	}
}

func TestSessionAnswersInOrder(t *testing.T) {
	_, _, client, done := runPipeSession(t, DefaultConfig())

	go func() {
		for i := 1; i <= 3; i++ {
			protocol.WriteFrame(client, map[string]any{"type": "get_users_count", "seq": i})
		}
	}()

	for i := 1; i <= 3; i++ {
		body, err := protocol.ReadFrame(client, 0)
		require.NoError(t, err)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.Equal(t, float64(i), resp["seq"])
		assert.Equal(t, "get_users_count", resp["type"])
	}

	client.Close()
	waitDone(t, done)
}

func TestSessionIdleTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	_, _, _, done := runPipeSession(t, cfg)
	waitDone(t, done)
}

func TestSessionOversizedFrameCloses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFrameSize = 16
	_, _, client, done := runPipeSession(t, cfg)

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 1024)
	go client.Write(header[:])

	waitDone(t, done)
	_, err := protocol.ReadFrame(client, 0)
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestSessionReleaseOnExit(t *testing.T) {
	srv, sess, client, done := runPipeSession(t, DefaultConfig())

	require.True(t, srv.presence.TryRegister(5, sess.conn))
	sess.bind(5)
	assert.Equal(t, int64(5), sess.UserID())

	client.Close()
	waitDone(t, done)

	assert.Equal(t, int64(0), sess.UserID())
	_, ok := srv.presence.Lookup(5)
	assert.False(t, ok)
}

func TestReleaseKeepsNewerBinding(t *testing.T) {
	srv, sess, _, _ := runPipeSession(t, DefaultConfig())

	require.True(t, srv.presence.TryRegister(5, sess.conn))
	sess.bind(5)

	// Another connection took over the identity
	other := pipeConn(t)
	srv.presence.Register(5, other)

	sess.release()
	got, ok := srv.presence.Lookup(5)
	require.True(t, ok)
	assert.Same(t, other, got)
}

// newDBServer returns a server backed by a fresh database, not listening
func newDBServer(t *testing.T, cfg ServerConfig) (*Server, *database.DB) {
	t.Helper()
	db, err := database.Open(t.TempDir()+"/test.db", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewServer(cfg, StoresFromDB(db), Options{Logger: zap.NewNop()}), db
}

// bindSession registers and binds uid on sess the way login does
func bindSession(t *testing.T, srv *Server, db *database.DB, sess *Session, uid int64) {
	t.Helper()
	require.True(t, srv.presence.TryRegister(uid, sess.conn))
	sess.bind(uid)
	require.NoError(t, db.SetOnline(uid))
}

func TestReleaseAfterEvictionKeepsOnlineFlag(t *testing.T) {
	srv, db := newDBServer(t, DefaultConfig())
	uid := createUser(t, db, "evicted")

	a, _ := net.Pipe()
	t.Cleanup(func() { a.Close() })
	old := newSession(1, "pipe", a, srv)
	bindSession(t, srv, db, old, uid)

	// The old binding is evicted and the user comes back on a new connection
	require.True(t, srv.presence.UnregisterConn(uid, old.conn))
	b, _ := net.Pipe()
	t.Cleanup(func() { b.Close() })
	current := newSession(2, "pipe", b, srv)
	bindSession(t, srv, db, current, uid)

	old.release()

	got, ok := srv.presence.Lookup(uid)
	require.True(t, ok)
	assert.Same(t, current.conn, got)
	online, err := db.IsOnline(uid)
	require.NoError(t, err)
	assert.True(t, online, "a stale session must not mark the user offline")

	current.release()
	online, err = db.IsOnline(uid)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestPushFailureKeepsOnlineFlag(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteTimeout = 50 * time.Millisecond
	srv, db := newDBServer(t, cfg)
	uid := createUser(t, db, "slowreader")

	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	sess := newSession(1, "pipe", server, srv)
	bindSession(t, srv, db, sess, uid)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.run(context.Background())
	}()

	// Nobody reads the client end, so the write times out
	ok := srv.push.Deliver(uid, protocol.NewRealTimeMessage(protocol.PushMessage{SenderID: 1, ReceiverID: protocol.ID(uid), Content: "hi"}))
	assert.False(t, ok)
	waitDone(t, done)

	_, registered := srv.presence.Lookup(uid)
	assert.False(t, registered)
	online, err := db.IsOnline(uid)
	require.NoError(t, err)
	assert.True(t, online)
}

func TestNormalCloseMarksOffline(t *testing.T) {
	srv, db := newDBServer(t, DefaultConfig())
	uid := createUser(t, db, "leaver")

	server, client := net.Pipe()
	sess := newSession(1, "pipe", server, srv)
	bindSession(t, srv, db, sess, uid)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.run(context.Background())
	}()
	client.Close()
	waitDone(t, done)

	online, err := db.IsOnline(uid)
	require.NoError(t, err)
	assert.False(t, online)
}
