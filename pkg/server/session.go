package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/aeolun/craftlink/pkg/protocol"
	"go.uber.org/zap"
)

// Session is one client connection. It reads requests in a loop and, once
// an identity is bound, is the push target for that identity.
type Session struct {
	ID        uint64
	Transport string

	conn   *SafeConn
	srv    *Server
	logger *zap.Logger

	mu      sync.Mutex
	binding *binding
}

// binding is one identity bound to the session. Its cleanup runs once no
// matter how many paths race to release it.
type binding struct {
	userID int64
	once   sync.Once
}

func newSession(id uint64, transport string, conn net.Conn, srv *Server) *Session {
	return &Session{
		ID:        id,
		Transport: transport,
		conn:      NewSafeConn(conn),
		srv:       srv,
		logger: srv.logger.With(
			zap.Uint64("session_id", id),
			zap.String("remote", conn.RemoteAddr().String()),
		),
	}
}

// UserID returns the bound identity, or 0
func (sess *Session) UserID() int64 {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.binding == nil {
		return 0
	}
	return sess.binding.userID
}

// bind records userID as this session's identity. The caller has already
// registered it with presence.
func (sess *Session) bind(userID int64) {
	sess.mu.Lock()
	sess.binding = &binding{userID: userID}
	sess.mu.Unlock()

	sess.logger.Info("identity bound", zap.Int64("user_id", userID))
	sess.srv.recordOnline()
}

// release drops the presence entry of the bound identity and marks it
// offline. Both happen only while the entry still points at this connection:
// an evicted or superseded binding leaves the online flag alone.
func (sess *Session) release() {
	sess.mu.Lock()
	b := sess.binding
	sess.mu.Unlock()
	if b == nil {
		return
	}

	b.once.Do(func() {
		if !sess.srv.presence.UnregisterConn(b.userID, sess.conn) {
			sess.logger.Info("binding already gone, online flag kept", zap.Int64("user_id", b.userID))
			return
		}
		if users := sess.srv.stores.Users; users != nil {
			if err := users.SetOffline(b.userID); err != nil {
				sess.logger.Warn("failed to mark user offline", zap.Int64("user_id", b.userID), zap.Error(err))
			}
		}
		sess.srv.recordOnline()
		sess.logger.Info("identity released", zap.Int64("user_id", b.userID))
	})

	sess.mu.Lock()
	if sess.binding == b {
		sess.binding = nil
	}
	sess.mu.Unlock()
}

// remoteHost returns the peer IP without the port
func (sess *Session) remoteHost() string {
	addr := sess.conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// run is the read-dispatch-write loop. It returns when the connection fails
// and always leaves the session released.
func (sess *Session) run(ctx context.Context) {
	defer sess.conn.Close()
	defer sess.release()

	cfg := sess.srv.cfg
	for {
		body, err := sess.conn.ReadFrame(cfg.MaxFrameSize, cfg.IdleTimeout)
		if err != nil {
			sess.logReadError(err)
			return
		}

		resp := sess.srv.router.Dispatch(ctx, sess, body)
		hdr := resp.Header()
		if ce := sess.logger.Check(zap.DebugLevel, "request handled"); ce != nil {
			ce.Write(zap.String("type", hdr.Type), zap.Bool("success", hdr.Success), zap.String("message", hdr.Message))
		}

		if err := sess.conn.WriteFrame(resp, cfg.WriteTimeout); err != nil {
			sess.logger.Warn("write failed", zap.Error(err))
			return
		}
	}
}

func (sess *Session) logReadError(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, protocol.ErrProtocol):
		sess.logger.Warn("protocol error, closing connection", zap.Error(err))
	case errors.As(err, &netErr) && netErr.Timeout():
		sess.logger.Info("idle timeout, closing connection")
	case errors.Is(err, protocol.ErrConnectionClosed):
		sess.logger.Debug("connection closed", zap.Error(err))
	default:
		sess.logger.Warn("read error", zap.Error(err))
	}
}
