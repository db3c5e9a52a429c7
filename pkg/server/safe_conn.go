package server

import (
	"net"
	"sync"
	"time"

	"github.com/aeolun/craftlink/pkg/protocol"
)

// SafeConn wraps a net.Conn so that responses from the session loop and
// pushes from other sessions never interleave mid-frame.
type SafeConn struct {
	conn      net.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewSafeConn wraps conn
func NewSafeConn(conn net.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteFrame encodes v and writes it as one frame. A positive timeout bounds
// the write.
func (c *SafeConn) WriteFrame(v any, timeout time.Duration) error {
	frame, err := protocol.EncodeFrame(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err = c.conn.Write(frame)
	return err
}

// ReadFrame reads the next frame. Only the owning session reads.
func (c *SafeConn) ReadFrame(maxSize uint32, idle time.Duration) ([]byte, error) {
	if idle > 0 {
		c.conn.SetReadDeadline(time.Now().Add(idle))
	}
	return protocol.ReadFrame(c.conn, maxSize)
}

// Close closes the underlying connection once
func (c *SafeConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address
func (c *SafeConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
