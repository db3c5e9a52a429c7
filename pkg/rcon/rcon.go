// Package rcon runs Minecraft console commands over remote console.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gorcon/rcon"
	"go.uber.org/zap"
)

// maxCommandSize is the largest command body the client sends
const maxCommandSize = 1000

var (
	ErrAuthFailed     = rcon.ErrAuthFailed
	ErrCommandTooLong = rcon.ErrCommandTooLong
	ErrClosed         = errors.New("rcon: client closed")
)

// Client runs console commands over one authenticated connection, dialing
// again after any failure. It is safe for concurrent use; commands are
// serialized.
type Client struct {
	address  string
	password *memguard.Enclave
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	conn   *rcon.Conn
	closed bool
}

// New creates a client. The password is sealed in an encrypted enclave and
// only opened while dialing.
func New(address, password string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		address:  address,
		password: memguard.NewEnclave([]byte(password)),
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "rcon"), zap.String("addr", address)),
	}
}

// Execute sends command and returns the server's reply. Cancelling ctx
// aborts a command in flight and drops the connection.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	if len(command) > maxCommandSize {
		return "", ErrCommandTooLong
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClosed
	}

	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return "", err
		}
	}

	conn := c.conn
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	out, err := conn.Execute(command)
	cancelled := !stop()
	if err != nil || cancelled {
		c.drop()
		if cancelled {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("rcon: execute: %w", err)
	}
	c.logger.Debug("command executed", zap.String("command", command))
	return out, nil
}

// Close closes the connection. Later calls to Execute fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialTimeout := c.timeout
	if d, ok := ctx.Deadline(); ok {
		if left := time.Until(d); left < dialTimeout {
			dialTimeout = left
		}
	}

	password, err := c.openPassword()
	if err != nil {
		return err
	}
	conn, err := rcon.Dial(c.address, password,
		rcon.SetDialTimeout(dialTimeout),
		rcon.SetDeadline(c.timeout))
	if err != nil {
		if errors.Is(err, rcon.ErrAuthFailed) {
			return ErrAuthFailed
		}
		return fmt.Errorf("rcon: dial %s: %w", c.address, err)
	}
	c.conn = conn
	c.logger.Info("rcon connected")
	return nil
}

// openPassword copies the password out of its enclave. An empty password
// has no enclave.
func (c *Client) openPassword() (string, error) {
	if c.password == nil {
		return "", nil
	}
	buf, err := c.password.Open()
	if err != nil {
		return "", fmt.Errorf("rcon: open password: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}
