// Package client is a Go client for the chat server. Requests are matched
// to responses by seq, so any number of goroutines may call concurrently.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/aeolun/craftlink/pkg/protocol"
	"go.uber.org/zap"
)

// ErrClosed is returned by calls on a client whose connection has ended.
var ErrClosed = errors.New("client closed")

// ServerError is a response with success false
type ServerError struct {
	Type    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithPushBuffer sets how many pushes are buffered before new ones are dropped
func WithPushBuffer(n int) Option {
	return func(c *Client) { c.pushBuffer = n }
}

// WithMaxFrameSize caps the size of frames read from the server
func WithMaxFrameSize(n uint32) Option {
	return func(c *Client) { c.maxFrameSize = n }
}

// Client owns one connection. A single goroutine reads frames and routes
// responses to the waiting call; pushes go to the Pushes channel.
type Client struct {
	conn         net.Conn
	logger       *zap.Logger
	pushBuffer   int
	maxFrameSize uint32

	writeMu sync.Mutex
	nextSeq atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan json.RawMessage
	err     error

	pushes chan protocol.PushMessage
	done   chan struct{}

	droppedPushes atomic.Uint64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// New starts a client on an established connection
func New(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:         conn,
		logger:       zap.NewNop(),
		pushBuffer:   256,
		maxFrameSize: protocol.DefaultMaxFrameSize,
		pending:      make(map[int64]chan json.RawMessage),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "client"), zap.String("server", conn.RemoteAddr().String()))
	c.pushes = make(chan protocol.PushMessage, c.pushBuffer)

	go c.receiveLoop()
	return c
}

// Dial connects to addr and starts a client. addr is host:port for TCP, or
// a ws:// or wss:// URL for the WebSocket transport.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	target, err := parseServerAddress(addr)
	if err != nil {
		return nil, err
	}
	conn, err := target.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target.display, err)
	}
	return New(conn, opts...), nil
}

// Pushes delivers real-time messages. It is closed when the connection ends.
func (c *Client) Pushes() <-chan protocol.PushMessage {
	return c.pushes
}

// Done is closed when the connection has ended
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection and waits for the receive loop to exit.
// Outstanding calls fail with ErrClosed.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// DroppedPushes counts pushes discarded because Pushes was not drained
func (c *Client) DroppedPushes() uint64 { return c.droppedPushes.Load() }

// BytesSent returns the bytes written to the connection
func (c *Client) BytesSent() uint64 { return c.bytesSent.Load() }

// BytesReceived returns the bytes read from the connection
func (c *Client) BytesReceived() uint64 { return c.bytesReceived.Load() }

// Call sends req and waits for its response, which is decoded into out. A
// nil out discards the payload. A response with success false is returned as
// *ServerError. If ctx ends first the call is abandoned and a late response
// is discarded.
func (c *Client) Call(ctx context.Context, req protocol.Request, out protocol.Response) error {
	seq := c.nextSeq.Add(1)
	frame, err := encodeRequest(req, seq)
	if err != nil {
		return err
	}

	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}
	c.pending[seq] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_, err = c.conn.Write(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(seq)
		return fmt.Errorf("send %s: %w", req.RequestType(), err)
	}
	c.bytesSent.Add(uint64(len(frame)))

	select {
	case body, ok := <-ch:
		if !ok {
			return c.Err()
		}
		if out == nil {
			out = &protocol.Status{}
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", req.RequestType(), err)
		}
		if hdr := out.Header(); !hdr.Success {
			return &ServerError{Type: hdr.Type, Message: hdr.Message}
		}
		return nil
	case <-ctx.Done():
		c.forget(seq)
		return ctx.Err()
	}
}

func (c *Client) forget(seq int64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

// encodeRequest frames req with its type and seq
func encodeRequest(req protocol.Request, seq int64) ([]byte, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(req.RequestType())
	fields["seq"] = json.RawMessage(strconv.FormatInt(seq, 10))
	return protocol.EncodeFrame(fields)
}

func (c *Client) receiveLoop() {
	r := &countingReader{r: c.conn, counter: &c.bytesReceived}
	for {
		body, err := protocol.ReadFrame(r, c.maxFrameSize)
		if err != nil {
			c.fail(err)
			return
		}

		env, err := protocol.ParseEnvelope(body)
		if err != nil {
			c.logger.Warn("unreadable frame", zap.Error(err))
			continue
		}

		if env.Type == protocol.TypeRealTimeMessage {
			c.deliverPush(body)
			continue
		}

		seq, err := strconv.ParseInt(string(env.Seq), 10, 64)
		if err != nil {
			c.logger.Warn("response without seq", zap.String("type", env.Type))
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[seq]
		delete(c.pending, seq)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("response for abandoned call", zap.Int64("seq", seq), zap.String("type", env.Type))
			continue
		}
		ch <- body
	}
}

func (c *Client) deliverPush(body []byte) {
	var push protocol.RealTimeMessage
	if err := json.Unmarshal(body, &push); err != nil {
		c.logger.Warn("malformed push", zap.Error(err))
		return
	}
	select {
	case c.pushes <- push.Message:
	default:
		c.droppedPushes.Add(1)
		c.logger.Warn("push buffer full, dropping message", zap.Int64("sender_id", int64(push.Message.SenderID)))
	}
}

// fail ends the client: every waiting call is released and Pushes is closed
func (c *Client) fail(err error) {
	c.mu.Lock()
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		c.err = ErrClosed
	} else {
		c.err = fmt.Errorf("%w: %w", ErrClosed, err)
	}
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = nil
	c.mu.Unlock()

	c.conn.Close()
	close(c.pushes)
	close(c.done)
	c.logger.Debug("connection ended", zap.Error(err))
}

// countingReader counts bytes read from the connection
type countingReader struct {
	r       io.Reader
	counter *atomic.Uint64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.counter.Add(uint64(n))
	}
	return n, err
}
