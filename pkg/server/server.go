package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Server accepts client connections and runs one Session per connection.
type Server struct {
	cfg      ServerConfig
	stores   Stores
	presence Presence
	push     *Dispatcher
	unread   *UnreadTracker
	router   *Router
	commands CommandExecutor
	logger   *zap.Logger
	metrics  *Metrics
	intN     func(n int) int

	listener   net.Listener
	httpServer *http.Server
	startTime  time.Time

	sessMu        sync.Mutex
	sessions      map[uint64]*Session
	nextSessionID atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Options carries the optional collaborators of a Server
type Options struct {
	// Presence defaults to a fresh Registry.
	Presence Presence
	// Commands runs game server commands. Nil disables them.
	Commands CommandExecutor
	Logger   *zap.Logger
	// Metrics defaults to a private registry.
	Metrics *Metrics
	// IntN returns a random int in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
}

// NewServer creates a new server instance
func NewServer(cfg ServerConfig, stores Stores, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Presence == nil {
		opts.Presence = NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.IntN == nil {
		opts.IntN = rand.IntN
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = DefaultConfig().MaxFrameSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		stores:   stores,
		presence: opts.Presence,
		commands: opts.Commands,
		logger:   opts.Logger.With(zap.String("component", "server")),
		metrics:  opts.Metrics,
		intN:     opts.IntN,
		sessions: make(map[uint64]*Session),
		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
	}
	s.push = NewDispatcher(s.presence, cfg.WriteTimeout, s.metrics, opts.Logger)
	s.unread = NewUnreadTracker(stores.Messages)
	s.router = s.newRouter()
	return s
}

// Start starts the TCP listener and, when configured, the HTTP listener
func (s *Server) Start() error {
	s.startTime = time.Now()

	addr := fmt.Sprintf(":%d", s.cfg.TCPPort)
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) { sockErr = setSocketOptions(fd) }); err != nil {
				return err
			}
			return sockErr
		},
	}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	logListenBacklog(s.logger, listener.Addr().String())

	if s.cfg.HTTPPort != 0 {
		if err := s.startHTTP(); err != nil {
			s.listener.Close()
			return err
		}
	}

	s.wg.Add(1)
	go s.acceptLoop()

	s.wg.Add(1)
	go s.monitorListenOverflows()

	return nil
}

// Addr returns the TCP listen address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Presence returns the registry the server binds identities in
func (s *Server) Presence() Presence {
	return s.presence
}

// Metrics returns the server metrics
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Stop closes the listeners and every open session, releasing their
// identities. It does not close the stores.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.shutdown)
		s.cancel()

		if s.listener != nil {
			s.listener.Close()
		}

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if herr := s.httpServer.Shutdown(ctx); herr != nil && !errors.Is(herr, http.ErrServerClosed) {
				err = herr
			}
			cancel()
		}

		s.sessMu.Lock()
		for _, sess := range s.sessions {
			sess.conn.Close()
		}
		s.sessMu.Unlock()

		s.wg.Wait()
		s.logger.Info("server stopped")
	})
	return err
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				s.logger.Warn("accept error", zap.Error(err))
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn, "tcp")
		}()
	}
}

// track adds a connection handler to wg unless Stop has begun. Stop takes
// sessMu after closing shutdown, so no Add can follow its Wait.
func (s *Server) track() bool {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.wg.Add(1)
	return true
}

// handleConnection runs a session on conn until it closes
func (s *Server) handleConnection(conn net.Conn, transport string) {
	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := newSession(s.nextSessionID.Add(1), transport, conn, s)

	s.sessMu.Lock()
	select {
	case <-s.shutdown:
		s.sessMu.Unlock()
		conn.Close()
		return
	default:
	}
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.sessMu.Unlock()

	s.metrics.RecordSessionCreated(transport)
	s.metrics.RecordActiveSessions(count)
	sess.logger.Debug("new connection", zap.String("transport", transport))

	sess.run(s.ctx)

	s.sessMu.Lock()
	delete(s.sessions, sess.ID)
	count = len(s.sessions)
	s.sessMu.Unlock()

	s.metrics.RecordSessionDisconnected()
	s.metrics.RecordActiveSessions(count)
	sess.logger.Debug("connection finished")
}

// SessionCount returns the number of open sessions
func (s *Server) SessionCount() int {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	return len(s.sessions)
}

func (s *Server) recordOnline() {
	s.metrics.RecordOnlineUsers(len(s.presence.ListOnline()))
}

// Uptime returns how long the server has been running
func (s *Server) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}
