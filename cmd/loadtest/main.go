package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/craftlink/pkg/client"
	"github.com/aeolun/craftlink/pkg/logging"
	"github.com/aeolun/craftlink/pkg/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur."

var loremWords = strings.Fields(loremIpsum)

const botPassword = "loadtest"

// Stats tracks performance metrics
type Stats struct {
	messagesSent      atomic.Int64
	messagesFailed    atomic.Int64
	pushesReceived    atomic.Int64
	totalResponseTime atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64

	serverErrors   atomic.Int64
	timeouts       atomic.Int64
	disconnections atomic.Int64
}

func (s *Stats) recordSuccess(responseTimeUs int64) {
	s.messagesSent.Add(1)
	s.totalResponseTime.Add(responseTimeUs)
}

// recordFailure classifies a failed call
func (s *Stats) recordFailure(err error) {
	s.messagesFailed.Add(1)
	var serr *client.ServerError
	switch {
	case errors.As(err, &serr):
		s.serverErrors.Add(1)
	case errors.Is(err, context.DeadlineExceeded):
		s.timeouts.Add(1)
	case errors.Is(err, client.ErrClosed):
		s.disconnections.Add(1)
	}
}

func (s *Stats) snapshot() (sent, failed, pushes, connErrors int64, avgResponseUs float64) {
	sent = s.messagesSent.Load()
	failed = s.messagesFailed.Load()
	pushes = s.pushesReceived.Load()
	connErrors = s.connectionErrors.Load()

	if sent > 0 {
		avgResponseUs = float64(s.totalResponseTime.Load()) / float64(sent)
	}
	return
}

// Roster is the set of logged-in bot ids that messages are sent to
type Roster struct {
	mu  sync.RWMutex
	ids []protocol.ID
}

func (r *Roster) add(id protocol.ID) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

// pick returns a random id other than self
func (r *Roster) pick(self protocol.ID) (protocol.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ids) < 2 {
		return 0, false
	}
	for {
		id := r.ids[rand.IntN(len(r.ids))]
		if id != self {
			return id, true
		}
	}
}

// BotClient is a fake user for load testing
type BotClient struct {
	id       int
	username string
	userID   protocol.ID
	conn     *client.Client
	stats    *Stats
	roster   *Roster
	logger   *zap.SugaredLogger
}

func NewBotClient(ctx context.Context, id int, serverAddr string, stats *Stats, roster *Roster, logger *zap.SugaredLogger) (*BotClient, error) {
	conn, err := client.Dial(ctx, serverAddr, client.WithPushBuffer(1024))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return &BotClient{
		id:       id,
		username: fmt.Sprintf("bot%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:12]),
		conn:     conn,
		stats:    stats,
		roster:   roster,
		logger:   logger,
	}, nil
}

// Setup registers the bot's account and logs in
func (bc *BotClient) Setup(ctx context.Context) error {
	err := bc.conn.Register(ctx, protocol.RegisterRequest{
		Username:   bc.username,
		Password:   botPassword,
		Nickname:   bc.username,
		Email:      bc.username + "@loadtest.local",
		Phone:      fmt.Sprintf("13%09d", rand.IntN(1_000_000_000)),
		PlayerName: bc.username,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	login, err := bc.conn.Login(ctx, bc.username, botPassword)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	bc.userID = login.User.UserID
	bc.roster.add(bc.userID)

	go func() {
		for range bc.conn.Pushes() {
			bc.stats.pushesReceived.Add(1)
		}
	}()
	return nil
}

func (bc *BotClient) SendRandomMessage(ctx context.Context) error {
	peer, ok := bc.roster.pick(bc.userID)
	if !ok {
		return nil
	}

	wordCount := 5 + rand.IntN(16)
	words := make([]string, 0, wordCount)
	for i := 0; i < wordCount; i++ {
		words = append(words, loremWords[rand.IntN(len(loremWords))])
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := bc.conn.SendMessage(ctx, bc.userID, peer, strings.Join(words, " ")); err != nil {
		bc.stats.recordFailure(err)
		return err
	}
	bc.stats.recordSuccess(time.Since(start).Microseconds())
	return nil
}

// CheckUnread reads and clears the unread summary like a real client would
func (bc *BotClient) CheckUnread(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	unread, err := bc.conn.Unread(ctx, bc.userID)
	if err != nil {
		return
	}
	for sender := range unread.UnreadDetails {
		var id protocol.ID
		if err := id.UnmarshalJSON([]byte(sender)); err != nil {
			continue
		}
		_, _ = bc.conn.MarkRead(ctx, bc.userID, id)
	}
}

func (bc *BotClient) Run(ctx context.Context, duration, minDelay, maxDelay, shutdownDelay time.Duration) {
	defer bc.conn.Close()

	endTime := time.Now().Add(duration)
	iteration := 0

	for time.Now().Before(endTime) && ctx.Err() == nil {
		iteration++

		if err := bc.SendRandomMessage(ctx); errors.Is(err, client.ErrClosed) {
			bc.logger.Warnw("bot disconnected", "bot", bc.id)
			return
		}

		if iteration%3 == 0 {
			bc.CheckUnread(ctx)
		}

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int64N(int64(maxDelay - minDelay)))
		}
		time.Sleep(delay)
	}

	// Stagger shutdown to avoid thundering herd on disconnect
	if shutdownDelay > 0 {
		time.Sleep(shutdownDelay)
	}

	logoutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = bc.conn.Logout(logoutCtx)
}

func main() {
	serverAddr := flag.String("server", "localhost:8000", "Server address (host:port, ws:// or wss:// URL)")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between messages")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between messages")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	base, _, err := logging.New(*debug, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer base.Sync()
	logger := base.Sugar()

	// Ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	logger.Infow("starting load test",
		"server", *serverAddr,
		"clients", *numClients,
		"duration", *duration,
		"ramp_up", rampUpDuration,
		"min_delay", *minDelay,
		"max_delay", *maxDelay)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := &Stats{}
	roster := &Roster{}
	var wg sync.WaitGroup

	stopStats := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				sent, failed, pushes, connErrors, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				logger.Infof("stats: %d sent (%.1f/s), %d pushes, %d failed, %d conn errors, avg %.2fms",
					sent, float64(sent)/elapsed, pushes, failed, connErrors, avgUs/1000.0)
			case <-stopStats:
				return
			}
		}
	}()

	for i := 0; i < *numClients && ctx.Err() == nil; i++ {
		wg.Add(1)

		// Reverse order for ramp-down
		shutdownDelay := staggerDelay * time.Duration(*numClients-i-1)

		go func(id int, shutdownDelay time.Duration) {
			defer wg.Done()

			setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			bot, err := NewBotClient(setupCtx, id, *serverAddr, stats, roster, logger)
			if err != nil {
				stats.connectionErrors.Add(1)
				logger.Debugw("connect failed", "bot", id, "error", err)
				return
			}
			if err := bot.Setup(setupCtx); err != nil {
				stats.connectionErrors.Add(1)
				logger.Debugw("setup failed", "bot", id, "error", err)
				bot.conn.Close()
				return
			}

			if id%100 == 0 {
				logger.Infow("bot connected", "bot", id, "user_id", bot.userID)
			}

			bot.Run(ctx, *duration, *minDelay, *maxDelay, shutdownDelay)
		}(i, shutdownDelay)

		time.Sleep(staggerDelay)
	}

	wg.Wait()
	close(stopStats)

	sent, failed, pushes, connErrors, avgUs := stats.snapshot()
	rate := float64(sent) / duration.Seconds()

	logger.Infow("final results",
		"duration", *duration,
		"sent", sent,
		"rate_per_sec", fmt.Sprintf("%.1f", rate),
		"pushes_received", pushes,
		"failed", failed,
		"server_errors", stats.serverErrors.Load(),
		"timeouts", stats.timeouts.Load(),
		"disconnections", stats.disconnections.Load(),
		"connection_errors", connErrors,
		"avg_response_ms", fmt.Sprintf("%.2f", avgUs/1000.0))

	if sent > 0 {
		logger.Infof("success rate: %.1f%%", float64(sent)/float64(sent+failed)*100)
	}
}
