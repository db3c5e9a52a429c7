package database

import (
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LoginRecorder batches login record inserts so a burst of logins costs one
// transaction instead of one per login.
type LoginRecorder struct {
	db            *DB
	flushInterval time.Duration

	mu      sync.Mutex
	pending []loginRecord

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type loginRecord struct {
	userID int64
	ip     string
	at     int64
}

// NewLoginRecorder starts a recorder that flushes every flushInterval
func NewLoginRecorder(db *DB, flushInterval time.Duration) *LoginRecorder {
	lr := &LoginRecorder{
		db:            db,
		flushInterval: flushInterval,
		pending:       make([]loginRecord, 0, 32),
		shutdown:      make(chan struct{}),
	}

	lr.wg.Add(1)
	go lr.flushLoop()

	return lr
}

// Record queues one login
func (lr *LoginRecorder) Record(userID int64, ip string, at int64) {
	lr.mu.Lock()
	lr.pending = append(lr.pending, loginRecord{userID: userID, ip: ip, at: at})
	lr.mu.Unlock()
}

func (lr *LoginRecorder) flushLoop() {
	defer lr.wg.Done()

	ticker := time.NewTicker(lr.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lr.Flush()
		case <-lr.shutdown:
			lr.Flush()
			return
		}
	}
}

// Flush writes all queued records in a single transaction. A failed batch is
// logged and dropped; login history is best effort.
func (lr *LoginRecorder) Flush() {
	lr.mu.Lock()
	batch := lr.pending
	lr.pending = make([]loginRecord, 0, 32)
	lr.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	start := time.Now()
	err := lr.db.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare("INSERT INTO login_records (user_id, ip_address, logged_in_at) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range batch {
			if _, err := stmt.Exec(rec.userID, rec.ip, rec.at); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		lr.db.logger.Warn("login record flush failed", zap.Int("records", len(batch)), zap.Error(err))
		return
	}

	if elapsed := time.Since(start); elapsed > lr.flushInterval {
		lr.db.logger.Info("slow login record flush", zap.Int("records", len(batch)), zap.Duration("elapsed", elapsed))
	}
}

// Close stops the flush loop after a final flush
func (lr *LoginRecorder) Close() {
	lr.closeOnce.Do(func() {
		close(lr.shutdown)
		lr.wg.Wait()
	})
}

// CountLogins returns how many logins were recorded for the user
func (db *DB) CountLogins(userID int64) (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM login_records WHERE user_id = ?", userID).Scan(&n)
	return n, err
}
