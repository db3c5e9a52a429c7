package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var (
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials indicates a wrong username or password.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUsernameTaken, ErrEmailTaken and ErrPhoneTaken reject duplicate registrations.
	ErrUsernameTaken = errors.New("username already exists")
	ErrEmailTaken    = errors.New("email already in use")
	ErrPhoneTaken    = errors.New("phone number already in use")
	// ErrInvalidEmail and ErrInvalidPhone reject malformed registration fields.
	ErrInvalidEmail = errors.New("invalid email format")
	ErrInvalidPhone = errors.New("invalid phone number format")
	// ErrAlreadySigned indicates the user already signed in today.
	ErrAlreadySigned = errors.New("already signed in today")
	// ErrGiftLimit indicates the sender reached today's gift limit.
	ErrGiftLimit = errors.New("daily gift limit reached")
	// ErrInsufficientBalance indicates the sender has nothing left to give.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAlreadyWhitelisted rejects applications from whitelisted users.
	ErrAlreadyWhitelisted = errors.New("already whitelisted")
	// ErrApplicationPending rejects a second application while one is pending.
	ErrApplicationPending = errors.New("an application is already pending")
	// ErrApplicationLimit indicates the daily application limit was reached.
	ErrApplicationLimit = errors.New("daily application limit reached")
	// ErrApplicationNotFound indicates there is no pending application with that id.
	ErrApplicationNotFound = errors.New("pending application not found")
)

// DB wraps the SQLite database connection
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (1 connection)
	logger    *zap.Logger
	now       func() time.Time

	Logins *LoginRecorder
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
	"PRAGMA synchronous = NORMAL",
}

func openPool(path string, maxOpen int) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(min(maxOpen, 5))

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return conn, nil
}

// Open opens the SQLite database at the given path, applies pending
// migrations and clears online flags left over from a previous run.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "database"))

	// WAL allows many readers next to the single writer
	conn, err := openPool(path, 25)
	if err != nil {
		return nil, err
	}
	conn.SetConnMaxLifetime(5 * time.Minute)

	writeConn, err := openPool(path, 1)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetConnMaxLifetime(0)

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
		logger:    logger,
		now:       time.Now,
	}

	if _, err := db.Migrate(path); err != nil {
		db.closeConns()
		return nil, err
	}

	// No session survives a restart, so nobody is online yet
	if _, err := db.writeConn.Exec("UPDATE users SET is_online = 0 WHERE is_online = 1"); err != nil {
		db.closeConns()
		return nil, fmt.Errorf("failed to reset online flags: %w", err)
	}

	db.Logins = NewLoginRecorder(db, 250*time.Millisecond)
	return db, nil
}

// Close flushes buffered writes and closes the database connections
func (db *DB) Close() error {
	if db.Logins != nil {
		db.Logins.Close()
	}
	return db.closeConns()
}

func (db *DB) closeConns() error {
	werr := db.writeConn.Close()
	if err := db.conn.Close(); err != nil {
		return err
	}
	return werr
}

// SetClock replaces the time source. Tests use it to cross day boundaries.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

func (db *DB) nowMillis() int64 {
	return db.now().UnixMilli()
}

// Today returns the current calendar day as YYYY-MM-DD in local time.
func (db *DB) Today() string {
	return db.now().Format("2006-01-02")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// withTx runs fn in a transaction on the write connection.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
