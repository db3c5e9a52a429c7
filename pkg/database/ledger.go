package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// Whitelist application states
const (
	ApplicationPending  = "pending"
	ApplicationApproved = "approved"
	ApplicationRejected = "rejected"
)

// Gift types
const (
	GiftCoin = "coin"
	GiftStar = "star"
)

// SignReward is what a daily sign-in grants
type SignReward struct {
	Coin int
	Star int
}

// Sign records today's sign-in and credits the reward. A second sign-in on
// the same day returns ErrAlreadySigned.
func (db *DB) Sign(userID int64, reward SignReward) error {
	if _, err := db.GetUser(userID); err != nil {
		return err
	}
	return db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO sign_ins (user_id, sign_date, coin, star, created_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING",
			userID, db.Today(), reward.Coin, reward.Star, db.nowMillis(),
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrAlreadySigned
		}
		_, err = tx.Exec("UPDATE users SET coins = coins + ?, stars = stars + ? WHERE id = ?", reward.Coin, reward.Star, userID)
		return err
	})
}

// HasSignedToday reports whether the user already signed in today
func (db *DB) HasSignedToday(userID int64) (bool, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM sign_ins WHERE user_id = ? AND sign_date = ?", userID, db.Today()).Scan(&n)
	return n > 0, err
}

// WhitelistApplication is one request to join the game server whitelist
type WhitelistApplication struct {
	ID          int64
	UserID      int64
	PlayerName  string
	Genuine     int
	Reason      string
	Status      string
	ApplyDate   string
	CreatedAt   int64
	ProcessedAt *int64
}

const applicationColumns = "id, user_id, player_name, genuine, reason, status, apply_date, created_at, processed_at"

func scanApplication(row rowScanner) (*WhitelistApplication, error) {
	var app WhitelistApplication
	var processed sql.NullInt64
	if err := row.Scan(&app.ID, &app.UserID, &app.PlayerName, &app.Genuine, &app.Reason, &app.Status,
		&app.ApplyDate, &app.CreatedAt, &processed); err != nil {
		return nil, err
	}
	if processed.Valid {
		app.ProcessedAt = &processed.Int64
	}
	return &app, nil
}

// ApplyWhitelist files a whitelist application. A user may file at most
// dailyLimit applications per day, and none while whitelisted or while
// another application is pending.
func (db *DB) ApplyWhitelist(userID int64, playerName string, genuine int, reason string, dailyLimit int) (int64, error) {
	var id int64
	err := db.withTx(func(tx *sql.Tx) error {
		var whiteState int
		err := tx.QueryRow("SELECT white_state FROM users WHERE id = ?", userID).Scan(&whiteState)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if whiteState == 1 {
			return ErrAlreadyWhitelisted
		}

		var pending, today int
		err = tx.QueryRow(`
			SELECT
				COALESCE(SUM(status = ?), 0),
				COALESCE(SUM(apply_date = ?), 0)
			FROM whitelist_applications WHERE user_id = ?`,
			ApplicationPending, db.Today(), userID,
		).Scan(&pending, &today)
		if err != nil {
			return err
		}
		if pending > 0 {
			return ErrApplicationPending
		}
		if today >= dailyLimit {
			return ErrApplicationLimit
		}

		res, err := tx.Exec(`
			INSERT INTO whitelist_applications (user_id, player_name, genuine, reason, status, apply_date, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			userID, playerName, genuine, reason, ApplicationPending, db.Today(), db.nowMillis(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// UserApplications returns all applications filed by a user, newest first
func (db *DB) UserApplications(userID int64) ([]*WhitelistApplication, error) {
	return db.queryApplications(
		"SELECT "+applicationColumns+" FROM whitelist_applications WHERE user_id = ? ORDER BY created_at DESC, id DESC",
		userID,
	)
}

// PendingApplications returns every application awaiting review, newest first
func (db *DB) PendingApplications() ([]*WhitelistApplication, error) {
	return db.queryApplications(
		"SELECT "+applicationColumns+" FROM whitelist_applications WHERE status = ? ORDER BY created_at DESC, id DESC",
		ApplicationPending,
	)
}

func (db *DB) queryApplications(query string, args ...any) ([]*WhitelistApplication, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := []*WhitelistApplication{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// ProcessApplication approves or rejects a pending application and updates
// the applicant's whitelist state. It returns the processed application.
func (db *DB) ProcessApplication(appID int64, approved bool) (*WhitelistApplication, error) {
	var app *WhitelistApplication
	err := db.withTx(func(tx *sql.Tx) error {
		var err error
		app, err = scanApplication(tx.QueryRow(
			"SELECT "+applicationColumns+" FROM whitelist_applications WHERE id = ? AND status = ?",
			appID, ApplicationPending,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrApplicationNotFound
		}
		if err != nil {
			return err
		}

		now := db.nowMillis()
		app.ProcessedAt = &now
		app.Status = ApplicationRejected
		if approved {
			app.Status = ApplicationApproved
		}
		if _, err := tx.Exec(
			"UPDATE whitelist_applications SET status = ?, processed_at = ? WHERE id = ?",
			app.Status, now, app.ID,
		); err != nil {
			return err
		}

		if approved {
			_, err = tx.Exec(
				"UPDATE users SET white_state = 1, pass_date = ?, genuine = ?, player_name = ? WHERE id = ?",
				db.Today(), app.Genuine, app.PlayerName, app.UserID,
			)
		} else {
			_, err = tx.Exec("UPDATE users SET white_state = 0 WHERE id = ?", app.UserID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// SetWhitelisted sets a user's whitelist state directly, bypassing the
// application workflow.
func (db *DB) SetWhitelisted(userID int64, whitelisted bool) error {
	if whitelisted {
		return db.execUserUpdate("UPDATE users SET white_state = 1, pass_date = ? WHERE id = ?", db.Today(), userID)
	}
	return db.execUserUpdate("UPDATE users SET white_state = 0 WHERE id = ?", userID)
}

// GiftTotals is what a user has given away today
type GiftTotals struct {
	Coins int
	Stars int
}

// GiftInfo returns today's gift totals for a sender
func (db *DB) GiftInfo(userID int64) (GiftTotals, error) {
	var totals GiftTotals
	err := db.conn.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN gift_type = ? THEN amount END), 0),
			COALESCE(SUM(CASE WHEN gift_type = ? THEN amount END), 0)
		FROM gift_records WHERE sender_id = ? AND gift_date = ?`,
		GiftCoin, GiftStar, userID, db.Today(),
	).Scan(&totals.Coins, &totals.Stars)
	return totals, err
}

// GiveGift moves one unit of giftType from sender to receiver and records
// it. limit is the sender's daily allowance for that type.
func (db *DB) GiveGift(senderID, receiverID int64, giftType string, limit int) error {
	var column string
	switch giftType {
	case GiftCoin:
		column = "coins"
	case GiftStar:
		column = "stars"
	default:
		return fmt.Errorf("unknown gift type %q", giftType)
	}
	const amount = 1

	return db.withTx(func(tx *sql.Tx) error {
		var balance int64
		err := tx.QueryRow("SELECT "+column+" FROM users WHERE id = ?", senderID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		var receiverExists int
		if err := tx.QueryRow("SELECT EXISTS (SELECT 1 FROM users WHERE id = ?)", receiverID).Scan(&receiverExists); err != nil {
			return err
		}
		if receiverExists == 0 {
			return ErrUserNotFound
		}

		var given int
		err = tx.QueryRow(
			"SELECT COALESCE(SUM(amount), 0) FROM gift_records WHERE sender_id = ? AND gift_type = ? AND gift_date = ?",
			senderID, giftType, db.Today(),
		).Scan(&given)
		if err != nil {
			return err
		}
		if given+amount > limit {
			return ErrGiftLimit
		}
		if balance < amount {
			return ErrInsufficientBalance
		}

		if _, err := tx.Exec("UPDATE users SET "+column+" = "+column+" - ? WHERE id = ?", amount, senderID); err != nil {
			return err
		}
		if _, err := tx.Exec("UPDATE users SET "+column+" = "+column+" + ? WHERE id = ?", amount, receiverID); err != nil {
			return err
		}
		_, err = tx.Exec(
			"INSERT INTO gift_records (sender_id, receiver_id, gift_type, amount, gift_date, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			senderID, receiverID, giftType, amount, db.Today(), db.nowMillis(),
		)
		return err
	})
}
