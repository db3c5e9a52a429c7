package database

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultRoleID is assigned to new accounts. Lower ids are more privileged.
const DefaultRoleID = 3

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)
)

// User represents a user record
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Nickname     string
	Email        string
	Phone        string
	CreatedAt    int64 // Unix timestamp in milliseconds
	LastOnline   *int64
	IsOnline     bool
	Coins        int64
	Stars        int64
	RoleID       int
	PlayerName   string
	PlayerUUID   string
	WhiteState   int
	Genuine      int
	PassDate     string
	QQ           string
	FirstName    string
	LastName     string
	Gender       string
	Birthday     string
	Bio          string
}

// NewUser holds the fields supplied at registration
type NewUser struct {
	Username   string
	Password   string
	Nickname   string
	Email      string
	Phone      string
	PlayerName string
}

// ProfileUpdate changes only the non-nil fields
type ProfileUpdate struct {
	Nickname  *string
	Email     *string
	Phone     *string
	Password  *string
	FirstName *string
	LastName  *string
	Gender    *string
	Birthday  *string
	Bio       *string
}

const userColumns = `id, username, password_hash, nickname, email, phone, created_at, last_online,
	is_online, coins, stars, role_id, player_name, player_uuid, white_state, genuine, pass_date,
	qq, first_name, last_name, gender, birthday, bio`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var lastOnline sql.NullInt64
	var online int
	err := row.Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Nickname, &u.Email, &u.Phone, &u.CreatedAt, &lastOnline,
		&online, &u.Coins, &u.Stars, &u.RoleID, &u.PlayerName, &u.PlayerUUID, &u.WhiteState, &u.Genuine, &u.PassDate,
		&u.QQ, &u.FirstName, &u.LastName, &u.Gender, &u.Birthday, &u.Bio,
	)
	if err != nil {
		return nil, err
	}
	if lastOnline.Valid {
		u.LastOnline = &lastOnline.Int64
	}
	u.IsOnline = online == 1
	return &u, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CreateUser validates and stores a new account. The player UUID is a random
// UUID without dashes.
func (db *DB) CreateUser(nu NewUser) (int64, error) {
	if !emailPattern.MatchString(nu.Email) {
		return 0, ErrInvalidEmail
	}
	if !phonePattern.MatchString(nu.Phone) {
		return 0, ErrInvalidPhone
	}

	hash, err := hashPassword(nu.Password)
	if err != nil {
		return 0, err
	}
	playerUUID := strings.ReplaceAll(uuid.NewString(), "-", "")

	var id int64
	err = db.withTx(func(tx *sql.Tx) error {
		var username, email, phone string
		err := tx.QueryRow(
			"SELECT username, email, phone FROM users WHERE username = ? OR email = ? OR phone = ? LIMIT 1",
			nu.Username, nu.Email, nu.Phone,
		).Scan(&username, &email, &phone)
		switch {
		case err == nil:
			if username == nu.Username {
				return ErrUsernameTaken
			}
			if email == nu.Email {
				return ErrEmailTaken
			}
			return ErrPhoneTaken
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		res, err := tx.Exec(`
			INSERT INTO users (username, password_hash, nickname, email, phone, created_at, role_id,
				player_name, player_uuid, first_name, last_name, birthday, bio)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'New', 'User', '2024-01-01', 'No bio yet')`,
			nu.Username, hash, nu.Nickname, nu.Email, nu.Phone, db.nowMillis(), DefaultRoleID,
			nu.PlayerName, playerUUID,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CheckCredentials returns the user when the password matches.
func (db *DB) CheckCredentials(username, password string) (*User, error) {
	u, err := scanUser(db.conn.QueryRow("SELECT "+userColumns+" FROM users WHERE username = ?", username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetUser returns a user by ID
func (db *DB) GetUser(id int64) (*User, error) {
	u, err := scanUser(db.conn.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// ListUsers returns all users ordered by ID
func (db *DB) ListUsers() ([]*User, error) {
	return db.queryUsers("SELECT " + userColumns + " FROM users ORDER BY id")
}

// ListUsersPage returns one page of users, pages counting from 1
func (db *DB) ListUsersPage(page, pageSize int) ([]*User, error) {
	if page < 1 {
		page = 1
	}
	return db.queryUsers("SELECT "+userColumns+" FROM users ORDER BY id LIMIT ? OFFSET ?", pageSize, (page-1)*pageSize)
}

// CountUsers returns the number of registered users
func (db *DB) CountUsers() (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

func (db *DB) queryUsers(query string, args ...any) ([]*User, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *DB) execUserUpdate(query string, args ...any) error {
	res, err := db.writeConn.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetOnline marks the user logically online
func (db *DB) SetOnline(id int64) error {
	return db.execUserUpdate("UPDATE users SET is_online = 1, last_online = ? WHERE id = ?", db.nowMillis(), id)
}

// SetOffline marks the user logically offline
func (db *DB) SetOffline(id int64) error {
	return db.execUserUpdate("UPDATE users SET is_online = 0, last_online = ? WHERE id = ?", db.nowMillis(), id)
}

// IsOnline reports the persisted online flag
func (db *DB) IsOnline(id int64) (bool, error) {
	var online int
	err := db.conn.QueryRow("SELECT is_online FROM users WHERE id = ?", id).Scan(&online)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return online == 1, err
}

// ListOnline returns the IDs of all logically online users
func (db *DB) ListOnline() ([]int64, error) {
	rows, err := db.conn.Query("SELECT id FROM users WHERE is_online = 1 ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordLogin queues a login record. The write is batched.
func (db *DB) RecordLogin(userID int64, ip string) {
	db.Logins.Record(userID, ip, db.nowMillis())
}

// UpdateRole changes a user's role
func (db *DB) UpdateRole(id int64, roleID int) error {
	return db.execUserUpdate("UPDATE users SET role_id = ? WHERE id = ?", roleID, id)
}

// UpdateProfile applies the non-nil fields of p
func (db *DB) UpdateProfile(id int64, p ProfileUpdate) error {
	var sets []string
	var args []any
	add := func(column string, v *string) {
		if v != nil {
			sets = append(sets, column+" = ?")
			args = append(args, *v)
		}
	}
	add("nickname", p.Nickname)
	add("email", p.Email)
	add("phone", p.Phone)
	add("first_name", p.FirstName)
	add("last_name", p.LastName)
	add("gender", p.Gender)
	add("birthday", p.Birthday)
	add("bio", p.Bio)

	if p.Email != nil && !emailPattern.MatchString(*p.Email) {
		return ErrInvalidEmail
	}
	if p.Phone != nil && !phonePattern.MatchString(*p.Phone) {
		return ErrInvalidPhone
	}
	if p.Password != nil && *p.Password != "" {
		hash, err := hashPassword(*p.Password)
		if err != nil {
			return err
		}
		sets = append(sets, "password_hash = ?")
		args = append(args, hash)
	}

	if len(sets) == 0 {
		_, err := db.GetUser(id)
		return err
	}

	args = append(args, id)
	return db.execUserUpdate("UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
}

// BindQQ stores the user's QQ number
func (db *DB) BindQQ(id int64, qq string) error {
	return db.execUserUpdate("UPDATE users SET qq = ? WHERE id = ?", qq, id)
}

// LeaderboardEntry is one row of a leaderboard
type LeaderboardEntry struct {
	UserID   int64
	Nickname string
	Score    int64
}

// CoinLeaderboard returns the users with the most coins
func (db *DB) CoinLeaderboard(limit int) ([]LeaderboardEntry, error) {
	return db.leaderboard("coins", limit)
}

// StarLeaderboard returns the users with the most stars
func (db *DB) StarLeaderboard(limit int) ([]LeaderboardEntry, error) {
	return db.leaderboard("stars", limit)
}

// column is one of two constants, never user input
func (db *DB) leaderboard(column string, limit int) ([]LeaderboardEntry, error) {
	rows, err := db.conn.Query(
		fmt.Sprintf("SELECT id, nickname, %s FROM users ORDER BY %s DESC, id ASC LIMIT ?", column, column),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LeaderboardEntry{}
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Nickname, &e.Score); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
