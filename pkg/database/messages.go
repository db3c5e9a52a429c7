package database

import (
	"database/sql"
	"errors"
	"unicode/utf8"
)

// MaxContentLength is the longest message content stored, in characters
const MaxContentLength = 250

// Message represents a stored chat message
type Message struct {
	ID                int64
	SenderID          int64
	ReceiverID        int64
	SenderName        string
	ReceiverName      string
	Content           string
	Timestamp         int64 // Unix timestamp in milliseconds
	VisibleToSender   bool
	VisibleToReceiver bool
	IsRead            bool
}

// ContactRow is a conversation partner as seen by one user
type ContactRow struct {
	UserID   int64
	Username string
	Nickname string
	Remark   string
	IsOnline bool
}

// TruncateContent cuts content to MaxContentLength characters
func TruncateContent(content string) string {
	if utf8.RuneCountInString(content) <= MaxContentLength {
		return content
	}
	n := 0
	for i := range content {
		if n == MaxContentLength {
			return content[:i]
		}
		n++
	}
	return content
}

// InsertMessage stores a message, truncating its content, and returns the
// stored row.
func (db *DB) InsertMessage(senderID, receiverID int64, content string) (*Message, error) {
	msg := &Message{
		SenderID:          senderID,
		ReceiverID:        receiverID,
		Content:           TruncateContent(content),
		Timestamp:         db.nowMillis(),
		VisibleToSender:   true,
		VisibleToReceiver: true,
	}

	res, err := db.writeConn.Exec(
		"INSERT INTO messages (sender_id, receiver_id, content, timestamp) VALUES (?, ?, ?, ?)",
		msg.SenderID, msg.ReceiverID, msg.Content, msg.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	msg.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MessagesBetween returns the conversation between userID and contactID as
// userID sees it, oldest first.
func (db *DB) MessagesBetween(userID, contactID int64) ([]*Message, error) {
	rows, err := db.conn.Query(`
		SELECT m.id, m.sender_id, m.receiver_id, s.nickname, r.nickname, m.content, m.timestamp,
			m.visible_to_sender, m.visible_to_receiver, m.is_read
		FROM messages m
		JOIN users s ON s.id = m.sender_id
		JOIN users r ON r.id = m.receiver_id
		WHERE (m.sender_id = ? AND m.receiver_id = ? AND m.visible_to_sender = 1)
		   OR (m.sender_id = ? AND m.receiver_id = ? AND m.visible_to_receiver = 1)
		ORDER BY m.timestamp ASC, m.id ASC`,
		userID, contactID, contactID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		var m Message
		var visSender, visReceiver, isRead int
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.SenderName, &m.ReceiverName, &m.Content, &m.Timestamp,
			&visSender, &visReceiver, &isRead); err != nil {
			return nil, err
		}
		m.VisibleToSender = visSender == 1
		m.VisibleToReceiver = visReceiver == 1
		m.IsRead = isRead == 1
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// CountUnread returns the number of unread messages visible to userID
func (db *DB) CountUnread(userID int64) (int, error) {
	var n int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND visible_to_receiver = 1 AND is_read = 0",
		userID,
	).Scan(&n)
	return n, err
}

// UnreadBySender groups CountUnread by sender
func (db *DB) UnreadBySender(userID int64) (map[int64]int, error) {
	rows, err := db.conn.Query(
		`SELECT sender_id, COUNT(*) FROM messages
		WHERE receiver_id = ? AND visible_to_receiver = 1 AND is_read = 0
		GROUP BY sender_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var sender int64
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, err
		}
		counts[sender] = n
	}
	return counts, rows.Err()
}

// MarkRead marks every message from counterpart to userID as read. Messages
// userID sent are never touched.
func (db *DB) MarkRead(userID, counterpart int64) error {
	_, err := db.writeConn.Exec(
		"UPDATE messages SET is_read = 1 WHERE receiver_id = ? AND sender_id = ? AND is_read = 0",
		userID, counterpart,
	)
	return err
}

// Contacts lists every user with at least one message visible to userID,
// with userID's remark for them.
func (db *DB) Contacts(userID int64) ([]ContactRow, error) {
	rows, err := db.conn.Query(`
		SELECT u.id, u.username, u.nickname, COALESCE(cr.remark, ''), u.is_online
		FROM users u
		LEFT JOIN contact_remarks cr ON cr.user_id = ? AND cr.contact_id = u.id
		WHERE u.id IN (
			SELECT receiver_id FROM messages WHERE sender_id = ? AND visible_to_sender = 1
			UNION
			SELECT sender_id FROM messages WHERE receiver_id = ? AND visible_to_receiver = 1
		) AND u.id != ?
		ORDER BY u.id`,
		userID, userID, userID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []ContactRow{}
	for rows.Next() {
		var c ContactRow
		var online int
		if err := rows.Scan(&c.UserID, &c.Username, &c.Nickname, &c.Remark, &online); err != nil {
			return nil, err
		}
		c.IsOnline = online == 1
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// HideConversation hides the conversation with contactID from userID only and
// drops userID's remark for them.
func (db *DB) HideConversation(userID, contactID int64) error {
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"UPDATE messages SET visible_to_sender = 0 WHERE sender_id = ? AND receiver_id = ?",
			userID, contactID,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(
			"UPDATE messages SET visible_to_receiver = 0 WHERE sender_id = ? AND receiver_id = ?",
			contactID, userID,
		); err != nil {
			return err
		}
		_, err := tx.Exec("DELETE FROM contact_remarks WHERE user_id = ? AND contact_id = ?", userID, contactID)
		return err
	})
}

// HasVisibleMessages reports whether userID can see any message with contactID
func (db *DB) HasVisibleMessages(userID, contactID int64) (bool, error) {
	var exists int
	err := db.conn.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE (sender_id = ? AND receiver_id = ? AND visible_to_sender = 1)
			   OR (sender_id = ? AND receiver_id = ? AND visible_to_receiver = 1)
		)`,
		userID, contactID, contactID, userID,
	).Scan(&exists)
	return exists == 1, err
}

// EnsureContact makes contactID show up in userID's contact list. When the
// pair has never exchanged a message, a greeting from contactID is stored.
// The contact's user record is returned.
func (db *DB) EnsureContact(userID, contactID int64, greeting string) (*User, bool, error) {
	contact, err := db.GetUser(contactID)
	if err != nil {
		return nil, false, err
	}

	var history int
	err = db.conn.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		)`,
		userID, contactID, contactID, userID,
	).Scan(&history)
	if err != nil {
		return nil, false, err
	}
	if history == 1 {
		// Make hidden history visible again for the caller
		if err := db.unhideConversation(userID, contactID); err != nil {
			return nil, false, err
		}
		return contact, false, nil
	}

	if _, err := db.InsertMessage(contactID, userID, greeting); err != nil {
		return nil, false, err
	}
	return contact, true, nil
}

func (db *DB) unhideConversation(userID, contactID int64) error {
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"UPDATE messages SET visible_to_sender = 1 WHERE sender_id = ? AND receiver_id = ?",
			userID, contactID,
		); err != nil {
			return err
		}
		_, err := tx.Exec(
			"UPDATE messages SET visible_to_receiver = 1 WHERE sender_id = ? AND receiver_id = ?",
			contactID, userID,
		)
		return err
	})
}

// SetContactRemark stores userID's remark for contactID. An empty remark
// removes it.
func (db *DB) SetContactRemark(userID, contactID int64, remark string) error {
	if _, err := db.GetUser(contactID); err != nil {
		return err
	}
	if remark == "" {
		_, err := db.writeConn.Exec("DELETE FROM contact_remarks WHERE user_id = ? AND contact_id = ?", userID, contactID)
		return err
	}
	_, err := db.writeConn.Exec(`
		INSERT INTO contact_remarks (user_id, contact_id, remark, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, contact_id) DO UPDATE SET remark = excluded.remark, updated_at = excluded.updated_at`,
		userID, contactID, remark, db.nowMillis(),
	)
	return err
}

// ContactRemark returns userID's remark for contactID, or "" when unset
func (db *DB) ContactRemark(userID, contactID int64) (string, error) {
	var remark string
	err := db.conn.QueryRow(
		"SELECT remark FROM contact_remarks WHERE user_id = ? AND contact_id = ?", userID, contactID,
	).Scan(&remark)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return remark, err
}
