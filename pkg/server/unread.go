package server

import (
	"strconv"
)

// UnreadTracker reads unread counts from the message store. Counts are
// always derived from stored rows, never kept separately.
type UnreadTracker struct {
	messages MessageStore
}

// NewUnreadTracker creates a tracker over messages
func NewUnreadTracker(messages MessageStore) *UnreadTracker {
	return &UnreadTracker{messages: messages}
}

func (u *UnreadTracker) CountUnread(user int64) (int, error) {
	return u.messages.CountUnread(user)
}

func (u *UnreadTracker) UnreadBySender(user int64) (map[int64]int, error) {
	return u.messages.UnreadBySender(user)
}

func (u *UnreadTracker) MarkRead(user, counterpart int64) error {
	return u.messages.MarkRead(user, counterpart)
}

// Summary returns the total and the per-sender counts keyed the way the
// wire expects, by decimal sender id.
func (u *UnreadTracker) Summary(user int64) (int, map[string]int, error) {
	bySender, err := u.messages.UnreadBySender(user)
	if err != nil {
		return 0, nil, err
	}

	details := make(map[string]int, len(bySender))
	total := 0
	for sender, n := range bySender {
		details[strconv.FormatInt(sender, 10)] = n
		total += n
	}
	return total, details, nil
}
