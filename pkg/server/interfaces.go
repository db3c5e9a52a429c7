package server

import (
	"context"

	"github.com/aeolun/craftlink/pkg/database"
)

// UserStore is the account and online-flag store the session depends on.
type UserStore interface {
	CheckCredentials(username, password string) (*database.User, error)
	GetUser(id int64) (*database.User, error)
	SetOnline(id int64) error
	SetOffline(id int64) error
	IsOnline(id int64) (bool, error)
	ListOnline() ([]int64, error)
	RecordLogin(userID int64, ip string)
}

// MessageStore persists chat messages, visibility and remarks.
type MessageStore interface {
	InsertMessage(senderID, receiverID int64, content string) (*database.Message, error)
	MessagesBetween(userID, contactID int64) ([]*database.Message, error)
	CountUnread(userID int64) (int, error)
	UnreadBySender(userID int64) (map[int64]int, error)
	MarkRead(userID, counterpart int64) error
	Contacts(userID int64) ([]database.ContactRow, error)
	HideConversation(userID, contactID int64) error
	HasVisibleMessages(userID, contactID int64) (bool, error)
	EnsureContact(userID, contactID int64, greeting string) (*database.User, bool, error)
	SetContactRemark(userID, contactID int64, remark string) error
	ContactRemark(userID, contactID int64) (string, error)
}

// AccountStore covers registration, profiles and listings.
type AccountStore interface {
	CreateUser(nu database.NewUser) (int64, error)
	UpdateRole(id int64, roleID int) error
	UpdateProfile(id int64, p database.ProfileUpdate) error
	BindQQ(id int64, qq string) error
	ListUsers() ([]*database.User, error)
	CountUsers() (int, error)
	ListUsersPage(page, pageSize int) ([]*database.User, error)
	CoinLeaderboard(limit int) ([]database.LeaderboardEntry, error)
	StarLeaderboard(limit int) ([]database.LeaderboardEntry, error)
}

// LedgerStore covers sign-ins, gifts and the whitelist workflow.
type LedgerStore interface {
	Sign(userID int64, reward database.SignReward) error
	HasSignedToday(userID int64) (bool, error)
	ApplyWhitelist(userID int64, playerName string, genuine int, reason string, dailyLimit int) (int64, error)
	UserApplications(userID int64) ([]*database.WhitelistApplication, error)
	PendingApplications() ([]*database.WhitelistApplication, error)
	ProcessApplication(appID int64, approved bool) (*database.WhitelistApplication, error)
	SetWhitelisted(userID int64, whitelisted bool) error
	GiftInfo(userID int64) (database.GiftTotals, error)
	GiveGift(senderID, receiverID int64, giftType string, limit int) error
}

// CommandExecutor runs a command on the game server console.
type CommandExecutor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// Stores groups the collaborators handlers use. Nil stores make their
// handlers answer with a failure.
type Stores struct {
	Users    UserStore
	Messages MessageStore
	Accounts AccountStore
	Ledger   LedgerStore
}

// StoresFromDB uses db for every store
func StoresFromDB(db *database.DB) Stores {
	return Stores{Users: db, Messages: db, Accounts: db, Ledger: db}
}
