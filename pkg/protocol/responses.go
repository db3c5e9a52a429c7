package protocol

import (
	"encoding/json"
	"time"
)

// TimestampLayout is the wire format of every timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders unix milliseconds in server local time.
func FormatTimestamp(ms int64) string {
	return time.UnixMilli(ms).Local().Format(TimestampLayout)
}

// Status is the header every response carries. Type and Seq are copied from
// the request by the session before the response is written.
type Status struct {
	Type    string          `json:"type"`
	Seq     json.RawMessage `json:"seq,omitempty"`
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
}

// Header exposes the embedded Status of any response struct.
func (s *Status) Header() *Status { return s }

// Response is any of the response shapes below.
type Response interface {
	Header() *Status
}

// OK returns a bare success response with an optional message.
func OK(message string) *Status {
	return &Status{Success: true, Message: message}
}

// Fail returns a failed response.
func Fail(message string) *Status {
	return &Status{Success: false, Message: message}
}

// Wire models

type User struct {
	UserID     ID     `json:"user_id"`
	Username   string `json:"username"`
	Nickname   string `json:"nickname"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	LastOnline string `json:"last_online,omitempty"`
	Coins      int64  `json:"coins"`
	Stars      int64  `json:"stars"`
	RoleID     int    `json:"role_id"`
	PlayerName string `json:"player_name,omitempty"`
	PlayerUUID string `json:"player_uuid,omitempty"`
	WhiteState int    `json:"white_state"`
	Genuine    int    `json:"genuine"`
	PassDate   string `json:"pass_date,omitempty"`
	QQ         string `json:"qq,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Birthday   string `json:"birthday,omitempty"`
	Bio        string `json:"bio,omitempty"`
	Online     *bool  `json:"online,omitempty"`
}

type Contact struct {
	UserID   ID     `json:"user_id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Remark   string `json:"remark"`
	Online   bool   `json:"online"`
}

type ChatMessage struct {
	ID           int64  `json:"id"`
	SenderID     ID     `json:"sender_id"`
	ReceiverID   ID     `json:"receiver_id"`
	SenderName   string `json:"sender_name"`
	ReceiverName string `json:"receiver_name"`
	Content      string `json:"content"`
	Timestamp    string `json:"timestamp"`
	IsRead       bool   `json:"is_read"`
}

type LeaderboardEntry struct {
	UserID   ID     `json:"user_id"`
	Nickname string `json:"nickname"`
	Score    int64  `json:"score"`
}

type WhitelistApplication struct {
	ID          int64  `json:"id"`
	UserID      ID     `json:"user_id"`
	PlayerName  string `json:"playername"`
	Genuine     int    `json:"genuine"`
	Reason      string `json:"reason"`
	Status      string `json:"status"`
	Date        string `json:"date"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

type GiftInfo struct {
	CoinsGivenToday int `json:"coins_given_today"`
	StarsGivenToday int `json:"stars_given_today"`
	CoinLimit       int `json:"coin_limit"`
	StarLimit       int `json:"star_limit"`
}

type SignReward struct {
	Coin int `json:"coin"`
	Star int `json:"star"`
}

// Response shapes

type LoginResponse struct {
	Status
	User          *User          `json:"user,omitempty"`
	OnlineUsers   []ID           `json:"online_users"`
	UnreadCount   int            `json:"unread_count"`
	UnreadDetails map[string]int `json:"unread_details"`
}

type OnlineUsersResponse struct {
	Status
	OnlineUsers []ID `json:"online_users"`
}

type UnreadResponse struct {
	Status
	UnreadCount   int            `json:"unread_count"`
	UnreadDetails map[string]int `json:"unread_details"`
}

type MessagesResponse struct {
	Status
	Messages []ChatMessage `json:"messages"`
}

type ContactsResponse struct {
	Status
	Contacts    []Contact `json:"contacts"`
	OnlineUsers []ID      `json:"online_users"`
}

type HasVisibleMessagesResponse struct {
	Status
	HasVisibleMessages bool `json:"has_visible_messages"`
}

type AddContactResponse struct {
	Status
	Contact *User  `json:"contact,omitempty"`
	Remark  string `json:"remark,omitempty"`
}

type UserResponse struct {
	Status
	User *User `json:"user,omitempty"`
}

type UsersResponse struct {
	Status
	Data        []User `json:"data"`
	OnlineUsers []ID   `json:"online_users"`
}

type CountResponse struct {
	Status
	Count int `json:"count"`
}

type SignResponse struct {
	Status
	Reward SignReward `json:"reward"`
}

type LeaderboardResponse struct {
	Status
	Coin []LeaderboardEntry `json:"coin"`
	Star []LeaderboardEntry `json:"star"`
}

type WhitelistApplicationsResponse struct {
	Status
	Applications []WhitelistApplication `json:"applications"`
}

type GiveGiftResponse struct {
	Status
	Amount       int    `json:"amount"`
	SenderName   string `json:"sender_name"`
	ReceiverName string `json:"receiver_name"`
}

type GiftInfoResponse struct {
	Status
	GiftInfo GiftInfo `json:"gift_info"`
}

// Push

// PushMessage is the body of a real_time_message push.
type PushMessage struct {
	SenderID   ID     `json:"sender_id"`
	ReceiverID ID     `json:"receiver_id"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

// RealTimeMessage is the unsolicited push envelope. It has no seq.
type RealTimeMessage struct {
	Type    string      `json:"type"`
	Message PushMessage `json:"message"`
}

func NewRealTimeMessage(msg PushMessage) *RealTimeMessage {
	return &RealTimeMessage{Type: TypeRealTimeMessage, Message: msg}
}
