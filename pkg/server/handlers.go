package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/aeolun/craftlink/pkg/database"
	"github.com/aeolun/craftlink/pkg/protocol"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateLogin rejects a login for an identity bound to another connection.
	ErrDuplicateLogin = errors.New("user already logged in elsewhere")
	// ErrSessionBound rejects binding a second identity to one connection.
	ErrSessionBound = errors.New("connection already logged in as another user")
	// ErrNotBound rejects a logout on a connection without that identity.
	ErrNotBound = errors.New("user is not logged in on this connection")
	// ErrUnavailable is answered when the store a handler needs is not configured.
	ErrUnavailable = errors.New("service unavailable")
)

// expected errors are business outcomes, reported to the client verbatim
var expected = []error{
	database.ErrUserNotFound,
	database.ErrInvalidCredentials,
	database.ErrUsernameTaken,
	database.ErrEmailTaken,
	database.ErrPhoneTaken,
	database.ErrInvalidEmail,
	database.ErrInvalidPhone,
	database.ErrAlreadySigned,
	database.ErrGiftLimit,
	database.ErrInsufficientBalance,
	database.ErrAlreadyWhitelisted,
	database.ErrApplicationPending,
	database.ErrApplicationLimit,
	database.ErrApplicationNotFound,
}

// storeFailure turns a collaborator error into a failed response. The
// connection stays open either way.
func (sess *Session) storeFailure(op string, err error) protocol.Response {
	for _, e := range expected {
		if errors.Is(err, e) {
			sess.logger.Debug(op+" rejected", zap.Error(err))
			return protocol.Fail(err.Error())
		}
	}
	sess.logger.Warn(op+" failed", zap.Error(err))
	return protocol.Fail(fmt.Sprintf("%s failed: %v", op, err))
}

func unavailable() protocol.Response {
	return protocol.Fail(ErrUnavailable.Error())
}

func (s *Server) onlineUsers(sess *Session) []protocol.ID {
	ids, err := s.stores.Users.ListOnline()
	if err != nil {
		sess.logger.Warn("list online users failed", zap.Error(err))
		return []protocol.ID{}
	}
	return toWireIDs(ids)
}

// Presence and chat

func (s *Server) handleLogin(ctx context.Context, sess *Session, req *protocol.LoginRequest) protocol.Response {
	users := s.stores.Users
	if users == nil || s.stores.Messages == nil {
		return unavailable()
	}

	u, err := users.CheckCredentials(req.Username, req.Password)
	if err != nil {
		return sess.storeFailure("login", err)
	}

	switch bound := sess.UserID(); {
	case bound == u.ID:
		// Logging in again on the same connection keeps the binding
	case bound != 0:
		return protocol.Fail(ErrSessionBound.Error())
	default:
		if !s.presence.TryRegister(u.ID, sess.conn) {
			s.metrics.RecordDuplicateLogin()
			sess.logger.Info("duplicate login rejected", zap.Int64("user_id", u.ID))
			return protocol.Fail(ErrDuplicateLogin.Error())
		}
		sess.bind(u.ID)
	}

	if err := users.SetOnline(u.ID); err != nil {
		sess.release()
		return sess.storeFailure("login", err)
	}

	ip := req.ClientIP
	if ip == "" {
		ip = sess.remoteHost()
	}
	users.RecordLogin(u.ID, ip)

	count, details, err := s.unread.Summary(u.ID)
	if err != nil {
		sess.release()
		return sess.storeFailure("login", err)
	}

	wire := toWireUser(u)
	return &protocol.LoginResponse{
		Status:        *protocol.OK("login successful"),
		User:          &wire,
		OnlineUsers:   s.onlineUsers(sess),
		UnreadCount:   count,
		UnreadDetails: details,
	}
}

func (s *Server) handleUserOnline(ctx context.Context, sess *Session, req *protocol.UserOnlineRequest) protocol.Response {
	users := s.stores.Users
	if users == nil {
		return unavailable()
	}
	id := int64(req.UserID)

	switch bound := sess.UserID(); {
	case bound == id:
	case bound != 0:
		return protocol.Fail(ErrSessionBound.Error())
	default:
		if _, err := users.GetUser(id); err != nil {
			return sess.storeFailure("user_online", err)
		}
		if !s.presence.TryRegister(id, sess.conn) {
			s.metrics.RecordDuplicateLogin()
			return protocol.Fail(ErrDuplicateLogin.Error())
		}
		sess.bind(id)
	}

	if err := users.SetOnline(id); err != nil {
		sess.release()
		return sess.storeFailure("user_online", err)
	}

	return &protocol.OnlineUsersResponse{
		Status:      *protocol.OK("online status updated"),
		OnlineUsers: s.onlineUsers(sess),
	}
}

// handleUserOffline serves user_offline and logout. The connection stays open.
func (s *Server) handleUserOffline(ctx context.Context, sess *Session, req *protocol.UserOfflineRequest) protocol.Response {
	if s.stores.Users == nil {
		return unavailable()
	}

	bound := sess.UserID()
	if bound == 0 || (req.UserID != 0 && int64(req.UserID) != bound) {
		return protocol.Fail(ErrNotBound.Error())
	}
	sess.release()

	// A binding evicted by a failed push is released without touching the
	// flag; an explicit offline still clears it unless another connection
	// holds the identity.
	if _, held := s.presence.Lookup(bound); !held {
		if err := s.stores.Users.SetOffline(bound); err != nil {
			return sess.storeFailure("user_offline", err)
		}
	}

	return &protocol.OnlineUsersResponse{
		Status:      *protocol.OK("offline status updated"),
		OnlineUsers: s.onlineUsers(sess),
	}
}

func (s *Server) handleSendMessage(ctx context.Context, sess *Session, req *protocol.SendMessageRequest) protocol.Response {
	if s.stores.Messages == nil {
		return unavailable()
	}

	msg, err := s.stores.Messages.InsertMessage(int64(req.SenderID), int64(req.ReceiverID), req.Content)
	if err != nil {
		return sess.storeFailure("send message", err)
	}

	s.pushMessage(msg)
	return protocol.OK("message sent")
}

// pushMessage offers a stored message to its receiver's live connection.
// When the receiver is unreachable the message waits in unread counts.
func (s *Server) pushMessage(msg *database.Message) bool {
	return s.push.Deliver(msg.ReceiverID, protocol.NewRealTimeMessage(protocol.PushMessage{
		SenderID:   protocol.ID(msg.SenderID),
		ReceiverID: protocol.ID(msg.ReceiverID),
		Content:    msg.Content,
		Timestamp:  protocol.FormatTimestamp(msg.Timestamp),
	}))
}

func (s *Server) handleGetMessages(ctx context.Context, sess *Session, req *protocol.GetMessagesRequest) protocol.Response {
	if s.stores.Messages == nil {
		return unavailable()
	}

	msgs, err := s.stores.Messages.MessagesBetween(int64(req.UserID), int64(req.ContactID))
	if err != nil {
		return sess.storeFailure("get messages", err)
	}

	out := make([]protocol.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toWireMessage(m))
	}
	return &protocol.MessagesResponse{Status: *protocol.OK(""), Messages: out}
}

func (s *Server) handleGetContacts(ctx context.Context, sess *Session, req *protocol.GetContactsRequest) protocol.Response {
	if s.stores.Messages == nil || s.stores.Users == nil {
		return unavailable()
	}

	rows, err := s.stores.Messages.Contacts(int64(req.UserID))
	if err != nil {
		return sess.storeFailure("get contacts", err)
	}

	contacts := make([]protocol.Contact, 0, len(rows))
	for _, c := range rows {
		contacts = append(contacts, protocol.Contact{
			UserID:   protocol.ID(c.UserID),
			Username: c.Username,
			Nickname: c.Nickname,
			Remark:   c.Remark,
			Online:   c.IsOnline,
		})
	}
	return &protocol.ContactsResponse{
		Status:      *protocol.OK(""),
		Contacts:    contacts,
		OnlineUsers: s.onlineUsers(sess),
	}
}

func (s *Server) unreadResponse(sess *Session, op string, user int64) protocol.Response {
	count, details, err := s.unread.Summary(user)
	if err != nil {
		return sess.storeFailure(op, err)
	}
	return &protocol.UnreadResponse{Status: *protocol.OK(""), UnreadCount: count, UnreadDetails: details}
}

func (s *Server) handleGetUnreadMessages(ctx context.Context, sess *Session, req *protocol.GetUnreadMessagesRequest) protocol.Response {
	if s.stores.Messages == nil {
		return unavailable()
	}
	return s.unreadResponse(sess, "get unread messages", int64(req.UserID))
}

func (s *Server) handleMarkMessagesAsRead(ctx context.Context, sess *Session, req *protocol.MarkMessagesAsReadRequest) protocol.Response {
	if s.stores.Messages == nil {
		return unavailable()
	}
	if err := s.unread.MarkRead(int64(req.UserID), int64(req.ContactID)); err != nil {
		return sess.storeFailure("mark messages as read", err)
	}
	return s.unreadResponse(sess, "mark messages as read", int64(req.UserID))
}

func (s *Server) handleHasVisibleMessages(ctx context.Context, sess *Session, req *protocol.HasVisibleMessagesRequest) protocol.Response {
	if s.stores.Messages == nil {
		return unavailable()
	}
	visible, err := s.stores.Messages.HasVisibleMessages(int64(req.UserID), int64(req.ContactID))
	if err != nil {
		return sess.storeFailure("check visible messages", err)
	}
	return &protocol.HasVisibleMessagesResponse{Status: *protocol.OK(""), HasVisibleMessages: visible}
}

// contactGreeting opens a conversation that has no history yet
const contactGreeting = "We are now contacts. Say hello!"

func (s *Server) handleAddContact(ctx context.Context, sess *Session, req *protocol.AddContactRequest) protocol.Response {
	messages := s.stores.Messages
	if messages == nil {
		return unavailable()
	}
	if req.UserID == req.ContactID {
		return protocol.Fail("cannot add yourself as a contact")
	}

	contact, _, err := messages.EnsureContact(int64(req.UserID), int64(req.ContactID), contactGreeting)
	if err != nil {
		return sess.storeFailure("add contact", err)
	}
	if req.Remark != "" {
		if err := messages.SetContactRemark(int64(req.UserID), int64(req.ContactID), req.Remark); err != nil {
			return sess.storeFailure("add contact", err)
		}
	}

	remark, err := messages.ContactRemark(int64(req.UserID), int64(req.ContactID))
	if err != nil {
		return sess.storeFailure("add contact", err)
	}

	wire := toWireUser(contact)
	return &protocol.AddContactResponse{Status: *protocol.OK("contact added"), Contact: &wire, Remark: remark}
}

func (s *Server) handleDeleteContact(ctx context.Context, sess *Session, req *protocol.DeleteContactRequest) protocol.Response {
	if s.stores.Messages == nil {
		return unavailable()
	}
	if err := s.stores.Messages.HideConversation(int64(req.UserID), int64(req.ContactID)); err != nil {
		return sess.storeFailure("delete contact", err)
	}
	return protocol.OK("contact deleted")
}

func (s *Server) handleUpdateContactRemark(ctx context.Context, sess *Session, req *protocol.UpdateContactRemarkRequest) protocol.Response {
	if s.stores.Messages == nil {
		return unavailable()
	}
	if err := s.stores.Messages.SetContactRemark(int64(req.UserID), int64(req.ContactID), req.Remark); err != nil {
		return sess.storeFailure("update remark", err)
	}
	return protocol.OK("remark updated")
}
