package server

import (
	"github.com/aeolun/craftlink/pkg/database"
	"github.com/aeolun/craftlink/pkg/protocol"
)

func toWireUser(u *database.User) protocol.User {
	w := protocol.User{
		UserID:     protocol.ID(u.ID),
		Username:   u.Username,
		Nickname:   u.Nickname,
		Email:      u.Email,
		Phone:      u.Phone,
		CreatedAt:  protocol.FormatTimestamp(u.CreatedAt),
		Coins:      u.Coins,
		Stars:      u.Stars,
		RoleID:     u.RoleID,
		PlayerName: u.PlayerName,
		PlayerUUID: u.PlayerUUID,
		WhiteState: u.WhiteState,
		Genuine:    u.Genuine,
		PassDate:   u.PassDate,
		QQ:         u.QQ,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Gender:     u.Gender,
		Birthday:   u.Birthday,
		Bio:        u.Bio,
	}
	if u.LastOnline != nil {
		w.LastOnline = protocol.FormatTimestamp(*u.LastOnline)
	}
	return w
}

func toWireUsers(users []*database.User) []protocol.User {
	out := make([]protocol.User, 0, len(users))
	for _, u := range users {
		out = append(out, toWireUser(u))
	}
	return out
}

func toWireMessage(m *database.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:           m.ID,
		SenderID:     protocol.ID(m.SenderID),
		ReceiverID:   protocol.ID(m.ReceiverID),
		SenderName:   m.SenderName,
		ReceiverName: m.ReceiverName,
		Content:      m.Content,
		Timestamp:    protocol.FormatTimestamp(m.Timestamp),
		IsRead:       m.IsRead,
	}
}

func toWireApplication(a *database.WhitelistApplication) protocol.WhitelistApplication {
	w := protocol.WhitelistApplication{
		ID:         a.ID,
		UserID:     protocol.ID(a.UserID),
		PlayerName: a.PlayerName,
		Genuine:    a.Genuine,
		Reason:     a.Reason,
		Status:     a.Status,
		Date:       a.ApplyDate,
	}
	if a.ProcessedAt != nil {
		w.ProcessedAt = protocol.FormatTimestamp(*a.ProcessedAt)
	}
	return w
}

func toWireApplications(apps []*database.WhitelistApplication) []protocol.WhitelistApplication {
	out := make([]protocol.WhitelistApplication, 0, len(apps))
	for _, a := range apps {
		out = append(out, toWireApplication(a))
	}
	return out
}

func toWireLeaderboard(entries []database.LeaderboardEntry) []protocol.LeaderboardEntry {
	out := make([]protocol.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.LeaderboardEntry{UserID: protocol.ID(e.UserID), Nickname: e.Nickname, Score: e.Score})
	}
	return out
}

func toWireIDs(ids []int64) []protocol.ID {
	out := make([]protocol.ID, 0, len(ids))
	for _, id := range ids {
		out = append(out, protocol.ID(id))
	}
	return out
}
