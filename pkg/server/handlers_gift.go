package server

import (
	"context"
	"fmt"

	"github.com/aeolun/craftlink/pkg/protocol"
)

func giftAnnouncement(giftType, sender, receiver string, amount int) string {
	unit := "coin"
	if giftType == protocol.GiftStar {
		unit = "star"
	}
	if amount != 1 {
		unit += "s"
	}
	return fmt.Sprintf("%s gave %s %d %s", sender, receiver, amount, unit)
}

func (s *Server) giftLimit(giftType string) int {
	if giftType == protocol.GiftStar {
		return s.cfg.StarGiftDailyLimit
	}
	return s.cfg.CoinGiftDailyLimit
}

func (s *Server) handleGiveGift(ctx context.Context, sess *Session, req *protocol.GiveGiftRequest) protocol.Response {
	if s.stores.Ledger == nil || s.stores.Users == nil || s.stores.Messages == nil {
		return unavailable()
	}
	if req.SenderID == req.ReceiverID {
		return protocol.Fail("cannot give a gift to yourself")
	}
	senderID, receiverID := int64(req.SenderID), int64(req.ReceiverID)

	if err := s.stores.Ledger.GiveGift(senderID, receiverID, req.GiftType, s.giftLimit(req.GiftType)); err != nil {
		return sess.storeFailure("give gift", err)
	}

	sender, err := s.stores.Users.GetUser(senderID)
	if err != nil {
		return sess.storeFailure("give gift", err)
	}
	receiver, err := s.stores.Users.GetUser(receiverID)
	if err != nil {
		return sess.storeFailure("give gift", err)
	}

	const amount = 1
	text := giftAnnouncement(req.GiftType, sender.Nickname, receiver.Nickname, amount)
	msg, err := s.stores.Messages.InsertMessage(senderID, receiverID, text)
	if err != nil {
		return sess.storeFailure("give gift", err)
	}
	s.pushMessage(msg)

	return &protocol.GiveGiftResponse{
		Status:       *protocol.OK(text),
		Amount:       amount,
		SenderName:   sender.Nickname,
		ReceiverName: receiver.Nickname,
	}
}

func (s *Server) handleGetGiftInfo(ctx context.Context, sess *Session, req *protocol.GetGiftInfoRequest) protocol.Response {
	if s.stores.Ledger == nil {
		return unavailable()
	}
	totals, err := s.stores.Ledger.GiftInfo(int64(req.UserID))
	if err != nil {
		return sess.storeFailure("get gift info", err)
	}
	return &protocol.GiftInfoResponse{
		Status: *protocol.OK(""),
		GiftInfo: protocol.GiftInfo{
			CoinsGivenToday: totals.Coins,
			StarsGivenToday: totals.Stars,
			CoinLimit:       s.cfg.CoinGiftDailyLimit,
			StarLimit:       s.cfg.StarGiftDailyLimit,
		},
	}
}
