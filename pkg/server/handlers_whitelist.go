package server

import (
	"context"
	"fmt"
	"time"

	"github.com/aeolun/craftlink/pkg/database"
	"github.com/aeolun/craftlink/pkg/protocol"
	"go.uber.org/zap"
)

const commandTimeout = 10 * time.Second

// runCommand sends a console command to the game server. A failed command is
// logged; the stored whitelist state is authoritative.
func (s *Server) runCommand(ctx context.Context, sess *Session, command string) {
	if s.commands == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := s.commands.Execute(ctx, command)
	if err != nil {
		sess.logger.Warn("game server command failed", zap.String("command", command), zap.Error(err))
		return
	}
	sess.logger.Info("game server command", zap.String("command", command), zap.String("output", out))
}

func (s *Server) setWhitelisted(ctx context.Context, sess *Session, userID int64, whitelisted bool) protocol.Response {
	if s.stores.Ledger == nil || s.stores.Users == nil {
		return unavailable()
	}

	u, err := s.stores.Users.GetUser(userID)
	if err != nil {
		return sess.storeFailure("update whitelist", err)
	}
	if err := s.stores.Ledger.SetWhitelisted(userID, whitelisted); err != nil {
		return sess.storeFailure("update whitelist", err)
	}

	if whitelisted {
		s.runCommand(ctx, sess, "whitelist add "+u.PlayerName)
		return protocol.OK("added to whitelist")
	}
	s.runCommand(ctx, sess, "whitelist remove "+u.PlayerName)
	return protocol.OK("removed from whitelist")
}

func (s *Server) handleAddToWhitelist(ctx context.Context, sess *Session, req *protocol.AddToWhitelistRequest) protocol.Response {
	return s.setWhitelisted(ctx, sess, int64(req.UserID), true)
}

func (s *Server) handleRemoveFromWhitelist(ctx context.Context, sess *Session, req *protocol.RemoveFromWhitelistRequest) protocol.Response {
	return s.setWhitelisted(ctx, sess, int64(req.UserID), false)
}

func (s *Server) handleWhitelistApply(ctx context.Context, sess *Session, req *protocol.WhitelistApplyRequest) protocol.Response {
	if s.stores.Ledger == nil {
		return unavailable()
	}

	id, err := s.stores.Ledger.ApplyWhitelist(int64(req.UserID), req.PlayerName, *req.Genuine, req.Reason, s.cfg.WhitelistDailyLimit)
	if err != nil {
		return sess.storeFailure("whitelist apply", err)
	}

	sess.logger.Info("whitelist application submitted", zap.Int64("application_id", id), zap.Int64("user_id", int64(req.UserID)))
	return protocol.OK("application submitted")
}

func (s *Server) handleGetUserWhitelistApplications(ctx context.Context, sess *Session, req *protocol.GetUserWhitelistApplicationsRequest) protocol.Response {
	if s.stores.Ledger == nil {
		return unavailable()
	}
	apps, err := s.stores.Ledger.UserApplications(int64(req.UserID))
	if err != nil {
		return sess.storeFailure("list applications", err)
	}
	return &protocol.WhitelistApplicationsResponse{Status: *protocol.OK(""), Applications: toWireApplications(apps)}
}

func (s *Server) handleGetAllWhitelistApplications(ctx context.Context, sess *Session, req *protocol.GetAllWhitelistApplicationsRequest) protocol.Response {
	if s.stores.Ledger == nil {
		return unavailable()
	}
	apps, err := s.stores.Ledger.PendingApplications()
	if err != nil {
		return sess.storeFailure("list applications", err)
	}
	return &protocol.WhitelistApplicationsResponse{Status: *protocol.OK(""), Applications: toWireApplications(apps)}
}

func (s *Server) handleProcessWhitelistApplication(ctx context.Context, sess *Session, req *protocol.ProcessWhitelistApplicationRequest) protocol.Response {
	if s.stores.Ledger == nil {
		return unavailable()
	}

	app, err := s.stores.Ledger.ProcessApplication(req.ApplicationID, *req.Approved)
	if err != nil {
		return sess.storeFailure("process application", err)
	}

	sess.logger.Info("whitelist application processed",
		zap.Int64("application_id", app.ID),
		zap.String("status", app.Status),
	)
	if app.Status == database.ApplicationApproved {
		s.runCommand(ctx, sess, "whitelist add "+app.PlayerName)
	}
	return protocol.OK(fmt.Sprintf("application %s", app.Status))
}
