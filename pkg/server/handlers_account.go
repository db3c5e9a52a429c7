package server

import (
	"context"

	"github.com/aeolun/craftlink/pkg/database"
	"github.com/aeolun/craftlink/pkg/protocol"
	"go.uber.org/zap"
)

func (s *Server) handleRegister(ctx context.Context, sess *Session, req *protocol.RegisterRequest) protocol.Response {
	if s.stores.Accounts == nil {
		return unavailable()
	}

	id, err := s.stores.Accounts.CreateUser(database.NewUser{
		Username:   req.Username,
		Password:   req.Password,
		Nickname:   req.Nickname,
		Email:      req.Email,
		Phone:      req.Phone,
		PlayerName: req.PlayerName,
	})
	if err != nil {
		return sess.storeFailure("register", err)
	}

	sess.logger.Info("account registered", zap.Int64("user_id", id), zap.String("username", req.Username))
	return protocol.OK("registration successful")
}

func (s *Server) handleUpdateRole(ctx context.Context, sess *Session, req *protocol.UpdateRoleRequest) protocol.Response {
	if s.stores.Accounts == nil {
		return unavailable()
	}
	if err := s.stores.Accounts.UpdateRole(int64(req.UserID), *req.RoleID); err != nil {
		return sess.storeFailure("update role", err)
	}
	return protocol.OK("role updated")
}

func (s *Server) handleProfile(ctx context.Context, sess *Session, req *protocol.ProfileRequest) protocol.Response {
	if s.stores.Users == nil {
		return unavailable()
	}
	u, err := s.stores.Users.GetUser(int64(req.UserID))
	if err != nil {
		return sess.storeFailure("get profile", err)
	}
	wire := toWireUser(u)
	return &protocol.UserResponse{Status: *protocol.OK(""), User: &wire}
}

func (s *Server) handleUpdateProfile(ctx context.Context, sess *Session, req *protocol.UpdateProfileRequest) protocol.Response {
	if s.stores.Accounts == nil {
		return unavailable()
	}

	err := s.stores.Accounts.UpdateProfile(int64(req.UserID), database.ProfileUpdate{
		Nickname:  req.Nickname,
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Gender:    req.Gender,
		Birthday:  req.Birthday,
		Bio:       req.Bio,
	})
	if err != nil {
		return sess.storeFailure("update profile", err)
	}
	return protocol.OK("profile updated")
}

// handleGetUserProfile returns the target's profile with their online flag
func (s *Server) handleGetUserProfile(ctx context.Context, sess *Session, req *protocol.GetUserProfileRequest) protocol.Response {
	users := s.stores.Users
	if users == nil {
		return unavailable()
	}

	u, err := users.GetUser(int64(req.TargetID))
	if err != nil {
		return sess.storeFailure("get user profile", err)
	}
	online, err := users.IsOnline(u.ID)
	if err != nil {
		return sess.storeFailure("get user profile", err)
	}

	wire := toWireUser(u)
	wire.Online = &online
	return &protocol.UserResponse{Status: *protocol.OK(""), User: &wire}
}

func (s *Server) handleBindQQ(ctx context.Context, sess *Session, req *protocol.BindQQRequest) protocol.Response {
	if s.stores.Accounts == nil {
		return unavailable()
	}
	if err := s.stores.Accounts.BindQQ(int64(req.UserID), req.QQ); err != nil {
		return sess.storeFailure("bind qq", err)
	}
	return protocol.OK("qq bound")
}

func (s *Server) handleGetAllUsers(ctx context.Context, sess *Session, req *protocol.GetAllUsersRequest) protocol.Response {
	if s.stores.Accounts == nil || s.stores.Users == nil {
		return unavailable()
	}
	users, err := s.stores.Accounts.ListUsers()
	if err != nil {
		return sess.storeFailure("list users", err)
	}
	return &protocol.UsersResponse{
		Status:      *protocol.OK(""),
		Data:        toWireUsers(users),
		OnlineUsers: s.onlineUsers(sess),
	}
}

func (s *Server) handleGetUsersCount(ctx context.Context, sess *Session, req *protocol.GetUsersCountRequest) protocol.Response {
	if s.stores.Accounts == nil {
		return unavailable()
	}
	n, err := s.stores.Accounts.CountUsers()
	if err != nil {
		return sess.storeFailure("count users", err)
	}
	return &protocol.CountResponse{Status: *protocol.OK(""), Count: n}
}

func (s *Server) handleGetUsersByPage(ctx context.Context, sess *Session, req *protocol.GetUsersByPageRequest) protocol.Response {
	if s.stores.Accounts == nil || s.stores.Users == nil {
		return unavailable()
	}
	users, err := s.stores.Accounts.ListUsersPage(req.Page, req.PageSize)
	if err != nil {
		return sess.storeFailure("list users", err)
	}
	return &protocol.UsersResponse{
		Status:      *protocol.OK(""),
		Data:        toWireUsers(users),
		OnlineUsers: s.onlineUsers(sess),
	}
}

// rollSignReward draws a daily reward. Privileged roles get a coin bonus;
// stars are rare.
func rollSignReward(intN func(int) int, roleID int) database.SignReward {
	coin := 1 + intN(10)
	if roleID <= 2 {
		coin += 1 + intN(5)
	}

	star := 0
	switch r := intN(101); {
	case r < 5:
		star = 1
	case r == 99:
		star = 5
	}
	return database.SignReward{Coin: coin, Star: star}
}

func (s *Server) handleSign(ctx context.Context, sess *Session, req *protocol.SignRequest) protocol.Response {
	if s.stores.Ledger == nil || s.stores.Users == nil {
		return unavailable()
	}

	u, err := s.stores.Users.GetUser(int64(req.UserID))
	if err != nil {
		return sess.storeFailure("sign", err)
	}

	// Rolls only for a sign that can still succeed. Sign itself rejects a
	// second one that races past this check.
	signed, err := s.stores.Ledger.HasSignedToday(u.ID)
	if err != nil {
		return sess.storeFailure("sign", err)
	}
	if signed {
		return protocol.Fail(database.ErrAlreadySigned.Error())
	}

	reward := rollSignReward(s.intN, u.RoleID)
	if err := s.stores.Ledger.Sign(u.ID, reward); err != nil {
		return sess.storeFailure("sign", err)
	}

	return &protocol.SignResponse{
		Status: *protocol.OK("signed in"),
		Reward: protocol.SignReward{Coin: reward.Coin, Star: reward.Star},
	}
}

func (s *Server) handleLeaderboard(ctx context.Context, sess *Session, req *protocol.LeaderboardRequest) protocol.Response {
	accounts := s.stores.Accounts
	if accounts == nil {
		return unavailable()
	}

	coins, err := accounts.CoinLeaderboard(s.cfg.LeaderboardSize)
	if err != nil {
		return sess.storeFailure("leaderboard", err)
	}
	stars, err := accounts.StarLeaderboard(s.cfg.LeaderboardSize)
	if err != nil {
		return sess.storeFailure("leaderboard", err)
	}

	return &protocol.LeaderboardResponse{
		Status: *protocol.OK(""),
		Coin:   toWireLeaderboard(coins),
		Star:   toWireLeaderboard(stars),
	}
}
