package server

import (
	"context"
	"errors"
	"time"

	"github.com/aeolun/craftlink/pkg/protocol"
	"go.uber.org/zap"
)

type handlerFunc func(ctx context.Context, sess *Session, req protocol.Request) protocol.Response

// handle adapts a handler for one concrete request type
func handle[R protocol.Request](fn func(ctx context.Context, sess *Session, req R) protocol.Response) handlerFunc {
	return func(ctx context.Context, sess *Session, req protocol.Request) protocol.Response {
		return fn(ctx, sess, req.(R))
	}
}

// Router maps request types to handlers. The set of types is fixed when the
// router is built.
type Router struct {
	handlers map[string]handlerFunc
	metrics  *Metrics
	logger   *zap.Logger
}

// Dispatch parses body, runs the matching handler and returns the response
// tagged with the request's type and seq. Failures of any kind become a
// failed response; nothing escapes to the transport.
func (r *Router) Dispatch(ctx context.Context, sess *Session, body []byte) protocol.Response {
	start := time.Now()

	env, err := protocol.ParseEnvelope(body)
	if err != nil {
		return r.finish(env, protocol.Fail(err.Error()), "invalid", start)
	}

	req, err := protocol.ParseRequest(env.Type, body)
	if err != nil {
		label := env.Type
		if errors.Is(err, protocol.ErrUnknownType) {
			label = "unknown"
		}
		r.logger.Debug("request rejected", zap.String("type", env.Type), zap.Error(err))
		return r.finish(env, protocol.Fail(err.Error()), label, start)
	}

	h, ok := r.handlers[req.RequestType()]
	if !ok {
		return r.finish(env, protocol.Fail(protocol.ErrUnknownType.Error()), "unknown", start)
	}

	resp := h(ctx, sess, req)
	return r.finish(env, resp, env.Type, start)
}

func (r *Router) finish(env protocol.Envelope, resp protocol.Response, label string, start time.Time) protocol.Response {
	hdr := resp.Header()
	hdr.Type = env.Type
	hdr.Seq = env.Seq
	if r.metrics != nil {
		r.metrics.RecordRequest(label, hdr.Success, time.Since(start).Seconds())
	}
	return resp
}

// Types lists the request types the router answers
func (r *Router) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

func (s *Server) newRouter() *Router {
	return &Router{
		metrics: s.metrics,
		logger:  s.logger.With(zap.String("component", "router")),
		handlers: map[string]handlerFunc{
			protocol.TypeLogin:               handle(s.handleLogin),
			protocol.TypeUserOnline:          handle(s.handleUserOnline),
			protocol.TypeUserOffline:         handle(s.handleUserOffline),
			protocol.TypeLogout:              handle(s.handleUserOffline),
			protocol.TypeSendMessage:         handle(s.handleSendMessage),
			protocol.TypeGetMessages:         handle(s.handleGetMessages),
			protocol.TypeGetContacts:         handle(s.handleGetContacts),
			protocol.TypeGetUnreadMessages:   handle(s.handleGetUnreadMessages),
			protocol.TypeMarkMessagesAsRead:  handle(s.handleMarkMessagesAsRead),
			protocol.TypeHasVisibleMessages:  handle(s.handleHasVisibleMessages),
			protocol.TypeAddContact:          handle(s.handleAddContact),
			protocol.TypeDeleteContact:       handle(s.handleDeleteContact),
			protocol.TypeUpdateContactRemark: handle(s.handleUpdateContactRemark),

			protocol.TypeRegister:       handle(s.handleRegister),
			protocol.TypeUpdateRole:     handle(s.handleUpdateRole),
			protocol.TypeProfile:        handle(s.handleProfile),
			protocol.TypeUpdateProfile:  handle(s.handleUpdateProfile),
			protocol.TypeGetUserProfile: handle(s.handleGetUserProfile),
			protocol.TypeBindQQ:         handle(s.handleBindQQ),
			protocol.TypeGetAllUsers:    handle(s.handleGetAllUsers),
			protocol.TypeGetUsersCount:  handle(s.handleGetUsersCount),
			protocol.TypeGetUsersByPage: handle(s.handleGetUsersByPage),
			protocol.TypeSign:           handle(s.handleSign),
			protocol.TypeLeaderboard:    handle(s.handleLeaderboard),

			protocol.TypeAddToWhitelist:               handle(s.handleAddToWhitelist),
			protocol.TypeRemoveFromWhitelist:          handle(s.handleRemoveFromWhitelist),
			protocol.TypeWhitelistApply:               handle(s.handleWhitelistApply),
			protocol.TypeGetUserWhitelistApplications: handle(s.handleGetUserWhitelistApplications),
			protocol.TypeGetAllWhitelistApplications:  handle(s.handleGetAllWhitelistApplications),
			protocol.TypeProcessWhitelistApplication:  handle(s.handleProcessWhitelistApplication),

			protocol.TypeGiveGift:    handle(s.handleGiveGift),
			protocol.TypeGetGiftInfo: handle(s.handleGetGiftInfo),
		},
	}
}
