package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// HTTPHandler serves health, metrics, the online list and the WebSocket
// transport
func (s *Server) HTTPHandler() http.Handler {
	router := httprouter.New()
	router.GET("/health", s.handleHealth)
	router.GET("/online", s.handleOnline)
	router.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	router.HandlerFunc(http.MethodGet, "/ws", s.HandleWebSocket)
	return router
}

func (s *Server) startHTTP() error {
	addr := fmt.Sprintf(":%d", s.cfg.HTTPPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string]any{
		"status":   "ok",
		"time":     time.Now().Format(time.RFC3339),
		"uptime":   s.Uptime().Round(time.Second).String(),
		"sessions": s.SessionCount(),
	})
}

// handleOnline lists the identities bound to a live connection
func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string]any{"online_users": s.presence.ListOnline()})
}
