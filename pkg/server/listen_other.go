//go:build !linux

package server

import "go.uber.org/zap"

// logListenBacklog logs the listen address (non-Linux systems)
func logListenBacklog(logger *zap.Logger, addr string) {
	logger.Info("TCP server listening", zap.String("addr", addr))
}

// monitorListenOverflows has nothing to watch outside Linux
func (s *Server) monitorListenOverflows() {
	s.wg.Done()
}
