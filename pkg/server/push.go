package server

import (
	"time"

	"go.uber.org/zap"
)

// Push outcomes, used as metric labels
const (
	pushDelivered = "delivered"
	pushOffline   = "offline"
	pushFailed    = "failed"
)

// Dispatcher delivers unsolicited frames to whichever connection a user is
// bound to. Delivery is best effort: one write, no retry, no queue.
type Dispatcher struct {
	presence     Presence
	writeTimeout time.Duration
	metrics      *Metrics
	logger       *zap.Logger
}

// NewDispatcher creates a dispatcher over presence
func NewDispatcher(presence Presence, writeTimeout time.Duration, metrics *Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		presence:     presence,
		writeTimeout: writeTimeout,
		metrics:      metrics,
		logger:       logger.With(zap.String("component", "push")),
	}
}

// Deliver writes payload to target's connection and reports whether the
// write succeeded. A failed write evicts the binding and closes the stale
// connection.
func (d *Dispatcher) Deliver(target int64, payload any) bool {
	conn, ok := d.presence.Lookup(target)
	if !ok {
		d.record(pushOffline)
		return false
	}

	if err := conn.WriteFrame(payload, d.writeTimeout); err != nil {
		d.presence.UnregisterConn(target, conn)
		conn.Close()
		d.record(pushFailed)
		d.logger.Warn("push failed, evicted connection", zap.Int64("user_id", target), zap.Error(err))
		return false
	}

	d.record(pushDelivered)
	d.logger.Debug("push delivered", zap.Int64("user_id", target))
	return true
}

func (d *Dispatcher) record(result string) {
	if d.metrics != nil {
		d.metrics.RecordPush(result)
	}
}
