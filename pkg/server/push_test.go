package server

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/aeolun/craftlink/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry, *Metrics) {
	reg := NewRegistry()
	m := NewMetrics(nil)
	return NewDispatcher(reg, time.Second, m, zaptest.NewLogger(t)), reg, m
}

func TestDeliverWritesOneFrame(t *testing.T) {
	d, reg, m := newTestDispatcher(t)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	reg.Register(2, NewSafeConn(server))

	got := make(chan map[string]any, 1)
	go func() {
		body, err := protocol.ReadFrame(client, 0)
		if err != nil {
			close(got)
			return
		}
		var frame map[string]any
		json.Unmarshal(body, &frame)
		got <- frame
	}()

	ok := d.Deliver(2, protocol.NewRealTimeMessage(protocol.PushMessage{
		SenderID: 1, ReceiverID: 2, Content: "hi", Timestamp: "2024-01-01 00:00:00",
	}))
	require.True(t, ok)

	frame := <-got
	require.NotNil(t, frame)
	assert.Equal(t, protocol.TypeRealTimeMessage, frame["type"])
	assert.NotContains(t, frame, "seq")
	msg := frame["message"].(map[string]any)
	assert.Equal(t, "hi", msg["content"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pushes.WithLabelValues(pushDelivered)))
}

func TestDeliverOffline(t *testing.T) {
	d, _, m := newTestDispatcher(t)
	assert.False(t, d.Deliver(99, map[string]string{"type": "x"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pushes.WithLabelValues(pushOffline)))
}

func TestDeliverFailureEvictsBinding(t *testing.T) {
	d, reg, m := newTestDispatcher(t)
	server, client := net.Pipe()
	client.Close()
	conn := NewSafeConn(server)
	reg.Register(3, conn)

	assert.False(t, d.Deliver(3, map[string]string{"type": "x"}))
	_, ok := reg.Lookup(3)
	assert.False(t, ok, "failed push must evict the stale binding")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pushes.WithLabelValues(pushFailed)))
}
