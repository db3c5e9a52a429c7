package server

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func pipeConn(t *testing.T) *SafeConn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return NewSafeConn(a)
}

func TestRegistryTryRegisterSingleWinner(t *testing.T) {
	r := NewRegistry()

	const contenders = 64
	conns := make([]*SafeConn, contenders)
	for i := range conns {
		conns[i] = pipeConn(t)
	}

	var wins atomic.Int32
	var winner atomic.Pointer[SafeConn]
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, c := range conns {
		wg.Add(1)
		go func(c *SafeConn) {
			defer wg.Done()
			<-start
			if r.TryRegister(7, c) {
				wins.Add(1)
				winner.Store(c)
			}
		}(c)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	got, ok := r.Lookup(7)
	require.True(t, ok)
	assert.Same(t, winner.Load(), got)
}

func TestRegistryUnregisterConnOnlyRemovesOwnBinding(t *testing.T) {
	r := NewRegistry()
	old, current := pipeConn(t), pipeConn(t)

	r.Register(1, old)
	r.Register(1, current)

	assert.False(t, r.UnregisterConn(1, old), "stale connection must not evict the new binding")
	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, current, got)

	assert.True(t, r.UnregisterConn(1, current))
	_, ok = r.Lookup(1)
	assert.False(t, ok)
}

func TestRegistryUnregisterAbsentIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Unregister(42)
	assert.False(t, r.UnregisterConn(42, pipeConn(t)))
	assert.Empty(t, r.ListOnline())
}

func TestRegistryListOnlineSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []int64{30, 10, 20} {
		r.Register(id, pipeConn(t))
	}
	assert.Equal(t, []int64{10, 20, 30}, r.ListOnline())
	assert.Equal(t, 3, r.Len())
}

// TestRegistryStateMachine checks the registry against a plain map model
func TestRegistryStateMachine(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := NewRegistry()
		model := map[int64]*SafeConn{}

		pool := make([]*SafeConn, 4)
		for i := range pool {
			a, b := net.Pipe()
			defer a.Close()
			defer b.Close()
			pool[i] = NewSafeConn(a)
		}
		userGen := rapid.Int64Range(1, 5)
		connGen := rapid.SampledFrom(pool)

		rt.Repeat(map[string]func(*rapid.T){
			"register": func(rt *rapid.T) {
				u, c := userGen.Draw(rt, "user"), connGen.Draw(rt, "conn")
				r.Register(u, c)
				model[u] = c
			},
			"try_register": func(rt *rapid.T) {
				u, c := userGen.Draw(rt, "user"), connGen.Draw(rt, "conn")
				_, bound := model[u]
				if got := r.TryRegister(u, c); got == bound {
					rt.Fatalf("TryRegister(%d) = %v with bound=%v", u, got, bound)
				}
				if !bound {
					model[u] = c
				}
			},
			"unregister": func(rt *rapid.T) {
				u := userGen.Draw(rt, "user")
				r.Unregister(u)
				delete(model, u)
			},
			"unregister_conn": func(rt *rapid.T) {
				u, c := userGen.Draw(rt, "user"), connGen.Draw(rt, "conn")
				want := model[u] == c
				if got := r.UnregisterConn(u, c); got != want {
					rt.Fatalf("UnregisterConn(%d) = %v, want %v", u, got, want)
				}
				if want {
					delete(model, u)
				}
			},
			"": func(rt *rapid.T) {
				if r.Len() != len(model) {
					rt.Fatalf("registry has %d entries, model %d", r.Len(), len(model))
				}
				for u, c := range model {
					got, ok := r.Lookup(u)
					if !ok || got != c {
						rt.Fatalf("Lookup(%d) mismatch", u)
					}
				}
			},
		})
	})
}
