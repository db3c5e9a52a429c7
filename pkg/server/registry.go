package server

import (
	"sort"
	"sync"
)

// Presence maps online identities to the connection that receives their
// pushes. At most one connection is bound per identity.
type Presence interface {
	// Register binds user to conn, replacing any previous binding.
	Register(user int64, conn *SafeConn)
	// TryRegister binds user to conn only if user is not bound yet.
	TryRegister(user int64, conn *SafeConn) bool
	// Unregister removes user's binding. Removing an absent user is a no-op.
	Unregister(user int64)
	// UnregisterConn removes user's binding only while it still points at conn.
	UnregisterConn(user int64, conn *SafeConn) bool
	Lookup(user int64) (*SafeConn, bool)
	ListOnline() []int64
}

// Registry is the in-process Presence implementation.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]*SafeConn
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]*SafeConn)}
}

func (r *Registry) Register(user int64, conn *SafeConn) {
	r.mu.Lock()
	r.conns[user] = conn
	r.mu.Unlock()
}

func (r *Registry) TryRegister(user int64, conn *SafeConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[user]; ok {
		return false
	}
	r.conns[user] = conn
	return true
}

func (r *Registry) Unregister(user int64) {
	r.mu.Lock()
	delete(r.conns, user)
	r.mu.Unlock()
}

func (r *Registry) UnregisterConn(user int64, conn *SafeConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.conns[user]; ok && current == conn {
		delete(r.conns, user)
		return true
	}
	return false
}

func (r *Registry) Lookup(user int64) (*SafeConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[user]
	return conn, ok
}

// ListOnline returns a sorted snapshot of the bound identities
func (r *Registry) ListOnline() []int64 {
	r.mu.RLock()
	users := make([]int64, 0, len(r.conns))
	for user := range r.conns {
		users = append(users, user)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Len returns the number of bound identities
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
