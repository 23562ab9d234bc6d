package hub

import (
	"sort"
	"sync"
)

// Registry tracks which users currently hold live connections. Every
// connection is tracked individually: a user is online while their
// connection set is non-empty, so a second tab does not supersede the
// first and closing one tab does not mark the user offline.
//
// The registry is process-local and rebuilt from scratch on restart; it
// carries no durability guarantee. It is injected into the Hub so tests
// can build isolated instances.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]map[string]struct{} // userID -> set of connection ids
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]map[string]struct{}),
	}
}

// Register records a connection for the user. Returns true if this is the
// user's first live connection, i.e. the user just came online.
func (r *Registry) Register(userID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.connections[userID]
	if !ok {
		set = make(map[string]struct{})
		r.connections[userID] = set
	}
	set[connectionID] = struct{}{}
	return len(set) == 1
}

// Unregister removes one connection. Returns true if the user has no
// connections left, i.e. the user just went offline.
func (r *Registry) Unregister(userID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.connections[userID]
	if !ok {
		return false
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(r.connections, userID)
		return true
	}
	return false
}

// Online returns the sorted set of user ids with at least one connection.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.connections))
	for userID := range r.connections {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[userID]) > 0
}
