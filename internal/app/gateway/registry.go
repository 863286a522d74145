/*
Package gateway contains the real-time core of the broker.

This file defines the connection registry: the map from authenticated user to
the set of live connections owned by that user. Presence is derived from it (a
user is online iff their connection set is non-empty), so presence edges are
detected here, on the first admit and the last removal.
*/
package gateway

import "sync"

// registry tracks live connections per user. It is the single owner of the
// users map; all mutation goes through admit and drop.
type registry struct {
	mu    sync.RWMutex
	users map[string]map[*Conn]struct{}
}

func newRegistry() *registry {
	return &registry{
		users: make(map[string]map[*Conn]struct{}),
	}
}

// admit registers a connection under its user and reports whether this is the
// user's first live connection (the user just came online).
func (r *registry) admit(c *Conn) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[c.user.UserID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.users[c.user.UserID] = set
	}
	set[c] = struct{}{}

	return len(set) == 1
}

// drop removes a connection. It is idempotent: removing an unknown connection
// reports removed=false and changes nothing. last is true when this removal
// emptied the user's connection set (the user just went offline).
func (r *registry) drop(c *Conn) (last, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[c.user.UserID]
	if !ok {
		return false, false
	}
	if _, ok := set[c]; !ok {
		return false, false
	}

	delete(set, c)
	if len(set) == 0 {
		delete(r.users, c.user.UserID)
		return true, true
	}

	return false, true
}

// connectionsOf returns a snapshot of all live connections for a user, used
// for delivering to all of a user's devices and tabs.
func (r *registry) connectionsOf(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// all returns a snapshot of every live connection.
func (r *registry) all() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Conn
	for _, set := range r.users {
		for c := range set {
			conns = append(conns, c)
		}
	}
	return conns
}

// onlineUserIDs returns the ids of all users with at least one live connection.
func (r *registry) onlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users))
	for userID := range r.users {
		ids = append(ids, userID)
	}
	return ids
}

// hasConnections reports whether the user currently owns any live connection.
func (r *registry) hasConnections(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userID]) > 0
}
