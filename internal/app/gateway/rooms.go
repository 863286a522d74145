/*
Package gateway contains the real-time core of the broker.

This file defines the room membership table: the relation between conversations
and the connections subscribed to them. Both directions are indexed so that a
disconnect can drop every subscription of a connection atomically, keeping the
invariant that a room's subscriber set only ever contains live connections.
*/
package gateway

import "sync"

// roomTable tracks which connections are subscribed to which conversations.
type roomTable struct {
	mu     sync.RWMutex
	byConv map[string]map[*Conn]struct{}
	byConn map[*Conn]map[string]struct{}
}

func newRoomTable() *roomTable {
	return &roomTable{
		byConv: make(map[string]map[*Conn]struct{}),
		byConn: make(map[*Conn]map[string]struct{}),
	}
}

// subscribe adds the connection to a conversation's subscriber set.
// Idempotent on repeat subscribe.
func (t *roomTable) subscribe(c *Conn, conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	convSet, ok := t.byConv[conversationID]
	if !ok {
		convSet = make(map[*Conn]struct{})
		t.byConv[conversationID] = convSet
	}
	convSet[c] = struct{}{}

	connSet, ok := t.byConn[c]
	if !ok {
		connSet = make(map[string]struct{})
		t.byConn[c] = connSet
	}
	connSet[conversationID] = struct{}{}
}

// unsubscribe removes the connection from a conversation's subscriber set.
// Idempotent.
func (t *roomTable) unsubscribe(c *Conn, conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.removeLocked(c, conversationID)
}

func (t *roomTable) removeLocked(c *Conn, conversationID string) {
	if convSet, ok := t.byConv[conversationID]; ok {
		delete(convSet, c)
		if len(convSet) == 0 {
			delete(t.byConv, conversationID)
		}
	}

	if connSet, ok := t.byConn[c]; ok {
		delete(connSet, conversationID)
		if len(connSet) == 0 {
			delete(t.byConn, c)
		}
	}
}

// dropConn removes every subscription held by the connection in one critical
// section and returns the conversations it was subscribed to. Called on the
// disconnect path before the connection leaves the registry, so no fan-out
// started after cleanup can target a dead connection.
func (t *roomTable) dropConn(c *Conn) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	connSet, ok := t.byConn[c]
	if !ok {
		return nil
	}

	conversations := make([]string, 0, len(connSet))
	for conversationID := range connSet {
		conversations = append(conversations, conversationID)
		if convSet, ok := t.byConv[conversationID]; ok {
			delete(convSet, c)
			if len(convSet) == 0 {
				delete(t.byConv, conversationID)
			}
		}
	}
	delete(t.byConn, c)

	return conversations
}

// subscribers returns an atomic snapshot of a conversation's subscriber set.
// Fan-out iterates the snapshot, never the live map.
func (t *roomTable) subscribers(conversationID string) []*Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.byConv[conversationID]
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// subscribersExcept returns the conversation's subscribers excluding every
// connection owned by the given user.
func (t *roomTable) subscribersExcept(conversationID, userID string) []*Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.byConv[conversationID]
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		if c.user.UserID == userID {
			continue
		}
		conns = append(conns, c)
	}
	return conns
}

// isSubscribed reports whether the connection currently subscribes to the
// conversation.
func (t *roomTable) isSubscribed(c *Conn, conversationID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.byConn[c][conversationID]
	return ok
}
