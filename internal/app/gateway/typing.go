/*
Package gateway contains the real-time core of the broker.

This file defines the typing aggregator: short-lived per-conversation per-user
typing flags with automatic expiry. The server-side TTL is authoritative and
independent of any client timer, so a crashed client's typing flag still
expires and the stopped-typing event still fires, exactly once per
typing-to-not-typing transition, whatever caused it.
*/
package gateway

import (
	"sync"
	"time"
)

type typingKey struct {
	conversationID string
	userID         string
}

// typingEntry couples a timer with a generation counter. Refreshing a flag
// replaces the entry with a higher generation; a stale timer callback that
// lost the race against a refresh sees the mismatch and does nothing.
type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// typingTracker owns all typing flags. onExpire is invoked outside the lock
// whenever a flag lapses without an explicit stop.
type typingTracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	nextGen  uint64
	entries  map[typingKey]*typingEntry
	onExpire func(conversationID, userID string)
}

func newTypingTracker(ttl time.Duration, onExpire func(conversationID, userID string)) *typingTracker {
	return &typingTracker{
		ttl:      ttl,
		entries:  make(map[typingKey]*typingEntry),
		onExpire: onExpire,
	}
}

// start sets or refreshes the typing flag for (conversation, user) and reports
// whether this was a transition from not-typing to typing.
func (t *typingTracker) start(conversationID, userID string) (started bool) {
	key := typingKey{conversationID: conversationID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[key]; ok {
		existing.timer.Stop()
		started = false
	} else {
		started = true
	}

	t.nextGen++
	gen := t.nextGen

	entry := &typingEntry{gen: gen}
	entry.timer = time.AfterFunc(t.ttl, func() {
		t.expire(key, gen)
	})
	t.entries[key] = entry

	return started
}

// stop clears the typing flag and reports whether the user was typing.
// The caller emits the stopped-typing event at most once because the entry is
// deleted under the lock.
func (t *typingTracker) stop(conversationID, userID string) (wasTyping bool) {
	key := typingKey{conversationID: conversationID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		return false
	}

	entry.timer.Stop()
	delete(t.entries, key)
	return true
}

// dropUser clears every typing flag held by the user and returns the affected
// conversations. Called when the user's last connection disconnects.
func (t *typingTracker) dropUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var conversations []string
	for key, entry := range t.entries {
		if key.userID != userID {
			continue
		}
		entry.timer.Stop()
		delete(t.entries, key)
		conversations = append(conversations, key.conversationID)
	}
	return conversations
}

// expire is the timer callback. It only fires the expiry notification if the
// flag is still present under the same generation; an explicit stop or a
// refresh that raced the timer wins.
func (t *typingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	t.onExpire(key.conversationID, key.userID)
}

// stopAll cancels every pending timer. Used during shutdown; no events fire.
func (t *typingTracker) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, key)
	}
}
