package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testConn(userID string) *Conn {
	return &Conn{
		id:   userID + "-conn",
		user: Identity{UserID: userID},
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func TestRegistryPresenceEdges(t *testing.T) {
	r := newRegistry()

	tab1 := testConn("u1")
	tab2 := testConn("u1")

	assert.True(t, r.admit(tab1), "first connection is the online edge")
	assert.False(t, r.admit(tab2), "second connection is not")

	last, removed := r.drop(tab1)
	assert.True(t, removed)
	assert.False(t, last, "one tab remains")

	last, removed = r.drop(tab2)
	assert.True(t, removed)
	assert.True(t, last, "last connection is the offline edge")

	assert.False(t, r.hasConnections("u1"))
}

func TestRegistryDropIsIdempotent(t *testing.T) {
	r := newRegistry()

	c := testConn("u1")
	r.admit(c)

	_, removed := r.drop(c)
	assert.True(t, removed)

	last, removed := r.drop(c)
	assert.False(t, removed, "double drop must report nothing removed")
	assert.False(t, last)

	_, removed = r.drop(testConn("ghost"))
	assert.False(t, removed)
}

func TestRegistrySnapshots(t *testing.T) {
	r := newRegistry()

	a1 := testConn("u1")
	a2 := testConn("u1")
	b := testConn("u2")
	r.admit(a1)
	r.admit(a2)
	r.admit(b)

	assert.ElementsMatch(t, []*Conn{a1, a2}, r.connectionsOf("u1"))
	assert.Len(t, r.all(), 3)
	assert.ElementsMatch(t, []string{"u1", "u2"}, r.onlineUserIDs())

	assert.Empty(t, r.connectionsOf("nobody"))
}
