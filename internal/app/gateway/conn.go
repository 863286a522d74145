/*
Package gateway contains the real-time core of the broker.

This file defines the Conn struct, representing one live WebSocket connection.
It manages the connection's lifecycle and its message communication loops
(ReadPump and WritePump). All commands arriving on a connection are processed
in order on its read loop; outbound delivery goes through a bounded send queue
drained by the write loop, so fan-out never blocks on a slow socket.
*/
package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"courier/internal/pkg/errs"
	"courier/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxFrameSize = 16384

	// maximum allowed size (in bytes) for text message content.
	MaxContentBytes = 5000

	// capacity of the per-connection outbound queue.
	sendQueueSize = 256
)

// Conn represents an active WebSocket connection and its authenticated user.
type Conn struct {
	// unique identifier for this connection (one user may hold several).
	id string

	// the authenticated identity behind the connection.
	user Identity

	// the gateway this connection is attached to.
	gw *Gateway

	// underlying WebSocket connection object.
	sock *websocket.Conn

	// a buffered channel used to queue events waiting to be sent to the client.
	send chan []byte

	// closed exactly once when the connection is torn down; WritePump exits on it.
	done      chan struct{}
	closeOnce sync.Once

	// lastActive records the Unix time of the most recent inbound frame.
	lastActive atomic.Int64

	// structured logger with connection context.
	logger zerolog.Logger
}

func newConn(gw *Gateway, sock *websocket.Conn, user Identity) *Conn {
	id := randx.ConnectionID()

	c := &Conn{
		id:     id,
		user:   user,
		gw:     gw,
		sock:   sock,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		logger: gw.logger.With().Str("conn_id", id).Str("user_id", user.UserID).Logger(),
	}
	c.touch()

	return c
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// User returns the identity behind the connection.
func (c *Conn) User() Identity { return c.user }

// touch updates the connection's last-activity timestamp.
func (c *Conn) touch() {
	c.lastActive.Store(time.Now().Unix())
}

// shutdown signals the write loop to exit. Safe to call repeatedly.
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// ReadPump handles reading commands from the WebSocket connection.
// It handles heartbeats (Pong), frame parsing, and performs cleanup upon
// connection closure. Commands are dispatched synchronously, one at a time,
// preserving the per-connection ordering guarantee.
func (c *Conn) ReadPump() {
	defer func() {
		c.gw.remove(c)

		if err := c.sock.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in ReadPump")
		}
	}()

	c.sock.SetReadLimit(maxFrameSize)

	if err := c.sock.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.sock.SetPongHandler(func(string) error {
		c.touch()
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			break
		}

		c.touch()
		c.gw.handleCommand(c, frame)
	}
}

// WritePump handles writing events from the Conn.send channel to the WebSocket
// connection and keeps the heartbeat alive.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.sock.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.writeFrame(frame) {
				return
			}

		case <-ticker.C:
			if !c.writePing() {
				return
			}

		case <-c.done:
			c.writeClose()
			return
		}
	}
}

// writeFrame writes one queued frame to the socket.
// Returns false if the WritePump loop should terminate.
func (c *Conn) writeFrame(frame []byte) bool {
	if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Error().Err(err).Msg("Error writing frame")
		return false
	}

	return true
}

// writePing sends a periodic WebSocket Ping message to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Conn) writePing() bool {
	if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// writeClose flushes a close frame before the write loop exits.
func (c *Conn) writeClose() {
	c.sock.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.sock.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing close frame")
	}
}

// enqueue marshals an event and pushes it onto the connection's send queue.
func (c *Conn) enqueue(op string, payload any) {
	frame, err := json.Marshal(outEvent{Op: op, Data: payload})
	if err != nil {
		c.logger.Error().Err(err).Str("op", op).Msg("Error marshaling event")
		return
	}

	c.enqueueFrame(op, frame)
}

// enqueueFrame pushes a pre-marshaled frame onto the send queue. Delivery is
// best-effort: a connection that is shutting down is a silent no-op, and a
// connection whose queue is full is treated as a slow consumer and torn down
// rather than allowed to stall the caller.
func (c *Conn) enqueueFrame(op string, frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- frame:
	default:
		c.logger.Warn().Str("op", op).Int("queue_len", len(c.send)).Msg("Send queue full, closing slow connection")
		go c.gw.remove(c)
	}
}

// sendError pushes a scoped error event to this connection only.
func (c *Conn) sendError(customErr *errs.CustomError) {
	c.enqueue(OpError, ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
	})
}
