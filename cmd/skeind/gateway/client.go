package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/engine/fanout"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong or control message.
	pongWait = 60 * time.Second

	// Ping period; must be less than pongWait.
	pingPeriod = 50 * time.Second

	// Control messages are small; event frames only flow outbound.
	maxControlSize = 64 * 1024

	// Outbound buffer. A client this far behind is disconnected rather
	// than allowed to stall its subscriptions.
	sendBuffer = 1024
)

// client is one WebSocket connection and its execution subscriptions
type client struct {
	g    *Gateway
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	subs   map[string]*fanout.Subscription
	closed bool
}

func newClient(g *Gateway, conn *websocket.Conn) *client {
	return &client{
		g:    g,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]*fanout.Subscription),
	}
}

// readPump parses control messages until the connection drops
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxControlSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.g.log.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("", "undecodable control message")
			continue
		}
		c.g.dispatch(c, msg)
	}
}

// writePump drains the send buffer and keeps the connection alive
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per message so clients can parse each JSON object
			// on its own.
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// track registers a subscription so close can cancel it. One subscription
// per execution per client; a re-subscribe replaces the old one.
func (c *client) track(executionID string, sub *fanout.Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if old, ok := c.subs[executionID]; ok {
		old.Cancel()
	}
	c.subs[executionID] = sub
	return true
}

func (c *client) untrack(executionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, executionID)
}

// close cancels every subscription and retires the send channel
func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	close(c.send)
	c.conn.Close()
}

// enqueue hands a frame to the write pump; a full buffer drops the client
func (c *client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.g.log.Warn("websocket client too slow, dropping")
		go c.close()
	}
}

func (c *client) sendJSON(v interface{}) {
	frame, err := json.Marshal(v)
	if err != nil {
		c.g.log.Error("encode websocket frame", "error", err)
		return
	}
	c.enqueue(frame)
}

func (c *client) sendRecord(executionID string, rec event.Record) {
	c.sendJSON(eventFrame{Type: "execution-event", ExecutionID: executionID, Record: rec})
}

func (c *client) sendError(executionID, msg string) {
	payload := map[string]interface{}{"type": "error", "error": msg}
	if executionID != "" {
		payload["executionId"] = executionID
	}
	c.sendJSON(payload)
}
