package dispatch

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/fleetglass/courier.track/internal/monitoring"
	"github.com/fleetglass/courier.track/internal/track"
	"github.com/fleetglass/courier.track/internal/wire"
	"github.com/gorilla/websocket"
)

const (
	// Outbound frames buffered per connection before drops kick in.
	sendBufferSize = 64

	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Producers and dashboards connect from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves the tracking websocket endpoint. Producers push fix frames,
// consumers subscribe to agent rooms; one connection may do both.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			monitoring.Logf("[Dispatch] Websocket upgrade failed: %v", err)
			return
		}
		c := &wsConn{
			service: s,
			conn:    conn,
			send:    make(chan []byte, sendBufferSize),
			subs:    make(map[string]string),
		}
		go c.writeLoop()
		c.readLoop()
	})
}

// wsConn is one websocket session: a read loop dispatching inbound frames
// and a write loop draining the send channel. All outbound traffic funnels
// through the send channel so the websocket never sees concurrent writes.
type wsConn struct {
	service *Service
	conn    *websocket.Conn
	send    chan []byte

	mu   sync.Mutex
	subs map[string]string // agent id -> subscriber id
}

func (c *wsConn) readLoop() {
	defer c.teardown()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				monitoring.Logf("[Dispatch] Websocket read: %v", err)
			}
			return
		}
		c.dispatch(frame)
	}
}

func (c *wsConn) dispatch(frame []byte) {
	_, payload, err := wire.Decode(frame)
	if err != nil {
		code := wire.CodeBadPayload
		if errors.Is(err, wire.ErrUnknownType) {
			code = wire.CodeUnknownType
		}
		c.replyError(code, err.Error())
		return
	}

	switch msg := payload.(type) {
	case *wire.Fix:
		if err := c.service.HandleFix(*msg); err != nil {
			if errors.Is(err, track.ErrInvalidFix) {
				c.replyError(wire.CodeBadPayload, err.Error())
				return
			}
			monitoring.Logf("[Dispatch] Fix from %s: %v", msg.AgentID, err)
			return
		}
		c.reply(wire.TypeAck, wire.Ack{AgentID: msg.AgentID, OK: true})

	case *wire.Subscribe:
		c.subscribe(msg.AgentID)

	case *wire.Unsubscribe:
		c.unsubscribe(msg.AgentID)

	default:
		// Server-to-client types arriving inbound are protocol misuse.
		c.replyError(wire.CodeUnknownType, "unexpected message direction")
	}
}

func (c *wsConn) subscribe(agentID string) {
	c.mu.Lock()
	_, already := c.subs[agentID]
	c.mu.Unlock()
	if already {
		// Idempotent: re-ack with a fresh snapshot.
		ack := wire.Subscribed{AgentID: agentID, Active: c.service.agentActive(agentID)}
		if pos, ok := c.service.Snapshot(agentID); ok {
			ack.HasPosition = true
			ack.Position = &pos
		}
		c.reply(wire.TypeSubscribed, ack)
		return
	}

	id, ack, err := c.service.Subscribe(agentID, c.send)
	if err != nil {
		if errors.Is(err, ErrRoomFull) {
			c.replyError(wire.CodeRoomFull, err.Error())
			return
		}
		c.replyError(wire.CodeBadPayload, err.Error())
		return
	}

	c.mu.Lock()
	c.subs[agentID] = id
	c.mu.Unlock()

	c.reply(wire.TypeSubscribed, ack)
}

func (c *wsConn) unsubscribe(agentID string) {
	c.mu.Lock()
	id, ok := c.subs[agentID]
	delete(c.subs, agentID)
	c.mu.Unlock()

	if !ok {
		c.replyError(wire.CodeNotSubscribed, "not subscribed to "+agentID)
		return
	}
	c.service.Unsubscribe(agentID, id)
}

func (c *wsConn) replyError(code, message string) {
	c.reply(wire.TypeError, wire.Error{
		Code:      code,
		Message:   message,
		Timestamp: c.service.clock.Now(),
	})
}

// reply queues a frame for this connection, dropping it if the session is
// backed up.
func (c *wsConn) reply(msgType string, payload any) {
	frame, err := wire.Encode(msgType, payload)
	if err != nil {
		monitoring.Logf("[Dispatch] Encoding %s reply: %v", msgType, err)
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *wsConn) writeLoop() {
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

// teardown evicts every room membership as soon as the connection drops, so
// departed dashboards stop counting against the room cap immediately.
func (c *wsConn) teardown() {
	c.mu.Lock()
	subs := c.subs
	c.subs = map[string]string{}
	c.mu.Unlock()

	for agentID, id := range subs {
		c.service.Unsubscribe(agentID, id)
	}
	close(c.send)
	c.conn.Close()
}
