package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vitrin-io/vitrin-go/internal/realtime"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendQueueSize = 256
)

// Client is one socket connection with its resolved principal and room
// membership. Membership is recomputed at connect time, never diffed
// from a stale prior state.
type Client struct {
	id        string
	gw        *Gateway
	conn      *websocket.Conn
	principal Principal
	send      chan []byte

	roomsMu sync.Mutex
	rooms   []realtime.RoomName

	closeOnce sync.Once
	closed    atomic.Bool
}

// Principal returns the resolved identity of the connection.
func (c *Client) Principal() Principal { return c.principal }

// Rooms returns a snapshot of the client's room membership.
func (c *Client) Rooms() []realtime.RoomName {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	out := make([]realtime.RoomName, len(c.rooms))
	copy(out, c.rooms)
	return out
}

func (c *Client) addRoom(room realtime.RoomName) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	for _, r := range c.rooms {
		if r == room {
			return
		}
	}
	c.rooms = append(c.rooms, room)
}

func (c *Client) removeRoom(room realtime.RoomName) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	for i, r := range c.rooms {
		if r == room {
			c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
			return
		}
	}
}

// trySend queues a frame without panicking on a closed channel.
// A full buffer drops the frame; a slow consumer must not stall
// delivery to everyone else.
func (c *Client) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close shuts the send channel exactly once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

// callFrame is a client-to-server remote call.
type callFrame struct {
	ID     int64           `json:"id"`
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// replyFrame answers a callFrame.
type replyFrame struct {
	ID     int64      `json:"id"`
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Error  *callError `json:"error,omitempty"`
}

type callError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// readPump reads call frames from the socket until it closes.
func (c *Client) readPump() {
	defer func() {
		c.gw.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gw.logger.Debug("socket read error", "socket_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var call callFrame
		if err := json.Unmarshal(data, &call); err != nil {
			c.gw.logger.Warn("unparsable call frame", "socket_id", c.id)
			continue
		}
		c.gw.dispatch(c, &call)
	}
}

// writePump writes queued frames and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) reply(id int64, result any) {
	frame, err := json.Marshal(replyFrame{ID: id, OK: true, Result: result})
	if err != nil {
		return
	}
	c.trySend(frame)
}

func (c *Client) replyError(id int64, code, message string) {
	frame, err := json.Marshal(replyFrame{ID: id, OK: false, Error: &callError{Code: code, Message: message}})
	if err != nil {
		return
	}
	c.trySend(frame)
}
