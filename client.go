package main

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the first frame after the upgrade.
	handshakeWait = 10 * time.Second

	// Maximum message size allowed from peer. SDP offers need room.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	log  *slog.Logger

	// Buffered channel of outbound messages, drained only by writePump.
	send chan []byte
	// Closed once the client has left the hub; writePump exits on it.
	done chan struct{}

	// Set by Hub.admit before the client becomes visible to other goroutines.
	id       uuid.UUID
	room     string
	username string

	disconnectOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		log:  h.log,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue hands msg to the writer without blocking; callers may hold a room
// lock. A client whose buffer is full is too slow to keep up: its connection
// is closed in the background and its reader takes care of the teardown.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.hub.metrics.deliveryFailures.Inc()
		c.log.Warn("client.send_buffer_full", "room_id", c.room, "username", c.username, "conn_id", c.id)
		go c.closeWith(websocket.ClosePolicyViolation, "too slow")
		return false
	}
}

// closeWith sends a close frame and closes the transport. Safe to call from
// any goroutine, any number of times.
func (c *Client) closeWith(code int, reason string) {
	if c.conn == nil {
		return
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// disconnect removes the client from the hub exactly once, tells the
// remaining members and stops the writer.
func (c *Client) disconnect() {
	c.disconnectOnce.Do(func() {
		removed, emptied := c.hub.remove(c.id)
		if removed {
			c.log.Info("client.left", "room_id", c.room, "username", c.username, "conn_id", c.id, "room_emptied", emptied)
			if !emptied {
				c.hub.announceLeave(c)
			}
		}
		close(c.done)
	})
}

// readPump pumps messages from the websocket connection to the router.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.disconnect()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("client.read", "room_id", c.room, "username", c.username, "err", err)
			}
			break
		}
		c.route(raw)
	}
}

// writePump pumps messages from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
