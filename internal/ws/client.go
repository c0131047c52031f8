package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024

	// Send buffer size per client.
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Control-room clients come from many hosts
}

// Client represents a websocket client connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	connID string
	groups map[string]bool
	logger *zap.Logger
}

// clientMessage is a subscribe/unsubscribe request from the peer.
type clientMessage struct {
	Type   string `json:"type"`
	Stream string `json:"stream"`
}

// ackMessage confirms a subscription change to the peer.
type ackMessage struct {
	Type   string `json:"type"`
	Stream string `json:"stream"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// HandleWS upgrades the connection and starts the read/write pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		connID: uuid.New().String(),
		groups: make(map[string]bool),
		logger: h.logger,
	}

	h.register <- client

	// A ?stream= query joins immediately, without a subscribe message.
	if stream := r.URL.Query().Get("stream"); stream != "" {
		client.subscribe(stream)
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads subscribe/unsubscribe messages from the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug("malformed client message",
			zap.String("connID", c.connID),
			zap.Error(err),
		)
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Stream)
	case "unsubscribe":
		c.hub.LeaveGroup(c, msg.Stream)
		c.ack(msg.Stream, true, "")
	}
}

func (c *Client) subscribe(stream string) {
	if c.hub.validGroup != nil && !c.hub.validGroup(stream) {
		c.ack(stream, false, "unknown stream")
		return
	}
	c.hub.JoinGroup(c, stream)
	c.ack(stream, true, "")
}

func (c *Client) ack(stream string, ok bool, reason string) {
	payload, err := json.Marshal(ackMessage{Type: "ack", Stream: stream, OK: ok, Reason: reason})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// writePump writes frames to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed, send close message
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
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
