package realtime

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufSize    = 256
)

// Client represents a single live transport session.
type Client struct {
	ID       string
	Identity *Identity

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger

	// channels this client is subscribed to, guarded by hub.chanMu
	channels map[string]struct{}

	lastSeen time.Time
}

// controlMsg is a client-initiated subscribe/unsubscribe request. Channels is
// decoded loosely on purpose: non-string entries in a batch are skipped, not
// rejected.
type controlMsg struct {
	Action   string `json:"action"` // "join" or "leave"
	Channels []any  `json:"channels"`
}

func NewClient(id string, identity *Identity, hub *Hub, conn *websocket.Conn, logger zerolog.Logger) *Client {
	return &Client{
		ID:       id,
		Identity: identity,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufSize),
		logger:   logger,
		channels: make(map[string]struct{}),
		lastSeen: time.Now(),
	}
}

// ReadPump reads control messages from the connection until it closes, then
// unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.lastSeen = time.Now()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Str("connId", c.ID).Msg("WebSocket read error")
			}
			break
		}

		var msg controlMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn().Err(err).Str("connId", c.ID).Msg("Invalid control message")
			continue
		}

		switch msg.Action {
		case "join":
			c.hub.Join(c, stringChannels(msg.Channels))
		case "leave":
			c.hub.Leave(c, stringChannels(msg.Channels))
		default:
			c.logger.Warn().Str("action", msg.Action).Str("connId", c.ID).Msg("Unknown control action")
		}
	}
}

// WritePump writes hub frames and pings to the connection.
func (c *Client) WritePump() {
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

// stringChannels keeps only the string entries of a loosely-typed batch.
func stringChannels(raw []any) []string {
	names := make([]string, 0, len(raw))
	for _, entry := range raw {
		if name, ok := entry.(string); ok {
			names = append(names, name)
		}
	}
	return names
}
