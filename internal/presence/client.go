package presence

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	docID  string
	userID string
	name   string
	email  string
	send   chan []byte
}

// Participant identifies a verified caller joining a room. Authorization
// happens before the upgrade; by the time ServeWS runs, membership has
// already been checked.
type Participant struct {
	UserID string
	Name   string
	Email  string
}

func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, docID string, p Participant) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Error("websocket upgrade", zap.Error(err))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		docID:  docID,
		userID: p.UserID,
		name:   p.Name,
		email:  p.Email,
		send:   make(chan []byte, 256),
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("presence read", zap.String("userId", c.userID), zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.log.Warn("presence unmarshal", zap.Error(err))
			continue
		}
		if msg.Type != AwarenessType {
			continue
		}

		var state State
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &state); err != nil {
				c.hub.log.Warn("presence payload unmarshal", zap.Error(err))
				continue
			}
		}
		c.hub.updates <- update{client: c, state: state}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.WriteMessage(websocket.TextMessage, message)
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
