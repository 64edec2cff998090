package collab

import (
	"encoding/json"

	"github.com/gorilla/websocket"

	"inkwell/api/internal/presence"
)

// Channel carries presence traffic for one document session. Publish sends
// the local participant's awareness state; Snapshots delivers the full room
// state every time it changes.
type Channel interface {
	Publish(state presence.State) error
	Snapshots() <-chan []presence.State
	Close() error
}

// WebSocketChannel is the production Channel, speaking the presence hub's
// wire format over a gorilla connection.
type WebSocketChannel struct {
	conn      *websocket.Conn
	docID     string
	snapshots chan []presence.State
	done      chan struct{}
}

// DialChannel connects to the presence endpoint for a document. The URL
// carries the access token; membership is checked server-side before the
// upgrade completes.
func DialChannel(wsURL, docID string) (*WebSocketChannel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}
	ch := &WebSocketChannel{
		conn:      conn,
		docID:     docID,
		snapshots: make(chan []presence.State, 16),
		done:      make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

func (ch *WebSocketChannel) readLoop() {
	defer close(ch.snapshots)
	for {
		_, raw, err := ch.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg presence.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type != presence.SnapshotType {
			continue
		}
		var states []presence.State
		if err := json.Unmarshal(msg.Payload, &states); err != nil {
			continue
		}
		select {
		case ch.snapshots <- states:
		case <-ch.done:
			return
		default:
			// Receiver is behind; drop the stale snapshot. The next one
			// carries the full state anyway.
		}
	}
}

func (ch *WebSocketChannel) Publish(state presence.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(presence.Message{
		Type:    presence.AwarenessType,
		DocID:   ch.docID,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	return ch.conn.WriteMessage(websocket.TextMessage, msg)
}

func (ch *WebSocketChannel) Snapshots() <-chan []presence.State {
	return ch.snapshots
}

func (ch *WebSocketChannel) Close() error {
	close(ch.done)
	return ch.conn.Close()
}
