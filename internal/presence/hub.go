// Package presence relays awareness state between the participants of a
// document session. It carries who is in the session and where their cursor
// is; the rich-text merge traffic itself travels over the external
// collaboration transport and never passes through here.
package presence

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// AwarenessType carries one participant's state to the server.
	AwarenessType = "awareness"
	// SnapshotType carries the full room state to every participant.
	SnapshotType = "presence"
)

type Message struct {
	Type    string          `json:"type"`
	DocID   string          `json:"documentId"`
	UserID  string          `json:"userId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// State is one participant's ephemeral presence. It is overwritten on every
// update and dropped when the participant disconnects.
type State struct {
	UserID    string          `json:"userId"`
	Name      string          `json:"name"`
	Email     string          `json:"email,omitempty"`
	Color     string          `json:"color"`
	Cursor    json.RawMessage `json:"cursor,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type update struct {
	client *Client
	state  State
}

type Hub struct {
	register   chan *Client
	unregister chan *Client
	updates    chan update

	mu     sync.Mutex
	rooms  map[string]map[*Client]bool
	states map[string]map[string]State

	log *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		updates:    make(chan update),
		rooms:      make(map[string]map[*Client]bool),
		states:     make(map[string]map[string]State),
		log:        log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.docID] == nil {
				h.rooms[client.docID] = make(map[*Client]bool)
				h.states[client.docID] = make(map[string]State)
			}
			h.rooms[client.docID][client] = true
			h.states[client.docID][client.userID] = State{
				UserID:    client.userID,
				Name:      client.name,
				Email:     client.email,
				UpdatedAt: time.Now(),
			}
			h.mu.Unlock()
			h.broadcastSnapshot(client.docID)

		case client := <-h.unregister:
			h.mu.Lock()
			stillOpen := false
			if _, ok := h.rooms[client.docID][client]; ok {
				delete(h.rooms[client.docID], client)
				delete(h.states[client.docID], client.userID)
				close(client.send)
				if len(h.rooms[client.docID]) == 0 {
					delete(h.rooms, client.docID)
					delete(h.states, client.docID)
					h.log.Info("room closed", zap.String("docId", client.docID))
				} else {
					stillOpen = true
				}
			}
			h.mu.Unlock()
			if stillOpen {
				h.broadcastSnapshot(client.docID)
			}

		case u := <-h.updates:
			h.mu.Lock()
			room, ok := h.states[u.client.docID]
			if ok {
				// The connection owns the identity fields; only the
				// volatile parts come from the wire.
				current := room[u.client.userID]
				current.UserID = u.client.userID
				current.Name = u.client.name
				current.Email = u.client.email
				current.Color = u.state.Color
				current.Cursor = u.state.Cursor
				current.UpdatedAt = time.Now()
				room[u.client.userID] = current
			}
			h.mu.Unlock()
			if ok {
				h.broadcastSnapshot(u.client.docID)
			}
		}
	}
}

// broadcastSnapshot sends the room's full state to every participant. The
// channel is the source of truth; clients rebuild their view from each
// snapshot rather than applying diffs.
func (h *Hub) broadcastSnapshot(docID string) {
	h.mu.Lock()
	room, ok := h.states[docID]
	if !ok {
		h.mu.Unlock()
		return
	}
	states := make([]State, 0, len(room))
	for _, s := range room {
		states = append(states, s)
	}
	clients := make([]*Client, 0, len(h.rooms[docID]))
	for client := range h.rooms[docID] {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	payload, err := json.Marshal(states)
	if err != nil {
		h.log.Error("marshal presence snapshot", zap.Error(err))
		return
	}
	msg, _ := json.Marshal(Message{Type: SnapshotType, DocID: docID, Payload: payload})

	for _, client := range clients {
		select {
		case client.send <- msg:
		default:
			// Lagging client; the pumps will reap it.
			h.log.Warn("presence send buffer full", zap.String("userId", client.userID))
		}
	}
}
