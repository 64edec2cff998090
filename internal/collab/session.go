package collab

import (
	"encoding/json"
	"sort"
	"sync"

	"inkwell/api/internal/presence"
)

// LocalUser is the authenticated participant running this session.
type LocalUser struct {
	ID    string
	Name  string
	Email string
}

// SessionManager tracks who is in a document session. The presence channel
// is the source of truth: every snapshot replaces the participant list
// wholesale, so a missed message never leaves the view permanently stale.
type SessionManager struct {
	channel Channel
	self    LocalUser
	color   string

	mu           sync.Mutex
	participants []Participant
	closed       bool

	done chan struct{}
}

// Participant is one member of the session as seen through the channel.
type Participant struct {
	UserID string
	Name   string
	Email  string
	Color  string
}

func NewSessionManager(channel Channel, self LocalUser) (*SessionManager, error) {
	m := &SessionManager{
		channel: channel,
		self:    self,
		color:   ColorFor(self.ID),
		done:    make(chan struct{}),
	}
	if err := m.publishSelf(nil); err != nil {
		return nil, err
	}
	go m.consume()
	return m, nil
}

// Color is the local participant's assigned cursor color.
func (m *SessionManager) Color() string { return m.color }

// UpdateCursor publishes the local cursor position to the room.
func (m *SessionManager) UpdateCursor(cursor json.RawMessage) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.publishSelf(cursor)
}

// Participants returns the current room membership, ordered by user id.
func (m *SessionManager) Participants() []Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Participant, len(m.participants))
	copy(out, m.participants)
	return out
}

func (m *SessionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	close(m.done)
	return m.channel.Close()
}

func (m *SessionManager) publishSelf(cursor json.RawMessage) error {
	return m.channel.Publish(presence.State{
		UserID: m.self.ID,
		Name:   m.self.Name,
		Email:  m.self.Email,
		Color:  m.color,
		Cursor: cursor,
	})
}

func (m *SessionManager) consume() {
	for {
		select {
		case <-m.done:
			return
		case states, ok := <-m.channel.Snapshots():
			if !ok {
				return
			}
			next := make([]Participant, 0, len(states))
			for _, s := range states {
				color := s.Color
				if color == "" {
					color = ColorFor(s.UserID)
				}
				next = append(next, Participant{
					UserID: s.UserID,
					Name:   s.Name,
					Email:  s.Email,
					Color:  color,
				})
			}
			sort.Slice(next, func(i, j int) bool { return next[i].UserID < next[j].UserID })
			m.mu.Lock()
			m.participants = next
			m.mu.Unlock()
		}
	}
}
