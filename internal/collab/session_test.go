package collab

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/api/internal/presence"
)

type fakeChannel struct {
	mu        sync.Mutex
	published []presence.State
	snapshots chan []presence.State
	closed    bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{snapshots: make(chan []presence.State, 8)}
}

func (f *fakeChannel) Publish(state presence.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, state)
	return nil
}

func (f *fakeChannel) Snapshots() <-chan []presence.State { return f.snapshots }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) lastPublished() presence.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

func waitForParticipants(t *testing.T, m *SessionManager, n int) []Participant {
	t.Helper()
	var got []Participant
	require.Eventually(t, func() bool {
		got = m.Participants()
		return len(got) == n
	}, time.Second, 5*time.Millisecond)
	return got
}

func TestSessionPublishesSelfOnJoin(t *testing.T) {
	ch := newFakeChannel()
	m, err := NewSessionManager(ch, LocalUser{ID: "alice-1", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	defer m.Close()

	state := ch.lastPublished()
	assert.Equal(t, "alice-1", state.UserID)
	assert.Equal(t, "Alice", state.Name)
	assert.Equal(t, ColorFor("alice-1"), state.Color)
}

func TestSnapshotReplacesParticipantList(t *testing.T) {
	ch := newFakeChannel()
	m, err := NewSessionManager(ch, LocalUser{ID: "alice-1", Name: "Alice"})
	require.NoError(t, err)
	defer m.Close()

	ch.snapshots <- []presence.State{
		{UserID: "carol-3", Name: "Carol", Color: "#DDA0DD"},
		{UserID: "alice-1", Name: "Alice", Color: "#FF6B6B"},
		{UserID: "bob-2", Name: "Bob", Color: "#4ECDC4"},
	}
	got := waitForParticipants(t, m, 3)
	assert.Equal(t, []string{"alice-1", "bob-2", "carol-3"},
		[]string{got[0].UserID, got[1].UserID, got[2].UserID})

	// The next snapshot is the whole truth; departed members vanish.
	ch.snapshots <- []presence.State{
		{UserID: "alice-1", Name: "Alice", Color: "#FF6B6B"},
	}
	got = waitForParticipants(t, m, 1)
	assert.Equal(t, "alice-1", got[0].UserID)
}

func TestSnapshotWithoutColorFallsBackToDerived(t *testing.T) {
	ch := newFakeChannel()
	m, err := NewSessionManager(ch, LocalUser{ID: "alice-1", Name: "Alice"})
	require.NoError(t, err)
	defer m.Close()

	ch.snapshots <- []presence.State{{UserID: "bob-2", Name: "Bob"}}
	got := waitForParticipants(t, m, 1)
	assert.Equal(t, ColorFor("bob-2"), got[0].Color)
}

func TestUpdateCursorPublishesLatestPosition(t *testing.T) {
	ch := newFakeChannel()
	m, err := NewSessionManager(ch, LocalUser{ID: "alice-1", Name: "Alice"})
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.UpdateCursor(json.RawMessage(`{"anchor":7}`)))
	state := ch.lastPublished()
	assert.JSONEq(t, `{"anchor":7}`, string(state.Cursor))
	assert.Equal(t, ColorFor("alice-1"), state.Color)
}

func TestCloseStopsPublishingAndClosesChannel(t *testing.T) {
	ch := newFakeChannel()
	m, err := NewSessionManager(ch, LocalUser{ID: "alice-1", Name: "Alice"})
	require.NoError(t, err)

	require.NoError(t, m.Close())
	ch.mu.Lock()
	closed := ch.closed
	published := len(ch.published)
	ch.mu.Unlock()
	assert.True(t, closed)

	require.NoError(t, m.UpdateCursor(json.RawMessage(`{"anchor":1}`)))
	ch.mu.Lock()
	assert.Len(t, ch.published, published)
	ch.mu.Unlock()

	// Close is idempotent.
	require.NoError(t, m.Close())
}

func TestColorAssignmentIsDeterministic(t *testing.T) {
	assert.Equal(t, ColorFor("alice-1"), ColorFor("alice-1"))
	for _, id := range []string{"", "a", "user-9f2c", "550e8400-e29b-41d4-a716-446655440000"} {
		assert.Contains(t, cursorPalette, ColorFor(id))
	}
}
