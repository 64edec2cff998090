package collab

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/api/internal/identity"
)

type fakeLookuper struct {
	profiles map[string]identity.Profile
	batches  [][]string
	err      error
}

func (f *fakeLookuper) LookupUsers(ctx context.Context, userIDs []string) ([]identity.Profile, error) {
	f.batches = append(f.batches, userIDs)
	if f.err != nil {
		return nil, f.err
	}
	var out []identity.Profile
	for _, id := range userIDs {
		if p, ok := f.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestResolveFetchesOnlyUncachedIDs(t *testing.T) {
	lookup := &fakeLookuper{profiles: map[string]identity.Profile{
		"u1": {ID: "u1", Name: "Alice", Email: "alice@example.com"},
		"u2": {ID: "u2", Name: "Bob", Email: "bob@example.com"},
		"u3": {ID: "u3", Name: "Carol", Email: "carol@example.com"},
	}}
	dir := NewDirectory(lookup)

	got := dir.Resolve(context.Background(), []string{"u1", "u2"})
	assert.Equal(t, "Alice", got["u1"].Name)
	assert.Equal(t, "Bob", got["u2"].Name)
	require.Len(t, lookup.batches, 1)
	assert.ElementsMatch(t, []string{"u1", "u2"}, lookup.batches[0])

	// u1 is already cached; only u3 goes over the wire.
	got = dir.Resolve(context.Background(), []string{"u1", "u3"})
	assert.Equal(t, "Alice", got["u1"].Name)
	assert.Equal(t, "Carol", got["u3"].Name)
	require.Len(t, lookup.batches, 2)
	assert.Equal(t, []string{"u3"}, lookup.batches[1])
}

func TestResolveFullyCachedSkipsBackend(t *testing.T) {
	lookup := &fakeLookuper{profiles: map[string]identity.Profile{
		"u1": {ID: "u1", Name: "Alice"},
	}}
	dir := NewDirectory(lookup)

	dir.Resolve(context.Background(), []string{"u1"})
	dir.Resolve(context.Background(), []string{"u1", "u1"})
	assert.Len(t, lookup.batches, 1)
}

func TestResolveFailureYieldsPlaceholders(t *testing.T) {
	lookup := &fakeLookuper{err: errors.New("directory unavailable")}
	dir := NewDirectory(lookup)

	got := dir.Resolve(context.Background(), []string{"user-12345678"})
	require.Contains(t, got, "user-12345678")
	assert.Equal(t, "User 5678", got["user-12345678"].Name)

	// Placeholders are not cached, so recovery is possible on the next call.
	lookup.err = nil
	lookup.profiles = map[string]identity.Profile{
		"user-12345678": {ID: "user-12345678", Name: "Dave"},
	}
	got = dir.Resolve(context.Background(), []string{"user-12345678"})
	assert.Equal(t, "Dave", got["user-12345678"].Name)
}

func TestResolveUnknownIDGetsPlaceholder(t *testing.T) {
	lookup := &fakeLookuper{profiles: map[string]identity.Profile{
		"u1": {ID: "u1", Name: "Alice"},
	}}
	dir := NewDirectory(lookup)

	got := dir.Resolve(context.Background(), []string{"u1", "ghost-0042"})
	assert.Equal(t, "Alice", got["u1"].Name)
	assert.Equal(t, "User 0042", got["ghost-0042"].Name)
}
