package collab

import (
	"context"
	"sync"

	"inkwell/api/internal/identity"
)

// UserLookuper resolves user ids to profiles in one batch call.
type UserLookuper interface {
	LookupUsers(ctx context.Context, userIDs []string) ([]identity.Profile, error)
}

// Directory caches collaborator profiles for the lifetime of a session.
// Resolution is best effort: a failed lookup yields placeholder profiles so
// the caller always gets an entry per requested id.
type Directory struct {
	lookup UserLookuper

	mu    sync.Mutex
	cache map[string]identity.Profile
}

func NewDirectory(lookup UserLookuper) *Directory {
	return &Directory{
		lookup: lookup,
		cache:  make(map[string]identity.Profile),
	}
}

// Resolve returns a profile for every requested id. Only ids not seen before
// hit the backend; everything else is served from the session cache.
func (d *Directory) Resolve(ctx context.Context, userIDs []string) map[string]identity.Profile {
	out := make(map[string]identity.Profile, len(userIDs))

	d.mu.Lock()
	var missing []string
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := d.cache[id]; ok {
			out[id] = p
		} else {
			missing = append(missing, id)
		}
	}
	d.mu.Unlock()

	if len(missing) == 0 {
		return out
	}

	profiles, err := d.lookup.LookupUsers(ctx, missing)
	if err != nil {
		// Placeholders are not cached so a later call can retry the lookup.
		for _, id := range missing {
			out[id] = identity.PlaceholderProfile(id)
		}
		return out
	}

	d.mu.Lock()
	for _, p := range profiles {
		d.cache[p.ID] = p
		out[p.ID] = p
	}
	d.mu.Unlock()

	for _, id := range missing {
		if _, ok := out[id]; !ok {
			out[id] = identity.PlaceholderProfile(id)
		}
	}
	return out
}
