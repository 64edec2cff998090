package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Document struct {
	ID        string
	Title     string
	Content   json.RawMessage
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	// Roles maps user id to role name; its key set is the member set.
	Roles map[string]string
}

func (d Document) Members() []string {
	members := make([]string, 0, len(d.Roles))
	for id := range d.Roles {
		members = append(members, id)
	}
	return members
}

// DocumentSummary is the listing shape: metadata plus the caller's role,
// without the content snapshot.
type DocumentSummary struct {
	ID          string
	Title       string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Role        string
	MemberCount int
}

// DocumentPatch is a partial update; nil fields are left untouched so a
// concurrent title save and content save do not clobber each other.
type DocumentPatch struct {
	Title   *string
	Content json.RawMessage
}

func (p DocumentPatch) Empty() bool {
	return p.Title == nil && p.Content == nil
}
