package app

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/config"
	"inkwell/api/internal/store"
)

type fakeStore struct {
	mu    sync.Mutex
	users map[string]store.User
	docs  map[string]store.Document
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: make(map[string]store.User),
		docs:  make(map[string]store.Document),
	}
}

func (f *fakeStore) addUser(user store.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.addUser(user)
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUsersByIDs(_ context.Context, ids []string) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateDocument(_ context.Context, doc store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	doc.Roles = map[string]string{doc.CreatedBy: "admin"}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeStore) ListDocumentsForUser(_ context.Context, userID string) ([]store.DocumentSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.DocumentSummary
	for _, doc := range f.docs {
		role, ok := doc.Roles[userID]
		if !ok {
			continue
		}
		out = append(out, store.DocumentSummary{
			ID:          doc.ID,
			Title:       doc.Title,
			CreatedBy:   doc.CreatedBy,
			CreatedAt:   doc.CreatedAt,
			UpdatedAt:   doc.UpdatedAt,
			Role:        role,
			MemberCount: len(doc.Roles),
		})
	}
	return out, nil
}

func (f *fakeStore) GetDocument(_ context.Context, docID string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	doc.Roles = copyRoles(doc.Roles)
	return doc, nil
}

func (f *fakeStore) UpdateDocument(_ context.Context, docID string, patch store.DocumentPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docID]
	if !ok {
		return sql.ErrNoRows
	}
	if patch.Title != nil {
		doc.Title = *patch.Title
	}
	if patch.Content != nil {
		doc.Content = patch.Content
	}
	doc.UpdatedAt = time.Now()
	f.docs[docID] = doc
	return nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[docID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.docs, docID)
	return nil
}

func (f *fakeStore) GetRoles(_ context.Context, docID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docID]
	if !ok {
		return map[string]string{}, nil
	}
	return copyRoles(doc.Roles), nil
}

func (f *fakeStore) UpdateRoles(_ context.Context, docID string, mutate func(map[string]string) (map[string]string, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docID]
	if !ok {
		return sql.ErrNoRows
	}
	next, err := mutate(copyRoles(doc.Roles))
	if err != nil {
		return err
	}
	doc.Roles = next
	f.docs[docID] = doc
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func copyRoles(roles map[string]string) map[string]string {
	out := make(map[string]string, len(roles))
	for id, role := range roles {
		out[id] = role
	}
	return out
}

type fakeSessions struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: make(map[string]string)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[tokenHash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.tokens[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, tokenHash)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
}

func newTestService(fs *fakeStore) *Service {
	return New(testConfig(), fs, newFakeSessions(), zap.NewNop())
}

func tokenFor(t *testing.T, user store.User) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), user.ID, user.DisplayName, user.Email, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
