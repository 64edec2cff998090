package identity

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"inkwell/api/internal/store"
)

type fakeUserStore struct {
	byEmail map[string]store.User
	byID    map[string]store.User
	created []store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byEmail: make(map[string]store.User),
		byID:    make(map[string]store.User),
	}
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.created = append(f.created, user)
	f.byEmail[user.Email] = user
	f.byID[user.ID] = user
	return nil
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) GetUsersByIDs(_ context.Context, ids []string) ([]store.User, error) {
	var out []store.User
	for _, id := range ids {
		if u, ok := f.byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	user, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "Alice@Example.com",
		Password:    "correct-horse",
		DisplayName: "Alice",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.PasswordHash == "correct-horse" {
		t.Fatal("password stored in the clear")
	}

	signedIn, err := svc.SignIn(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if signedIn.ID != user.ID {
		t.Fatalf("signed in as %q, want %q", signedIn.ID, user.ID)
	}

	if _, err := svc.SignIn(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.com", Password: "longenough", DisplayName: "A"}); err != nil {
		t.Fatalf("first sign up: %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.com", Password: "longenough", DisplayName: "A2"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate sign up: got %v, want ErrEmailTaken", err)
	}
}

func TestResolveEmailUnknown(t *testing.T) {
	svc := NewService(newFakeUserStore())
	if _, err := svc.ResolveEmail(context.Background(), "ghost@example.com"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("unknown email: got %v, want ErrUnknownUser", err)
	}
}

func TestLookupFillsPlaceholders(t *testing.T) {
	fs := newFakeUserStore()
	fs.byID["user-aaaa"] = store.User{ID: "user-aaaa", DisplayName: "Alice", Email: "alice@example.com"}
	svc := NewService(fs)

	profiles, err := svc.Lookup(context.Background(), []string{"user-aaaa", "user-zzzz"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].Name != "Alice" {
		t.Fatalf("resolved profile name = %q", profiles[0].Name)
	}
	if profiles[1].Name != "User zzzz" {
		t.Fatalf("placeholder name = %q, want %q", profiles[1].Name, "User zzzz")
	}
}
