// Package identity manages user accounts: registration, credential checks,
// and lookup by email or id. It is the directory the sharing flow resolves
// target users against.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"inkwell/api/internal/store"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnknownUser        = errors.New("unknown user")
)

// UserStore defines the storage interface for accounts
type UserStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]store.User, error)
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUp creates a new user account
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if email == "" || req.Password == "" || name == "" {
		return store.User{}, errors.New("email, password, and display name are required")
	}
	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           uuid.NewString(),
		DisplayName:  name,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user by email and password
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ResolveEmail finds the account a share request targets. A missing account
// is ErrUnknownUser; no placeholder membership is created for it.
func (s *Service) ResolveEmail(ctx context.Context, email string) (store.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return store.User{}, ErrUnknownUser
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrUnknownUser
	}
	return user, nil
}

// Profile is the public shape of a user for presence and mention UI.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Lookup resolves ids to display profiles in one batch. Ids with no account
// get a deterministic placeholder instead of failing the whole batch.
func (s *Service) Lookup(ctx context.Context, ids []string) ([]Profile, error) {
	users, err := s.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup users: %w", err)
	}
	found := make(map[string]store.User, len(users))
	for _, u := range users {
		found[u.ID] = u
	}

	profiles := make([]Profile, 0, len(ids))
	for _, id := range ids {
		if u, ok := found[id]; ok {
			profiles = append(profiles, Profile{ID: u.ID, Name: u.DisplayName, Email: u.Email})
			continue
		}
		profiles = append(profiles, PlaceholderProfile(id))
	}
	return profiles, nil
}

// PlaceholderProfile synthesizes a profile from an identifier, for ids the
// directory cannot resolve.
func PlaceholderProfile(id string) Profile {
	suffix := id
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return Profile{ID: id, Name: "User " + suffix}
}
