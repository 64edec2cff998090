package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/config"
	"inkwell/api/internal/identity"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/store"
)

// DataStore is the durable record store the service runs against.
type DataStore interface {
	identity.UserStore

	CreateDocument(ctx context.Context, doc store.Document) error
	ListDocumentsForUser(ctx context.Context, userID string) ([]store.DocumentSummary, error)
	GetDocument(ctx context.Context, docID string) (store.Document, error)
	UpdateDocument(ctx context.Context, docID string, patch store.DocumentPatch) error
	DeleteDocument(ctx context.Context, docID string) error
	GetRoles(ctx context.Context, docID string) (map[string]string, error)
	UpdateRoles(ctx context.Context, docID string, mutate func(map[string]string) (map[string]string, error)) error

	Ping(ctx context.Context) error
}

// SessionStore holds refresh tokens. Redis-backed when configured, else the
// Postgres tables.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    DataStore
	sessions SessionStore
	identity *identity.Service
	log      *zap.Logger
}

func New(cfg config.Config, dataStore DataStore, sessions SessionStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		identity: identity.NewService(dataStore),
		log:      log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Caller is a verified identity for the duration of one request.
type Caller struct {
	UserID string
	Name   string
	Email  string
}

// CallerFromToken verifies a bearer token and resolves it to one caller.
// Token failures surface as auth errors, never as a role denial.
func (s *Service) CallerFromToken(ctx context.Context, token string) (Caller, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Caller{}, err
	}
	return Caller{UserID: claims.Sub, Name: claims.Name, Email: claims.Email}, nil
}

// DocumentRole reports the caller's role on a document, for the presence
// layer's join check. sql.ErrNoRows when the document does not exist.
func (s *Service) DocumentRole(ctx context.Context, docID, userID string) (rbac.Role, error) {
	roles, err := s.store.GetRoles(ctx, docID)
	if err != nil {
		return "", err
	}
	if len(roles) == 0 {
		return "", sql.ErrNoRows
	}
	role, ok := roles[userID]
	if !ok {
		return "", rbac.ErrDenied
	}
	return rbac.Role(role), nil
}

// Auth

type SessionTokens struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	Email        string    `json:"email"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (s *Service) SignUp(ctx context.Context, req identity.SignUpRequest) (store.User, error) {
	return s.identity.SignUp(ctx, req)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (SessionTokens, error) {
	user, err := s.identity.SignIn(ctx, email, password)
	if err != nil {
		return SessionTokens{}, err
	}
	return s.createSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (SessionTokens, error) {
	hash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return SessionTokens{}, fmt.Errorf("refresh: %w", err)
	}
	// Token data from Redis may carry only the user id.
	if user.DisplayName == "" {
		if full, err := s.store.GetUserByID(ctx, user.ID); err == nil {
			user = full
		}
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		s.log.Warn("revoke rotated refresh token", zap.Error(err))
	}
	return s.createSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) createSession(ctx context.Context, user store.User) (SessionTokens, error) {
	accessToken, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Email, s.cfg.AccessTTL)
	if err != nil {
		return SessionTokens{}, fmt.Errorf("issue access token: %w", err)
	}

	refreshToken, err := randomToken()
	if err != nil {
		return SessionTokens{}, fmt.Errorf("generate refresh token: %w", err)
	}
	expiresAt := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, expiresAt); err != nil {
		return SessionTokens{}, fmt.Errorf("save refresh session: %w", err)
	}

	return SessionTokens{
		Token:        accessToken,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		ExpiresAt:    time.Now().Add(s.cfg.AccessTTL),
	}, nil
}

// Documents

type DocumentSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Role        string    `json:"role"`
	MemberCount int       `json:"memberCount"`
}

type DocumentResponse struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Content       json.RawMessage   `json:"content"`
	CreatedBy     string            `json:"createdBy"`
	CreatedByName string            `json:"createdByName,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	Roles         map[string]string `json:"roles"`
	Members       []string          `json:"members"`
	Role          string            `json:"role"`
}

func (s *Service) ListDocuments(ctx context.Context, caller Caller) ([]DocumentSummary, error) {
	rows, err := s.store.ListDocumentsForUser(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]DocumentSummary, 0, len(rows))
	for _, d := range rows {
		out = append(out, DocumentSummary{
			ID:          d.ID,
			Title:       d.Title,
			CreatedBy:   d.CreatedBy,
			CreatedAt:   d.CreatedAt,
			UpdatedAt:   d.UpdatedAt,
			Role:        d.Role,
			MemberCount: d.MemberCount,
		})
	}
	return out, nil
}

func (s *Service) CreateDocument(ctx context.Context, caller Caller, title string, content json.RawMessage) (DocumentResponse, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled Document"
	}
	if len(content) == 0 {
		content = json.RawMessage(`[]`)
	}
	doc := store.Document{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		CreatedBy: caller.UserID,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return DocumentResponse{}, fmt.Errorf("create document: %w", err)
	}
	s.log.Info("document created", zap.String("docId", doc.ID), zap.String("userId", caller.UserID))
	return s.GetDocument(ctx, caller, doc.ID)
}

func (s *Service) GetDocument(ctx context.Context, caller Caller, docID string) (DocumentResponse, error) {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return DocumentResponse{}, err
	}
	role, ok := doc.Roles[caller.UserID]
	if !ok {
		return DocumentResponse{}, rbac.ErrDenied
	}

	resp := DocumentResponse{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		CreatedBy: doc.CreatedBy,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		Roles:     doc.Roles,
		Members:   doc.Members(),
		Role:      role,
	}
	if creator, err := s.store.GetUserByID(ctx, doc.CreatedBy); err == nil {
		resp.CreatedByName = creator.DisplayName
	}
	return resp, nil
}

func (s *Service) UpdateDocument(ctx context.Context, caller Caller, docID string, patch store.DocumentPatch) (DocumentResponse, error) {
	if err := s.requireRole(ctx, docID, caller.UserID, rbac.ActionWrite); err != nil {
		return DocumentResponse{}, err
	}
	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return DocumentResponse{}, domainError(422, "VALIDATION_ERROR", "title must not be empty")
		}
		patch.Title = &trimmed
	}
	if err := s.store.UpdateDocument(ctx, docID, patch); err != nil {
		return DocumentResponse{}, err
	}
	return s.GetDocument(ctx, caller, docID)
}

func (s *Service) DeleteDocument(ctx context.Context, caller Caller, docID string) error {
	if err := s.requireRole(ctx, docID, caller.UserID, rbac.ActionManage); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	s.log.Info("document deleted", zap.String("docId", docID), zap.String("userId", caller.UserID))
	return nil
}

func (s *Service) Permissions(ctx context.Context, caller Caller, docID string) (map[string]string, error) {
	roles, err := s.store.GetRoles(ctx, docID)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, sql.ErrNoRows
	}
	if _, ok := roles[caller.UserID]; !ok {
		return nil, rbac.ErrDenied
	}
	return roles, nil
}

// Share grants or updates a role for the account behind an email. The
// caller's own role and the legality of the grant are decided against the
// same locked snapshot the result is written from.
func (s *Service) Share(ctx context.Context, caller Caller, docID, email, roleName string) error {
	role, err := rbac.ParseRole(roleName)
	if err != nil {
		return err
	}
	target, err := s.identity.ResolveEmail(ctx, email)
	if err != nil {
		return err
	}
	err = s.store.UpdateRoles(ctx, docID, func(current map[string]string) (map[string]string, error) {
		snapshot := toRoleMap(current)
		actorRole, isMember := snapshot[caller.UserID]
		if !isMember {
			return nil, rbac.ErrDenied
		}
		next, err := rbac.Grant(snapshot, actorRole, target.ID, role)
		if err != nil {
			return nil, err
		}
		return fromRoleMap(next), nil
	})
	if err != nil {
		return err
	}
	s.log.Info("document shared",
		zap.String("docId", docID),
		zap.String("targetId", target.ID),
		zap.String("role", string(role)))
	return nil
}

// RemoveAccess revokes a member's role. Revoking a non-member succeeds
// without touching the role map.
func (s *Service) RemoveAccess(ctx context.Context, caller Caller, docID, targetUserID string) error {
	err := s.store.UpdateRoles(ctx, docID, func(current map[string]string) (map[string]string, error) {
		snapshot := toRoleMap(current)
		actorRole, isMember := snapshot[caller.UserID]
		if !isMember {
			return nil, rbac.ErrDenied
		}
		next, err := rbac.Revoke(snapshot, actorRole, targetUserID)
		if err != nil {
			return nil, err
		}
		return fromRoleMap(next), nil
	})
	if err != nil {
		return err
	}
	s.log.Info("access revoked", zap.String("docId", docID), zap.String("targetId", targetUserID))
	return nil
}

func (s *Service) UserDetails(ctx context.Context, ids []string) ([]identity.Profile, error) {
	return s.identity.Lookup(ctx, ids)
}

func (s *Service) requireRole(ctx context.Context, docID, userID string, action rbac.Action) error {
	roles, err := s.store.GetRoles(ctx, docID)
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		return sql.ErrNoRows
	}
	role, ok := roles[userID]
	if !ok || !rbac.Can(rbac.Role(role), action) {
		return rbac.ErrDenied
	}
	return nil
}

func toRoleMap(m map[string]string) rbac.RoleMap {
	out := make(rbac.RoleMap, len(m))
	for id, role := range m {
		out[id] = rbac.Role(role)
	}
	return out
}

func fromRoleMap(m rbac.RoleMap) map[string]string {
	out := make(map[string]string, len(m))
	for id, role := range m {
		out[id] = string(role)
	}
	return out
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
