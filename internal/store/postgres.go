package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash FROM users WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUsersByIDs returns the users that exist; ids with no matching row are
// simply absent from the result.
func (s *PostgresStore) GetUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email FROM users WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateDocument inserts the document and its creator's admin role in one
// transaction, so a document never exists without an admin.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, created_by)
		VALUES ($1, $2, $3, $4)
	`, doc.ID, doc.Title, []byte(doc.Content), doc.CreatedBy); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_roles (document_id, user_id, role)
		VALUES ($1, $2, 'admin')
	`, doc.ID, doc.CreatedBy); err != nil {
		return fmt.Errorf("insert creator role: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) ListDocumentsForUser(ctx context.Context, userID string) ([]DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.created_by, d.created_at, d.updated_at, dr.role,
			(SELECT COUNT(*) FROM document_roles m WHERE m.document_id = d.id)
		FROM documents d
		JOIN document_roles dr ON dr.document_id = d.id AND dr.user_id = $1
		ORDER BY d.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentSummary
	for rows.Next() {
		var d DocumentSummary
		if err := rows.Scan(&d.ID, &d.Title, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt, &d.Role, &d.MemberCount); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetDocument(ctx context.Context, docID string) (Document, error) {
	var doc Document
	var content []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, created_by, created_at, updated_at
		FROM documents WHERE id=$1
	`, docID).Scan(&doc.ID, &doc.Title, &content, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	doc.Content = content

	roles, err := s.GetRoles(ctx, docID)
	if err != nil {
		return Document{}, err
	}
	doc.Roles = roles
	return doc, nil
}

// UpdateDocument applies a partial merge; only the fields carried by the
// patch are written.
func (s *PostgresStore) UpdateDocument(ctx context.Context, docID string, patch DocumentPatch) error {
	if patch.Empty() {
		return nil
	}
	var result sql.Result
	var err error
	switch {
	case patch.Title != nil && patch.Content != nil:
		result, err = s.db.ExecContext(ctx, `
			UPDATE documents SET title=$1, content=$2, updated_at=NOW() WHERE id=$3
		`, *patch.Title, []byte(patch.Content), docID)
	case patch.Title != nil:
		result, err = s.db.ExecContext(ctx, `
			UPDATE documents SET title=$1, updated_at=NOW() WHERE id=$2
		`, *patch.Title, docID)
	default:
		result, err = s.db.ExecContext(ctx, `
			UPDATE documents SET content=$1, updated_at=NOW() WHERE id=$2
		`, []byte(patch.Content), docID)
	}
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteDocument removes the document; role rows cascade, so all sharing
// state goes with it.
func (s *PostgresStore) DeleteDocument(ctx context.Context, docID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, docID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) GetRoles(ctx context.Context, docID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, role FROM document_roles WHERE document_id=$1
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	roles := make(map[string]string)
	for rows.Next() {
		var userID, role string
		if err := rows.Scan(&userID, &role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles[userID] = role
	}
	return roles, rows.Err()
}

// UpdateRoles reads the current role map under a row lock, lets mutate
// produce the next snapshot, and writes the diff. Holding the lock for the
// whole check-then-act step is what keeps two concurrent revocations from
// both passing the last-admin check.
func (s *PostgresStore) UpdateRoles(ctx context.Context, docID string, mutate func(map[string]string) (map[string]string, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE id=$1 FOR UPDATE`, docID).Scan(&exists); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT user_id, role FROM document_roles WHERE document_id=$1 FOR UPDATE
	`, docID)
	if err != nil {
		return fmt.Errorf("query roles: %w", err)
	}
	current := make(map[string]string)
	for rows.Next() {
		var userID, role string
		if err := rows.Scan(&userID, &role); err != nil {
			rows.Close()
			return fmt.Errorf("scan role: %w", err)
		}
		current[userID] = role
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	next, err := mutate(current)
	if err != nil {
		return err
	}

	for userID, role := range next {
		if current[userID] == role {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_roles (document_id, user_id, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (document_id, user_id) DO UPDATE SET role=EXCLUDED.role
		`, docID, userID, role); err != nil {
			return fmt.Errorf("upsert role: %w", err)
		}
	}
	for userID := range current {
		if _, keep := next[userID]; keep {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM document_roles WHERE document_id=$1 AND user_id=$2
		`, docID, userID); err != nil {
			return fmt.Errorf("delete role: %w", err)
		}
	}

	return tx.Commit()
}

// Refresh sessions, Postgres variant. Used when no Redis URL is configured.

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, fmt.Errorf("token not found or expired")
		}
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}
