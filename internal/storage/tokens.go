package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shindakun/authweb/internal/models"
)

// ErrNoTokens is returned when no tokens are stored for a browser session
var ErrNoTokens = errors.New("no tokens stored for session")

// checkSave rejects writes every driver refuses
func checkSave(sessionID string, tokens *models.Tokens) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	if tokens == nil || tokens.IDToken == "" {
		return errors.New("id token is required")
	}
	return nil
}

// TokenStore keeps identity provider tokens per browser session
type TokenStore interface {
	LoadTokens(ctx context.Context, sessionID string) (*models.Tokens, error)
	SaveTokens(ctx context.Context, sessionID string, tokens *models.Tokens) error
	DeleteTokens(ctx context.Context, sessionID string) error
}

// SQLiteTokenStore persists tokens in the provider_tokens table
type SQLiteTokenStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteTokenStore returns a store backed by a database opened with InitDB
func NewSQLiteTokenStore(db *sql.DB) *SQLiteTokenStore {
	return &SQLiteTokenStore{db: db, now: time.Now}
}

// LoadTokens returns the tokens for sessionID or ErrNoTokens
func (s *SQLiteTokenStore) LoadTokens(ctx context.Context, sessionID string) (*models.Tokens, error) {
	var (
		tokens    models.Tokens
		expiresAt int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id_token, access_token, refresh_token, expires_at
		FROM provider_tokens
		WHERE session_id = ?
	`, sessionID).Scan(&tokens.IDToken, &tokens.AccessToken, &tokens.RefreshToken, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoTokens
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}

	tokens.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &tokens, nil
}

// SaveTokens inserts or replaces the tokens for sessionID
func (s *SQLiteTokenStore) SaveTokens(ctx context.Context, sessionID string, tokens *models.Tokens) error {
	if err := checkSave(sessionID, tokens); err != nil {
		return err
	}

	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_tokens (session_id, id_token, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			id_token = excluded.id_token,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`,
		sessionID,
		tokens.IDToken,
		tokens.AccessToken,
		tokens.RefreshToken,
		tokens.ExpiresAt.Unix(),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}

	return nil
}

// DeleteTokens removes the tokens for sessionID. Deleting nothing is not an error.
func (s *SQLiteTokenStore) DeleteTokens(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM provider_tokens WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}
	return nil
}

// DeleteStaleTokens removes rows not written since before cutoff.
// Refresh tokens outlive the id token, so staleness is judged on updated_at.
func (s *SQLiteTokenStore) DeleteStaleTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM provider_tokens WHERE updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}
