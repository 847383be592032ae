package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/parley/internal/model"
)

// AuthSessionTTL is how long a login token stays valid.
const AuthSessionTTL = 7 * 24 * time.Hour

// tokenBytes is the entropy of a login token; tokens are hex encoded.
const tokenBytes = 32

// CreateAuthSession issues a login token for userID. The same token is
// accepted as an Authorization bearer value and as the session cookie.
func (s *Store) CreateAuthSession(ctx context.Context, userID string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(AuthSessionTTL),
	); err != nil {
		return "", fmt.Errorf("insert token for %s: %w", userID, err)
	}
	return token, nil
}

// GetAuthSession resolves a presented token. Unknown and expired tokens
// both yield nil; an expired token is revoked on the way out.
func (s *Store) GetAuthSession(ctx context.Context, token string) (*model.AuthSession, error) {
	var sess model.AuthSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up token: %w", err)
	}
	if !time.Now().Before(sess.ExpiresAt) {
		if err := s.DeleteAuthSession(ctx, token); err != nil {
			slog.Warn("failed to revoke expired token", "user_id", sess.UserID, "error", err)
		}
		return nil, nil
	}
	return &sess, nil
}

// DeleteAuthSession revokes a token.
func (s *Store) DeleteAuthSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// PruneExpiredTokens removes every expired token and reports how many went.
func (s *Store) PruneExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("prune tokens: %w", err)
	}
	return res.RowsAffected()
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
