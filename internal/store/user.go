package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/parley/internal/model"
)

const userColumns = `id, email, name, password_hash, level, total_sessions, average_score, medals, preferences, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.UserProfile, error) {
	var u model.UserProfile
	var medals, prefs string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Level, &u.TotalSessions,
		&u.AverageScore, &medals, &prefs, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(medals), &u.Medals); err != nil {
		return nil, fmt.Errorf("decode medals: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &u.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new profile with every medal locked and returns its id.
func (s *Store) CreateUser(ctx context.Context, u model.UserProfile) (string, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Level == 0 {
		u.Level = 1
	}
	if u.Medals == nil {
		u.Medals = model.DefaultMedals()
	}
	if u.Preferences == (model.Preferences{}) {
		u.Preferences = model.DefaultPreferences()
	}
	medals, prefs, err := encodeProfile(&u)
	if err != nil {
		return "", err
	}
	now := timeOrNow(u.CreatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Level, u.TotalSessions, u.AverageScore, medals, prefs, now, now,
	)
	if err != nil {
		slog.Error("failed to create user", "email", u.Email, "error", err)
		return "", err
	}
	slog.Info("created user", "id", u.ID, "email", u.Email)
	return u.ID, nil
}

// GetUser returns a profile by id, or nil if it does not exist.
func (s *Store) GetUser(ctx context.Context, id string) (*model.UserProfile, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// GetUserByEmail returns a profile by email, or nil if it does not exist.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.UserProfile, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all profiles.
func (s *Store) ListUsers(ctx context.Context) ([]model.UserProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.UserProfile
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUser applies a partial update to a profile.
func (s *Store) UpdateUser(ctx context.Context, id string, upd model.UserUpdate) error {
	return s.ModifyUser(ctx, id, func(u *model.UserProfile) error {
		upd.Apply(u)
		return nil
	})
}

// ModifyUser runs fn on the stored profile inside a write transaction and
// saves the result. It returns model.ErrNotFound for unknown users.
func (s *Store) ModifyUser(ctx context.Context, id string, fn func(u *model.UserProfile) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if err := fn(u); err != nil {
		return err
	}

	medals, prefs, err := encodeProfile(u)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE users SET name = ?, level = ?, total_sessions = ?, average_score = ?, medals = ?, preferences = ?, updated_at = ?
		 WHERE id = ?`,
		u.Name, u.Level, u.TotalSessions, u.AverageScore, medals, prefs, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	return tx.Commit()
}

// SetPassword replaces a user's password hash.
func (s *Store) SetPassword(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// LogAchievement appends a medal level-up to the achievement log.
func (s *Store) LogAchievement(ctx context.Context, e model.AchievementEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO achievements (user_id, medal, level, created_at) VALUES (?, ?, ?, ?)`,
		e.UserID, e.Medal, e.Level, timeOrNow(e.At),
	)
	return err
}

// ListAchievements returns a user's level-ups, oldest first.
func (s *Store) ListAchievements(ctx context.Context, userID string) ([]model.AchievementEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, medal, level, created_at FROM achievements WHERE user_id = ? ORDER BY id`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AchievementEntry
	for rows.Next() {
		var e model.AchievementEntry
		if err := rows.Scan(&e.UserID, &e.Medal, &e.Level, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func encodeProfile(u *model.UserProfile) (medals, prefs string, err error) {
	m, err := json.Marshal(u.Medals)
	if err != nil {
		return "", "", fmt.Errorf("encode medals: %w", err)
	}
	p, err := json.Marshal(u.Preferences)
	if err != nil {
		return "", "", fmt.Errorf("encode preferences: %w", err)
	}
	return string(m), string(p), nil
}
