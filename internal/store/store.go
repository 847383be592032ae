// Package store persists users, finished sessions, and achievements in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/parley/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and migrates it.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		level INTEGER NOT NULL DEFAULT 1,
		total_sessions INTEGER NOT NULL DEFAULT 0,
		average_score REAL NOT NULL DEFAULT 0,
		medals TEXT NOT NULL DEFAULT '{}',
		preferences TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		scenario_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		score INTEGER NOT NULL DEFAULT 0,
		achievements TEXT NOT NULL DEFAULT '[]',
		transcript TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, started_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		speaker TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		audio_ref TEXT NOT NULL DEFAULT '',
		emotions TEXT NOT NULL DEFAULT '[]',
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS emotions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		emotion TEXT NOT NULL,
		intensity REAL NOT NULL,
		confidence REAL NOT NULL,
		ts INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS achievements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		medal TEXT NOT NULL,
		level INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return s.SetMetadata(ctx, schemaVersionKey, SchemaVersion)
}

// SaveSession stores a finished session with its messages and emotion
// samples and returns the session id. A record without an id gets a new one.
func (s *Store) SaveSession(ctx context.Context, rec model.SessionRecord) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	achievements, err := json.Marshal(nonNil(rec.Achievements))
	if err != nil {
		return "", fmt.Errorf("encode achievements: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, scenario_id, started_at, ended_at, score, achievements, transcript)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.UserID, rec.ScenarioID, rec.StartedAt.UTC(), utcPtr(rec.EndedAt), rec.Score, string(achievements), rec.Transcript,
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	for i, m := range rec.Messages {
		msgID := m.ID
		if msgID == "" {
			msgID = uuid.NewString()
		}
		emotions, err := json.Marshal(m.Emotions)
		if err != nil {
			return "", fmt.Errorf("encode message emotions: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, seq, speaker, content, created_at, audio_ref, emotions)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msgID, id, i, m.Speaker, m.Content, m.CreatedAt, m.AudioRef, string(emotions),
		)
		if err != nil {
			return "", fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	for i, e := range rec.Emotions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO emotions (session_id, seq, emotion, intensity, confidence, ts) VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, e.Emotion, e.Intensity, e.Confidence, e.Timestamp,
		)
		if err != nil {
			return "", fmt.Errorf("insert emotion %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// GetSessionRecord returns a stored session, or nil if it does not exist.
func (s *Store) GetSessionRecord(ctx context.Context, id string) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	var achievements string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, scenario_id, started_at, ended_at, score, achievements, transcript
		 FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.UserID, &rec.ScenarioID, &rec.StartedAt, &rec.EndedAt, &rec.Score, &achievements, &rec.Transcript)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(achievements), &rec.Achievements); err != nil {
		return nil, fmt.Errorf("decode achievements: %w", err)
	}
	if rec.Messages, err = s.messages(ctx, id); err != nil {
		return nil, err
	}
	if rec.Emotions, err = s.emotions(ctx, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) messages(ctx context.Context, sessionID string) ([]model.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, speaker, content, created_at, audio_ref, emotions
		 FROM messages WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	msgs := []model.ConversationMessage{}
	for rows.Next() {
		var m model.ConversationMessage
		var emotions string
		if err := rows.Scan(&m.ID, &m.Speaker, &m.Content, &m.CreatedAt, &m.AudioRef, &emotions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(emotions), &m.Emotions); err != nil {
			return nil, fmt.Errorf("decode message emotions: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) emotions(ctx context.Context, sessionID string) ([]model.EmotionSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT emotion, intensity, confidence, ts FROM emotions WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.EmotionSample{}
	for rows.Next() {
		var e model.EmotionSample
		if err := rows.Scan(&e.Emotion, &e.Intensity, &e.Confidence, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListSessionsForUser returns the user's most recent sessions, newest first.
// A limit of zero or less returns all of them.
func (s *Store) ListSessionsForUser(ctx context.Context, userID string, limit int) ([]model.SessionSummary, error) {
	query := `SELECT id, scenario_id, started_at, ended_at, score, achievements
		 FROM sessions WHERE user_id = ? ORDER BY started_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.listSessions(ctx, query, args...)
}

// ListSessions returns every stored session, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	return s.listSessions(ctx,
		`SELECT id, scenario_id, started_at, ended_at, score, achievements FROM sessions ORDER BY started_at`)
}

func (s *Store) listSessions(ctx context.Context, query string, args ...any) ([]model.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SessionSummary
	for rows.Next() {
		var sum model.SessionSummary
		var achievements string
		if err := rows.Scan(&sum.ID, &sum.ScenarioID, &sum.StartedAt, &sum.EndedAt, &sum.Score, &achievements); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(achievements), &sum.Achievements); err != nil {
			return nil, fmt.Errorf("decode achievements: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SessionCount returns the number of stored sessions.
func (s *Store) SessionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count)
	return count, err
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// utcPtr normalizes stored times so they compare correctly as text.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
