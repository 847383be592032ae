package store

import (
	"context"
	"database/sql"
)

const schemaVersionKey = "schema_version"

// SchemaVersion identifies the table layout written by migrate.
const SchemaVersion = "1"

// SetMetadata upserts a key-value pair.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a key, or an empty string if it is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Schema returns the stored schema version.
func (s *Store) Schema(ctx context.Context) (string, error) {
	return s.GetMetadata(ctx, schemaVersionKey)
}
