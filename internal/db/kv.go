package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/perpquant/mind-persona/internal/audit"
)

// Get returns the value stored under key, or an error wrapping
// audit.ErrNotFound.
func (db *DB) Get(key string) ([]byte, error) {
	var value []byte
	err := db.QueryRowContext(context.Background(),
		"SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", audit.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (db *DB) Set(key string, value []byte) error {
	query := `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(context.Background(), query,
		key, value, time.Now().UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(key string) error {
	_, err := db.ExecContext(context.Background(), "DELETE FROM kv_store WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}
