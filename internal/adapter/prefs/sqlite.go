// Package prefs is the durable key-value store for credentials and
// configuration, grouped by namespace.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/core/port"

	_ "github.com/mattn/go-sqlite3"
)

const (
	DIR_PERMISSIONS  = 0o750
	FILE_PERMISSIONS = 0o600

	CONNECTION_TIMEOUT  = 5 * time.Second
	BUSY_TIMEOUT_MILLIS = 5000
)

const schema = `CREATE TABLE IF NOT EXISTS preferences (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (namespace, key)
)`

type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open creates the database file and its directory when missing.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), DIR_PERMISSIONS); err != nil {
		return nil, fmt.Errorf("creating preferences directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=FULL", path, BUSY_TIMEOUT_MILLIS)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening preferences: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), CONNECTION_TIMEOUT)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating preferences schema: %w", err)
	}
	_ = os.Chmod(path, FILE_PERMISSIONS)

	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM preferences WHERE namespace = ? AND key = ?", namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s/%s: %w", namespace, key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, namespace, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`, namespace, key, value)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM preferences WHERE namespace = ?", namespace); err != nil {
		return fmt.Errorf("clearing %s: %w", namespace, err)
	}
	return nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ensure interface compliance
var _ port.Preferences = (*SQLiteStore)(nil)
