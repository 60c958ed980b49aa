package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStorage implements Storage for SQLite
type SQLiteStorage struct {
	*BaseStorage
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(cfg *Config, logger *zap.Logger) (*SQLiteStorage, error) {
	if err := ensureDBDir(cfg.DSN); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	base, err := NewBaseStorage("sqlite3", addSQLiteParams(cfg.DSN), cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStorage{BaseStorage: base}
	if err := s.initSchema(); err != nil {
		_ = base.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

// initSchema creates SQLite tables
func (s *SQLiteStorage) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id TEXT NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_source_time
		ON snapshots(source_id, captured_at)`,
		`CREATE TABLE IF NOT EXISTS changes (
			change_id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			attribute_id TEXT NOT NULL,
			change_type TEXT NOT NULL,
			before_def TEXT,
			after_def TEXT,
			before_fp TEXT NOT NULL,
			after_fp TEXT NOT NULL,
			severity TEXT NOT NULL,
			detected_at TIMESTAMP NOT NULL,
			sla_deadline TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			notified_at TIMESTAMP,
			escalated TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_status
		ON changes(status, sla_deadline)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_source
		ON changes(source_id, detected_at)`,
		`CREATE TABLE IF NOT EXISTS change_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			change_id TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_change
		ON change_transitions(change_id, occurred_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(context.Background(), query); err != nil {
			return err
		}
	}

	return nil
}

// ensureDBDir ensures the database directory exists
func ensureDBDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// addSQLiteParams adds SQLite specific connection parameters
func addSQLiteParams(dsn string) string {
	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_foreign_keys=1",
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}
