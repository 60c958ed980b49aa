package storage

import (
	"context"
	"fmt"
	"strings"

	"schemawatch/internal/types"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// MySQLStorage implements Storage for MySQL
type MySQLStorage struct {
	*BaseStorage
}

// NewMySQLStorage creates a new MySQL storage instance
func NewMySQLStorage(cfg *Config, logger *zap.Logger) (*MySQLStorage, error) {
	base, err := NewBaseStorage("mysql", addMySQLParams(cfg.DSN), cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &MySQLStorage{BaseStorage: base}
	if err := s.initSchema(); err != nil {
		_ = base.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

// InsertChange overrides the base implementation: MySQL has no
// ON CONFLICT clause, so idempotent re-insert uses INSERT IGNORE.
func (s *MySQLStorage) InsertChange(ctx context.Context, change *types.ChangeRecord) (bool, error) {
	args, err := changeInsertArgs(change)
	if err != nil {
		return false, err
	}

	query := `
        INSERT IGNORE INTO changes (` + changeColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert change: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// initSchema creates MySQL tables
func (s *MySQLStorage) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			source_id VARCHAR(128) NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			data JSON NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_snapshots_source_time (source_id, captured_at)
		)`,
		`CREATE TABLE IF NOT EXISTS changes (
			change_id VARCHAR(64) PRIMARY KEY,
			source_id VARCHAR(128) NOT NULL,
			attribute_id VARCHAR(255) NOT NULL,
			change_type VARCHAR(32) NOT NULL,
			before_def JSON,
			after_def JSON,
			before_fp VARCHAR(64) NOT NULL,
			after_fp VARCHAR(64) NOT NULL,
			severity VARCHAR(16) NOT NULL,
			detected_at TIMESTAMP NOT NULL,
			sla_deadline TIMESTAMP NOT NULL,
			status VARCHAR(16) NOT NULL,
			notified_at TIMESTAMP NULL,
			escalated VARCHAR(16) NOT NULL DEFAULT '',
			INDEX idx_changes_status (status, sla_deadline),
			INDEX idx_changes_source (source_id, detected_at)
		)`,
		`CREATE TABLE IF NOT EXISTS change_transitions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			change_id VARCHAR(64) NOT NULL,
			from_status VARCHAR(16) NOT NULL,
			to_status VARCHAR(16) NOT NULL,
			actor VARCHAR(128) NOT NULL DEFAULT '',
			note TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			INDEX idx_transitions_change (change_id, occurred_at)
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(context.Background(), query); err != nil {
			return err
		}
	}

	return nil
}

// addMySQLParams ensures time.Time scanning works out of the box
func addMySQLParams(dsn string) string {
	if strings.Contains(dsn, "parseTime=") {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "parseTime=true"
}
