package storage

import (
	"context"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresStorage implements Storage for PostgreSQL
type PostgresStorage struct {
	*BaseStorage
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(cfg *Config, logger *zap.Logger) (*PostgresStorage, error) {
	base, err := NewBaseStorage("postgres", cfg.DSN, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &PostgresStorage{BaseStorage: base}
	if err := s.initSchema(); err != nil {
		_ = base.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

// initSchema creates PostgreSQL tables
func (s *PostgresStorage) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id BIGSERIAL PRIMARY KEY,
			source_id VARCHAR(128) NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_source_time
		ON snapshots(source_id, captured_at)`,
		`CREATE TABLE IF NOT EXISTS changes (
			change_id VARCHAR(64) PRIMARY KEY,
			source_id VARCHAR(128) NOT NULL,
			attribute_id VARCHAR(255) NOT NULL,
			change_type VARCHAR(32) NOT NULL,
			before_def JSONB,
			after_def JSONB,
			before_fp VARCHAR(64) NOT NULL,
			after_fp VARCHAR(64) NOT NULL,
			severity VARCHAR(16) NOT NULL,
			detected_at TIMESTAMP NOT NULL,
			sla_deadline TIMESTAMP NOT NULL,
			status VARCHAR(16) NOT NULL,
			notified_at TIMESTAMP,
			escalated VARCHAR(16) NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_status
		ON changes(status, sla_deadline)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_source
		ON changes(source_id, detected_at)`,
		`CREATE TABLE IF NOT EXISTS change_transitions (
			id BIGSERIAL PRIMARY KEY,
			change_id VARCHAR(64) NOT NULL,
			from_status VARCHAR(16) NOT NULL,
			to_status VARCHAR(16) NOT NULL,
			actor VARCHAR(128) NOT NULL DEFAULT '',
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
