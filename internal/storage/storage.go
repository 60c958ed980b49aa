package storage

import (
	"context"
	"fmt"
	"time"

	"schemawatch/internal/types"

	"go.uber.org/zap"
)

// Storage defines the persistence interface for snapshots and the
// change ledger. All mutations of status, notified_at and escalated are
// guarded compare-and-swap updates so concurrent runs touching the same
// change id serialize correctly.
type Storage interface {
	// Snapshot store

	SaveSnapshot(ctx context.Context, snapshot *types.Snapshot) error
	LatestSnapshot(ctx context.Context, sourceID string) (*types.Snapshot, error)
	SnapshotSources(ctx context.Context) ([]string, error)

	// Change ledger

	InsertChange(ctx context.Context, change *types.ChangeRecord) (bool, error)
	GetChange(ctx context.Context, changeID string) (*types.ChangeRecord, error)
	ListChanges(ctx context.Context, filter *types.ChangeFilter) ([]*types.ChangeRecord, error)
	OpenChanges(ctx context.Context) ([]*types.ChangeRecord, error)
	UnnotifiedChanges(ctx context.Context, severities []types.Severity) ([]*types.ChangeRecord, error)
	UpdateStatus(ctx context.Context, changeID string, from, to types.ChangeStatus, actor, note string, at time.Time) (bool, error)
	MarkNotified(ctx context.Context, changeID string, at time.Time) (bool, error)
	MarkEscalated(ctx context.Context, changeID, from, to string) (bool, error)
	Transitions(ctx context.Context, changeID string) ([]*types.ChangeTransition, error)
	Report(ctx context.Context, now time.Time) (*types.ChangeReport, error)

	// Maintenance

	WithTransaction(ctx context.Context, fn TxFn) error
	Ping(ctx context.Context) error
	Stats() *Stats
	Close() error
}

// NewStorage creates a storage instance for the configured driver
func NewStorage(cfg *Config, logger *zap.Logger) (Storage, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}

	var (
		store Storage
		err   error
	)

	switch cfg.Driver {
	case "sqlite":
		store, err = NewSQLiteStorage(cfg, logger)
	case "postgres":
		store, err = NewPostgresStorage(cfg, logger)
	case "mysql":
		store, err = NewMySQLStorage(cfg, logger)
	default:
		return nil, types.ErrInvalidDriver
	}

	if err != nil {
		return nil, err
	}

	if cfg.MigrationsPath != "" {
		if err := runMigrations(store, cfg, logger); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
	}

	return store, nil
}
