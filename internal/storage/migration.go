package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// unwrapper is implemented by the driver wrappers via BaseStorage
type unwrapper interface {
	Unwrap() *sql.DB
}

// runMigrations applies pending file migrations when a migrations path
// is configured. The per-driver initSchema already provides a working
// schema, so migrations only carry forward-looking changes.
func runMigrations(store Storage, cfg *Config, logger *zap.Logger) error {
	u, ok := store.(unwrapper)
	if !ok {
		return fmt.Errorf("storage driver %s does not expose a raw handle", cfg.Driver)
	}

	path := filepath.Join(cfg.MigrationsPath, cfg.Driver)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("migrations path %s does not exist: %w", path, err)
	}

	var (
		driver database.Driver
		err    error
	)

	db := u.Unwrap()
	switch cfg.Driver {
	case "sqlite":
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case "postgres":
		driver, err = migratepg.WithInstance(db, &migratepg.Config{})
	case "mysql":
		driver, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	default:
		return fmt.Errorf("unsupported migration driver: %s", cfg.Driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	instance, err := migrate.NewWithDatabaseInstance("file://"+path, cfg.Driver, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := instance.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("No pending migrations")
			return nil
		}
		return err
	}

	logger.Info("Migrations applied", zap.String("path", path))
	return nil
}
