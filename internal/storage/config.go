package storage

import (
	"fmt"
	"time"
)

// Config represents storage configuration
type Config struct {
	Driver          string        `mapstructure:"driver"` // sqlite, mysql, postgres
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SetDefaults fills unset fields with defaults
func (c *Config) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 30 * time.Second
	}
}

// Validate validates storage configuration
func (c *Config) Validate() error {
	switch c.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("storage DSN is required")
	}
	return nil
}
