package config

import (
	"fmt"
	"time"

	"schemawatch/internal/logger"
	"schemawatch/internal/severity"
	"schemawatch/internal/storage"
	"schemawatch/internal/types"

	"github.com/spf13/viper"
)

var (
	AppName = "schemawatch"
)

// Config represents the complete application configuration
type Config struct {
	Storage  storage.Config  `mapstructure:"storage"`
	Notify   NotifyConfig    `mapstructure:"notify"`
	SLA      SLAConfig       `mapstructure:"sla"`
	Severity []severity.Rule `mapstructure:"severity"`
	Monitor  MonitorConfig   `mapstructure:"monitor"`
	Digest   DigestConfig    `mapstructure:"digest"`
	Watcher  WatcherConfig   `mapstructure:"watcher"`
	API      APIConfig       `mapstructure:"api"`
	Log      logger.Config   `mapstructure:"log"`
}

// SLAConfig represents the per-severity acknowledgment deadlines
type SLAConfig struct {
	Critical time.Duration `mapstructure:"critical"`
	Major    time.Duration `mapstructure:"major"`
	Minor    time.Duration `mapstructure:"minor"`
}

// Deadline returns the acknowledgment deadline for a change of the
// given severity detected at the given time.
func (c *SLAConfig) Deadline(sev types.Severity, detectedAt time.Time) time.Time {
	switch sev {
	case types.SeverityCritical:
		return detectedAt.Add(c.Critical)
	case types.SeverityMajor:
		return detectedAt.Add(c.Major)
	default:
		return detectedAt.Add(c.Minor)
	}
}

// MonitorConfig represents the deadline monitor configuration
type MonitorConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	// LeadFraction is the fraction of the deadline window remaining at
	// which an open change is flagged as approaching its deadline.
	LeadFraction float64 `mapstructure:"lead_fraction"`
}

// DigestConfig represents the notification digest configuration
type DigestConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxBatchSize  int           `mapstructure:"max_batch_size"`
}

// WatcherConfig represents the schema ingest configuration
type WatcherConfig struct {
	IngestDir    string        `mapstructure:"ingest_dir"`
	Workers      int           `mapstructure:"workers"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
}

// APIConfig represents the HTTP API configuration
type APIConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoadConfig loads application configuration from file
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set defaults
	setDefaults(&config)

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values for configuration
func setDefaults(config *Config) {
	config.Storage.SetDefaults()
	config.Log.SetDefaults()
	config.Notify.SetDefaults()

	if config.SLA.Critical == 0 {
		config.SLA.Critical = 24 * time.Hour
	}
	if config.SLA.Major == 0 {
		config.SLA.Major = 72 * time.Hour
	}
	if config.SLA.Minor == 0 {
		config.SLA.Minor = 168 * time.Hour
	}

	if config.Monitor.ScanInterval == 0 {
		config.Monitor.ScanInterval = 5 * time.Minute
	}
	if config.Monitor.LeadFraction <= 0 || config.Monitor.LeadFraction >= 1 {
		config.Monitor.LeadFraction = 0.2
	}

	if config.Digest.FlushInterval == 0 {
		config.Digest.FlushInterval = time.Hour
	}
	if config.Digest.MaxBatchSize == 0 {
		config.Digest.MaxBatchSize = 100
	}

	if config.Watcher.Workers <= 0 {
		config.Watcher.Workers = 4
	}
	if config.Watcher.ScanInterval == 0 {
		config.Watcher.ScanInterval = time.Minute
	}

	if config.API.Address == "" {
		config.API.Address = ":8080"
	}
	if config.API.ReadTimeout == 0 {
		config.API.ReadTimeout = 30 * time.Second
	}
	if config.API.WriteTimeout == 0 {
		config.API.WriteTimeout = 30 * time.Second
	}
	if config.API.IdleTimeout == 0 {
		config.API.IdleTimeout = 120 * time.Second
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	// Validate storage configuration
	if err := config.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	// Validate notification configuration
	if err := config.Notify.Validate(); err != nil {
		return fmt.Errorf("invalid notify config: %w", err)
	}

	if config.SLA.Critical <= 0 || config.SLA.Major <= 0 || config.SLA.Minor <= 0 {
		return fmt.Errorf("sla deadlines must be positive")
	}
	if config.SLA.Critical > config.SLA.Major || config.SLA.Major > config.SLA.Minor {
		return fmt.Errorf("sla deadlines must tighten with severity")
	}

	// Validate severity rule table
	if _, err := severity.NewClassifier(config.Severity); err != nil {
		return fmt.Errorf("invalid severity rules: %w", err)
	}

	return nil
}
