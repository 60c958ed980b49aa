package retry

import (
	"encoding/json"
	"errors"
	"time"
)

// Config defines the configuration for the retry mechanism.
type Config struct {
	Enable      bool          `mapstructure:"enable"`       // Enable retry
	MaxAttempts int           `mapstructure:"max_attempts"` // Total attempts including the first
	Interval    time.Duration `mapstructure:"interval"`     // Base interval between attempts
	MaxInterval time.Duration `mapstructure:"max_interval"` // Cap for the growing interval
	Multiplier  float64       `mapstructure:"multiplier"`   // Interval growth factor
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		Enable:      true,
		MaxAttempts: 3,
		Interval:    100 * time.Millisecond,
		MaxInterval: 5 * time.Second,
		Multiplier:  2.0,
	}
}

// Validate validates the retry configuration.
func (cfg *Config) Validate() error {
	if cfg == nil || !cfg.Enable {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		return errors.New("max_attempts must be greater than zero")
	}
	if cfg.Interval < 0 || cfg.MaxInterval < 0 {
		return errors.New("intervals cannot be negative")
	}
	if cfg.Multiplier < 1 {
		return errors.New("multiplier must be at least 1")
	}
	return nil
}

// String returns a JSON string representation of the Config.
func (cfg *Config) String() string {
	data, _ := json.Marshal(cfg)
	return string(data)
}
