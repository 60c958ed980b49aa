package config

import (
	"fmt"
	"strings"
	"time"

	"schemawatch/internal/retry"
)

// NotifyConfig represents notification configuration
type NotifyConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Notification channels
	Email   EmailConfig   `mapstructure:"email"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`

	// Global notification settings
	Timeout   time.Duration         `mapstructure:"timeout"`
	Retry     retry.Config          `mapstructure:"retry"`
	RateLimit NotifyRateLimitConfig `mapstructure:"rate_limit"`
}

// NotifyRateLimitConfig represents rate limiting configuration
type NotifyRateLimitConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxEvents  int           `mapstructure:"max_events"`
	PerChannel bool          `mapstructure:"per_channel"`
}

// EmailConfig represents the email notification configuration
type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	SMTPServer string   `mapstructure:"smtp_server"`
	SMTPPort   int      `mapstructure:"smtp_port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	To         []string `mapstructure:"to"`
	UseTLS     bool     `mapstructure:"use_tls"`
}

// SlackConfig represents the Slack notification configuration
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
	Username   string `mapstructure:"username"`
	IconEmoji  string `mapstructure:"icon_emoji"`
}

// WebhookConfig represents the webhook notification configuration
type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Secret  string            `mapstructure:"secret"`
	Method  string            `mapstructure:"method"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

// KafkaConfig represents the Kafka notification configuration
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SetDefaults sets default values for the notification configuration
func (c *NotifyConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = *retry.DefaultConfig()
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Interval == 0 {
			c.RateLimit.Interval = time.Minute
		}
		if c.RateLimit.MaxEvents == 0 {
			c.RateLimit.MaxEvents = 60
		}
	}
	if c.Webhook.Method == "" {
		c.Webhook.Method = "POST"
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 10 * time.Second
	}
	if c.Kafka.WriteTimeout == 0 {
		c.Kafka.WriteTimeout = 10 * time.Second
	}
}

// Validate validates the notification configuration
func (c *NotifyConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Email.Enabled {
		if err := c.Email.Validate(); err != nil {
			return fmt.Errorf("invalid email config: %w", err)
		}
	}
	if c.Slack.Enabled {
		if err := c.Slack.Validate(); err != nil {
			return fmt.Errorf("invalid slack config: %w", err)
		}
	}
	if c.Webhook.Enabled {
		if err := c.Webhook.Validate(); err != nil {
			return fmt.Errorf("invalid webhook config: %w", err)
		}
	}
	if c.Kafka.Enabled {
		if err := c.Kafka.Validate(); err != nil {
			return fmt.Errorf("invalid kafka config: %w", err)
		}
	}

	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}

	return nil
}

// Validate validates the email configuration
func (c *EmailConfig) Validate() error {
	if c.SMTPServer == "" {
		return fmt.Errorf("smtp_server is required")
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("invalid smtp_port: %d", c.SMTPPort)
	}
	if c.From == "" {
		return fmt.Errorf("from address is required")
	}
	if len(c.To) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	return nil
}

// Validate validates the Slack configuration
func (c *SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook_url is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook_url must use https")
	}
	return nil
}

// Validate validates the webhook configuration
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("invalid url: %s", c.URL)
	}
	switch strings.ToUpper(c.Method) {
	case "", "POST", "PUT":
	default:
		return fmt.Errorf("unsupported method: %s", c.Method)
	}
	return nil
}

// Validate validates the Kafka configuration
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one broker is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	return nil
}
