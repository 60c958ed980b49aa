package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"schemawatch/internal/config"
	"schemawatch/internal/retry"
	"schemawatch/internal/types"

	"go.uber.org/zap"
)

// NotifierType represents the type of notifier
type NotifierType string

const (
	NotifierEmail   NotifierType = "email"
	NotifierSlack   NotifierType = "slack"
	NotifierWebhook NotifierType = "webhook"
	NotifierKafka   NotifierType = "kafka"
)

// Notifier represents a single delivery channel
type Notifier interface {
	// NotifyChange sends a single change notification
	NotifyChange(ctx context.Context, event *types.NotificationEvent) error

	// NotifyDigest sends a batched digest of change notifications
	NotifyDigest(ctx context.Context, digest *types.NotificationDigest) error

	// NotifyEscalation sends a deadline escalation notification
	NotifyEscalation(ctx context.Context, event *types.EscalationEvent) error

	// Health checks the health of the notifier
	Health(ctx context.Context) error
}

// Manager fans notifications out to the enabled channels. Sends are
// synchronous: callers get an error back unless at least one channel
// acknowledged delivery, so persistence of the notified timestamp can
// be gated on the result.
type Manager struct {
	config      *config.NotifyConfig
	logger      *zap.Logger
	notifiers   map[NotifierType]Notifier
	mu          sync.RWMutex
	rateLimiter *RateLimiter
}

// RateLimiter implements rate limiting for notifications
type RateLimiter struct {
	mu        sync.Mutex
	events    map[NotifierType][]time.Time
	interval  time.Duration
	maxEvents int
}

// AllowNotification checks if a notification is allowed under rate limits
func (r *RateLimiter) AllowNotification(notifierType NotifierType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	timestamps := r.events[notifierType]

	// Clean expired timestamps
	valid := make([]time.Time, 0)
	for _, ts := range timestamps {
		if now.Sub(ts) < r.interval {
			valid = append(valid, ts)
		}
	}
	r.events[notifierType] = valid

	if len(valid) >= r.maxEvents {
		return false
	}

	r.events[notifierType] = append(r.events[notifierType], now)
	return true
}

// NewManager creates new notifier manager
func NewManager(cfg *config.NotifyConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		config:    cfg,
		logger:    logger,
		notifiers: make(map[NotifierType]Notifier),
	}

	if cfg.RateLimit.Enabled {
		m.rateLimiter = &RateLimiter{
			events:    make(map[NotifierType][]time.Time),
			interval:  cfg.RateLimit.Interval,
			maxEvents: cfg.RateLimit.MaxEvents,
		}
	}

	// Initialize enabled notifiers
	if cfg.Email.Enabled {
		n, err := NewEmailNotifier(&cfg.Email, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize email notifier: %w", err)
		}
		m.notifiers[NotifierEmail] = n
	}

	if cfg.Slack.Enabled {
		n, err := NewSlackNotifier(&cfg.Slack, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize slack notifier: %w", err)
		}
		m.notifiers[NotifierSlack] = n
	}

	if cfg.Webhook.Enabled {
		n, err := NewWebhookNotifier(&cfg.Webhook, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize webhook notifier: %w", err)
		}
		m.notifiers[NotifierWebhook] = n
	}

	if cfg.Kafka.Enabled {
		n, err := NewKafkaNotifier(&cfg.Kafka, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize kafka notifier: %w", err)
		}
		m.notifiers[NotifierKafka] = n
	}

	return m, nil
}

// NotifyChange sends a single change notification to all channels.
// Delivery is acknowledged when at least one channel succeeds.
func (m *Manager) NotifyChange(ctx context.Context, event *types.NotificationEvent) error {
	return m.send(ctx, func(ctx context.Context, n Notifier) error {
		return n.NotifyChange(ctx, event)
	})
}

// NotifyDigest sends a batched digest to all channels
func (m *Manager) NotifyDigest(ctx context.Context, digest *types.NotificationDigest) error {
	return m.send(ctx, func(ctx context.Context, n Notifier) error {
		return n.NotifyDigest(ctx, digest)
	})
}

// NotifyEscalation sends a deadline escalation to all channels
func (m *Manager) NotifyEscalation(ctx context.Context, event *types.EscalationEvent) error {
	return m.send(ctx, func(ctx context.Context, n Notifier) error {
		return n.NotifyEscalation(ctx, event)
	})
}

// send fans a delivery out to every enabled channel with per-channel
// retries and reports success if any channel acknowledged.
func (m *Manager) send(ctx context.Context, deliver func(context.Context, Notifier) error) error {
	if !m.config.Enabled {
		return nil
	}

	m.mu.RLock()
	notifiers := make(map[NotifierType]Notifier, len(m.notifiers))
	for t, n := range m.notifiers {
		notifiers[t] = n
	}
	m.mu.RUnlock()

	if len(notifiers) == 0 {
		return errors.New("no notification channels configured")
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	var (
		delivered int
		errs      []error
	)

	for t, n := range notifiers {
		if m.rateLimiter != nil && !m.rateLimiter.AllowNotification(t) {
			m.logger.Warn("Rate limit exceeded for notifier",
				zap.String("type", string(t)))
			continue
		}

		err := retry.Execute(ctx, &m.config.Retry, func(ctx context.Context) error {
			return deliver(ctx, n)
		})
		if err != nil {
			m.logger.Error("Failed to send notification",
				zap.String("type", string(t)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
			continue
		}
		delivered++
	}

	if delivered == 0 {
		if len(errs) == 0 {
			return errors.New("all notification channels rate limited")
		}
		return fmt.Errorf("all notification channels failed: %w", errors.Join(errs...))
	}

	return nil
}

// Health checks the health of all enabled channels
func (m *Manager) Health(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for t, n := range m.notifiers {
		if err := n.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// IsEnabled checks if notifications are enabled
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled
}

// IsNotifierEnabled checks if a specific channel is enabled
func (m *Manager) IsNotifierEnabled(notifierType NotifierType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.notifiers[notifierType]
	return ok
}

// Stop releases channel resources
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for t, n := range m.notifiers {
		if closer, ok := n.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t, err))
			}
		}
	}
	return errors.Join(errs...)
}
