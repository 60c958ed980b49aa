package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"schemawatch/internal/config"
	"schemawatch/internal/types"
	"schemawatch/internal/version"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookNotifier represents webhook notifier
type WebhookNotifier struct {
	config *config.WebhookConfig
	logger *zap.Logger
	client *http.Client
}

// WebhookPayload represents the standard webhook payload structure
type WebhookPayload struct {
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewWebhookNotifier creates new webhook notifier
func NewWebhookNotifier(cfg *config.WebhookConfig, logger *zap.Logger) (*WebhookNotifier, error) {
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &WebhookNotifier{
		config: cfg,
		logger: logger,
		client: client,
	}, nil
}

// NotifyChange sends a single change notification
func (n *WebhookNotifier) NotifyChange(ctx context.Context, event *types.NotificationEvent) error {
	return n.sendWebhook(ctx, WebhookPayload{
		EventType: "schema.change",
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Data:      event,
	})
}

// NotifyDigest sends a batched digest of change notifications
func (n *WebhookNotifier) NotifyDigest(ctx context.Context, digest *types.NotificationDigest) error {
	return n.sendWebhook(ctx, WebhookPayload{
		EventType: "schema.digest",
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Data:      digest,
	})
}

// NotifyEscalation sends a deadline escalation notification
func (n *WebhookNotifier) NotifyEscalation(ctx context.Context, event *types.EscalationEvent) error {
	return n.sendWebhook(ctx, WebhookPayload{
		EventType: "schema.escalation",
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Data:      event,
	})
}

// sendWebhook sends a webhook
func (n *WebhookNotifier) sendWebhook(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	method := strings.ToUpper(n.config.Method)
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, n.config.URL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "schemawatch-webhook/"+version.GetInfo().Version)
	req.Header.Set("X-Schemawatch-Event", payload.EventType)
	req.Header.Set("X-Schemawatch-Delivery", payload.EventID)

	// Sign the body if a shared secret is configured
	if n.config.Secret != "" {
		req.Header.Set("X-Schemawatch-Signature", calculateSignature(data, []byte(n.config.Secret)))
	}

	for k, v := range n.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}

	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			n.logger.Error("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return nil
}

// calculateSignature calculates the hex HMAC-SHA256 of the payload
func calculateSignature(payload []byte, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Health checks the health of the notifier
func (n *WebhookNotifier) Health(_ context.Context) error {
	if n.config.URL == "" {
		return fmt.Errorf("webhook URL is not configured")
	}
	return nil
}
