package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"schemawatch/internal/config"
	"schemawatch/internal/types"

	"go.uber.org/zap"
)

// SlackNotifier represents Slack notifier
type SlackNotifier struct {
	config *config.SlackConfig
	logger *zap.Logger
	client *http.Client
}

// SlackMessage represents Slack message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents Slack attachment
type SlackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	Text      string       `json:"text"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer"`
	Timestamp int64        `json:"ts"`
}

// SlackField represents Slack field
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates new SlackNotifier
func NewSlackNotifier(cfg *config.SlackConfig, logger *zap.Logger) (*SlackNotifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("slack notifier is disabled")
	}

	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL is required")
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		},
	}

	return &SlackNotifier{
		config: cfg,
		logger: logger,
		client: client,
	}, nil
}

// severityColor maps a severity tier to a Slack attachment color
func severityColor(sev types.Severity) string {
	switch sev {
	case types.SeverityCritical:
		return "danger"
	case types.SeverityMajor:
		return "warning"
	default:
		return "#439FE0"
	}
}

// NotifyChange sends a single change notification
func (n *SlackNotifier) NotifyChange(ctx context.Context, event *types.NotificationEvent) error {
	msg := SlackMessage{
		Attachments: []SlackAttachment{{
			Color: severityColor(event.Severity),
			Title: fmt.Sprintf("[%s] Schema change detected", event.Severity),
			Text:  event.SummaryText,
			Fields: []SlackField{
				{Title: "Source", Value: event.SourceID, Short: true},
				{Title: "Attribute", Value: event.AttributeID, Short: true},
				{Title: "Change", Value: string(event.ChangeType), Short: true},
				{Title: "Respond by", Value: event.SLADeadline.Format(time.RFC3339), Short: true},
			},
			Footer:    event.ChangeID,
			Timestamp: time.Now().Unix(),
		}},
	}
	return n.send(ctx, msg)
}

// NotifyDigest sends a batched digest of change notifications
func (n *SlackNotifier) NotifyDigest(ctx context.Context, digest *types.NotificationDigest) error {
	msg := SlackMessage{
		Text: fmt.Sprintf("Schema change digest: %d change(s)", len(digest.Events)),
	}
	for _, event := range digest.Events {
		msg.Attachments = append(msg.Attachments, SlackAttachment{
			Color:     severityColor(event.Severity),
			Title:     fmt.Sprintf("[%s] %s", event.Severity, event.AttributeID),
			Text:      event.SummaryText,
			Footer:    event.ChangeID,
			Timestamp: digest.GeneratedAt.Unix(),
		})
	}
	if digest.Report != nil {
		msg.Attachments = append(msg.Attachments, SlackAttachment{
			Color: "#cccccc",
			Title: "Ledger summary",
			Text: fmt.Sprintf("%d pending, %d overdue, %d resolved",
				digest.Report.PendingChanges,
				digest.Report.OverdueChanges,
				digest.Report.ResolvedChanges),
			Timestamp: digest.GeneratedAt.Unix(),
		})
	}
	return n.send(ctx, msg)
}

// NotifyEscalation sends a deadline escalation notification
func (n *SlackNotifier) NotifyEscalation(ctx context.Context, event *types.EscalationEvent) error {
	title := "Deadline approaching"
	if event.DeadlineStatus == types.DeadlineBreached {
		title = "Deadline breached"
	}
	msg := SlackMessage{
		Attachments: []SlackAttachment{{
			Color: "danger",
			Title: fmt.Sprintf("%s: change %s", title, event.ChangeID),
			Text: fmt.Sprintf("Source %s, severity %s, %s remaining",
				event.SourceID, event.Severity, event.TimeRemaining.Round(time.Minute)),
			Footer:    event.ChangeID,
			Timestamp: time.Now().Unix(),
		}},
	}
	return n.send(ctx, msg)
}

// send sends a slack message
func (n *SlackNotifier) send(ctx context.Context, msg SlackMessage) error {
	msg.Channel = n.config.Channel
	msg.Username = n.config.Username
	msg.IconEmoji = n.config.IconEmoji

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			n.logger.Error("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack api error: status code %d", resp.StatusCode)
	}

	return nil
}

// Health checks the health of the notifier
func (n *SlackNotifier) Health(_ context.Context) error {
	if n.config.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL is not configured")
	}
	return nil
}
