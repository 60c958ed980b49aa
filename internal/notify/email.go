package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"schemawatch/internal/config"
	"schemawatch/internal/types"

	"go.uber.org/zap"
)

// EmailNotifier represents email notifier
type EmailNotifier struct {
	config *config.EmailConfig
	logger *zap.Logger
}

// NewEmailNotifier creates new email notifier
func NewEmailNotifier(cfg *config.EmailConfig, logger *zap.Logger) (*EmailNotifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("email notifier is disabled")
	}

	return &EmailNotifier{
		config: cfg,
		logger: logger,
	}, nil
}

// NotifyChange sends a single change notification
func (n *EmailNotifier) NotifyChange(_ context.Context, event *types.NotificationEvent) error {
	subject := fmt.Sprintf("[%s] Schema change: %s / %s",
		strings.ToUpper(string(event.Severity)), event.SourceID, event.AttributeID)

	var body strings.Builder
	body.WriteString(event.SummaryText)
	body.WriteString("\n\n")
	fmt.Fprintf(&body, "Change ID:  %s\n", event.ChangeID)
	fmt.Fprintf(&body, "Source:     %s\n", event.SourceID)
	fmt.Fprintf(&body, "Attribute:  %s\n", event.AttributeID)
	fmt.Fprintf(&body, "Type:       %s\n", event.ChangeType)
	fmt.Fprintf(&body, "Severity:   %s\n", event.Severity)
	fmt.Fprintf(&body, "Respond by: %s\n", event.SLADeadline.Format(time.RFC1123Z))

	return n.sendEmail(subject, body.String())
}

// NotifyDigest sends a batched digest of change notifications
func (n *EmailNotifier) NotifyDigest(_ context.Context, digest *types.NotificationDigest) error {
	subject := fmt.Sprintf("Schema change digest: %d change(s)", len(digest.Events))

	var body strings.Builder
	fmt.Fprintf(&body, "Digest generated at %s\n\n", digest.GeneratedAt.Format(time.RFC1123Z))
	for _, event := range digest.Events {
		fmt.Fprintf(&body, "- [%s] %s (respond by %s)\n",
			event.Severity, event.SummaryText, event.SLADeadline.Format("2006-01-02 15:04"))
	}
	if digest.Report != nil {
		fmt.Fprintf(&body, "\nLedger: %d pending, %d overdue, %d resolved of %d total\n",
			digest.Report.PendingChanges,
			digest.Report.OverdueChanges,
			digest.Report.ResolvedChanges,
			digest.Report.TotalChanges)
	}

	return n.sendEmail(subject, body.String())
}

// NotifyEscalation sends a deadline escalation notification
func (n *EmailNotifier) NotifyEscalation(_ context.Context, event *types.EscalationEvent) error {
	verb := "approaching deadline"
	if event.DeadlineStatus == types.DeadlineBreached {
		verb = "past deadline"
	}
	subject := fmt.Sprintf("[ESCALATION] Change %s %s", shortID(event.ChangeID), verb)

	body := fmt.Sprintf("Change %s on source %s (severity %s) is %s.\nTime remaining: %s\n",
		event.ChangeID, event.SourceID, event.Severity, verb,
		event.TimeRemaining.Round(time.Minute))

	return n.sendEmail(subject, body)
}

// sendEmail sends an email
func (n *EmailNotifier) sendEmail(subject, body string) error {
	var auth smtp.Auth
	if n.config.Username != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.SMTPServer)
	}

	msg := buildEmailMessage(n.config.From, n.config.To, subject, body)

	var err error
	if n.config.UseTLS {
		err = n.sendTLSEmail(auth, msg)
	} else {
		addr := fmt.Sprintf("%s:%d", n.config.SMTPServer, n.config.SMTPPort)
		err = smtp.SendMail(addr, auth, cleanEmailAddress(n.config.From), cleanEmailAddresses(n.config.To), msg)
	}

	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// sendTLSEmail sends email with explicit connection handling
func (n *EmailNotifier) sendTLSEmail(auth smtp.Auth, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", n.config.SMTPServer, n.config.SMTPPort)

	tlsConfig := &tls.Config{
		ServerName: n.config.SMTPServer,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to create TLS connection: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, n.config.SMTPServer)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	from := cleanEmailAddress(n.config.From)
	if !strings.Contains(from, "@") {
		return fmt.Errorf("invalid from address: %s", n.config.From)
	}

	if err = client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM failed for %s: %w", from, err)
	}

	for _, rcpt := range cleanEmailAddresses(n.config.To) {
		if err = client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO failed for %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}

	if _, err = w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close message writer: %w", err)
	}
	return client.Quit()
}

// buildEmailMessage builds email message
func buildEmailMessage(from string, to []string, subject, body string) []byte {
	var msg bytes.Buffer

	headers := []struct{ key, value string }{
		{"From", cleanEmailAddress(from)},
		{"To", strings.Join(cleanEmailAddresses(to), ", ")},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=UTF-8"},
		{"Date", time.Now().Format(time.RFC1123Z)},
	}

	for _, h := range headers {
		fmt.Fprintf(&msg, "%s: %s\r\n", h.key, h.value)
	}

	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	return msg.Bytes()
}

// cleanEmailAddress removes display name and angle brackets
func cleanEmailAddress(addr string) string {
	if idx := strings.LastIndex(addr, "<"); idx >= 0 {
		return strings.Trim(addr[idx:], "<>")
	}
	return strings.TrimSpace(addr)
}

// cleanEmailAddresses cleans a list of addresses
func cleanEmailAddresses(addrs []string) []string {
	cleaned := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		cleaned = append(cleaned, cleanEmailAddress(addr))
	}
	return cleaned
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Health checks the health of the notifier
func (n *EmailNotifier) Health(_ context.Context) error {
	if n.config.SMTPServer == "" {
		return fmt.Errorf("smtp server is not configured")
	}
	return nil
}
