package types

import "time"

// DeadlineStatus represents the SLA standing of an open change
type DeadlineStatus string

const (
	DeadlineNearBreach DeadlineStatus = "near_breach"
	DeadlineBreached   DeadlineStatus = "breached"
)

// NotificationEvent represents one change surfaced to the notification transport
type NotificationEvent struct {
	ChangeID    string     `json:"change_id"`
	SourceID    string     `json:"source_id"`
	AttributeID string     `json:"attribute_id"`
	ChangeType  ChangeType `json:"change_type"`
	Severity    Severity   `json:"severity"`
	SummaryText string     `json:"summary_text"`
	SLADeadline time.Time  `json:"sla_deadline"`
}

// NotificationDigest represents a batched digest of major/minor changes
type NotificationDigest struct {
	Events      []NotificationEvent `json:"events"`
	Report      *ChangeReport       `json:"report,omitempty"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// EscalationEvent represents an SLA threshold crossing on an open change
type EscalationEvent struct {
	ChangeID       string         `json:"change_id"`
	SourceID       string         `json:"source_id"`
	Severity       Severity       `json:"severity"`
	DeadlineStatus DeadlineStatus `json:"deadline_status"`
	TimeRemaining  time.Duration  `json:"time_remaining"`
}

// NewNotificationEvent builds a NotificationEvent from a ledger record
func NewNotificationEvent(c *ChangeRecord) NotificationEvent {
	return NotificationEvent{
		ChangeID:    c.ChangeID,
		SourceID:    c.SourceID,
		AttributeID: c.AttributeID,
		ChangeType:  c.ChangeType,
		Severity:    c.Severity,
		SummaryText: c.Summary(),
		SLADeadline: c.SLADeadline,
	}
}
