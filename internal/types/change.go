package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ChangeType represents the kind of structural change between two snapshots
type ChangeType string

const (
	ChangeTypeAdded            ChangeType = "added"
	ChangeTypeRemoved          ChangeType = "removed"
	ChangeTypeRequiredToggled  ChangeType = "required_toggled"
	ChangeTypeTypeChanged      ChangeType = "type_changed"
	ChangeTypeLengthChanged    ChangeType = "length_changed"
	ChangeTypeValuesChanged    ChangeType = "values_changed"
	ChangeTypeEffectiveChanged ChangeType = "effective_date_changed"
)

// Severity represents the business impact tier of a change
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// IsValid checks if the severity is a known tier
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return true
	}
	return false
}

// ChangeStatus represents the remediation lifecycle state of a change
type ChangeStatus string

const (
	StatusNew        ChangeStatus = "new"
	StatusTriaged    ChangeStatus = "triaged"
	StatusInProgress ChangeStatus = "in_progress"
	StatusUpdated    ChangeStatus = "updated"
	StatusVerified   ChangeStatus = "verified"
	StatusClosed     ChangeStatus = "closed"
)

// statusOrder defines the forward lifecycle order
var statusOrder = map[ChangeStatus]int{
	StatusNew:        0,
	StatusTriaged:    1,
	StatusInProgress: 2,
	StatusUpdated:    3,
	StatusVerified:   4,
	StatusClosed:     5,
}

// IsValid checks if the status is a known lifecycle state
func (s ChangeStatus) IsValid() bool {
	_, ok := statusOrder[s]
	return ok
}

// IsTerminal reports whether the status ends SLA tracking
func (s ChangeStatus) IsTerminal() bool {
	return s == StatusVerified || s == StatusClosed
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition. Only the next forward state is allowed, with
// one exception: any state may jump directly to closed.
func (s ChangeStatus) CanTransitionTo(next ChangeStatus) bool {
	from, okFrom := statusOrder[s]
	to, okTo := statusOrder[next]
	if !okFrom || !okTo {
		return false
	}
	if next == StatusClosed {
		return s != StatusClosed
	}
	return to == from+1
}

// ChangeRecord represents one detected structural change
type ChangeRecord struct {
	ChangeID          string               `json:"change_id"`
	SourceID          string               `json:"source_id"`
	AttributeID       string               `json:"attribute_id"`
	ChangeType        ChangeType           `json:"change_type"`
	Before            *AttributeDefinition `json:"before,omitempty"`
	After             *AttributeDefinition `json:"after,omitempty"`
	BeforeFingerprint string               `json:"before_fingerprint"`
	AfterFingerprint  string               `json:"after_fingerprint"`
	Severity          Severity             `json:"severity"`
	DetectedAt        time.Time            `json:"detected_at"`
	SLADeadline       time.Time            `json:"sla_deadline"`
	Status            ChangeStatus         `json:"status"`
	NotifiedAt        *time.Time           `json:"notified_at,omitempty"`
	Escalated         string               `json:"escalated,omitempty"`
}

// ComputeChangeID derives the content-addressed identifier of a change.
// Re-detecting an identical change always yields the same id; only a
// content-different change produces a new one.
func ComputeChangeID(sourceID, attributeID string, changeType ChangeType, beforeFP, afterFP string) string {
	key := strings.Join([]string{sourceID, attributeID, string(changeType), beforeFP, afterFP}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Summary returns a short human-readable description of the change
func (c *ChangeRecord) Summary() string {
	var b strings.Builder
	b.WriteString(c.SourceID)
	b.WriteString(": ")
	b.WriteString(c.AttributeID)
	b.WriteString(" ")
	switch c.ChangeType {
	case ChangeTypeAdded:
		b.WriteString("added")
		if c.After != nil && c.After.Required {
			b.WriteString(" (required)")
		}
	case ChangeTypeRemoved:
		b.WriteString("removed")
		if c.Before != nil && c.Before.Required {
			b.WriteString(" (was required)")
		}
	case ChangeTypeRequiredToggled:
		if c.After != nil && c.After.Required {
			b.WriteString("became required")
		} else {
			b.WriteString("became optional")
		}
	case ChangeTypeTypeChanged:
		if c.Before != nil && c.After != nil {
			b.WriteString("type ")
			b.WriteString(string(c.Before.DataType))
			b.WriteString(" -> ")
			b.WriteString(string(c.After.DataType))
		} else {
			b.WriteString("type changed")
		}
	case ChangeTypeLengthChanged:
		b.WriteString("max length changed")
	case ChangeTypeValuesChanged:
		b.WriteString("allowed values changed")
	case ChangeTypeEffectiveChanged:
		b.WriteString("effective date changed")
	default:
		b.WriteString(string(c.ChangeType))
	}
	return b.String()
}

// ChangeFilter represents filtering options for ledger queries
type ChangeFilter struct {
	SourceIDs  []string       `json:"source_ids,omitempty" form:"source_ids"`
	Statuses   []ChangeStatus `json:"statuses,omitempty" form:"statuses"`
	Severities []Severity     `json:"severities,omitempty" form:"severities"`
	Since      time.Time      `json:"since,omitempty"`
	Until      time.Time      `json:"until,omitempty"`
	Limit      int            `json:"limit,omitempty" form:"limit"`
	Offset     int            `json:"offset,omitempty" form:"offset"`
}

// ChangeTransition represents one audit entry in a change's lifecycle history
type ChangeTransition struct {
	ChangeID   string       `json:"change_id"`
	FromStatus ChangeStatus `json:"from_status"`
	ToStatus   ChangeStatus `json:"to_status"`
	Actor      string       `json:"actor,omitempty"`
	Note       string       `json:"note,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// ChangeReport represents an aggregated view over the ledger
type ChangeReport struct {
	TotalChanges    int64                  `json:"total_changes"`
	PendingChanges  int64                  `json:"pending_changes"`
	OverdueChanges  int64                  `json:"overdue_changes"`
	ResolvedChanges int64                  `json:"resolved_changes"`
	BySeverity      map[Severity]int64     `json:"by_severity"`
	ByStatus        map[ChangeStatus]int64 `json:"by_status"`
	BySource        map[string]int64       `json:"by_source"`
	GeneratedAt     time.Time              `json:"generated_at"`
}
