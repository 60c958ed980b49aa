package sla

import (
	"context"
	"sync"
	"time"

	"schemawatch/internal/config"
	"schemawatch/internal/ledger"
	"schemawatch/internal/types"

	"go.uber.org/zap"
)

// Escalator is the slice of the notification manager the monitor needs
type Escalator interface {
	NotifyEscalation(ctx context.Context, event *types.EscalationEvent) error
}

// Monitor watches open changes against their response deadlines and
// escalates each change at most once per threshold: once when the
// remaining window shrinks below the configured lead fraction, and once
// more when the deadline passes. A threshold is claimed in storage
// before its event is sent, so concurrent scans never announce the same
// threshold twice. Terminal changes are never escalated.
type Monitor struct {
	ledger  *ledger.Ledger
	manager Escalator
	cfg     config.MonitorConfig
	logger  *zap.Logger

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewMonitor creates a deadline monitor
func NewMonitor(l *ledger.Ledger, manager Escalator, cfg config.MonitorConfig, logger *zap.Logger) *Monitor {
	return &Monitor{
		ledger:  l,
		manager: manager,
		cfg:     cfg,
		logger:  logger.Named("sla"),
		stopCh:  make(chan struct{}),
	}
}

// escalationRank orders the escalation thresholds
func escalationRank(state string) int {
	switch state {
	case string(types.DeadlineNearBreach):
		return 1
	case string(types.DeadlineBreached):
		return 2
	}
	return 0
}

// Scan walks all open changes once and emits the escalations that are
// newly due as of now. Returns the events that were sent and stamped.
func (m *Monitor) Scan(ctx context.Context, now time.Time) ([]*types.EscalationEvent, error) {
	open, err := m.ledger.Open(ctx)
	if err != nil {
		return nil, err
	}

	var sent []*types.EscalationEvent
	for _, change := range open {
		target := m.dueThreshold(change, now)
		if target == "" {
			continue
		}
		if escalationRank(string(target)) <= escalationRank(change.Escalated) {
			continue
		}

		event := &types.EscalationEvent{
			ChangeID:       change.ChangeID,
			SourceID:       change.SourceID,
			Severity:       change.Severity,
			DeadlineStatus: target,
			TimeRemaining:  change.SLADeadline.Sub(now),
		}

		// Claim the threshold before sending so two scans never both
		// announce it.
		claimed, err := m.ledger.MarkEscalated(ctx, change.ChangeID, change.Escalated, string(target))
		if err != nil {
			m.logger.Error("Failed to claim escalation threshold",
				zap.String("change_id", change.ChangeID),
				zap.Error(err))
			continue
		}
		if !claimed {
			// A concurrent scan owns this threshold.
			continue
		}

		if err := m.manager.NotifyEscalation(ctx, event); err != nil {
			m.logger.Error("Failed to send escalation",
				zap.String("change_id", change.ChangeID),
				zap.String("threshold", string(target)),
				zap.Error(err))
			// Release the claim so the next scan retries the send.
			if _, rerr := m.ledger.MarkEscalated(ctx, change.ChangeID, string(target), change.Escalated); rerr != nil {
				m.logger.Error("Failed to release escalation claim",
					zap.String("change_id", change.ChangeID),
					zap.Error(rerr))
			}
			continue
		}

		m.logger.Warn("Escalated change",
			zap.String("change_id", change.ChangeID),
			zap.String("source_id", change.SourceID),
			zap.String("severity", string(change.Severity)),
			zap.String("threshold", string(target)),
			zap.Duration("time_remaining", event.TimeRemaining))

		sent = append(sent, event)
	}

	return sent, nil
}

// dueThreshold returns the escalation threshold a change has crossed as
// of now, or empty when it is still comfortably inside its window.
func (m *Monitor) dueThreshold(change *types.ChangeRecord, now time.Time) types.DeadlineStatus {
	if !now.Before(change.SLADeadline) {
		return types.DeadlineBreached
	}

	// The window comes from the stored deadline, so records created
	// under an older SLA configuration keep their original lead.
	window := change.SLADeadline.Sub(change.DetectedAt)
	lead := time.Duration(float64(window) * m.cfg.LeadFraction)
	if change.SLADeadline.Sub(now) <= lead {
		return types.DeadlineNearBreach
	}

	return ""
}

// Start runs periodic scans until Stop is called
func (m *Monitor) Start(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.ScanInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				if _, err := m.Scan(ctx, time.Now().UTC()); err != nil {
					m.logger.Error("Deadline scan failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop terminates the background scan loop
func (m *Monitor) Stop() {
	m.stopped.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}
