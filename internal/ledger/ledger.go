package ledger

import (
	"context"
	"fmt"
	"time"

	"schemawatch/internal/config"
	"schemawatch/internal/severity"
	"schemawatch/internal/storage"
	"schemawatch/internal/types"

	"go.uber.org/zap"
)

// Ledger owns the lifecycle of detected changes: classification on
// intake, idempotent persistence, guarded status transitions and
// notification bookkeeping.
type Ledger struct {
	store      storage.Storage
	classifier *severity.Classifier
	sla        config.SLAConfig
	logger     *zap.Logger
}

// New creates a change ledger on top of the given storage
func New(store storage.Storage, classifier *severity.Classifier, sla config.SLAConfig, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:      store,
		classifier: classifier,
		sla:        sla,
		logger:     logger.Named("ledger"),
	}
}

// Record classifies and persists one detected change. The insert is
// idempotent on the content-addressed change id: recording the same
// change twice returns false without touching the existing row or its
// remediation state.
func (l *Ledger) Record(ctx context.Context, change *types.ChangeRecord, firstObservation bool) (bool, error) {
	if change.ChangeID == "" {
		change.ChangeID = types.ComputeChangeID(
			change.SourceID, change.AttributeID, change.ChangeType,
			change.BeforeFingerprint, change.AfterFingerprint)
	}
	if change.Status == "" {
		change.Status = types.StatusNew
	}
	if change.Severity == "" {
		change.Severity = l.classifier.Classify(change, firstObservation)
	}
	if change.SLADeadline.IsZero() {
		change.SLADeadline = l.sla.Deadline(change.Severity, change.DetectedAt)
	}

	inserted, err := l.store.InsertChange(ctx, change)
	if err != nil {
		return false, fmt.Errorf("failed to record change: %w", err)
	}

	if inserted {
		l.logger.Info("Recorded change",
			zap.String("change_id", change.ChangeID),
			zap.String("source_id", change.SourceID),
			zap.String("attribute_id", change.AttributeID),
			zap.String("change_type", string(change.ChangeType)),
			zap.String("severity", string(change.Severity)))
	} else {
		l.logger.Debug("Skipped duplicate change",
			zap.String("change_id", change.ChangeID))
	}

	return inserted, nil
}

// RecordAll records a batch of changes and returns how many were new
func (l *Ledger) RecordAll(ctx context.Context, changes []*types.ChangeRecord, firstObservation bool) (int, error) {
	var recorded int
	for _, change := range changes {
		inserted, err := l.Record(ctx, change, firstObservation)
		if err != nil {
			return recorded, err
		}
		if inserted {
			recorded++
		}
	}
	return recorded, nil
}

// transitionAttempts bounds the reload-and-revalidate loop on a lost race
const transitionAttempts = 3

// Transition moves a change to the given lifecycle state. The move is
// validated against the state machine before it is attempted, and the
// underlying update only applies when the stored status still matches
// the one the validation saw. A lost race reloads and revalidates a
// bounded number of times before giving up with a conflict error.
func (l *Ledger) Transition(ctx context.Context, changeID string, to types.ChangeStatus, actor, note string) (*types.ChangeRecord, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("unknown status %q", to)
	}

	for attempt := 1; attempt <= transitionAttempts; attempt++ {
		change, err := l.store.GetChange(ctx, changeID)
		if err != nil {
			return nil, err
		}

		// An illegal move is a caller error, never worth retrying.
		if !change.Status.CanTransitionTo(to) {
			return nil, &types.InvalidTransitionError{ChangeID: changeID, From: change.Status, To: to}
		}

		now := time.Now().UTC()
		updated, err := l.store.UpdateStatus(ctx, changeID, change.Status, to, actor, note, now)
		if err != nil {
			return nil, err
		}
		if !updated {
			// Someone else moved the change between load and update;
			// reload and revalidate against the new state.
			l.logger.Debug("Transition lost a write race",
				zap.String("change_id", changeID),
				zap.Int("attempt", attempt))
			continue
		}

		l.logger.Info("Transitioned change",
			zap.String("change_id", changeID),
			zap.String("from", string(change.Status)),
			zap.String("to", string(to)),
			zap.String("actor", actor))

		change.Status = to
		return change, nil
	}

	return nil, &types.LedgerConflictError{ChangeID: changeID}
}

// MarkNotified stamps the notification time on a change. Only the
// first call wins; later calls are no-ops so duplicate sends never
// overwrite the original timestamp.
func (l *Ledger) MarkNotified(ctx context.Context, changeID string, at time.Time) (bool, error) {
	stamped, err := l.store.MarkNotified(ctx, changeID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark change notified: %w", err)
	}
	return stamped, nil
}

// MarkEscalated advances the escalation state of a change. The update
// only applies when the stored state still matches from, so concurrent
// scans claim each threshold exactly once.
func (l *Ledger) MarkEscalated(ctx context.Context, changeID, from, to string) (bool, error) {
	stamped, err := l.store.MarkEscalated(ctx, changeID, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to mark change escalated: %w", err)
	}
	return stamped, nil
}

// Get returns a single change by id
func (l *Ledger) Get(ctx context.Context, changeID string) (*types.ChangeRecord, error) {
	return l.store.GetChange(ctx, changeID)
}

// List returns changes matching the filter
func (l *Ledger) List(ctx context.Context, filter *types.ChangeFilter) ([]*types.ChangeRecord, error) {
	return l.store.ListChanges(ctx, filter)
}

// Open returns all changes still in a non-terminal state
func (l *Ledger) Open(ctx context.Context) ([]*types.ChangeRecord, error) {
	return l.store.OpenChanges(ctx)
}

// Unnotified returns changes of the given severities that have not
// been notified yet
func (l *Ledger) Unnotified(ctx context.Context, severities []types.Severity) ([]*types.ChangeRecord, error) {
	return l.store.UnnotifiedChanges(ctx, severities)
}

// History returns the audit trail of a change
func (l *Ledger) History(ctx context.Context, changeID string) ([]*types.ChangeTransition, error) {
	return l.store.Transitions(ctx, changeID)
}

// Report aggregates ledger counters as of now
func (l *Ledger) Report(ctx context.Context, now time.Time) (*types.ChangeReport, error) {
	return l.store.Report(ctx, now)
}

// Overdue returns open changes whose deadline has already passed
func (l *Ledger) Overdue(ctx context.Context, now time.Time) ([]*types.ChangeRecord, error) {
	open, err := l.store.OpenChanges(ctx)
	if err != nil {
		return nil, err
	}
	var overdue []*types.ChangeRecord
	for _, change := range open {
		if change.SLADeadline.Before(now) {
			overdue = append(overdue, change)
		}
	}
	return overdue, nil
}
