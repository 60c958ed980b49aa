package sla

import (
	"context"
	"errors"
	"testing"
	"time"

	"schemawatch/internal/config"
	"schemawatch/internal/ledger"
	"schemawatch/internal/severity"
	"schemawatch/internal/storage"
	"schemawatch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeEscalator records escalation events the monitor emits
type fakeEscalator struct {
	events []*types.EscalationEvent
	fail   bool
}

func (f *fakeEscalator) NotifyEscalation(_ context.Context, event *types.EscalationEvent) error {
	if f.fail {
		return errors.New("transport down")
	}
	f.events = append(f.events, event)
	return nil
}

var testSLA = config.SLAConfig{
	Critical: 24 * time.Hour,
	Major:    72 * time.Hour,
	Minor:    168 * time.Hour,
}

func newTestMonitor(t *testing.T, escalator Escalator) (*Monitor, *ledger.Ledger) {
	t.Helper()

	store, err := storage.NewStorage(&storage.Config{
		Driver:       "sqlite",
		DSN:          ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	classifier, err := severity.NewClassifier(nil)
	require.NoError(t, err)

	l := ledger.New(store, classifier, testSLA, zaptest.NewLogger(t))
	cfg := config.MonitorConfig{Enabled: true, ScanInterval: time.Minute, LeadFraction: 0.2}
	return NewMonitor(l, escalator, cfg, zaptest.NewLogger(t)), l
}

func recordAt(t *testing.T, l *ledger.Ledger, attributeID string, sev types.Severity, detectedAt time.Time) *types.ChangeRecord {
	t.Helper()

	after := &types.AttributeDefinition{AttributeID: attributeID, DataType: types.DataTypeString}
	change := &types.ChangeRecord{
		SourceID:         "marketplace-a",
		AttributeID:      attributeID,
		ChangeType:       types.ChangeTypeAdded,
		After:            after,
		AfterFingerprint: after.Fingerprint(),
		Severity:         sev,
		DetectedAt:       detectedAt,
	}
	recorded, err := l.Record(context.Background(), change, false)
	require.NoError(t, err)
	require.True(t, recorded)
	return change
}

func TestScanThresholds(t *testing.T) {
	escalator := &fakeEscalator{}
	m, l := newTestMonitor(t, escalator)
	ctx := context.Background()

	detectedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	change := recordAt(t, l, "brand", types.SeverityCritical, detectedAt)

	// Well inside the 24h window: nothing fires
	sent, err := m.Scan(ctx, detectedAt.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sent)

	// 20h in, 4h left: under the 20% lead of a 24h window
	sent, err = m.Scan(ctx, detectedAt.Add(20*time.Hour))
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, change.ChangeID, sent[0].ChangeID)
	assert.Equal(t, types.DeadlineNearBreach, sent[0].DeadlineStatus)
	assert.Equal(t, 4*time.Hour, sent[0].TimeRemaining)

	// Same threshold never fires twice
	sent, err = m.Scan(ctx, detectedAt.Add(21*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sent)

	// Past the deadline: the breach fires exactly once
	sent, err = m.Scan(ctx, detectedAt.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, types.DeadlineBreached, sent[0].DeadlineStatus)
	assert.Negative(t, sent[0].TimeRemaining)

	sent, err = m.Scan(ctx, detectedAt.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sent)

	assert.Len(t, escalator.events, 2)
}

func TestScanSkipsNearBreachAfterBreach(t *testing.T) {
	escalator := &fakeEscalator{}
	m, l := newTestMonitor(t, escalator)
	ctx := context.Background()

	detectedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	recordAt(t, l, "brand", types.SeverityCritical, detectedAt)

	// A change discovered late jumps straight to breached; the skipped
	// near_breach threshold never fires afterwards
	sent, err := m.Scan(ctx, detectedAt.Add(30*time.Hour))
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, types.DeadlineBreached, sent[0].DeadlineStatus)

	sent, err = m.Scan(ctx, detectedAt.Add(31*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sent)
}

func TestScanIgnoresTerminalChanges(t *testing.T) {
	escalator := &fakeEscalator{}
	m, l := newTestMonitor(t, escalator)
	ctx := context.Background()

	detectedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	change := recordAt(t, l, "brand", types.SeverityCritical, detectedAt)

	_, err := l.Transition(ctx, change.ChangeID, types.StatusClosed, "alice", "not relevant")
	require.NoError(t, err)

	sent, err := m.Scan(ctx, detectedAt.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sent)
	assert.Empty(t, escalator.events)
}

func TestScanWindowScalesWithSeverity(t *testing.T) {
	escalator := &fakeEscalator{}
	m, l := newTestMonitor(t, escalator)
	ctx := context.Background()

	detectedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	critical := recordAt(t, l, "brand", types.SeverityCritical, detectedAt)
	minor := recordAt(t, l, "color", types.SeverityMinor, detectedAt)

	// 22h in: critical is near breach, the minor 168h window is barely
	// touched
	sent, err := m.Scan(ctx, detectedAt.Add(22*time.Hour))
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, critical.ChangeID, sent[0].ChangeID)
	_, err = l.Transition(ctx, critical.ChangeID, types.StatusClosed, "alice", "handled")
	require.NoError(t, err)

	// 140h in: 28h of 168h left, under the 33.6h lead
	sent, err = m.Scan(ctx, detectedAt.Add(140*time.Hour))
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, minor.ChangeID, sent[0].ChangeID)
	assert.Equal(t, types.DeadlineNearBreach, sent[0].DeadlineStatus)
}

// claimCheckingEscalator records the stored escalation marker as seen
// at send time
type claimCheckingEscalator struct {
	ledger *ledger.Ledger
	seen   []string
}

func (c *claimCheckingEscalator) NotifyEscalation(ctx context.Context, event *types.EscalationEvent) error {
	change, err := c.ledger.Get(ctx, event.ChangeID)
	if err != nil {
		return err
	}
	c.seen = append(c.seen, change.Escalated)
	return nil
}

func TestScanClaimsThresholdBeforeSend(t *testing.T) {
	escalator := &claimCheckingEscalator{}
	m, l := newTestMonitor(t, escalator)
	escalator.ledger = l
	ctx := context.Background()

	detectedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	recordAt(t, l, "brand", types.SeverityCritical, detectedAt)

	// The marker is already advanced when the event goes out, so a
	// concurrent scan cannot claim the same threshold
	sent, err := m.Scan(ctx, detectedAt.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, []string{string(types.DeadlineBreached)}, escalator.seen)
}

func TestScanLeadFollowsStoredDeadline(t *testing.T) {
	escalator := &fakeEscalator{}
	m, l := newTestMonitor(t, escalator)
	ctx := context.Background()

	// A record written before an SLA retuning keeps the 10h window its
	// stored deadline encodes, not the configured 24h one
	detectedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	after := &types.AttributeDefinition{AttributeID: "brand", DataType: types.DataTypeString}
	change := &types.ChangeRecord{
		SourceID:         "marketplace-a",
		AttributeID:      "brand",
		ChangeType:       types.ChangeTypeAdded,
		After:            after,
		AfterFingerprint: after.Fingerprint(),
		Severity:         types.SeverityCritical,
		DetectedAt:       detectedAt,
		SLADeadline:      detectedAt.Add(10 * time.Hour),
	}
	recorded, err := l.Record(ctx, change, false)
	require.NoError(t, err)
	require.True(t, recorded)

	// 3h of 10h left is outside the 2h lead
	sent, err := m.Scan(ctx, detectedAt.Add(7*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sent)

	// 1.5h left is inside it
	sent, err = m.Scan(ctx, detectedAt.Add(8*time.Hour+30*time.Minute))
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, types.DeadlineNearBreach, sent[0].DeadlineStatus)
}

func TestScanFailedSendRetriesNextScan(t *testing.T) {
	escalator := &fakeEscalator{fail: true}
	m, l := newTestMonitor(t, escalator)
	ctx := context.Background()

	detectedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	change := recordAt(t, l, "brand", types.SeverityCritical, detectedAt)

	sent, err := m.Scan(ctx, detectedAt.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sent)

	got, err := l.Get(ctx, change.ChangeID)
	require.NoError(t, err)
	assert.Empty(t, got.Escalated)

	// Once the transport recovers the pending threshold goes out
	escalator.fail = false
	sent, err = m.Scan(ctx, detectedAt.Add(26*time.Hour))
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, types.DeadlineBreached, sent[0].DeadlineStatus)
}
