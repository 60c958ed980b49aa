package dedup

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

// fakeSender records what the gate hands to the notification layer
type fakeSender struct {
	events  []*types.NotificationEvent
	digests []*types.NotificationDigest
	fail    bool
}

func (f *fakeSender) NotifyChange(_ context.Context, event *types.NotificationEvent) error {
	if f.fail {
		return errors.New("transport down")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSender) NotifyDigest(_ context.Context, digest *types.NotificationDigest) error {
	if f.fail {
		return errors.New("transport down")
	}
	f.digests = append(f.digests, digest)
	return nil
}

func newTestLedger(t *testing.T) *ledger.Ledger {
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

	sla := config.SLAConfig{
		Critical: 24 * time.Hour,
		Major:    72 * time.Hour,
		Minor:    168 * time.Hour,
	}
	return ledger.New(store, classifier, sla, zaptest.NewLogger(t))
}

func recordChange(t *testing.T, l *ledger.Ledger, attributeID string, sev types.Severity) *types.ChangeRecord {
	t.Helper()

	after := &types.AttributeDefinition{AttributeID: attributeID, DataType: types.DataTypeString}
	change := &types.ChangeRecord{
		SourceID:         "marketplace-a",
		AttributeID:      attributeID,
		ChangeType:       types.ChangeTypeAdded,
		After:            after,
		AfterFingerprint: after.Fingerprint(),
		Severity:         sev,
		DetectedAt:       time.Now().UTC(),
	}
	recorded, err := l.Record(context.Background(), change, false)
	require.NoError(t, err)
	require.True(t, recorded)
	return change
}

func TestDispatchCriticalImmediately(t *testing.T) {
	l := newTestLedger(t)
	sender := &fakeSender{}
	gate := NewGate(l, sender, config.DigestConfig{}, zaptest.NewLogger(t))
	ctx := context.Background()

	change := recordChange(t, l, "brand", types.SeverityCritical)
	require.NoError(t, gate.Dispatch(ctx, change))

	require.Len(t, sender.events, 1)
	assert.Equal(t, change.ChangeID, sender.events[0].ChangeID)
	assert.Equal(t, types.SeverityCritical, sender.events[0].Severity)

	got, err := l.Get(ctx, change.ChangeID)
	require.NoError(t, err)
	assert.NotNil(t, got.NotifiedAt)
}

func TestDispatchHoldsNonCritical(t *testing.T) {
	l := newTestLedger(t)
	sender := &fakeSender{}
	gate := NewGate(l, sender, config.DigestConfig{}, zaptest.NewLogger(t))
	ctx := context.Background()

	change := recordChange(t, l, "brand", types.SeverityMajor)
	require.NoError(t, gate.Dispatch(ctx, change))

	// Major changes wait for the digest
	assert.Empty(t, sender.events)
	got, err := l.Get(ctx, change.ChangeID)
	require.NoError(t, err)
	assert.Nil(t, got.NotifiedAt)
}

func TestDispatchSkipsAlreadyNotified(t *testing.T) {
	l := newTestLedger(t)
	sender := &fakeSender{}
	gate := NewGate(l, sender, config.DigestConfig{}, zaptest.NewLogger(t))
	ctx := context.Background()

	change := recordChange(t, l, "brand", types.SeverityCritical)
	now := time.Now().UTC()
	change.NotifiedAt = &now

	require.NoError(t, gate.Dispatch(ctx, change))
	assert.Empty(t, sender.events)
}

func TestDispatchFailedSendLeavesUnstamped(t *testing.T) {
	l := newTestLedger(t)
	sender := &fakeSender{fail: true}
	gate := NewGate(l, sender, config.DigestConfig{}, zaptest.NewLogger(t))
	ctx := context.Background()

	change := recordChange(t, l, "brand", types.SeverityCritical)
	assert.Error(t, gate.Dispatch(ctx, change))

	// No acknowledgment, no stamp: the next run retries
	got, err := l.Get(ctx, change.ChangeID)
	require.NoError(t, err)
	assert.Nil(t, got.NotifiedAt)
}

func TestFlushDigestStampsBatch(t *testing.T) {
	l := newTestLedger(t)
	sender := &fakeSender{}
	gate := NewGate(l, sender, config.DigestConfig{MaxBatchSize: 100}, zaptest.NewLogger(t))
	ctx := context.Background()

	major := recordChange(t, l, "brand", types.SeverityMajor)
	minor := recordChange(t, l, "color", types.SeverityMinor)
	critical := recordChange(t, l, "size", types.SeverityCritical)

	flushed, err := gate.FlushDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, flushed)

	// The critical straggler goes out as its own event, never inside
	// the digest
	require.Len(t, sender.events, 1)
	assert.Equal(t, critical.ChangeID, sender.events[0].ChangeID)

	require.Len(t, sender.digests, 1)
	digest := sender.digests[0]
	require.Len(t, digest.Events, 2)
	assert.Equal(t, major.ChangeID, digest.Events[0].ChangeID)
	assert.Equal(t, minor.ChangeID, digest.Events[1].ChangeID)
	require.NotNil(t, digest.Report)
	assert.Equal(t, int64(3), digest.Report.TotalChanges)

	for _, id := range []string{major.ChangeID, minor.ChangeID, critical.ChangeID} {
		got, err := l.Get(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, got.NotifiedAt)
	}

	// A second flush finds nothing pending
	flushed, err = gate.FlushDigest(ctx)
	require.NoError(t, err)
	assert.Zero(t, flushed)
	assert.Len(t, sender.digests, 1)
}

func TestFlushDigestRespectsBatchCap(t *testing.T) {
	l := newTestLedger(t)
	sender := &fakeSender{}
	gate := NewGate(l, sender, config.DigestConfig{MaxBatchSize: 1}, zaptest.NewLogger(t))
	ctx := context.Background()

	recordChange(t, l, "brand", types.SeverityMajor)
	recordChange(t, l, "color", types.SeverityMinor)

	flushed, err := gate.FlushDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)

	// The overflow stays pending for the next flush
	flushed, err = gate.FlushDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Len(t, sender.digests, 2)
}

func TestFlushDigestResendsFailedCritical(t *testing.T) {
	l := newTestLedger(t)
	sender := &fakeSender{fail: true}
	gate := NewGate(l, sender, config.DigestConfig{}, zaptest.NewLogger(t))
	ctx := context.Background()

	change := recordChange(t, l, "brand", types.SeverityCritical)
	require.Error(t, gate.Dispatch(ctx, change))

	// Once the transport recovers the flush picks the straggler up as
	// an individual event, not a digest entry
	sender.fail = false
	flushed, err := gate.FlushDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	require.Len(t, sender.events, 1)
	assert.Equal(t, change.ChangeID, sender.events[0].ChangeID)
	assert.Empty(t, sender.digests)

	got, err := l.Get(ctx, change.ChangeID)
	require.NoError(t, err)
	assert.NotNil(t, got.NotifiedAt)

	flushed, err = gate.FlushDigest(ctx)
	require.NoError(t, err)
	assert.Zero(t, flushed)
	assert.Len(t, sender.events, 1)
}

func TestFlushDigestFailedSendStampsNothing(t *testing.T) {
	l := newTestLedger(t)
	sender := &fakeSender{fail: true}
	gate := NewGate(l, sender, config.DigestConfig{}, zaptest.NewLogger(t))
	ctx := context.Background()

	change := recordChange(t, l, "brand", types.SeverityMajor)

	_, err := gate.FlushDigest(ctx)
	assert.Error(t, err)

	got, err := l.Get(ctx, change.ChangeID)
	require.NoError(t, err)
	assert.Nil(t, got.NotifiedAt)
}
