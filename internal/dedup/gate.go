package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schemawatch/internal/config"
	"schemawatch/internal/ledger"
	"schemawatch/internal/types"

	"go.uber.org/zap"
)

// Sender is the slice of the notification manager the gate needs
type Sender interface {
	NotifyChange(ctx context.Context, event *types.NotificationEvent) error
	NotifyDigest(ctx context.Context, digest *types.NotificationDigest) error
}

// Gate sits between the ledger and the notification channels and makes
// sure each change is announced exactly once. Critical changes go out
// immediately; major and minor changes accumulate until the next digest
// flush. The notified timestamp is only stamped after a channel
// acknowledged delivery, so a crash between send and stamp re-sends
// rather than silently dropping.
type Gate struct {
	ledger  *ledger.Ledger
	manager Sender
	cfg     config.DigestConfig
	logger  *zap.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewGate creates a notification gate
func NewGate(l *ledger.Ledger, manager Sender, cfg config.DigestConfig, logger *zap.Logger) *Gate {
	return &Gate{
		ledger:  l,
		manager: manager,
		cfg:     cfg,
		logger:  logger.Named("gate"),
		stopCh:  make(chan struct{}),
	}
}

// Dispatch routes one freshly recorded change. Critical changes are
// sent right away; everything else waits for the digest.
func (g *Gate) Dispatch(ctx context.Context, change *types.ChangeRecord) error {
	if change.NotifiedAt != nil {
		return nil
	}
	if change.Severity != types.SeverityCritical {
		return nil
	}

	event := types.NewNotificationEvent(change)
	if err := g.manager.NotifyChange(ctx, &event); err != nil {
		return fmt.Errorf("failed to notify change %s: %w", change.ChangeID, err)
	}

	stamped, err := g.ledger.MarkNotified(ctx, change.ChangeID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !stamped {
		// Another run already announced this change; the duplicate
		// send is the accepted cost of crash safety.
		g.logger.Debug("Change was already marked notified",
			zap.String("change_id", change.ChangeID))
	}

	return nil
}

// FlushDigest retries unnotified critical changes as individual events,
// then collects all unnotified major and minor changes into one digest,
// sends it and stamps every included change. Returns the number of
// changes announced.
func (g *Gate) FlushDigest(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// A critical change whose immediate send failed stays unnotified;
	// the flush is its retry path. Stragglers go out one event each,
	// never inside the digest.
	stragglers, err := g.ledger.Unnotified(ctx, []types.Severity{types.SeverityCritical})
	if err != nil {
		return 0, fmt.Errorf("failed to load unnotified critical changes: %w", err)
	}
	var resent int
	for _, change := range stragglers {
		if err := g.Dispatch(ctx, change); err != nil {
			g.logger.Error("Failed to resend critical change",
				zap.String("change_id", change.ChangeID),
				zap.Error(err))
			continue
		}
		resent++
	}

	pending, err := g.ledger.Unnotified(ctx, []types.Severity{types.SeverityMajor, types.SeverityMinor})
	if err != nil {
		return resent, fmt.Errorf("failed to load unnotified changes: %w", err)
	}
	if len(pending) == 0 {
		return resent, nil
	}

	if g.cfg.MaxBatchSize > 0 && len(pending) > g.cfg.MaxBatchSize {
		pending = pending[:g.cfg.MaxBatchSize]
	}

	now := time.Now().UTC()
	digest := &types.NotificationDigest{GeneratedAt: now}
	for _, change := range pending {
		digest.Events = append(digest.Events, types.NewNotificationEvent(change))
	}

	if report, err := g.ledger.Report(ctx, now); err != nil {
		g.logger.Warn("Failed to build ledger report for digest", zap.Error(err))
	} else {
		digest.Report = report
	}

	if err := g.manager.NotifyDigest(ctx, digest); err != nil {
		return resent, fmt.Errorf("failed to send digest: %w", err)
	}

	var stamped int
	for _, change := range pending {
		ok, err := g.ledger.MarkNotified(ctx, change.ChangeID, now)
		if err != nil {
			g.logger.Error("Failed to mark change notified",
				zap.String("change_id", change.ChangeID),
				zap.Error(err))
			continue
		}
		if ok {
			stamped++
		}
	}

	g.logger.Info("Flushed notification digest",
		zap.Int("changes", len(pending)),
		zap.Int("resent_critical", resent),
		zap.Int("stamped", stamped))

	return resent + stamped, nil
}

// Start runs the periodic digest flush until Stop is called
func (g *Gate) Start(ctx context.Context) {
	if !g.cfg.Enabled {
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ticker := time.NewTicker(g.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-g.stopCh:
				return
			case <-ticker.C:
				if _, err := g.FlushDigest(ctx); err != nil {
					g.logger.Error("Digest flush failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop terminates the background flush loop
func (g *Gate) Stop() {
	g.stopped.Do(func() {
		close(g.stopCh)
	})
	g.wg.Wait()
}
