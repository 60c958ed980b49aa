package service

import (
	"context"
	"fmt"
	"time"

	"schemawatch/internal/config"
	"schemawatch/internal/dedup"
	"schemawatch/internal/ledger"
	"schemawatch/internal/normalizer"
	"schemawatch/internal/notify"
	"schemawatch/internal/runner"
	"schemawatch/internal/severity"
	"schemawatch/internal/sla"
	"schemawatch/internal/storage"
	"schemawatch/internal/types"

	"go.uber.org/zap"
)

// Service wires the detection pipeline, the change ledger and the
// notification path behind one facade for the API and the binaries.
type Service struct {
	config   *config.Config
	store    storage.Storage
	ledger   *ledger.Ledger
	gate     *dedup.Gate
	monitor  *sla.Monitor
	notifier *notify.Manager
	runner   *runner.Runner
	logger   *zap.Logger

	ctx       context.Context
	cleanupFn context.CancelFunc
}

// NewService creates new service instance
func NewService(cfg *config.Config, store storage.Storage, logger *zap.Logger) (*Service, error) {
	notifier, err := notify.NewManager(&cfg.Notify, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}

	classifier, err := severity.NewClassifier(cfg.Severity)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize classifier: %w", err)
	}

	l := ledger.New(store, classifier, cfg.SLA, logger)
	gate := dedup.NewGate(l, notifier, cfg.Digest, logger)
	monitor := sla.NewMonitor(l, notifier, cfg.Monitor, logger)
	run := runner.New(store, normalizer.New(logger), l, gate, cfg.Watcher.Workers, logger)

	ctx, cleanupFn := context.WithCancel(context.Background())

	svc := &Service{
		config:    cfg,
		store:     store,
		ledger:    l,
		gate:      gate,
		monitor:   monitor,
		notifier:  notifier,
		runner:    run,
		logger:    logger,
		ctx:       ctx,
		cleanupFn: cleanupFn,
	}

	// Start background loops
	gate.Start(ctx)
	monitor.Start(ctx)

	return svc, nil
}

// Stop stops the service and cleanup resources
func (s *Service) Stop() error {
	s.cleanupFn()
	s.gate.Stop()
	s.monitor.Stop()
	if err := s.notifier.Stop(); err != nil {
		s.logger.Warn("Failed to stop notifier cleanly", zap.Error(err))
	}
	return s.store.Close()
}

// Runner exposes the pipeline runner for the ingest binary
func (s *Service) Runner() *runner.Runner {
	return s.runner
}

// SubmitSchema pushes one captured schema through the pipeline
func (s *Service) SubmitSchema(ctx context.Context, raw *types.RawSchema) (*runner.SourceResult, error) {
	return s.runner.ProcessSchema(ctx, raw)
}

// GetChange returns a single change by id
func (s *Service) GetChange(ctx context.Context, changeID string) (*types.ChangeRecord, error) {
	return s.ledger.Get(ctx, changeID)
}

// ListChanges returns changes matching the filter
func (s *Service) ListChanges(ctx context.Context, filter *types.ChangeFilter) ([]*types.ChangeRecord, error) {
	return s.ledger.List(ctx, filter)
}

// TransitionChange moves a change through its lifecycle
func (s *Service) TransitionChange(ctx context.Context, changeID string, to types.ChangeStatus, actor, note string) (*types.ChangeRecord, error) {
	return s.ledger.Transition(ctx, changeID, to, actor, note)
}

// ChangeHistory returns the audit trail of a change
func (s *Service) ChangeHistory(ctx context.Context, changeID string) ([]*types.ChangeTransition, error) {
	return s.ledger.History(ctx, changeID)
}

// Report aggregates ledger counters
func (s *Service) Report(ctx context.Context) (*types.ChangeReport, error) {
	return s.ledger.Report(ctx, time.Now().UTC())
}

// OverdueChanges returns open changes past their deadline
func (s *Service) OverdueChanges(ctx context.Context) ([]*types.ChangeRecord, error) {
	return s.ledger.Overdue(ctx, time.Now().UTC())
}

// LatestSnapshot returns the newest stored snapshot of a source
func (s *Service) LatestSnapshot(ctx context.Context, sourceID string) (*types.Snapshot, error) {
	return s.store.LatestSnapshot(ctx, sourceID)
}

// Sources lists all sources with at least one stored snapshot
func (s *Service) Sources(ctx context.Context) ([]string, error) {
	return s.store.SnapshotSources(ctx)
}

// FlushDigest forces an immediate digest flush
func (s *Service) FlushDigest(ctx context.Context) (int, error) {
	return s.gate.FlushDigest(ctx)
}

// ScanDeadlines forces an immediate deadline scan
func (s *Service) ScanDeadlines(ctx context.Context) ([]*types.EscalationEvent, error) {
	return s.monitor.Scan(ctx, time.Now().UTC())
}

// HealthStatus health check
type HealthStatus struct {
	Healthy   bool           `json:"healthy"`
	Timestamp time.Time      `json:"timestamp"`
	Details   []HealthDetail `json:"details,omitempty"`
}

// HealthDetail represents a health detail
type HealthDetail struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck performs a health check
func (s *Service) HealthCheck(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Healthy:   true,
		Timestamp: time.Now(),
	}

	if err := s.store.Ping(ctx); err != nil {
		status.Healthy = false
		status.Details = append(status.Details, HealthDetail{
			Component: "storage",
			Status:    "unhealthy",
			Error:     err.Error(),
		})
	}

	if s.notifier.IsEnabled() {
		if err := s.notifier.Health(ctx); err != nil {
			status.Healthy = false
			status.Details = append(status.Details, HealthDetail{
				Component: "notify",
				Status:    "unhealthy",
				Error:     err.Error(),
			})
		}
	}

	return status
}
