package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"schemawatch/internal/dedup"
	"schemawatch/internal/diff"
	"schemawatch/internal/ledger"
	"schemawatch/internal/normalizer"
	"schemawatch/internal/storage"
	"schemawatch/internal/types"

	"go.uber.org/zap"
)

// Runner drives the detection pipeline for a batch of captured
// schemas: normalize, diff against the latest stored snapshot, record
// the changes and only then persist the new snapshot. Persisting last
// means a crash mid-run re-detects the same changes on the next run,
// where the idempotent ledger absorbs the duplicates.
type Runner struct {
	store      storage.Storage
	normalizer *normalizer.Normalizer
	ledger     *ledger.Ledger
	gate       *dedup.Gate
	workers    int
	logger     *zap.Logger
}

// SourceResult represents the outcome of processing one source
type SourceResult struct {
	SourceID         string        `json:"source_id"`
	FirstObservation bool          `json:"first_observation"`
	Detected         int           `json:"detected"`
	Recorded         int           `json:"recorded"`
	Duration         time.Duration `json:"duration"`
	Err              error         `json:"-"`
}

// RunSummary aggregates the outcome of one batch run
type RunSummary struct {
	Results   []*SourceResult `json:"results"`
	Detected  int             `json:"detected"`
	Recorded  int             `json:"recorded"`
	Failed    int             `json:"failed"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// New creates a pipeline runner
func New(store storage.Storage, norm *normalizer.Normalizer, l *ledger.Ledger, gate *dedup.Gate, workers int, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		store:      store,
		normalizer: norm,
		ledger:     l,
		gate:       gate,
		workers:    workers,
		logger:     logger.Named("runner"),
	}
}

// ProcessSchema runs the full pipeline for one captured schema
func (r *Runner) ProcessSchema(ctx context.Context, raw *types.RawSchema) (*SourceResult, error) {
	started := time.Now()
	result := &SourceResult{SourceID: raw.SourceID}

	snapshot, err := r.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}

	previous, err := r.store.LatestSnapshot(ctx, snapshot.SourceID)
	if err != nil && !errors.Is(err, types.ErrSnapshotNotFound) {
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}

	diffResult := diff.Compare(previous, snapshot, snapshot.CapturedAt)
	result.FirstObservation = diffResult.IsFirstObservation
	result.Detected = len(diffResult.Changes)

	for _, change := range diffResult.Changes {
		inserted, err := r.ledger.Record(ctx, change, diffResult.IsFirstObservation)
		if err != nil {
			return nil, err
		}
		if inserted {
			result.Recorded++
		} else if r.gate != nil {
			// Recorded by an earlier run that may have died before its
			// notification was acknowledged. Reload so Dispatch sees the
			// stored notified state instead of the fresh zero value.
			stored, err := r.ledger.Get(ctx, change.ChangeID)
			if err != nil {
				return nil, err
			}
			change = stored
		}

		if r.gate != nil {
			if err := r.gate.Dispatch(ctx, change); err != nil {
				// A failed send never blocks the pipeline; the change
				// stays unnotified and the next digest flush or re-run
				// retries it.
				r.logger.Error("Failed to dispatch notification",
					zap.String("change_id", change.ChangeID),
					zap.Error(err))
			}
		}
	}

	if err := r.store.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	result.Duration = time.Since(started)
	r.logger.Info("Processed source",
		zap.String("source_id", snapshot.SourceID),
		zap.Bool("first_observation", result.FirstObservation),
		zap.Int("detected", result.Detected),
		zap.Int("recorded", result.Recorded),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// ProcessBatch processes many captured schemas with a bounded worker
// pool. A failing source never aborts the batch; its error lands in
// the summary and the previous snapshot of that source stays
// authoritative.
func (r *Runner) ProcessBatch(ctx context.Context, raws []*types.RawSchema) *RunSummary {
	summary := &RunSummary{StartedAt: time.Now().UTC()}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, r.workers)
	)

	for _, raw := range raws {
		raw := raw
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := r.ProcessSchema(ctx, raw)
			if err != nil {
				r.logger.Error("Failed to process source",
					zap.String("source_id", raw.SourceID),
					zap.Error(err))
				result = &SourceResult{SourceID: raw.SourceID, Err: err}
			}

			mu.Lock()
			summary.Results = append(summary.Results, result)
			if result.Err != nil {
				summary.Failed++
			} else {
				summary.Detected += result.Detected
				summary.Recorded += result.Recorded
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
	summary.Duration = time.Since(summary.StartedAt)

	r.logger.Info("Batch run finished",
		zap.Int("sources", len(raws)),
		zap.Int("detected", summary.Detected),
		zap.Int("recorded", summary.Recorded),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration))

	return summary
}
