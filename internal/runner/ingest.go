package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"schemawatch/internal/types"

	"go.uber.org/zap"
)

// Ingestor feeds the pipeline from a drop directory. Extraction jobs
// write one JSON file per captured schema; processed files move to a
// processed/ subdirectory and malformed ones to failed/ so a bad file
// never wedges the loop.
type Ingestor struct {
	runner *Runner
	dir    string
	logger *zap.Logger
}

// NewIngestor creates a directory ingestor
func NewIngestor(r *Runner, dir string, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		runner: r,
		dir:    dir,
		logger: logger.Named("ingest"),
	}
}

// pendingFile pairs a decoded capture with the file it came from
type pendingFile struct {
	path string
	raw  *types.RawSchema
}

// ScanOnce processes every pending schema file in the drop directory.
// Several captures of the same source in one scan are processed oldest
// first, one per batch, so each capture diffs against its true
// predecessor instead of racing a sibling against the same baseline.
func (i *Ingestor) ScanOnce(ctx context.Context) (*RunSummary, error) {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read ingest directory: %w", err)
	}

	pending := make(map[string][]pendingFile)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(i.dir, entry.Name())

		raw, err := loadSchemaFile(path)
		if err != nil {
			i.logger.Error("Skipping malformed schema file",
				zap.String("file", entry.Name()),
				zap.Error(err))
			i.moveTo(path, "failed")
			continue
		}

		pending[raw.SourceID] = append(pending[raw.SourceID], pendingFile{path: path, raw: raw})
	}

	summary := &RunSummary{StartedAt: time.Now().UTC()}
	if len(pending) == 0 {
		return summary, nil
	}

	for _, queue := range pending {
		sort.Slice(queue, func(a, b int) bool {
			return queue[a].raw.CapturedAt.Before(queue[b].raw.CapturedAt)
		})
	}

	for len(pending) > 0 {
		var (
			raws  []*types.RawSchema
			files = make(map[string]string, len(pending))
		)
		for sourceID, queue := range pending {
			raws = append(raws, queue[0].raw)
			files[sourceID] = queue[0].path
			if len(queue) == 1 {
				delete(pending, sourceID)
			} else {
				pending[sourceID] = queue[1:]
			}
		}

		batch := i.runner.ProcessBatch(ctx, raws)
		summary.Results = append(summary.Results, batch.Results...)
		summary.Detected += batch.Detected
		summary.Recorded += batch.Recorded
		summary.Failed += batch.Failed

		for _, result := range batch.Results {
			path, ok := files[result.SourceID]
			if !ok {
				continue
			}
			if result.Err != nil {
				i.moveTo(path, "failed")
			} else {
				i.moveTo(path, "processed")
			}
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	return summary, nil
}

// Run scans the drop directory on the given interval until the context
// is canceled
func (i *Ingestor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := i.ScanOnce(ctx); err != nil {
			i.logger.Error("Ingest scan failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// loadSchemaFile reads and decodes one captured schema
func loadSchemaFile(path string) (*types.RawSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var raw types.RawSchema
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	if raw.CapturedAt.IsZero() {
		raw.CapturedAt = time.Now().UTC()
	}

	return &raw, nil
}

// moveTo relocates a file into a sibling subdirectory of the drop dir
func (i *Ingestor) moveTo(path, subdir string) {
	dest := filepath.Join(i.dir, subdir)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		i.logger.Error("Failed to create directory", zap.String("dir", dest), zap.Error(err))
		return
	}

	name := fmt.Sprintf("%s.%d", filepath.Base(path), time.Now().UnixNano())
	if err := os.Rename(path, filepath.Join(dest, name)); err != nil {
		i.logger.Error("Failed to move file", zap.String("file", path), zap.Error(err))
	}
}
