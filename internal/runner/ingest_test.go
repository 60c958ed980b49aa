package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"schemawatch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeIngestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestScanOnce(t *testing.T) {
	r, store, _ := newTestRunner(t)
	dir := t.TempDir()
	ingestor := NewIngestor(r, dir, zaptest.NewLogger(t))
	ctx := context.Background()

	writeIngestFile(t, dir, "marketplace-a.json", `{
		"source_id": "marketplace-a",
		"captured_at": "2026-08-01T00:00:00Z",
		"fields": [
			{"name": "brand", "raw_type": "string", "required": true}
		]
	}`)
	writeIngestFile(t, dir, "broken.json", `{nope`)
	writeIngestFile(t, dir, "notes.txt", `ignored`)

	summary, err := ingestor.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Recorded)
	assert.Zero(t, summary.Failed)

	snapshot, err := store.LatestSnapshot(ctx, "marketplace-a")
	require.NoError(t, err)
	assert.Len(t, snapshot.Attributes, 1)

	// Good files move to processed/, malformed ones to failed/, and
	// unrelated files stay put
	processed, err := os.ReadDir(filepath.Join(dir, "processed"))
	require.NoError(t, err)
	assert.Len(t, processed, 1)
	failed, err := os.ReadDir(filepath.Join(dir, "failed"))
	require.NoError(t, err)
	assert.Len(t, failed, 1)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "marketplace-a.json"))
}

func TestScanOnceOrdersCapturesPerSource(t *testing.T) {
	r, store, _ := newTestRunner(t)
	dir := t.TempDir()
	ingestor := NewIngestor(r, dir, zaptest.NewLogger(t))
	ctx := context.Background()

	// Two captures of the same source land in one scan; the older one
	// must diff first so the toggle is seen instead of both captures
	// racing against the same baseline
	writeIngestFile(t, dir, "marketplace-a-2.json", `{
		"source_id": "marketplace-a",
		"captured_at": "2026-08-02T00:00:00Z",
		"fields": [
			{"name": "brand", "raw_type": "string", "required": true},
			{"name": "weight", "raw_type": "int"}
		]
	}`)
	writeIngestFile(t, dir, "marketplace-a-1.json", `{
		"source_id": "marketplace-a",
		"captured_at": "2026-08-01T00:00:00Z",
		"fields": [
			{"name": "brand", "raw_type": "string"}
		]
	}`)

	summary, err := ingestor.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Recorded)
	assert.Zero(t, summary.Failed)

	// Both files left the drop directory in one pass
	processed, err := os.ReadDir(filepath.Join(dir, "processed"))
	require.NoError(t, err)
	assert.Len(t, processed, 2)

	snapshot, err := store.LatestSnapshot(ctx, "marketplace-a")
	require.NoError(t, err)
	assert.Len(t, snapshot.Attributes, 2)
	assert.True(t, snapshot.Attributes["brand"].Required)

	changes, err := store.ListChanges(ctx, nil)
	require.NoError(t, err)
	byType := make(map[types.ChangeType]int)
	for _, change := range changes {
		byType[change.ChangeType]++
	}
	assert.Equal(t, 1, byType[types.ChangeTypeRequiredToggled])
	assert.Equal(t, 2, byType[types.ChangeTypeAdded])
}

func TestScanOnceRoutesPipelineFailures(t *testing.T) {
	r, _, _ := newTestRunner(t)
	dir := t.TempDir()
	ingestor := NewIngestor(r, dir, zaptest.NewLogger(t))

	// Decodes fine but fails normalization on the empty field list
	writeIngestFile(t, dir, "empty.json", `{
		"source_id": "marketplace-a",
		"captured_at": "2026-08-01T00:00:00Z",
		"fields": []
	}`)

	summary, err := ingestor.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	failed, err := os.ReadDir(filepath.Join(dir, "failed"))
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestScanOnceEmptyDirectory(t *testing.T) {
	r, _, _ := newTestRunner(t)
	dir := t.TempDir()
	ingestor := NewIngestor(r, dir, zaptest.NewLogger(t))

	summary, err := ingestor.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Results)

	_, err = NewIngestor(r, filepath.Join(dir, "missing"), zaptest.NewLogger(t)).ScanOnce(context.Background())
	assert.Error(t, err)
}
