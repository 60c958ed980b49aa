package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"schemawatch/internal/types"

	"go.uber.org/zap"
)

// Metrics tracks storage level counters
type Metrics struct {
	QueryCount     int64
	QueryErrors    int64
	SlowQueryCount int64
	LastError      error
	LastErrorTime  time.Time
}

// Stats represents database connection statistics
type Stats struct {
	OpenConnections   int
	InUse             int
	Idle              int
	WaitCount         int64
	WaitDuration      time.Duration
	MaxIdleClosed     int64
	MaxLifetimeClosed int64
}

// BaseStorage is the shared implementation behind the driver wrappers
type BaseStorage struct {
	db      *sql.DB
	driver  string
	cfg     *Config
	logger  *zap.Logger
	metrics *Metrics
}

// changeColumns is the canonical column list for change queries
const changeColumns = `change_id, source_id, attribute_id, change_type,
	before_def, after_def, before_fp, after_fp,
	severity, detected_at, sla_deadline, status, notified_at, escalated`

// NewBaseStorage opens the database and configures the pool
func NewBaseStorage(driver, dsn string, cfg *Config, logger *zap.Logger) (*BaseStorage, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &BaseStorage{
		db:      db,
		driver:  driver,
		cfg:     cfg,
		logger:  logger,
		metrics: &Metrics{},
	}, nil
}

// rebind rewrites ? placeholders to the driver's native style
func (s *BaseStorage) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SaveSnapshot persists a snapshot. Snapshots are immutable; each
// capture appends a new row and supersedes the previous one.
func (s *BaseStorage) SaveSnapshot(ctx context.Context, snapshot *types.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	query := `
        INSERT INTO snapshots (source_id, captured_at, data, created_at)
        VALUES (?, ?, ?, ?)`

	_, err = s.ExecContext(ctx, query,
		snapshot.SourceID, snapshot.CapturedAt, data, time.Now())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for a source
func (s *BaseStorage) LatestSnapshot(ctx context.Context, sourceID string) (*types.Snapshot, error) {
	query := `
        SELECT data FROM snapshots
        WHERE source_id = ?
        ORDER BY captured_at DESC
        LIMIT 1`

	var data []byte
	err := s.db.QueryRowContext(ctx, s.rebind(query), sourceID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}

	var snapshot types.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// SnapshotSources returns all source ids with at least one snapshot
func (s *BaseStorage) SnapshotSources(ctx context.Context) ([]string, error) {
	rows, err := s.QueryContext(ctx, `SELECT DISTINCT source_id FROM snapshots ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("query snapshot sources: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan source id: %w", err)
		}
		sources = append(sources, id)
	}
	return sources, rows.Err()
}

// InsertChange appends a change record. Re-inserting an existing
// change_id is a silent no-op: the ledger is content-addressed and
// re-detection of an identical change must not create duplicates or
// alter the existing row. Returns whether a row was actually inserted.
func (s *BaseStorage) InsertChange(ctx context.Context, change *types.ChangeRecord) (bool, error) {
	args, err := changeInsertArgs(change)
	if err != nil {
		return false, err
	}

	query := `
        INSERT INTO changes (` + changeColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (change_id) DO NOTHING`

	result, err := s.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert change: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// changeInsertArgs builds the ordered argument list for an insert
func changeInsertArgs(change *types.ChangeRecord) ([]any, error) {
	beforeDef, err := marshalDef(change.Before)
	if err != nil {
		return nil, err
	}
	afterDef, err := marshalDef(change.After)
	if err != nil {
		return nil, err
	}

	var notifiedAt any
	if change.NotifiedAt != nil {
		notifiedAt = *change.NotifiedAt
	}

	return []any{
		change.ChangeID,
		change.SourceID,
		change.AttributeID,
		string(change.ChangeType),
		beforeDef,
		afterDef,
		change.BeforeFingerprint,
		change.AfterFingerprint,
		string(change.Severity),
		change.DetectedAt,
		change.SLADeadline,
		string(change.Status),
		notifiedAt,
		change.Escalated,
	}, nil
}

func marshalDef(def *types.AttributeDefinition) (any, error) {
	if def == nil {
		return nil, nil
	}
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal attribute definition: %w", err)
	}
	return data, nil
}

// GetChange returns a single change by id
func (s *BaseStorage) GetChange(ctx context.Context, changeID string) (*types.ChangeRecord, error) {
	query := `SELECT ` + changeColumns + ` FROM changes WHERE change_id = ?`

	rows, err := s.QueryContext(ctx, query, changeID)
	if err != nil {
		return nil, fmt.Errorf("query change: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, types.ErrChangeNotFound
	}

	return scanChange(rows)
}

// ListChanges returns changes matching a filter
func (s *BaseStorage) ListChanges(ctx context.Context, filter *types.ChangeFilter) ([]*types.ChangeRecord, error) {
	query := `SELECT ` + changeColumns + ` FROM changes`
	var (
		conds []string
		args  []any
	)

	if filter != nil {
		if len(filter.SourceIDs) > 0 {
			conds = append(conds, "source_id IN ("+placeholders(len(filter.SourceIDs))+")")
			for _, id := range filter.SourceIDs {
				args = append(args, id)
			}
		}
		if len(filter.Statuses) > 0 {
			conds = append(conds, "status IN ("+placeholders(len(filter.Statuses))+")")
			for _, st := range filter.Statuses {
				args = append(args, string(st))
			}
		}
		if len(filter.Severities) > 0 {
			conds = append(conds, "severity IN ("+placeholders(len(filter.Severities))+")")
			for _, sev := range filter.Severities {
				args = append(args, string(sev))
			}
		}
		if !filter.Since.IsZero() {
			conds = append(conds, "detected_at >= ?")
			args = append(args, filter.Since)
		}
		if !filter.Until.IsZero() {
			conds = append(conds, "detected_at <= ?")
			args = append(args, filter.Until)
		}
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY detected_at DESC, change_id"

	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	return s.queryChanges(ctx, query, args...)
}

// OpenChanges returns all records still under SLA tracking
func (s *BaseStorage) OpenChanges(ctx context.Context) ([]*types.ChangeRecord, error) {
	query := `SELECT ` + changeColumns + ` FROM changes
        WHERE status NOT IN (?, ?)
        ORDER BY sla_deadline, change_id`
	return s.queryChanges(ctx, query, string(types.StatusVerified), string(types.StatusClosed))
}

// UnnotifiedChanges returns records with no notification sent yet,
// optionally filtered by severity
func (s *BaseStorage) UnnotifiedChanges(ctx context.Context, severities []types.Severity) ([]*types.ChangeRecord, error) {
	query := `SELECT ` + changeColumns + ` FROM changes WHERE notified_at IS NULL`
	var args []any

	if len(severities) > 0 {
		query += " AND severity IN (" + placeholders(len(severities)) + ")"
		for _, sev := range severities {
			args = append(args, string(sev))
		}
	}
	query += " ORDER BY detected_at, change_id"

	return s.queryChanges(ctx, query, args...)
}

// UpdateStatus applies a guarded status transition and records the
// audit entry in the same transaction. Returns false when the guard
// failed, meaning another writer moved the record first.
func (s *BaseStorage) UpdateStatus(ctx context.Context, changeID string, from, to types.ChangeStatus, actor, note string, at time.Time) (bool, error) {
	var applied bool

	err := s.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.rebind(`
            UPDATE changes SET status = ?
            WHERE change_id = ? AND status = ?`),
			string(to), changeID, string(from))
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
            INSERT INTO change_transitions (change_id, from_status, to_status, actor, note, occurred_at)
            VALUES (?, ?, ?, ?, ?, ?)`),
			changeID, string(from), string(to), actor, note, at)
		if err != nil {
			return fmt.Errorf("record transition: %w", err)
		}

		applied = true
		return nil
	})

	return applied, err
}

// MarkNotified sets notified_at once. Setting it a second time is a
// no-op, which makes the call idempotent across re-runs and transport
// retries.
func (s *BaseStorage) MarkNotified(ctx context.Context, changeID string, at time.Time) (bool, error) {
	result, err := s.ExecContext(ctx, `
        UPDATE changes SET notified_at = ?
        WHERE change_id = ? AND notified_at IS NULL`,
		at, changeID)
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// MarkEscalated advances the persisted escalation threshold marker with
// a compare-and-swap so each threshold fires once per record.
func (s *BaseStorage) MarkEscalated(ctx context.Context, changeID, from, to string) (bool, error) {
	result, err := s.ExecContext(ctx, `
        UPDATE changes SET escalated = ?
        WHERE change_id = ? AND escalated = ?`,
		to, changeID, from)
	if err != nil {
		return false, fmt.Errorf("mark escalated: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// Transitions returns the audit history of a change
func (s *BaseStorage) Transitions(ctx context.Context, changeID string) ([]*types.ChangeTransition, error) {
	query := `
        SELECT change_id, from_status, to_status, actor, note, occurred_at
        FROM change_transitions
        WHERE change_id = ?
        ORDER BY occurred_at, id`

	rows, err := s.QueryContext(ctx, query, changeID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*types.ChangeTransition
	for rows.Next() {
		t := &types.ChangeTransition{}
		var from, to string
		if err := rows.Scan(&t.ChangeID, &from, &to, &t.Actor, &t.Note, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.FromStatus = types.ChangeStatus(from)
		t.ToStatus = types.ChangeStatus(to)
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// Report aggregates the ledger by severity, status and source
func (s *BaseStorage) Report(ctx context.Context, now time.Time) (*types.ChangeReport, error) {
	report := &types.ChangeReport{
		BySeverity:  make(map[types.Severity]int64),
		ByStatus:    make(map[types.ChangeStatus]int64),
		BySource:    make(map[string]int64),
		GeneratedAt: now,
	}

	if err := s.countGroup(ctx, "severity", func(key string, count int64) {
		report.BySeverity[types.Severity(key)] = count
		report.TotalChanges += count
	}); err != nil {
		return nil, err
	}

	if err := s.countGroup(ctx, "status", func(key string, count int64) {
		report.ByStatus[types.ChangeStatus(key)] = count
		if !types.ChangeStatus(key).IsTerminal() {
			report.PendingChanges += count
		} else {
			report.ResolvedChanges += count
		}
	}); err != nil {
		return nil, err
	}

	if err := s.countGroup(ctx, "source_id", func(key string, count int64) {
		report.BySource[key] = count
	}); err != nil {
		return nil, err
	}

	query := `
        SELECT COUNT(*) FROM changes
        WHERE status NOT IN (?, ?) AND sla_deadline < ?`
	row := s.db.QueryRowContext(ctx, s.rebind(query),
		string(types.StatusVerified), string(types.StatusClosed), now)
	if err := row.Scan(&report.OverdueChanges); err != nil {
		return nil, fmt.Errorf("count overdue: %w", err)
	}

	return report, nil
}

// countGroup runs a GROUP BY count over one column
func (s *BaseStorage) countGroup(ctx context.Context, column string, fn func(key string, count int64)) error {
	rows, err := s.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM changes GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan count: %w", err)
		}
		fn(key, count)
	}
	return rows.Err()
}

// queryChanges runs a change query and scans all rows
func (s *BaseStorage) queryChanges(ctx context.Context, query string, args ...any) ([]*types.ChangeRecord, error) {
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var changes []*types.ChangeRecord
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		change, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

// scanChange scans the canonical column list into a record
func scanChange(rows *sql.Rows) (*types.ChangeRecord, error) {
	var (
		change              types.ChangeRecord
		changeType          string
		severity            string
		status              string
		beforeDef, afterDef []byte
		notifiedAt          sql.NullTime
	)

	err := rows.Scan(
		&change.ChangeID,
		&change.SourceID,
		&change.AttributeID,
		&changeType,
		&beforeDef,
		&afterDef,
		&change.BeforeFingerprint,
		&change.AfterFingerprint,
		&severity,
		&change.DetectedAt,
		&change.SLADeadline,
		&status,
		&notifiedAt,
		&change.Escalated)
	if err != nil {
		return nil, fmt.Errorf("scan change: %w", err)
	}

	change.ChangeType = types.ChangeType(changeType)
	change.Severity = types.Severity(severity)
	change.Status = types.ChangeStatus(status)

	if len(beforeDef) > 0 {
		change.Before = &types.AttributeDefinition{}
		if err := json.Unmarshal(beforeDef, change.Before); err != nil {
			return nil, fmt.Errorf("unmarshal before definition: %w", err)
		}
	}
	if len(afterDef) > 0 {
		change.After = &types.AttributeDefinition{}
		if err := json.Unmarshal(afterDef, change.After); err != nil {
			return nil, fmt.Errorf("unmarshal after definition: %w", err)
		}
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		change.NotifiedAt = &t
	}

	return &change, nil
}

// placeholders returns a comma-joined list of n ? markers
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// TxFn represents a transaction function
type TxFn func(*sql.Tx) error

// WithTransaction executes operations in a transaction
func (s *BaseStorage) WithTransaction(ctx context.Context, fn TxFn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("rollback failed during panic",
					zap.Error(rbErr),
					zap.Any("panic", p))
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed",
				zap.Error(rbErr),
				zap.Error(err))
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// ExecContext executes a statement with timeout and metrics
func (s *BaseStorage) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	s.record(query, err, time.Since(start))
	return result, err
}

// QueryContext executes a query with metrics. The caller's context
// bounds the query; canceling here would invalidate row iteration.
func (s *BaseStorage) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	s.record(query, err, time.Since(start))
	return rows, err
}

// record updates counters and logs slow queries
func (s *BaseStorage) record(query string, err error, duration time.Duration) {
	atomic.AddInt64(&s.metrics.QueryCount, 1)
	if err != nil {
		atomic.AddInt64(&s.metrics.QueryErrors, 1)
		s.metrics.LastError = err
		s.metrics.LastErrorTime = time.Now()
	}
	if duration > time.Second {
		atomic.AddInt64(&s.metrics.SlowQueryCount, 1)
		s.logger.Warn("slow query detected",
			zap.String("query", query),
			zap.Duration("duration", duration))
	}
}

// Ping pings the database
func (s *BaseStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *BaseStorage) Close() error {
	return s.db.Close()
}

// Stats returns database statistics
func (s *BaseStorage) Stats() *Stats {
	dbStats := s.db.Stats()
	return &Stats{
		OpenConnections:   dbStats.OpenConnections,
		InUse:             dbStats.InUse,
		Idle:              dbStats.Idle,
		WaitCount:         dbStats.WaitCount,
		WaitDuration:      dbStats.WaitDuration,
		MaxIdleClosed:     dbStats.MaxIdleClosed,
		MaxLifetimeClosed: dbStats.MaxLifetimeClosed,
	}
}

// Unwrap exposes the raw handle for the migration runner
func (s *BaseStorage) Unwrap() *sql.DB {
	return s.db
}
