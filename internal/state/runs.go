package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
)

// RunStatus is the state of a produce run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// InstanceStatus is the state of one producer instance within a run.
type InstanceStatus string

const (
	InstanceStatusPending InstanceStatus = "pending"
	InstanceStatusRunning InstanceStatus = "running"
	InstanceStatusSuccess InstanceStatus = "success"
	InstanceStatusFailed  InstanceStatus = "failed"
	InstanceStatusSkipped InstanceStatus = "skipped"
	InstanceStatusCached  InstanceStatus = "cached"
)

// Run is one invocation of produce.
type Run struct {
	ID          string
	Targets     []string
	Datasets    []string
	Mode        string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	CacheHits   int
	Error       string
}

// InstanceRun records the execution of one instance.
type InstanceRun struct {
	ID            string
	RunID         string
	Product       string
	Producer      string
	Status        InstanceStatus
	CacheKey      string
	StartedAt     time.Time
	CompletedAt   *time.Time
	ExecutionTime time.Duration
	Cached        bool
	Error         string
}

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// CreateRun starts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, targets, datasets []string, mode string) (*Run, error) {
	if s.db == nil {
		return nil, errNotOpened
	}

	run := &Run{
		ID:        generateID(),
		Targets:   targets,
		Datasets:  datasets,
		Mode:      mode,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	tj, err := gojson.Marshal(targets)
	if err != nil {
		return nil, err
	}
	dj, err := gojson.Marshal(datasets)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, targets, datasets, mode, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(tj), string(dj), run.Mode, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run as finished with the given status.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, cacheHits int, errMsg string) error {
	if s.db == nil {
		return errNotOpened
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, cache_hits = ?, error = ? WHERE id = ?`,
		status, time.Now().UTC(), cacheHits, nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, targets, datasets, mode, status, started_at, completed_at, cache_hits, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		targets, datasets string
		completedAt       sql.NullTime
		errMsg            sql.NullString
	)
	if err := row.Scan(&run.ID, &targets, &datasets, &run.Mode, &run.Status,
		&run.StartedAt, &completedAt, &run.CacheHits, &errMsg); err != nil {
		return nil, err
	}
	if err := gojson.Unmarshal([]byte(targets), &run.Targets); err != nil {
		return nil, fmt.Errorf("run %s has malformed targets: %w", run.ID, err)
	}
	if datasets != "" {
		if err := gojson.Unmarshal([]byte(datasets), &run.Datasets); err != nil {
			return nil, fmt.Errorf("run %s has malformed datasets: %w", run.ID, err)
		}
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordInstanceRun inserts an instance run. The ID and start time are
// filled in when empty.
func (s *SQLiteStore) RecordInstanceRun(ctx context.Context, ir *InstanceRun) error {
	if s.db == nil {
		return errNotOpened
	}
	if ir.ID == "" {
		ir.ID = generateID()
	}
	if ir.StartedAt.IsZero() {
		ir.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instance_runs
		 (id, run_id, product, producer, status, cache_key, started_at, completed_at, execution_ms, cached, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ir.ID, ir.RunID, ir.Product, ir.Producer, ir.Status, ir.CacheKey, ir.StartedAt,
		ir.CompletedAt, ir.ExecutionTime.Milliseconds(), ir.Cached, nullString(ir.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record instance run: %w", err)
	}
	return nil
}

// UpdateInstanceRun finishes an instance run.
func (s *SQLiteStore) UpdateInstanceRun(ctx context.Context, id string, status InstanceStatus, elapsed time.Duration, cached bool, errMsg string) error {
	if s.db == nil {
		return errNotOpened
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE instance_runs SET status = ?, completed_at = ?, execution_ms = ?, cached = ?, error = ? WHERE id = ?`,
		status, time.Now().UTC(), elapsed.Milliseconds(), cached, nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("instance run not found: %s", id)
	}
	return nil
}

// ListInstanceRuns returns the instances of a run in start order.
func (s *SQLiteStore) ListInstanceRuns(ctx context.Context, runID string) ([]*InstanceRun, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, product, producer, status, cache_key, started_at, completed_at, execution_ms, cached, error
		 FROM instance_runs WHERE run_id = ? ORDER BY started_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instance runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*InstanceRun
	for rows.Next() {
		ir := &InstanceRun{}
		var (
			completedAt sql.NullTime
			ms          int64
			errMsg      sql.NullString
		)
		if err := rows.Scan(&ir.ID, &ir.RunID, &ir.Product, &ir.Producer, &ir.Status, &ir.CacheKey,
			&ir.StartedAt, &completedAt, &ms, &ir.Cached, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan instance run: %w", err)
		}
		if completedAt.Valid {
			ir.CompletedAt = &completedAt.Time
		}
		ir.ExecutionTime = time.Duration(ms) * time.Millisecond
		if errMsg.Valid {
			ir.Error = errMsg.String
		}
		out = append(out, ir)
	}
	return out, rows.Err()
}
