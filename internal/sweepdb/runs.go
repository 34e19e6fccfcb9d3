package sweepdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/banshee-data/paramsweep/internal/monitoring"
)

// ParamColumn describes one column of the per-sweep run_parameters table.
type ParamColumn struct {
	Name    string
	SQLType string // integer, real, text or blob
}

// ClaimedRun is one claimed run: its id and the full parameter row, with
// blob columns decoded back into structured values.
type ClaimedRun struct {
	ID     int64
	Params map[string]any
}

// RunStatus mirrors one run_status row. Elapsed is nil for pending,
// in-progress and failed runs.
type RunStatus struct {
	RunID      int64
	Done       bool
	InProgress bool
	Failed     bool
	Elapsed    *float64
}

// StatusCounts aggregates run_status by lifecycle state. Done counts only
// successful runs; failures are counted separately.
type StatusCounts struct {
	Pending    int
	InProgress int
	Done       int
	Failed     int
	Total      int
}

var columnNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var sqlTypes = map[string]string{
	"integer": "INTEGER",
	"real":    "REAL",
	"text":    "TEXT",
	"blob":    "BLOB",
}

// Initialize populates a freshly created store in one transaction: the
// sweep metadata, the dataset configs, the run_parameters table shaped
// from cols, every parameter row with run ids assigned densely from 0, and
// one pending run_status row per run. Initializing a store twice fails.
func (s *Store) Initialize(ctx context.Context, meta Meta, datasetConf, stage2Conf []byte, cols []ParamColumn, rows [][]any) error {
	if len(cols) == 0 {
		return fmt.Errorf("initializing store: no parameter columns")
	}
	if len(datasetConf) == 0 {
		return fmt.Errorf("initializing store: no dataset config")
	}

	columnDefs := make([]string, 0, len(cols)+1)
	columnDefs = append(columnDefs, "run_id INTEGER PRIMARY KEY")
	insertCols := make([]string, 0, len(cols)+1)
	insertCols = append(insertCols, "run_id")
	for _, col := range cols {
		if !columnNamePattern.MatchString(col.Name) {
			return fmt.Errorf("initializing store: invalid column name %q", col.Name)
		}
		sqlType, ok := sqlTypes[col.SQLType]
		if !ok {
			return fmt.Errorf("initializing store: unknown column type %q for %q", col.SQLType, col.Name)
		}
		columnDefs = append(columnDefs, fmt.Sprintf("%q %s", col.Name, sqlType))
		insertCols = append(insertCols, fmt.Sprintf("%q", col.Name))
	}

	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning initialize transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			monitoring.Logf("[store] rolling back initialize: %v", err)
		}
	}()

	createTable := fmt.Sprintf("CREATE TABLE run_parameters (\n  %s\n)", strings.Join(columnDefs, ",\n  "))
	if _, err := tx.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("creating run_parameters table: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sweep_meta (model, sweep_directory, created_at) VALUES (?, ?, ?)`,
		meta.Model, meta.SweepDirectory, meta.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting sweep metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dataset_config (json_conf) VALUES (?)`, string(datasetConf),
	); err != nil {
		return fmt.Errorf("inserting dataset config: %w", err)
	}
	if len(stage2Conf) > 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stage2_dataset_config (json_conf) VALUES (?)`, string(stage2Conf),
		); err != nil {
			return fmt.Errorf("inserting stage2 dataset config: %w", err)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(insertCols)), ", ")
	insert := fmt.Sprintf("INSERT INTO run_parameters (%s) VALUES (%s)",
		strings.Join(insertCols, ", "), placeholders)
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("preparing parameter insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if len(row) != len(cols) {
			return fmt.Errorf("parameter row %d has %d values, want %d", i, len(row), len(cols))
		}
		args := make([]any, 0, len(row)+1)
		args = append(args, int64(i))
		for j, v := range row {
			if cols[j].SQLType == "blob" {
				data, err := json.Marshal(v)
				if err != nil {
					return fmt.Errorf("encoding blob value for row %d column %q: %w", i, cols[j].Name, err)
				}
				args = append(args, data)
			} else {
				args = append(args, v)
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting parameter row %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_status (run_id, done, in_progress, elapsed, failed)
		 SELECT run_id, FALSE, FALSE, NULL, FALSE FROM run_parameters`,
	); err != nil {
		return fmt.Errorf("populating run status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing initialize: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the lowest pending run for workerID and
// returns its parameter row, or (nil, nil) when no pending run remains.
// Claims are handed out in run id order.
func (s *Store) ClaimNext(ctx context.Context, workerID string) (*ClaimedRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var run *ClaimedRun
	err := retryOnBusy(func() error {
		var err error
		run, err = s.claimNext(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if run != nil {
		s.claims[run.ID] = workerID
	}
	return run, nil
}

func (s *Store) claimNext(ctx context.Context) (*ClaimedRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			monitoring.Logf("[store] rolling back claim: %v", err)
		}
	}()

	var runID int64
	err = tx.QueryRowContext(ctx,
		`SELECT run_id FROM run_status WHERE NOT done AND NOT in_progress ORDER BY run_id LIMIT 1`,
	).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting pending run: %w", err)
	}

	// The guarded update plus the affected-row check keeps a concurrent
	// claimant from ever holding the same run.
	res, err := tx.ExecContext(ctx,
		`UPDATE run_status SET in_progress = TRUE WHERE run_id = ? AND NOT done AND NOT in_progress`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming run %d: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claiming run %d: %w", runID, err)
	}
	if n != 1 {
		return nil, fmt.Errorf("run %d was claimed concurrently", runID)
	}

	params, err := loadParams(ctx, tx, runID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim of run %d: %w", runID, err)
	}
	return &ClaimedRun{ID: runID, Params: params}, nil
}

// loadParams reads the full parameter row for runID. Blob columns are
// discovered from the live table schema and decoded from JSON, mirroring
// how Initialize wrote them.
func loadParams(ctx context.Context, tx *sql.Tx, runID int64) (map[string]any, error) {
	blobCols := make(map[string]bool)
	schema, err := tx.QueryContext(ctx, `SELECT name, type FROM pragma_table_info('run_parameters')`)
	if err != nil {
		return nil, fmt.Errorf("querying run_parameters schema: %w", err)
	}
	for schema.Next() {
		var name, colType string
		if err := schema.Scan(&name, &colType); err != nil {
			schema.Close()
			return nil, fmt.Errorf("scanning run_parameters schema: %w", err)
		}
		if strings.EqualFold(colType, "blob") {
			blobCols[name] = true
		}
	}
	if err := schema.Err(); err != nil {
		schema.Close()
		return nil, fmt.Errorf("reading run_parameters schema: %w", err)
	}
	schema.Close()

	rows, err := tx.QueryContext(ctx, `SELECT * FROM run_parameters WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying parameters for run %d: %w", runID, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading parameter columns: %w", err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("reading parameters for run %d: %w", runID, err)
		}
		return nil, fmt.Errorf("run %d has no parameter row", runID)
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scanning parameters for run %d: %w", runID, err)
	}

	params := make(map[string]any, len(columns)-1)
	for i, col := range columns {
		if col == "run_id" {
			continue
		}
		v := values[i]
		if blobCols[col] {
			data, ok := v.([]byte)
			if !ok {
				return nil, fmt.Errorf("blob column %q for run %d has unexpected type %T", col, runID, v)
			}
			var decoded any
			if err := json.Unmarshal(data, &decoded); err != nil {
				return nil, fmt.Errorf("decoding blob column %q for run %d: %w", col, runID, err)
			}
			params[col] = decoded
			continue
		}
		params[col] = v
	}
	return params, nil
}

// Complete records the outcome of a claimed run: done, with elapsed
// seconds for a success (nil for a failure) and the failed flag. Only the
// worker holding the claim may complete a run; anything else fails with
// ErrNotClaimed or ErrWrongWorker.
func (s *Store) Complete(ctx context.Context, runID int64, workerID string, elapsed *float64, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimant, held := s.claims[runID]
	if !held {
		return fmt.Errorf("completing run %d: %w", runID, ErrNotClaimed)
	}
	if claimant != workerID {
		return fmt.Errorf("completing run %d held by %s: %w", runID, claimant, ErrWrongWorker)
	}

	err := retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE run_status SET done = TRUE, in_progress = FALSE, elapsed = ?, failed = ? WHERE run_id = ? AND in_progress`,
			elapsed, failed, runID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrNotClaimed
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("completing run %d: %w", runID, err)
	}
	delete(s.claims, runID)
	return nil
}

// ReconcileOrphans forces every row still marked in progress to done and
// failed, returning how many rows it touched. It runs after all workers
// have stopped, so any such row belongs to a worker that crashed or was
// killed mid-run.
func (s *Store) ReconcileOrphans(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE run_status SET done = TRUE, failed = TRUE, in_progress = FALSE WHERE in_progress`,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reconciling orphaned runs: %w", err)
	}
	clear(s.claims)
	return n, nil
}

// FailedRuns lists the ids of all failed runs in ascending order.
func (s *Store) FailedRuns(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM run_status WHERE failed ORDER BY run_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing failed runs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning failed run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResetFailed returns every failed run to the pending state so claims can
// hand it out again, returning how many rows it touched. Callers must have
// removed those runs' working directories first; stale partial output is
// never reused.
func (s *Store) ResetFailed(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE run_status SET done = FALSE, failed = FALSE WHERE failed`,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("resetting failed runs: %w", err)
	}
	return n, nil
}

// StatusCounts aggregates run_status by lifecycle state.
func (s *Store) StatusCounts(ctx context.Context) (StatusCounts, error) {
	var c StatusCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN NOT done AND NOT in_progress THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN in_progress THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN done AND NOT failed THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN done AND failed THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM run_status
	`).Scan(&c.Pending, &c.InProgress, &c.Done, &c.Failed, &c.Total)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("counting run statuses: %w", err)
	}
	return c, nil
}

// RunStatuses returns every run_status row in run id order.
func (s *Store) RunStatuses(ctx context.Context) ([]RunStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, done, in_progress, elapsed, failed FROM run_status ORDER BY run_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing run statuses: %w", err)
	}
	defer rows.Close()

	var statuses []RunStatus
	for rows.Next() {
		var st RunStatus
		var elapsed sql.NullFloat64
		if err := rows.Scan(&st.RunID, &st.Done, &st.InProgress, &elapsed, &st.Failed); err != nil {
			return nil, fmt.Errorf("scanning run status: %w", err)
		}
		if elapsed.Valid {
			st.Elapsed = &elapsed.Float64
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}
