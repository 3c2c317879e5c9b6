package stresstest

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/studiowebux/taskload/internal/analytics"
	"github.com/studiowebux/taskload/internal/migrations"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

// Manager handles run persistence
type Manager struct {
	db       *sql.DB
	requests *analytics.Store
}

// NewManager opens the SQLite database at dbPath and migrates it
func NewManager(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database only exists on the connection that created it
	db.SetMaxOpenConns(1)

	m := &Manager{db: db, requests: analytics.NewStore(db)}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return m, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

const runColumns = `
	id, name, base_url, vus, started_at, completed_at, status,
	iterations_started, iterations_completed, iteration_errors, checks_passed, checks_failed,
	COALESCE(avg_duration_ms, 0), COALESCE(min_duration_ms, 0), COALESCE(max_duration_ms, 0),
	COALESCE(p50_duration_ms, 0), COALESCE(p95_duration_ms, 0), COALESCE(p99_duration_ms, 0),
	COALESCE(http_reqs, 0), COALESCE(http_req_p95_ms, 0)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.Name, &run.BaseURL, &run.VUs, &run.StartedAt, &completedAt, &run.Status,
		&run.IterationsStarted, &run.IterationsCompleted, &run.IterationErrors, &run.ChecksPassed, &run.ChecksFailed,
		&run.AvgDurationMs, &run.MinDurationMs, &run.MaxDurationMs,
		&run.P50DurationMs, &run.P95DurationMs, &run.P99DurationMs,
		&run.HTTPRequests, &run.HTTPReqP95Ms)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// CreateRun creates a new run record
func (m *Manager) CreateRun(run *Run) error {
	result, err := m.db.Exec(`
		INSERT INTO runs (name, base_url, vus, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, run.Name, run.BaseURL, run.VUs, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateRun updates a run record
func (m *Manager) UpdateRun(run *Run) error {
	_, err := m.db.Exec(`
		UPDATE runs
		SET completed_at = ?, status = ?, iterations_started = ?, iterations_completed = ?,
		    iteration_errors = ?, checks_passed = ?, checks_failed = ?,
		    avg_duration_ms = ?, min_duration_ms = ?, max_duration_ms = ?,
		    p50_duration_ms = ?, p95_duration_ms = ?, p99_duration_ms = ?,
		    http_reqs = ?, http_req_p95_ms = ?
		WHERE id = ?
	`, run.CompletedAt, run.Status, run.IterationsStarted, run.IterationsCompleted,
		run.IterationErrors, run.ChecksPassed, run.ChecksFailed,
		run.AvgDurationMs, run.MinDurationMs, run.MaxDurationMs,
		run.P50DurationMs, run.P95DurationMs, run.P99DurationMs,
		run.HTTPRequests, run.HTTPReqP95Ms, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(id int64) (*Run, error) {
	run, err := scanRun(m.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRunDetails retrieves a run with its check aggregates and thresholds
func (m *Manager) GetRunDetails(id int64) (*Run, error) {
	run, err := m.GetRun(id)
	if err != nil {
		return nil, err
	}
	if run.Checks, err = m.GetChecks(id); err != nil {
		return nil, err
	}
	if run.Thresholds, err = m.GetThresholds(id); err != nil {
		return nil, err
	}
	if run.Requests, err = m.GetRequestStats(id); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (m *Manager) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun deletes a run and everything recorded for it
func (m *Manager) DeleteRun(id int64) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"iterations", "check_results", "threshold_results", "request_stats"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	result, err := tx.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return tx.Commit()
}

// SaveIterationsBatch saves multiple iteration metrics in a single transaction
func (m *Manager) SaveIterationsBatch(metrics []*IterationMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO iterations
		(run_id, vu, sequence_num, timestamp, elapsed_ms, duration_ms, requests, checks_passed, checks_failed, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, metric := range metrics {
		var errorMsg sql.NullString
		if metric.ErrorMessage != "" {
			errorMsg = sql.NullString{String: metric.ErrorMessage, Valid: true}
		}
		_, err := stmt.Exec(metric.RunID, metric.VU, metric.SequenceNum, metric.Timestamp, metric.ElapsedMs,
			metric.DurationMs, metric.Requests, metric.ChecksPassed, metric.ChecksFailed, errorMsg)
		if err != nil {
			return fmt.Errorf("failed to insert iteration: %w", err)
		}
	}

	return tx.Commit()
}

// GetIterations retrieves all iteration metrics for a run in elapsed order
func (m *Manager) GetIterations(runID int64) ([]*IterationMetric, error) {
	rows, err := m.db.Query(`
		SELECT id, run_id, vu, sequence_num, timestamp, elapsed_ms, duration_ms, requests,
		       checks_passed, checks_failed, COALESCE(error_message, '')
		FROM iterations
		WHERE run_id = ?
		ORDER BY elapsed_ms, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []*IterationMetric
	for rows.Next() {
		metric := &IterationMetric{}
		err := rows.Scan(&metric.ID, &metric.RunID, &metric.VU, &metric.SequenceNum, &metric.Timestamp,
			&metric.ElapsedMs, &metric.DurationMs, &metric.Requests,
			&metric.ChecksPassed, &metric.ChecksFailed, &metric.ErrorMessage)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, metric)
	}
	return metrics, rows.Err()
}

// SaveChecks replaces the check aggregates of a run
func (m *Manager) SaveChecks(runID int64, checks []*CheckAggregate) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM check_results WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to clear checks: %w", err)
	}
	for _, c := range checks {
		_, err := tx.Exec(`
			INSERT INTO check_results (run_id, group_path, name, passes, fails, last_detail)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, c.Group, c.Name, c.Passes, c.Fails, c.LastDetail)
		if err != nil {
			return fmt.Errorf("failed to insert check: %w", err)
		}
	}
	return tx.Commit()
}

// GetChecks returns the check aggregates of a run in insertion order
func (m *Manager) GetChecks(runID int64) ([]*CheckAggregate, error) {
	rows, err := m.db.Query(`
		SELECT run_id, group_path, name, passes, fails, COALESCE(last_detail, '')
		FROM check_results WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []*CheckAggregate
	for rows.Next() {
		c := &CheckAggregate{}
		if err := rows.Scan(&c.RunID, &c.Group, &c.Name, &c.Passes, &c.Fails, &c.LastDetail); err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// SaveThresholds replaces the threshold results of a run
func (m *Manager) SaveThresholds(runID int64, results []*ThresholdResult) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM threshold_results WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to clear thresholds: %w", err)
	}
	for _, r := range results {
		_, err := tx.Exec(`
			INSERT INTO threshold_results (run_id, expression, passed, error_message)
			VALUES (?, ?, ?, ?)
		`, runID, r.Expression, r.Passed, r.Error)
		if err != nil {
			return fmt.Errorf("failed to insert threshold: %w", err)
		}
	}
	return tx.Commit()
}

// GetThresholds returns the threshold results of a run
func (m *Manager) GetThresholds(runID int64) ([]*ThresholdResult, error) {
	rows, err := m.db.Query(`
		SELECT run_id, expression, passed, COALESCE(error_message, '')
		FROM threshold_results WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*ThresholdResult
	for rows.Next() {
		r := &ThresholdResult{}
		if err := rows.Scan(&r.RunID, &r.Expression, &r.Passed, &r.Error); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SaveRequestStats replaces the per-request breakdown of a run
func (m *Manager) SaveRequestStats(runID int64, stats []*analytics.Stats) error {
	return m.requests.Save(runID, stats)
}

// GetRequestStats returns the per-request breakdown of a run
func (m *Manager) GetRequestStats(runID int64) ([]*analytics.Stats, error) {
	return m.requests.Load(runID)
}
