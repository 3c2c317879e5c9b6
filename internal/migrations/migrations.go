package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add indices for run listing and iteration lookups",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_runs_name ON runs(name);
			CREATE INDEX IF NOT EXISTS idx_iterations_errors ON iterations(run_id, error_message);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_runs_name;
			DROP INDEX IF EXISTS idx_iterations_errors;
		`,
	},
	{
		Version: 2,
		Name:    "Add threshold_results table",
		Up: `
			CREATE TABLE IF NOT EXISTS threshold_results (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id INTEGER NOT NULL,
				expression TEXT NOT NULL,
				passed INTEGER NOT NULL,
				error_message TEXT,
				FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_threshold_results_run_id ON threshold_results(run_id);
		`,
		Down: `
			DROP TABLE IF EXISTS threshold_results;
		`,
	},
	{
		Version: 3,
		Name:    "Add request_stats table",
		Up: `
			CREATE TABLE IF NOT EXISTS request_stats (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id INTEGER NOT NULL,
				request TEXT NOT NULL,
				method TEXT NOT NULL,
				total_calls INTEGER NOT NULL DEFAULT 0,
				success_count INTEGER NOT NULL DEFAULT 0,
				error_count INTEGER NOT NULL DEFAULT 0,
				network_errors INTEGER NOT NULL DEFAULT 0,
				avg_duration_ms REAL NOT NULL DEFAULT 0,
				min_duration_ms INTEGER NOT NULL DEFAULT 0,
				max_duration_ms INTEGER NOT NULL DEFAULT 0,
				p95_duration_ms INTEGER NOT NULL DEFAULT 0,
				total_req_size INTEGER NOT NULL DEFAULT 0,
				total_resp_size INTEGER NOT NULL DEFAULT 0,
				status_codes TEXT NOT NULL DEFAULT '{}',
				FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_request_stats_run_id ON request_stats(run_id);
		`,
		Down: `
			DROP TABLE IF EXISTS request_stats;
		`,
	},
}

// InitSchema creates the tables every run needs
// This must be called before running migrations to ensure all tables exist
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		base_url TEXT NOT NULL,
		vus INTEGER NOT NULL DEFAULT 1,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		iterations_started INTEGER DEFAULT 0,
		iterations_completed INTEGER DEFAULT 0,
		iteration_errors INTEGER DEFAULT 0,
		checks_passed INTEGER DEFAULT 0,
		checks_failed INTEGER DEFAULT 0,
		avg_duration_ms REAL DEFAULT 0,
		min_duration_ms INTEGER DEFAULT 0,
		max_duration_ms INTEGER DEFAULT 0,
		p50_duration_ms INTEGER DEFAULT 0,
		p95_duration_ms INTEGER DEFAULT 0,
		p99_duration_ms INTEGER DEFAULT 0,
		http_reqs INTEGER DEFAULT 0,
		http_req_p95_ms INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE TABLE IF NOT EXISTS iterations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		vu INTEGER NOT NULL,
		sequence_num INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		requests INTEGER DEFAULT 0,
		checks_passed INTEGER DEFAULT 0,
		checks_failed INTEGER DEFAULT 0,
		error_message TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_iterations_run_id ON iterations(run_id);
	CREATE INDEX IF NOT EXISTS idx_iterations_elapsed ON iterations(run_id, elapsed_ms);

	CREATE TABLE IF NOT EXISTS check_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		group_path TEXT NOT NULL,
		name TEXT NOT NULL,
		passes INTEGER NOT NULL DEFAULT 0,
		fails INTEGER NOT NULL DEFAULT 0,
		last_detail TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_check_results_run_id ON check_results(run_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Initialize schema first to ensure all tables exist
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}
		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
