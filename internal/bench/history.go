package bench

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoRun is returned by History.Load for an unknown run id.
var ErrNoRun = errors.New("bench: no such run")

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	started    INTEGER NOT NULL,
	hostname   TEXT NOT NULL,
	go_version TEXT NOT NULL,
	threads    INTEGER NOT NULL,
	key_count  INTEGER NOT NULL,
	report     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	run_id      INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	target      TEXT NOT NULL,
	workload    TEXT NOT NULL,
	ns_per_op   REAL NOT NULL,
	ops_per_sec REAL NOT NULL,
	wrong       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_target ON results(target, workload);
`

// History stores reports in a SQLite database.
type History struct {
	db *sql.DB
}

// Run summarizes a stored report.
type Run struct {
	ID        int64     `json:"id"`
	Started   time.Time `json:"started"`
	Hostname  string    `json:"hostname"`
	GoVersion string    `json:"go_version"`
	Threads   int       `json:"threads"`
	KeyCount  int       `json:"key_count"`
	Targets   []string  `json:"targets"`
}

// TargetStat is the throughput history of one target and workload.
type TargetStat struct {
	Target   string  `json:"target"`
	Workload string  `json:"workload"`
	Runs     int     `json:"runs"`
	BestNs   float64 `json:"best_ns_per_op"`
	MeanNs   float64 `json:"mean_ns_per_op"`
}

// OpenHistory opens or creates the history database at path.
func OpenHistory(path string) (*History, error) {
	db, err := openDatabaseWithRetry(path)
	if err != nil {
		return nil, err
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)
	if err := configureDatabase(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bench: create history schema: %w", err)
	}
	return &History{db: db}, nil
}

func openDatabaseWithRetry(path string) (*sql.DB, error) {
	var lastErr error
	for retries := 0; retries < 5; retries++ {
		db, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, fmt.Errorf("bench: open history %s: %w", path, err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			lastErr = err
			time.Sleep(time.Duration(retries+1) * 10 * time.Millisecond)
			continue
		}
		return db, nil
	}
	return nil, fmt.Errorf("bench: open history %s after 5 attempts: %w", path, lastErr)
}

func configureDatabase(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("bench: %s: %w", pragma, err)
		}
	}
	return nil
}

// Record stores r and returns its run id. r.ID is set as well.
func (h *History) Record(ctx context.Context, r *Report) (int64, error) {
	var buf strings.Builder
	if err := r.WriteJSON(&buf); err != nil {
		return 0, err
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bench: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (started, hostname, go_version, threads, key_count, report)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Started.UnixNano(), r.Host.Hostname, r.Host.GoVersion,
		r.Config.threads(), r.Config.Keys.Count, buf.String())
	if err != nil {
		return 0, fmt.Errorf("bench: insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, target, workload, ns_per_op, ops_per_sec, wrong)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("bench: prepare results: %w", err)
	}
	defer stmt.Close()
	for _, res := range r.Results {
		if _, err := stmt.ExecContext(ctx, id, res.Target, string(res.Workload),
			res.NsPerOp, res.OpsPerSec, res.Wrong); err != nil {
			return 0, fmt.Errorf("bench: insert result: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bench: commit: %w", err)
	}
	r.ID = id
	return id, nil
}

// List returns the most recent runs, newest first. limit <= 0 lists all.
func (h *History) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT r.id, r.started, r.hostname, r.go_version, r.threads, r.key_count,
		        COALESCE((SELECT GROUP_CONCAT(DISTINCT target) FROM results WHERE run_id = r.id), '')
		 FROM runs r ORDER BY r.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("bench: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run     Run
			started int64
			targets string
		)
		if err := rows.Scan(&run.ID, &started, &run.Hostname, &run.GoVersion,
			&run.Threads, &run.KeyCount, &targets); err != nil {
			return nil, err
		}
		run.Started = time.Unix(0, started).UTC()
		if targets != "" {
			run.Targets = strings.Split(targets, ",")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Load returns the full report of run id.
func (h *History) Load(ctx context.Context, id int64) (*Report, error) {
	var payload string
	err := h.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNoRun, id)
	}
	if err != nil {
		return nil, fmt.Errorf("bench: load run %d: %w", id, err)
	}
	r, err := ParseReport([]byte(payload))
	if err != nil {
		return nil, err
	}
	r.ID = id
	return r, nil
}

// Summary aggregates all stored results per target and workload.
func (h *History) Summary(ctx context.Context) ([]TargetStat, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT target, workload, COUNT(*), MIN(ns_per_op), AVG(ns_per_op)
		 FROM results GROUP BY target, workload ORDER BY workload, MIN(ns_per_op)`)
	if err != nil {
		return nil, fmt.Errorf("bench: summarize: %w", err)
	}
	defer rows.Close()

	var stats []TargetStat
	for rows.Next() {
		var s TargetStat
		if err := rows.Scan(&s.Target, &s.Workload, &s.Runs, &s.BestNs, &s.MeanNs); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Delete removes run id and its results.
func (h *History) Delete(ctx context.Context, id int64) error {
	res, err := h.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("bench: delete run %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNoRun, id)
	}
	return nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}
