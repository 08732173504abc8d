// Package journal keeps the deployment history: one row per reconciliation
// run and one per step transition, in a SQLite database under the target's
// state directory. The driver writes through it; `slipway history` reads.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a queried run does not exist.
var ErrNotFound = errors.New("run not found")

// Run is one recorded reconciliation run.
type Run struct {
	ID            string
	Target        string
	Branch        string
	Commit        string
	State         string
	FailureStep   string
	FailureReason string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Step is one recorded step transition within a run.
type Step struct {
	RunID      string
	Name       string
	State      string
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Journal wraps the history database.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path and runs pending
// migrations. Use ":memory:" for tests.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run journal migrations: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the database.
func (j *Journal) Close() error { return j.db.Close() }

// now returns the timestamp representation stored in the database.
// Timestamps are bound as RFC3339 text explicitly, never as time.Time:
// the driver's own encoding of time.Time is not stable under a plain
// string read-back, and reads go through COALESCE (which strips the
// column's TIMESTAMP decltype, so the driver returns raw stored text).
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// RunStarted records a new run entering its first state.
func (j *Journal) RunStarted(ctx context.Context, id, target, branch, state string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, target, branch, state, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, target, branch, state, now(),
	)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RunCommit records the commit a run deployed, once the sync step resolves it.
func (j *Journal) RunCommit(ctx context.Context, id, commit string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET commit_hash = ? WHERE id = ?`, commit, id,
	)
	if err != nil {
		return fmt.Errorf("record run commit: %w", err)
	}
	return nil
}

// StepStarted records a step beginning.
func (j *Journal) StepStarted(ctx context.Context, runID, step string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, step, state, started_at) VALUES (?, ?, 'running', ?)`,
		runID, step, now(),
	)
	if err != nil {
		return fmt.Errorf("record step start: %w", err)
	}
	return nil
}

// StepFinished records a step's outcome. Detail carries the failure text
// for failed steps and is empty for successes.
func (j *Journal) StepFinished(ctx context.Context, runID, step, state, detail string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE run_steps SET state = ?, detail = ?, finished_at = ? WHERE run_id = ? AND step = ?`,
		state, detail, now(), runID, step,
	)
	if err != nil {
		return fmt.Errorf("record step finish: %w", err)
	}
	return nil
}

// RunFinished records a run's terminal state.
func (j *Journal) RunFinished(ctx context.Context, id, state, failureStep, failureReason string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, failure_step = ?, failure_reason = ?, finished_at = ? WHERE id = ?`,
		state, failureStep, failureReason, now(), id,
	)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, target, branch, commit_hash, state, failure_step, failure_reason,
		        started_at, COALESCE(finished_at, '')
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run by ID.
func (j *Journal) GetRun(ctx context.Context, id string) (Run, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT id, target, branch, commit_hash, state, failure_step, failure_reason,
		        started_at, COALESCE(finished_at, '')
		 FROM runs WHERE id = ?`, id,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// RunSteps returns a run's step records in execution order.
func (j *Journal) RunSteps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, step, state, detail, started_at, COALESCE(finished_at, '')
		 FROM run_steps WHERE run_id = ? ORDER BY started_at, rowid`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var s Step
		var started, finished string
		if err := rows.Scan(&s.RunID, &s.Name, &s.State, &s.Detail, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.StartedAt = parseTime(started)
		s.FinishedAt = parseTime(finished)
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var started, finished string
	err := row.Scan(&r.ID, &r.Target, &r.Branch, &r.Commit, &r.State,
		&r.FailureStep, &r.FailureReason, &started, &finished)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	return r, nil
}

// parseTime reads the RFC3339 text written by now. The extra layouts
// accept databases written before timestamps were stored as text. An
// empty or unparseable value yields the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
