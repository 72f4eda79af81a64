// Package history keeps finished run reports in SQLite.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"whm-backup/internal/backup"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a run is not in the store.
var ErrNotFound = errors.New("run not found")

// Store persists run reports.
type Store struct {
	db *sql.DB
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	Kind        backup.RunKind `json:"kind" yaml:"kind"`
	Host        string         `json:"host" yaml:"host"`
	DryRun      bool           `json:"dry_run" yaml:"dry_run"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time      `json:"finished_at" yaml:"finished_at"`
	Mode        string         `json:"mode" yaml:"mode"`
	Succeeded   bool           `json:"succeeded" yaml:"succeeded"`
	ProjectedMB float64        `json:"projected_mb" yaml:"projected_mb"`
	ActualMB    float64        `json:"actual_mb" yaml:"actual_mb"`
	Summary     string         `json:"summary" yaml:"summary"`
}

// AccountRun is one account's outcome in a past run.
type AccountRun struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	AccountID   string         `json:"account_id" yaml:"account_id"`
	Outcome     backup.Outcome `json:"outcome" yaml:"outcome"`
	State       backup.State   `json:"state" yaml:"state"`
	EstimatedMB float64        `json:"estimated_mb" yaml:"estimated_mb"`
	ActualMB    float64        `json:"actual_mb" yaml:"actual_mb"`
	Archive     string         `json:"archive,omitempty" yaml:"archive,omitempty"`
	Deleted     int            `json:"deleted" yaml:"deleted"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	FinishedAt  time.Time      `json:"finished_at" yaml:"finished_at"`
}

// Open opens the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Name implements backup.ReportSink.
func (s *Store) Name() string { return "history" }

// Deliver implements backup.ReportSink.
func (s *Store) Deliver(ctx context.Context, report *backup.RunReport) error {
	return s.Save(ctx, report)
}

// Save stores report, replacing an earlier copy with the same run ID.
func (s *Store) Save(ctx context.Context, report *backup.RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE run_id = ?`, report.RunID); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, kind, host, dry_run, started_at, finished_at, mode, succeeded, projected_mb, actual_mb, summary, error, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, string(report.Kind), report.Host, report.DryRun,
		report.StartedAt.UTC(), report.FinishedAt.UTC(), string(report.Plan.Mode),
		report.Succeeded(), report.ProjectedMB, report.ActualMB, report.Summary(), report.Error,
		string(payload),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results
			(run_id, account_id, outcome, state, estimated_mb, actual_mb, archive, deleted, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, res := range report.Results {
		archive := ""
		if res.Remote != nil {
			archive = res.Remote.Name
		}
		if _, err := stmt.ExecContext(ctx,
			report.RunID, res.AccountID, string(res.Outcome), string(res.State),
			res.EstimatedMB, res.ActualMB, archive, len(res.Deleted), res.Error, res.FinishedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert result %s: %w", res.AccountID, err)
		}
	}

	return tx.Commit()
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, kind, host, dry_run, started_at, finished_at, mode, succeeded, projected_mb, actual_mb, summary
		FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var kind string
		if err := rows.Scan(&r.RunID, &kind, &r.Host, &r.DryRun, &r.StartedAt, &r.FinishedAt,
			&r.Mode, &r.Succeeded, &r.ProjectedMB, &r.ActualMB, &r.Summary); err != nil {
			return nil, err
		}
		r.Kind = backup.RunKind(kind)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get loads the full report of a run.
func (s *Store) Get(ctx context.Context, runID string) (*backup.RunReport, error) {
	return s.loadReport(ctx, `SELECT report FROM runs WHERE run_id = ?`, runID)
}

// Latest loads the most recent report, optionally restricted to kind.
func (s *Store) Latest(ctx context.Context, kind backup.RunKind) (*backup.RunReport, error) {
	if kind == "" {
		return s.loadReport(ctx, `SELECT report FROM runs ORDER BY started_at DESC LIMIT 1`)
	}
	return s.loadReport(ctx, `SELECT report FROM runs WHERE kind = ? ORDER BY started_at DESC LIMIT 1`, string(kind))
}

func (s *Store) loadReport(ctx context.Context, query string, args ...any) (*backup.RunReport, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}

	var report backup.RunReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

// AccountHistory lists one account's recent outcomes, newest first.
func (s *Store) AccountHistory(ctx context.Context, accountID string, limit int) ([]AccountRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, account_id, outcome, state, estimated_mb, actual_mb, archive, deleted, error, finished_at
		FROM results WHERE account_id = ? ORDER BY finished_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("account history: %w", err)
	}
	defer rows.Close()

	var out []AccountRun
	for rows.Next() {
		var r AccountRun
		var outcome, state string
		if err := rows.Scan(&r.RunID, &r.AccountID, &outcome, &state, &r.EstimatedMB, &r.ActualMB,
			&r.Archive, &r.Deleted, &r.Error, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.Outcome = backup.Outcome(outcome)
		r.State = backup.State(state)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune removes runs that started before cutoff and returns how many
// were deleted.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
