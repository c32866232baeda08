package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	completed_at TEXT NOT NULL,
	params       TEXT NOT NULL,
	p_low        REAL NOT NULL,
	p_high       REAL NOT NULL,
	samples      INTEGER NOT NULL,
	approximate  INTEGER NOT NULL,
	grid         TEXT NOT NULL,
	observed     INTEGER NOT NULL,
	warnings     TEXT NOT NULL,
	checksum     TEXT NOT NULL,
	output_uri   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_completed_at ON runs (completed_at);
`

// ErrNotFound is returned when a run id is not in the ledger.
var ErrNotFound = domain.ErrRunNotFound

// Ledger records run reports in a local SQLite database.
// It implements pipeline.ReportSink.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record inserts a report. Recording the same run id twice replaces the row.
func (l *Ledger) Record(ctx context.Context, r domain.RunReport) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	grid, err := json.Marshal(r.Grid)
	if err != nil {
		return fmt.Errorf("encode grid: %w", err)
	}
	warnings, err := json.Marshal(r.Warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, completed_at, params, p_low, p_high, samples, approximate, grid, observed, warnings, checksum, output_uri)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.CompletedAt.UTC().Format(time.RFC3339Nano), string(params),
		r.Stats.Low, r.Stats.High, r.Stats.Samples, r.Stats.Approximate,
		string(grid), r.Observed, string(warnings), r.Checksum, r.OutputURI,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}
	return nil
}

// Get returns the report of one run.
func (l *Ledger) Get(ctx context.Context, runID string) (domain.RunReport, error) {
	row := l.db.QueryRowContext(ctx, selectRuns+` WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunReport{}, fmt.Errorf("%s: %w", runID, ErrNotFound)
	}
	return r, err
}

// Recent returns up to limit reports, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.RunReport, error) {
	rows, err := l.db.QueryContext(ctx, selectRuns+` ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunReport
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

const selectRuns = `SELECT run_id, completed_at, params, p_low, p_high, samples, approximate, grid, observed, warnings, checksum, output_uri FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (domain.RunReport, error) {
	var (
		r                                 domain.RunReport
		completed, params, grid, warnings string
	)
	err := s.Scan(&r.RunID, &completed, &params, &r.Stats.Low, &r.Stats.High, &r.Stats.Samples,
		&r.Stats.Approximate, &grid, &r.Observed, &warnings, &r.Checksum, &r.OutputURI)
	if err != nil {
		return domain.RunReport{}, err
	}
	if r.CompletedAt, err = time.Parse(time.RFC3339Nano, completed); err != nil {
		return domain.RunReport{}, fmt.Errorf("run %s: completed_at: %w", r.RunID, err)
	}
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return domain.RunReport{}, fmt.Errorf("run %s: params: %w", r.RunID, err)
	}
	if err := json.Unmarshal([]byte(grid), &r.Grid); err != nil {
		return domain.RunReport{}, fmt.Errorf("run %s: grid: %w", r.RunID, err)
	}
	if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
		return domain.RunReport{}, fmt.Errorf("run %s: warnings: %w", r.RunID, err)
	}
	return r, nil
}
