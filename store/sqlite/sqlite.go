/*
Package sqlite provides a SQLite-backed run ledger.

PURPOSE:
  Implements billing.RunStore on SQLite so that every billing run, and
  what happened to each of its units, survives the process. The ledger
  is what the API and `billctl runs` read.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on runs or run_outcomes
  - No DELETE statements on runs or run_outcomes
  - A run and its outcomes are written in one transaction

KEY TABLES:
  runs:         One row per finished pipeline invocation
  run_outcomes: One row per billing unit of a run, in submission order

INDEXES:
  - idx_runs_started_at:  Listing newest first
  - idx_runs_fingerprint: Finding earlier runs over the same work

WAL MODE:
  SQLite is opened with WAL so the API can list runs while a run is
  being written.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - billing/store.go: RunStore interface
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/billing-engine/billing"
)

// Store implements billing.RunStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ billing.RunStore = (*Store)(nil)

// New opens the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		range_from TEXT NOT NULL,
		range_to TEXT NOT NULL,
		dry_run BOOLEAN NOT NULL DEFAULT FALSE,
		entries INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at
		ON runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_fingerprint
		ON runs(fingerprint);

	CREATE TABLE IF NOT EXISTS run_outcomes (
		run_id TEXT NOT NULL REFERENCES runs(id),
		position INTEGER NOT NULL,
		unit TEXT NOT NULL,
		customer_ref TEXT NOT NULL,
		company_ref TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		invoice_id TEXT,
		hours TEXT NOT NULL DEFAULT '0',
		error TEXT,
		invoice_number TEXT,
		invoice_date TEXT,
		due_date TEXT,
		net TEXT,
		tax TEXT,
		gross TEXT,
		PRIMARY KEY (run_id, position)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RUN STORE (billing.RunStore interface)
// =============================================================================

// AppendRun writes a run and its outcomes atomically.
func (s *Store) AppendRun(ctx context.Context, run billing.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, kind, fingerprint, range_from, range_to, dry_run, entries, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Kind),
		run.Fingerprint,
		formatTime(run.Range.From),
		formatTime(run.Range.To),
		run.DryRun,
		run.Entries,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("run %s already recorded", run.ID)
		}
		return fmt.Errorf("failed to append run: %w", err)
	}

	for i, o := range run.Outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_outcomes (
				run_id, position, unit, customer_ref, company_ref, status, invoice_id, hours, error,
				invoice_number, invoice_date, due_date, net, tax, gross
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID, i, o.Unit, string(o.Customer), string(o.Company), string(o.Status),
			nullString(o.InvoiceID), o.Hours, nullString(o.Error),
			nullString(o.InvoiceNumber), nullString(o.InvoiceDate), nullString(o.DueDate),
			nullString(o.Net), nullString(o.Tax), nullString(o.Gross),
		)
		if err != nil {
			return fmt.Errorf("failed to append outcome %d of run %s: %w", i, run.ID, err)
		}
	}

	return tx.Commit()
}

// LoadRun returns one run with its outcomes.
func (s *Store) LoadRun(ctx context.Context, id string) (billing.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs, err := s.queryRuns(ctx, runColumns+" FROM runs WHERE id = ?", id)
	if err != nil {
		return billing.Run{}, err
	}
	if len(runs) == 0 {
		return billing.Run{}, fmt.Errorf("%w: %s", billing.ErrRunNotFound, id)
	}
	return runs[0], nil
}

// ListRuns returns runs newest first, at most limit (0 = all).
func (s *Store) ListRuns(ctx context.Context, limit int) ([]billing.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := runColumns + " FROM runs ORDER BY started_at DESC, id"
	if limit > 0 {
		return s.queryRuns(ctx, query+" LIMIT ?", limit)
	}
	return s.queryRuns(ctx, query)
}

// RunsByFingerprint returns runs over the same work, newest first.
func (s *Store) RunsByFingerprint(ctx context.Context, fingerprint string) ([]billing.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRuns(ctx, runColumns+" FROM runs WHERE fingerprint = ? ORDER BY started_at DESC, id", fingerprint)
}

const runColumns = `SELECT id, kind, fingerprint, range_from, range_to, dry_run, entries, started_at, finished_at`

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]billing.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	var runs []billing.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// outcomes are loaded after the run cursor is closed; the in-memory
	// database only has one connection
	for i := range runs {
		outcomes, err := s.outcomes(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Outcomes = outcomes
	}
	return runs, nil
}

func scanRun(rows *sql.Rows) (billing.Run, error) {
	var (
		run                   billing.Run
		kind                  string
		from, to              string
		startedAt, finishedAt string
	)
	err := rows.Scan(&run.ID, &kind, &run.Fingerprint, &from, &to, &run.DryRun, &run.Entries, &startedAt, &finishedAt)
	if err != nil {
		return run, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Kind = billing.RunKind(kind)
	run.Range.From = parseTime(from)
	run.Range.To = parseTime(to)
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)
	return run, nil
}

func (s *Store) outcomes(ctx context.Context, runID string) ([]billing.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unit, customer_ref, company_ref, status, invoice_id, hours, error,
			invoice_number, invoice_date, due_date, net, tax, gross
		FROM run_outcomes
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []billing.Outcome
	for rows.Next() {
		var (
			o                         billing.Outcome
			customer, company, status string
			invoiceID, errText        sql.NullString
			number, date, due         sql.NullString
			net, tax, gross           sql.NullString
		)
		err := rows.Scan(&o.Unit, &customer, &company, &status, &invoiceID, &o.Hours, &errText,
			&number, &date, &due, &net, &tax, &gross)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Customer = billing.CustomerRef(customer)
		o.Company = billing.CompanyRef(company)
		o.Status = billing.OutcomeStatus(status)
		o.InvoiceID = invoiceID.String
		o.Error = errText.String
		o.InvoiceNumber, o.InvoiceDate, o.DueDate = number.String, date.String, due.String
		o.Net, o.Tax, o.Gross = net.String, tax.String, gross.String
		out = append(out, o)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint
}
