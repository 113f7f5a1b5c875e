/*
store.go - Interfaces to the outside world

PURPOSE:
  Defines what the engine needs from its collaborators. The engine only
  ever talks to these interfaces; concrete clients live in provider/*,
  factory/ and store/*.

KEY INTERFACES:
  EntrySource:      Time tracker (fetch entries, tag entries as billed)
  Directory:        Project, customer and product lookups
  CompanyDirectory: Companies that issue invoices
  Refresher:        Collaborators holding lookup data, refreshed per run
  Catalog:          Full listing of the directory (CLI, mirror)
  RunStore:         Append-only ledger of billing runs

APPEND-ONLY CONTRACT:
  RunStore has no Update or Delete. A run is written once, after it has
  finished, together with all of its per-unit outcomes.

IMPLEMENTATIONS:
  - provider/toggl:      EntrySource
  - provider/contentful: Directory, CompanyDirectory, Refresher, Catalog
  - provider/debitoor:   Refresher (customer ids)
  - provider/lexoffice:  Refresher (contact ids)
  - factory:             Directory, CompanyDirectory, Catalog (static file),
                         File adds Refresher (re-read per run)
  - store/sqlite:        RunStore
  - billing/store:       RunStore (in-memory, for tests)

SEE ALSO:
  - enrich.go: Uses Directory through a request-scoped Cache
  - pipeline/pipeline.go: Wires everything together
*/
package billing

import (
	"context"
	"time"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// EntrySource is the time tracker.
type EntrySource interface {
	// TimeEntries returns all entries that started inside r.
	TimeEntries(ctx context.Context, r DateRange) ([]TimeEntry, error)

	// MarkBilled adds LabelBilled to the given entries.
	MarkBilled(ctx context.Context, ids []EntryID) error
}

// Directory resolves refs into records. Unknown refs return an error
// wrapping ErrNotFound.
type Directory interface {
	Project(ctx context.Context, ref ProjectRef) (Project, error)
	Customer(ctx context.Context, ref CustomerRef) (Customer, error)

	// Product returns the product billed for work on the project.
	Product(ctx context.Context, ref ProjectRef) (Product, error)
}

// CompanyDirectory lists the companies invoices can be issued by.
type CompanyDirectory interface {
	Company(ctx context.Context, ref CompanyRef) (Company, error)
	DefaultCompany(ctx context.Context) (Company, error)
}

// Refresher is implemented by collaborators that keep lookup data between
// calls. Refresh drops or reloads that data. The pipeline refreshes every
// collaborator at the start of a run; a failed refresh aborts the run.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Catalog lists every record of a directory. Customers are sorted by
// name, projects and products by ref.
type Catalog interface {
	ListCustomers(ctx context.Context) ([]Customer, error)
	ListProjects(ctx context.Context) ([]Project, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// =============================================================================
// RUN LEDGER
// =============================================================================

type RunKind string

const (
	RunInvoices RunKind = "invoices"
	RunSheets   RunKind = "sheets"
)

type OutcomeStatus string

const (
	OutcomeDraft   OutcomeStatus = "draft"   // dry run, nothing submitted
	OutcomeCreated OutcomeStatus = "created" // submitted, not booked
	OutcomeBooked  OutcomeStatus = "booked"
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is what happened to one billing unit. Invoice fields are set
// when the invoicing system accepted the invoice.
type Outcome struct {
	Unit      string
	Customer  CustomerRef
	Company   CompanyRef
	Status    OutcomeStatus
	InvoiceID string
	Hours     string // rounded hours, decimal string
	Error     string

	InvoiceNumber string
	InvoiceDate   string // YYYY-MM-DD
	DueDate       string // YYYY-MM-DD
	Net           string // decimal strings, as reported
	Tax           string
	Gross         string
}

// Run records one finished pipeline invocation.
type Run struct {
	ID          string
	Kind        RunKind
	Fingerprint string // hash over range and billed entry keys
	Range       DateRange
	DryRun      bool
	StartedAt   time.Time
	FinishedAt  time.Time
	Entries     int
	Outcomes    []Outcome
}

// Failed counts outcomes with status failed.
func (r Run) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			n++
		}
	}
	return n
}

// RunStore persists finished runs. Append-only.
type RunStore interface {
	// AppendRun writes a run and its outcomes atomically.
	AppendRun(ctx context.Context, run Run) error

	// LoadRun returns ErrRunNotFound for unknown ids.
	LoadRun(ctx context.Context, id string) (Run, error)

	// ListRuns returns runs newest first, at most limit (0 = all).
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// RunsByFingerprint returns earlier runs over the same work.
	RunsByFingerprint(ctx context.Context, fingerprint string) ([]Run, error)
}
