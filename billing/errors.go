/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Collaborator clients and the orchestrator wrap these with context.

ERROR CLASSES:
  1. Data quality   - malformed entries, dropped with a warning (never returned)
  2. Resolution     - directory miss, fatal for the whole run; a directory
                      that cannot be reached aborts the run without being fatal
  3. Cross-day      - entry spans midnight, fatal for the whole run
  4. Submission     - one unit failed to submit, recorded and isolated
  5. Company context - switching the active company failed, fatal for the batch

USAGE:
    if errors.Is(err, billing.ErrCrossDayEntry) {
        // fix the entry in the time tracker and re-run
    }

SEE ALSO:
  - enrich.go: Returns ResolutionError
  - aggregate.go: Returns CrossDayError
  - invoice/orchestrator.go: Records SubmissionError, CompanyContextError
*/
package billing

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned by directories for any unknown ref.
	ErrNotFound = errors.New("not found")

	ErrProjectNotFound  = errors.New("project not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrCompanyNotFound  = errors.New("company not found")

	// ErrCrossDayEntry is returned when an entry starts and stops on
	// different calendar days. Such entries must be split at the source.
	ErrCrossDayEntry = errors.New("time entry spans more than one day")

	// ErrConflictingFlags is returned when a customer asks for both
	// invoice layouts at once.
	ErrConflictingFlags = errors.New("conflicting billing flags")

	// ErrInvalidRange is returned when a date range ends before it starts.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrSubmissionFailed marks a unit whose invoice could not be created.
	ErrSubmissionFailed = errors.New("invoice submission failed")

	// ErrBookingFailed marks an invoice that was created but not booked.
	ErrBookingFailed = errors.New("invoice booking failed")

	// ErrCompanySwitch is returned when the invoicing system refused to
	// change (or restore) the active company.
	ErrCompanySwitch = errors.New("company context switch failed")

	// ErrRunNotFound is returned by run stores for unknown run ids.
	ErrRunNotFound = errors.New("billing run not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ResolutionKind names what could not be resolved.
type ResolutionKind string

const (
	ResolveProject  ResolutionKind = "project"
	ResolveCustomer ResolutionKind = "customer"
	ResolveProduct  ResolutionKind = "product"
)

// ResolutionError reports a failed directory lookup for one entry. It
// matches the kind's not-found sentinel only when the directory reported
// ErrNotFound; an unreachable directory is not a miss.
type ResolutionError struct {
	Kind    ResolutionKind
	Ref     string
	EntryID EntryID
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s %q for entry %s: %v", e.Kind, e.Ref, e.EntryID, e.Err)
}

func (e *ResolutionError) Unwrap() []error {
	if !errors.Is(e.Err, ErrNotFound) {
		return []error{e.Err}
	}
	var sentinel error
	switch e.Kind {
	case ResolveProject:
		sentinel = ErrProjectNotFound
	case ResolveCustomer:
		sentinel = ErrCustomerNotFound
	default:
		sentinel = ErrProductNotFound
	}
	return []error{sentinel, e.Err}
}

// CrossDayError identifies an entry whose span crosses midnight.
type CrossDayError struct {
	EntryID EntryID
	Start   time.Time
	Stop    time.Time
}

func (e *CrossDayError) Error() string {
	return fmt.Sprintf("entry %s starts %s and stops %s",
		e.EntryID, e.Start.Format(time.DateTime), e.Stop.Format(time.DateTime))
}

func (e *CrossDayError) Unwrap() error {
	return ErrCrossDayEntry
}

// SubmissionError records a failed unit without aborting its siblings.
type SubmissionError struct {
	Unit string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit invoice for %s: %v", e.Unit, e.Err)
}

func (e *SubmissionError) Unwrap() []error {
	return []error{ErrSubmissionFailed, e.Err}
}

// BookingError records an invoice that could not be booked or sent.
type BookingError struct {
	InvoiceID string
	Unit      string
	Err       error
}

func (e *BookingError) Error() string {
	return fmt.Sprintf("book invoice %s (%s): %v", e.InvoiceID, e.Unit, e.Err)
}

func (e *BookingError) Unwrap() []error {
	return []error{ErrBookingFailed, e.Err}
}

// CompanyContextError reports a failed switch to (or back from) a company.
type CompanyContextError struct {
	Company CompanyRef
	Revert  bool
	Err     error
}

func (e *CompanyContextError) Error() string {
	op := "switch to"
	if e.Revert {
		op = "revert from"
	}
	return fmt.Sprintf("%s company %q: %v", op, e.Company, e.Err)
}

func (e *CompanyContextError) Unwrap() []error {
	return []error{ErrCompanySwitch, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsFatal returns true if the error must abort the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrCrossDayEntry) ||
		errors.Is(err, ErrConflictingFlags)
}

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrConflictingFlags)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrCompanyNotFound) ||
		errors.Is(err, ErrRunNotFound)
}
