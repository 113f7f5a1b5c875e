/*
Package pipeline runs the monthly billing end to end.

PURPOSE:
  Connects the collaborators (time tracker, directory, invoicing system,
  run ledger) with the pure stages in billing/, invoice/ and timesheet/.
  Both the API and the CLI call into this package; neither knows the
  stage order.

FLOW:
  Refresh every collaborator that keeps lookup data (billing.Refresher)
     │
  EntrySource.TimeEntries
     │ FilterEntries ─ SanitizeEntries ─ Enricher (fresh Cache) ─ Aggregate
     ▼
  FilterCustomers ─ Units
     │
     ├── Invoice: Orchestrator.Run ─ MarkBilled ─ RunStore.AppendRun
     └── Sheets:  timesheet.Generate per unit ─ RunStore.AppendRun

RUNS:
  One run at a time per Pipeline. Collaborators keep lookup data for the
  length of a run and the invoicing account has one active company, so
  a second run waits for the first.

IDEMPOTENCY:
  Every run carries a fingerprint over the range and the entry keys it
  billed. A second non-dry run over the same work is logged as a
  warning; tagging entries as billed (SetBilled) is what keeps them out
  of the next run.

SEE ALSO:
  - invoice/orchestrator.go: Submission and booking
  - billing/store.go: Collaborator interfaces
*/
package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/invoice"
	"github.com/warp/billing-engine/timesheet"
	"github.com/zeebo/blake3"
)

// Pipeline holds the collaborators of a billing run. Lookup data cached by
// collaborators is refreshed at the start of every run.
type Pipeline struct {
	Source    billing.EntrySource
	Directory billing.Directory
	Companies billing.CompanyDirectory
	Invoicing invoice.Invoicing

	// Runs is optional; without it runs are not recorded.
	Runs billing.RunStore

	// Renderer renders attached timesheets; nil means PDF.
	Renderer timesheet.Renderer

	Logger      *slog.Logger
	Concurrency int

	// Now is the clock, for tests.
	Now func() time.Time

	mu sync.Mutex
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// =============================================================================
// STAGES
// =============================================================================

// refresh reloads the lookup data of every collaborator that keeps some.
// A collaborator serving several roles is refreshed once.
func (p *Pipeline) refresh(ctx context.Context) error {
	seen := make(map[billing.Refresher]bool)
	for _, c := range []any{p.Source, p.Directory, p.Companies, p.Invoicing} {
		r, ok := c.(billing.Refresher)
		if !ok || seen[r] {
			continue
		}
		seen[r] = true
		if err := r.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh %T: %w", r, err)
		}
	}
	return nil
}

// Units fetches the range and runs every pure stage. It returns the
// billing units and the number of entries that went into them.
func (p *Pipeline) Units(ctx context.Context, cfg billing.Config) ([]billing.Unit, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.refresh(ctx); err != nil {
		return nil, 0, err
	}
	return p.units(ctx, cfg)
}

func (p *Pipeline) units(ctx context.Context, cfg billing.Config) ([]billing.Unit, int, error) {
	log := p.logger()

	entries, err := p.Source.TimeEntries(ctx, cfg.Range)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch time entries: %w", err)
	}
	fetched := len(entries)

	entries = billing.FilterEntries(entries, cfg.LabelWhitelist, cfg.EffectiveLabelBlacklist(), log)
	entries = billing.SanitizeEntries(entries)

	cache := billing.NewCache()
	enriched, err := billing.NewEnricher(p.Directory, cache, log).Enrich(ctx, entries)
	if err != nil {
		return nil, 0, err
	}

	aggs, err := billing.Aggregate(enriched, cfg.Location, log)
	if err != nil {
		return nil, 0, err
	}
	aggs = billing.FilterCustomers(aggs, cfg.CustomerWhitelist, cfg.CustomerBlacklist)
	units := billing.Units(aggs)

	log.Info("time entries aggregated",
		"range", cfg.Range.String(),
		"fetched", fetched,
		"billable", len(entries),
		"customers", len(aggs),
		"units", len(units),
		"directory_lookups", cache.Misses(),
	)
	return units, countEntries(units), nil
}

func countEntries(units []billing.Unit) int {
	n := 0
	for _, u := range units {
		n += len(u.Entries)
	}
	return n
}

// =============================================================================
// INVOICES
// =============================================================================

// InvoiceRun is the result of Invoice.
type InvoiceRun struct {
	Run    billing.Run
	Report *invoice.Report

	// Billed is the number of entries tagged as billed.
	Billed int
}

// Invoice creates (and, per customer flags, books and sends) one invoice
// per billing unit. Per-unit failures are in the report; the error is
// only set when the run could not start or was aborted before submitting
// anything.
func (p *Pipeline) Invoice(ctx context.Context, cfg billing.Config) (*InvoiceRun, error) {
	started := p.now()
	runID := uuid.NewString()
	log := p.logger().With("run_id", runID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	units, entries, err := p.units(ctx, cfg)
	if err != nil {
		return nil, err
	}

	orch := &invoice.Orchestrator{
		Invoicing:   p.Invoicing,
		Companies:   p.Companies,
		Attacher:    &SheetAttacher{Companies: p.Companies, Renderer: p.Renderer},
		Logger:      log,
		Concurrency: p.Concurrency,
	}
	report, err := orch.Run(ctx, units, cfg)
	if err != nil {
		return nil, err
	}
	for _, cerr := range report.ContextErrors {
		log.Error("company context not restored", "error", cerr)
	}

	result := &InvoiceRun{Report: report}
	if cfg.SetBilled && !cfg.DryRun {
		ids := invoicedEntries(report)
		if err := p.Source.MarkBilled(ctx, ids); err != nil {
			// invoices exist at this point; report instead of failing the run
			log.Error("cannot tag entries as billed", "entries", len(ids), "error", err)
		} else {
			result.Billed = len(ids)
		}
	}

	result.Run = billing.Run{
		ID:          runID,
		Kind:        billing.RunInvoices,
		Fingerprint: Fingerprint(cfg.Range, units),
		Range:       cfg.Range,
		DryRun:      cfg.DryRun,
		StartedAt:   started,
		FinishedAt:  p.now(),
		Entries:     entries,
		Outcomes:    outcomes(report),
	}
	p.record(ctx, log, result.Run)
	return result, nil
}

// invoicedEntries lists the entries of every unit that got an invoice,
// each id once.
func invoicedEntries(report *invoice.Report) []billing.EntryID {
	seen := make(map[billing.EntryID]struct{})
	var ids []billing.EntryID
	for _, res := range report.Results {
		if res.Invoice == nil {
			continue
		}
		for _, e := range res.Unit.Entries {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func outcomes(report *invoice.Report) []billing.Outcome {
	out := make([]billing.Outcome, 0, len(report.Results))
	for _, res := range report.Results {
		o := billing.Outcome{
			Unit:     res.Unit.Name(),
			Customer: res.Unit.Customer.Ref,
			Company:  res.Company,
			Status:   res.Status,
			Hours:    res.Request.Hours().String(),
		}
		if inv := res.Invoice; inv != nil {
			o.InvoiceID = inv.ID
			o.InvoiceNumber = inv.Number
			o.InvoiceDate = formatDate(inv.Date)
			o.DueDate = formatDate(inv.DueDate)
			o.Net, o.Tax, o.Gross = inv.Net.StringFixed(2), inv.Tax.StringFixed(2), inv.Gross.StringFixed(2)
		}
		if res.Err != nil {
			o.Error = res.Err.Error()
		}
		out = append(out, o)
	}
	return out
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

// =============================================================================
// SHEETS
// =============================================================================

// SheetRun is the result of Sheets.
type SheetRun struct {
	Run    billing.Run
	Sheets []timesheet.Sheet
}

// Sheets builds one timesheet per billing unit. Nothing is submitted.
func (p *Pipeline) Sheets(ctx context.Context, cfg billing.Config) (*SheetRun, error) {
	started := p.now()
	runID := uuid.NewString()
	log := p.logger().With("run_id", runID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	units, entries, err := p.units(ctx, cfg)
	if err != nil {
		return nil, err
	}

	result := &SheetRun{}
	outs := make([]billing.Outcome, 0, len(units))
	for _, unit := range units {
		provider, err := companyFor(ctx, p.Companies, unit.Customer)
		if err != nil {
			return nil, err
		}
		result.Sheets = append(result.Sheets, timesheet.Generate(unit, cfg, provider))
		outs = append(outs, billing.Outcome{
			Unit:     unit.Name(),
			Customer: unit.Customer.Ref,
			Company:  provider.Ref,
			Status:   billing.OutcomeDraft,
			Hours:    billing.RoundedHours(unit.TotalSecondsSpent).String(),
		})
	}

	result.Run = billing.Run{
		ID:          runID,
		Kind:        billing.RunSheets,
		Fingerprint: Fingerprint(cfg.Range, units),
		Range:       cfg.Range,
		DryRun:      true,
		StartedAt:   started,
		FinishedAt:  p.now(),
		Entries:     entries,
		Outcomes:    outs,
	}
	p.record(ctx, log, result.Run)
	return result, nil
}

// =============================================================================
// RUN LEDGER
// =============================================================================

func (p *Pipeline) record(ctx context.Context, log *slog.Logger, run billing.Run) {
	if p.Runs == nil {
		return
	}
	if run.Kind == billing.RunInvoices && !run.DryRun {
		earlier, err := p.Runs.RunsByFingerprint(ctx, run.Fingerprint)
		if err != nil {
			log.Warn("cannot look up earlier runs", "error", err)
		}
		for _, e := range earlier {
			if e.Kind == billing.RunInvoices && !e.DryRun {
				log.Warn("same time entries were invoiced before", "earlier_run", e.ID, "at", e.StartedAt)
				break
			}
		}
	}
	// the run already happened; recording must not depend on the caller
	if err := p.Runs.AppendRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("cannot record run", "error", err)
		return
	}
	log.Info("run recorded", "kind", run.Kind, "outcomes", len(run.Outcomes), "failed", run.Failed())
}

// Fingerprint identifies the work of a run: the range and every entry
// key in it, independent of order.
func Fingerprint(r billing.DateRange, units []billing.Unit) string {
	var keys []string
	for _, u := range units {
		for _, e := range u.Entries {
			keys = append(keys, string(e.ID)+"#"+strconv.Itoa(e.Fragment))
		}
	}
	sort.Strings(keys)

	h := blake3.New()
	h.Write([]byte(r.String()))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// companyFor returns the company that issues the customer's invoices.
func companyFor(ctx context.Context, companies billing.CompanyDirectory, c billing.Customer) (billing.Company, error) {
	if c.CompanyRef == "" {
		return companies.DefaultCompany(ctx)
	}
	return companies.Company(ctx, c.CompanyRef)
}
