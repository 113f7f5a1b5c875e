package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/warp/billing-engine/billing"
)

const defaultConcurrency = 4

// Result is the outcome of one unit.
type Result struct {
	Unit    billing.Unit
	Request Request
	Invoice *Submitted
	Company billing.CompanyRef
	Status  billing.OutcomeStatus
	Err     error
}

// Report is everything a run produced, in unit order.
type Report struct {
	Results []Result

	// ContextErrors are failed reverts to the default company.
	ContextErrors []error
}

// Failed returns the results that ended with an error.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Orchestrator submits and books invoices for a batch of units.
type Orchestrator struct {
	Invoicing Invoicing
	Companies billing.CompanyDirectory
	Attacher  Attacher // optional, used for customers with AttachTimesheet
	Logger    *slog.Logger

	// Concurrency bounds parallel submissions; 0 means 4.
	Concurrency int
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Run builds a request per unit, then submits and books them. Requests
// are all built before anything is submitted, so a layout error aborts
// the run without side effects. Per-unit failures never abort the run;
// they are reported in the unit's Result.
func (o *Orchestrator) Run(ctx context.Context, units []billing.Unit, cfg billing.Config) (*Report, error) {
	report := &Report{Results: make([]Result, len(units))}
	for i, unit := range units {
		req, err := BuildRequest(unit, cfg)
		if err != nil {
			return nil, err
		}
		report.Results[i] = Result{Unit: unit, Request: req, Company: unit.Customer.CompanyRef, Status: billing.OutcomeDraft}
	}
	if cfg.DryRun {
		o.logger().Info("dry run, nothing submitted", "units", len(units))
		return report, nil
	}

	o.submitAll(ctx, cfg, report.Results)
	o.bookAll(ctx, report)
	return report, nil
}

// =============================================================================
// SUBMISSION - concurrent, isolated
// =============================================================================

func (o *Orchestrator) submitAll(ctx context.Context, cfg billing.Config, results []Result) {
	limit := o.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(res *Result) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			o.submit(ctx, cfg, res)
		}(&results[i])
	}
	wg.Wait()
}

func (o *Orchestrator) submit(ctx context.Context, cfg billing.Config, res *Result) {
	log := o.logger().With("unit", res.Request.Unit, "customer", res.Unit.Customer.Ref)
	defer func() {
		if p := recover(); p != nil {
			res.Status = billing.OutcomeFailed
			res.Err = &billing.SubmissionError{Unit: res.Request.Unit, Err: fmt.Errorf("panic: %v", p)}
			log.Error("invoice submission panicked", "panic", p)
		}
	}()

	if res.Unit.Customer.Flags.AttachTimesheet && o.Attacher != nil {
		attachments, err := o.Attacher.Attach(ctx, res.Unit, cfg)
		if err != nil {
			res.Status = billing.OutcomeFailed
			res.Err = &billing.SubmissionError{Unit: res.Request.Unit, Err: fmt.Errorf("attach timesheet: %w", err)}
			log.Error("cannot attach timesheet", "error", err)
			return
		}
		res.Request.Attachments = append(res.Request.Attachments, attachments...)
	}

	submitted, err := o.Invoicing.CreateInvoice(ctx, res.Request)
	if err != nil {
		res.Status = billing.OutcomeFailed
		res.Err = &billing.SubmissionError{Unit: res.Request.Unit, Err: err}
		log.Error("invoice submission failed", "error", err)
		return
	}
	res.Invoice = &submitted
	res.Status = billing.OutcomeCreated
	log.Info("invoice created", "invoice_id", submitted.ID, "hours", res.Request.Hours().String())
}

// =============================================================================
// BOOKING - one company at a time, sequential
// =============================================================================

func (o *Orchestrator) bookAll(ctx context.Context, report *Report) {
	batches := make(map[billing.CompanyRef][]*Result)
	for i := range report.Results {
		res := &report.Results[i]
		if res.Status == billing.OutcomeCreated && res.Unit.Customer.Flags.BookInvoice {
			batches[res.Company] = append(batches[res.Company], res)
		}
	}
	if len(batches) == 0 {
		return
	}

	refs := make([]billing.CompanyRef, 0, len(batches))
	for ref := range batches {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	fallback, err := o.Companies.DefaultCompany(ctx)
	if err != nil {
		err = &billing.CompanyContextError{Err: err}
		for _, ref := range refs {
			failAll(batches[ref], err)
		}
		return
	}

	for _, ref := range refs {
		company := fallback
		if ref != "" && ref != fallback.Ref {
			company, err = o.Companies.Company(ctx, ref)
			if err != nil {
				failAll(batches[ref], &billing.CompanyContextError{Company: ref, Err: err})
				continue
			}
		}
		if err := o.bookBatch(ctx, company, fallback, batches[ref]); err != nil {
			report.ContextErrors = append(report.ContextErrors, err)
		}
	}
}

// bookBatch books every result within one company scope. The returned
// error is a failed revert; a failed switch is recorded on the results.
func (o *Orchestrator) bookBatch(ctx context.Context, company, fallback billing.Company, batch []*Result) (err error) {
	log := o.logger().With("company", company.Ref)
	scope, serr := AcquireCompany(ctx, o.Invoicing, company, fallback, log)
	if serr != nil {
		var cce *billing.CompanyContextError
		if errors.As(serr, &cce) && cce.Revert {
			err = serr
		}
		failAll(batch, serr)
		return err
	}
	defer func() {
		if rerr := scope.Release(ctx); rerr != nil {
			err = rerr
		}
	}()

	for _, res := range batch {
		o.book(ctx, company, res)
	}
	return nil
}

func (o *Orchestrator) book(ctx context.Context, company billing.Company, res *Result) {
	customer := res.Unit.Customer
	log := o.logger().With("unit", res.Request.Unit, "invoice_id", res.Invoice.ID, "company", company.Ref)

	var err error
	status := billing.OutcomeBooked
	if customer.Flags.SendEmail && customer.Email != "" {
		err = o.Invoicing.BookAndSend(ctx, res.Invoice.ID, mailFor(customer))
		status = billing.OutcomeSent
	} else {
		if customer.Flags.SendEmail {
			log.Warn("customer has no e-mail address, booking without sending")
		}
		err = o.Invoicing.Book(ctx, res.Invoice.ID)
	}
	if err != nil {
		res.Status = billing.OutcomeFailed
		res.Err = &billing.BookingError{InvoiceID: res.Invoice.ID, Unit: res.Request.Unit, Err: err}
		log.Error("booking failed", "error", err)
		return
	}
	res.Status = status
	log.Info("invoice booked", "status", status)
}

func mailFor(c billing.Customer) Mail {
	return Mail{
		Recipient:    c.Email,
		Subject:      billing.Translate(c.Locale, billing.TextInvoiceSubject, nil),
		Message:      billing.Translate(c.Locale, billing.TextInvoiceMessage, nil),
		LanguageCode: c.Locale.LanguageCode(),
	}
}

func failAll(batch []*Result, err error) {
	for _, res := range batch {
		res.Status = billing.OutcomeFailed
		res.Err = err
	}
}
