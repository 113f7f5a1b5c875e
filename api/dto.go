/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the billing API. Handlers convert between these and the
  billing/pipeline types; nothing here is persisted.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers around a run and what it produced

RANGE SELECTION (RunRequest), first match wins:
  1. from + to        explicit days, YYYY-MM-DD, both inclusive
  2. year + month     that calendar month
  3. otherwise        the previous calendar month

  Omitted lists and set_billed fall back to the server's configured
  defaults; an empty list ([]) clears them.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/config.go: The run configuration a RunRequest becomes
*/
package api

import (
	"fmt"
	"time"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/config"
	"github.com/warp/billing-engine/invoice"
	"github.com/warp/billing-engine/mirror"
	"github.com/warp/billing-engine/timesheet"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUESTS
// =============================================================================

// RunRequest starts an invoice or sheet run.
type RunRequest struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Year  int    `json:"year,omitempty"`
	Month int    `json:"month,omitempty"`

	DryRun    bool  `json:"dry_run"`
	SetBilled *bool `json:"set_billed,omitempty"`

	LabelWhitelist    []string `json:"label_whitelist,omitempty"`
	LabelBlacklist    []string `json:"label_blacklist,omitempty"`
	CustomerWhitelist []string `json:"customer_whitelist,omitempty"`
	CustomerBlacklist []string `json:"customer_blacklist,omitempty"`

	// HTML adds the rendered HTML to each sheet of a sheet run.
	HTML bool `json:"html,omitempty"`
}

// Config resolves the request into a validated run configuration.
func (req RunRequest) Config(now time.Time, loc *time.Location, defaults config.DefaultsConfig) (billing.Config, error) {
	if loc == nil {
		loc = time.UTC
	}
	r, err := req.dateRange(now.In(loc), loc)
	if err != nil {
		return billing.Config{}, err
	}

	cfg := billing.Config{
		Range:             r,
		Location:          loc,
		DryRun:            req.DryRun,
		SetBilled:         defaults.SetBilled,
		LabelWhitelist:    orDefault(req.LabelWhitelist, defaults.LabelWhitelist),
		LabelBlacklist:    orDefault(req.LabelBlacklist, defaults.LabelBlacklist),
		CustomerWhitelist: orDefault(req.CustomerWhitelist, defaults.CustomerWhitelist),
		CustomerBlacklist: orDefault(req.CustomerBlacklist, defaults.CustomerBlacklist),
	}
	if req.SetBilled != nil {
		cfg.SetBilled = *req.SetBilled
	}
	return billing.NewConfig(cfg)
}

func (req RunRequest) dateRange(now time.Time, loc *time.Location) (billing.DateRange, error) {
	switch {
	case req.From != "" || req.To != "":
		if req.From == "" || req.To == "" {
			return billing.DateRange{}, fmt.Errorf("%w: from and to go together", billing.ErrInvalidRange)
		}
		from, err := time.ParseInLocation(dateLayout, req.From, loc)
		if err != nil {
			return billing.DateRange{}, fmt.Errorf("%w: from: %v", billing.ErrInvalidRange, err)
		}
		to, err := time.ParseInLocation(dateLayout, req.To, loc)
		if err != nil {
			return billing.DateRange{}, fmt.Errorf("%w: to: %v", billing.ErrInvalidRange, err)
		}
		return billing.DateRange{From: from, To: billing.EndOfDay(to)}, nil
	case req.Year != 0 || req.Month != 0:
		if req.Year == 0 || req.Month < 1 || req.Month > 12 {
			return billing.DateRange{}, fmt.Errorf("%w: month %d of year %d", billing.ErrInvalidRange, req.Month, req.Year)
		}
		return billing.MonthRange(req.Year, time.Month(req.Month), loc), nil
	}
	return billing.PreviousMonth(now), nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// orDefault keeps an explicit list, even an empty one.
func orDefault(list, def []string) []string {
	if list != nil {
		return list
	}
	return def
}

// =============================================================================
// RESPONSES
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type OutcomeDTO struct {
	Unit      string `json:"unit"`
	Customer  string `json:"customer"`
	Company   string `json:"company,omitempty"`
	Status    string `json:"status"`
	InvoiceID string `json:"invoice_id,omitempty"`
	Number    string `json:"number,omitempty"`
	Date      string `json:"date,omitempty"`
	DueDate   string `json:"due_date,omitempty"`
	Hours     string `json:"hours"`
	Net       string `json:"net,omitempty"`
	Tax       string `json:"tax,omitempty"`
	Gross     string `json:"gross,omitempty"`
	Error     string `json:"error,omitempty"`
}

type RunDTO struct {
	ID          string       `json:"id"`
	Kind        string       `json:"kind"`
	Fingerprint string       `json:"fingerprint"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	DryRun      bool         `json:"dry_run"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	Entries     int          `json:"entries"`
	Failed      int          `json:"failed"`
	Outcomes    []OutcomeDTO `json:"outcomes"`
}

func toRunDTO(run billing.Run) RunDTO {
	dto := RunDTO{
		ID:          run.ID,
		Kind:        string(run.Kind),
		Fingerprint: run.Fingerprint,
		From:        run.Range.From.Format(dateLayout),
		To:          run.Range.To.Format(dateLayout),
		DryRun:      run.DryRun,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Entries:     run.Entries,
		Failed:      run.Failed(),
		Outcomes:    make([]OutcomeDTO, len(run.Outcomes)),
	}
	for i, o := range run.Outcomes {
		dto.Outcomes[i] = OutcomeDTO{
			Unit:      o.Unit,
			Customer:  string(o.Customer),
			Company:   string(o.Company),
			Status:    string(o.Status),
			InvoiceID: o.InvoiceID,
			Number:    o.InvoiceNumber,
			Date:      o.InvoiceDate,
			DueDate:   o.DueDate,
			Hours:     o.Hours,
			Net:       o.Net,
			Tax:       o.Tax,
			Gross:     o.Gross,
			Error:     o.Error,
		}
	}
	return dto
}

// InvoiceDTO summarizes the invoice of one billing unit. Net and Tax
// are computed from the lines; Submitted holds what the invoicing system
// reported for an accepted invoice.
type InvoiceDTO struct {
	Unit      string        `json:"unit"`
	Customer  string        `json:"customer"`
	Status    string        `json:"status"`
	InvoiceID string        `json:"invoice_id,omitempty"`
	Number    string        `json:"number,omitempty"`
	Layout    string        `json:"layout"`
	Hours     string        `json:"hours"`
	Net       string        `json:"net"`
	Tax       string        `json:"tax"`
	Submitted *SubmittedDTO `json:"submitted,omitempty"`
	Lines     []LineDTO     `json:"lines"`
	Error     string        `json:"error,omitempty"`
}

// SubmittedDTO is the invoicing system's view of a created invoice.
type SubmittedDTO struct {
	Date    string `json:"date,omitempty"`
	DueDate string `json:"due_date,omitempty"`
	Net     string `json:"net"`
	Tax     string `json:"tax"`
	Gross   string `json:"gross"`
}

type LineDTO struct {
	Product     string `json:"product"`
	Label       string `json:"label"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Description string `json:"description"`
}

func toInvoiceDTO(res invoice.Result) InvoiceDTO {
	req := res.Request
	dto := InvoiceDTO{
		Unit:     res.Unit.Name(),
		Customer: string(res.Unit.Customer.Ref),
		Status:   string(res.Status),
		Layout:   req.Layout.String(),
		Hours:    req.Hours().String(),
		Net:      req.NetTotal().StringFixed(2),
		Tax:      req.TaxTotal().StringFixed(2),
		Lines:    make([]LineDTO, len(req.Lines)),
	}
	if inv := res.Invoice; inv != nil {
		dto.InvoiceID = inv.ID
		dto.Number = inv.Number
		dto.Submitted = &SubmittedDTO{
			Date:    formatDate(inv.Date),
			DueDate: formatDate(inv.DueDate),
			Net:     inv.Net.StringFixed(2),
			Tax:     inv.Tax.StringFixed(2),
			Gross:   inv.Gross.StringFixed(2),
		}
	}
	if res.Err != nil {
		dto.Error = res.Err.Error()
	}
	for i, l := range req.Lines {
		dto.Lines[i] = LineDTO{
			Product:     string(l.ProductRef),
			Label:       l.Label,
			Quantity:    l.Quantity.String(),
			UnitPrice:   l.UnitPrice.StringFixed(2),
			Description: l.Description,
		}
	}
	return dto
}

type InvoiceRunResponse struct {
	Run      RunDTO       `json:"run"`
	Billed   int          `json:"billed"`
	Invoices []InvoiceDTO `json:"invoices"`
}

type SheetDTO struct {
	Name     string `json:"name"`
	FileName string `json:"file_name"`
	CSV      string `json:"csv"`
	HTML     string `json:"html,omitempty"`
}

type SheetRunResponse struct {
	Run    RunDTO     `json:"run"`
	Sheets []SheetDTO `json:"sheets"`
}

func toSheetDTO(s timesheet.Sheet, withHTML bool) (SheetDTO, error) {
	dto := SheetDTO{Name: s.Name, FileName: s.FileName("csv"), CSV: s.CSV()}
	if withHTML {
		html, err := s.HTML()
		if err != nil {
			return SheetDTO{}, err
		}
		dto.HTML = html
	}
	return dto, nil
}

type SyncStepDTO struct {
	Step      string `json:"step"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
}

type SyncResponse struct {
	Steps []SyncStepDTO `json:"steps"`
	Error string        `json:"error,omitempty"`
}

func toSyncResponse(report *mirror.Report) SyncResponse {
	resp := SyncResponse{Steps: []SyncStepDTO{}}
	if report == nil {
		return resp
	}
	for _, s := range report.Steps {
		resp.Steps = append(resp.Steps, SyncStepDTO{
			Step:      string(s.Step),
			Created:   s.Changes.Created,
			Updated:   s.Changes.Updated,
			Unchanged: s.Changes.Unchanged,
		})
	}
	return resp
}

type HealthDTO struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}
