/*
Package invoice turns billing units into invoices.

PURPOSE:
  Two halves. The line generator (lines.go) is pure: a unit and a run
  config go in, a complete Request comes out. The orchestrator
  (orchestrator.go) performs the I/O: it submits requests to the
  invoicing system, then books them one company at a time.

FLOW:
  []billing.Unit
     │  BuildRequest (pure, per unit)
     ▼
  []Request ──► CreateInvoice (concurrent, failures isolated)
                   │
                   ▼ bookable successes, grouped by company
                CompanyScope ─► Book / BookAndSend (sequential)
                   │
                   ▼ deferred Release: back to the default company

SEE ALSO:
  - billing/aggregate.go: Produces the aggregates units are built from
  - provider/debitoor: Invoicing implementation
*/
package invoice

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// REQUEST - What the invoicing system receives
// =============================================================================

// Line is one invoice line item.
type Line struct {
	ProductRef  billing.ProductRef
	TaxEnabled  bool
	TaxRate     decimal.Decimal
	UnitPrice   decimal.Decimal
	Quantity    decimal.Decimal
	Unit        string
	Label       string
	Description string
}

// Net is quantity times unit price.
func (l Line) Net() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// Tax is the tax amount of the line, zero when tax is disabled.
func (l Line) Tax() decimal.Decimal {
	if !l.TaxEnabled {
		return decimal.Zero
	}
	return l.Net().Mul(l.TaxRate).Div(decimal.NewFromInt(100))
}

type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Request is a complete draft invoice for one unit.
type Request struct {
	Unit            string
	Customer        billing.Customer
	Layout          billing.Layout
	LanguageCode    string
	Date            time.Time
	ServicePeriod   billing.DateRange
	Introduction    string
	Notes           string
	AdditionalNotes string
	PaymentTermDays int
	Lines           []Line
	Attachments     []Attachment
}

func (r Request) NetTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Lines {
		total = total.Add(l.Net())
	}
	return total
}

func (r Request) TaxTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Lines {
		total = total.Add(l.Tax())
	}
	return total.Round(2)
}

// Hours is the sum of all line quantities.
func (r Request) Hours() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Lines {
		total = total.Add(l.Quantity)
	}
	return total
}

// =============================================================================
// INVOICING SYSTEM
// =============================================================================

// Submitted is the invoicing system's answer to CreateInvoice. Totals
// are the system's own figures, which may differ from the request's
// by rounding.
type Submitted struct {
	ID      string
	Number  string
	Link    string
	Date    time.Time
	DueDate time.Time
	Net     decimal.Decimal
	Tax     decimal.Decimal
	Gross   decimal.Decimal
}

// Mail is the message sent with a booked invoice.
type Mail struct {
	Recipient    string
	Subject      string
	Message      string
	LanguageCode string
}

// Invoicing is the external invoicing system. The active company is
// global state of the account, hence SwitchCompany.
type Invoicing interface {
	CreateInvoice(ctx context.Context, req Request) (Submitted, error)
	Book(ctx context.Context, invoiceID string) error
	BookAndSend(ctx context.Context, invoiceID string, mail Mail) error
	SwitchCompany(ctx context.Context, company billing.Company) error
}

// Attacher produces the documents attached to a unit's invoice.
type Attacher interface {
	Attach(ctx context.Context, unit billing.Unit, cfg billing.Config) ([]Attachment, error)
}
