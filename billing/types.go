/*
types.go - Core records of the billing pipeline

PURPOSE:
  Plain records that flow through the pipeline stages. Every record is
  created fresh per invocation and discarded afterwards; nothing here is
  persisted by the engine itself.

DATA FLOW:
  TimeEntry          raw entry from the time tracker (immutable)
  EnrichedTimeEntry  entry + resolved Project + Customer
  DayBucket          entries of one calendar day
  ProjectAggregate   entries of one project, split into days
  CustomerAggregate  entries of one customer, split into projects and days

REFERENCES:
  Refs are opaque strings issued by the collaborators (time tracker,
  directory, invoicing system). The engine never interprets them.

SEE ALSO:
  - aggregate.go: Builds the aggregates
  - enrich.go: Resolves refs into records
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID string
type ProjectRef string
type CustomerRef string
type ProductRef string
type CompanyRef string

// EntryKey identifies one sanitized fragment of a time entry.
type EntryKey struct {
	ID       EntryID
	Fragment int
}

// =============================================================================
// TIME ENTRY
// =============================================================================

// TimeEntry is one tracked span of work.
// Stop-Start may exceed DurationSeconds (pauses inside the span).
type TimeEntry struct {
	ID              EntryID
	ProjectRef      ProjectRef
	Start           time.Time
	Stop            time.Time
	DurationSeconds int64
	Description     string
	Tags            []string

	// Fragment is the position of this entry within a split description.
	// Zero for entries that were never split.
	Fragment int
}

func (e TimeEntry) Key() EntryKey { return EntryKey{ID: e.ID, Fragment: e.Fragment} }

// HasTag reports whether the entry carries tag (exact match).
func (e TimeEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// =============================================================================
// DIRECTORY RECORDS
// =============================================================================

// Product is what an invoice line sells: hours of some service.
type Product struct {
	Ref        ProductRef
	Name       string
	UnitPrice  decimal.Decimal // net, per unit
	TaxRate    decimal.Decimal // percent, e.g. 19
	TaxEnabled bool
	Unit       string
}

type Project struct {
	Ref         ProjectRef
	Name        string
	CustomerRef CustomerRef
	Product     Product
}

// Flags are the per-customer billing switches.
type Flags struct {
	AttachTimesheet bool
	BillPerProject  bool
	BookInvoice     bool
	SendEmail       bool
	ListByDates     bool
	ListByProjects  bool
}

type Customer struct {
	Ref             CustomerRef
	Name            string
	Locale          Locale
	Flags           Flags
	CompanyRef      CompanyRef // empty: the default company
	InvoicingRef    string     // customer id in the invoicing system, optional
	Email           string
	PaymentTermDays int
	ServiceLevel    string
}

// Company is a legal entity that issues invoices.
type Company struct {
	Ref     CompanyRef
	Name    string
	Email   string
	Website string
	LogoURL string
	Default bool
}

// =============================================================================
// ENRICHED + AGGREGATED
// =============================================================================

type EnrichedTimeEntry struct {
	TimeEntry
	Project  Project
	Customer Customer
}

// DayBucket holds all entries that started and stopped on Date.
type DayBucket struct {
	Date              time.Time // midnight in the run's location
	Start             time.Time // earliest entry start
	Stop              time.Time // latest entry stop
	TotalSecondsSpent int64
	Entries           []EnrichedTimeEntry
}

type ProjectAggregate struct {
	Project           Project
	Customer          Customer
	TotalSecondsSpent int64
	Entries           []EnrichedTimeEntry
	Days              []DayBucket
}

type CustomerAggregate struct {
	Customer          Customer
	TotalSecondsSpent int64
	Entries           []EnrichedTimeEntry
	Days              []DayBucket
	Projects          []ProjectAggregate
}

// =============================================================================
// BILLING UNIT
// =============================================================================

// Unit is what becomes one invoice: a whole customer or, for customers
// billed per project, a single project of that customer.
type Unit struct {
	Customer          Customer
	Project           *Project // set when billed per project
	TotalSecondsSpent int64
	Entries           []EnrichedTimeEntry
	Days              []DayBucket
	Projects          []ProjectAggregate
}

// Name is the human label of the unit, used in logs and file names.
func (u Unit) Name() string {
	if u.Project != nil {
		return u.Customer.Name + " - " + u.Project.Name
	}
	return u.Customer.Name
}

// PrimaryProduct is the product of the unit's first project.
func (u Unit) PrimaryProduct() Product {
	if u.Project != nil {
		return u.Project.Product
	}
	if len(u.Projects) > 0 {
		return u.Projects[0].Project.Product
	}
	return Product{}
}

// Units splits aggregates into billing units, honoring BillPerProject.
func Units(aggs []CustomerAggregate) []Unit {
	var units []Unit
	for _, agg := range aggs {
		if !agg.Customer.Flags.BillPerProject {
			units = append(units, Unit{
				Customer:          agg.Customer,
				TotalSecondsSpent: agg.TotalSecondsSpent,
				Entries:           agg.Entries,
				Days:              agg.Days,
				Projects:          agg.Projects,
			})
			continue
		}
		for _, p := range agg.Projects {
			project := p.Project
			units = append(units, Unit{
				Customer:          agg.Customer,
				Project:           &project,
				TotalSecondsSpent: p.TotalSecondsSpent,
				Entries:           p.Entries,
				Days:              p.Days,
				Projects:          []ProjectAggregate{p},
			})
		}
	}
	return units
}
