/*
Package factory builds a static directory from a JSON definition.

PURPOSE:
  Converts a directory file (companies, products, customers, projects)
  into records the billing engine can resolve against. Used for local
  runs, tests and setups without a content service.

WHY JSONC?
  The file is hand-maintained. Comments and trailing commas are allowed;
  they are stripped before decoding.

JSON SCHEMA:
  {
    // companies issuing invoices, exactly one is the default
    "companies": [{"ref": "main", "name": "Main GmbH", "email": "billing@main.example", "default": true}],
    "products": [{"ref": "consulting", "name": "Consulting", "unit_price": "100.00",
                  "tax_rate": "19", "tax_enabled": true, "unit": "hours"}],
    "customers": [{"ref": "acme", "name": "Acme GmbH", "locale": "de", "company": "main",
                   "email": "ap@acme.example", "payment_term_days": 14,
                   "flags": {"attach_timesheet": true, "book_invoice": true}}],
    "projects": [{"ref": "Website", "name": "Website", "customer": "acme", "product": "consulting"}],
  }

  Project refs are what the time tracker reports as the project (its
  name), so a project entry links tracker data to a customer.

SEE ALSO:
  - billing/store.go: Directory, CompanyDirectory
  - provider/contentful: The same records from a content service
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/tidwall/jsonc"
	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type DirectoryJSON struct {
	Companies []CompanyJSON  `json:"companies"`
	Products  []ProductJSON  `json:"products"`
	Customers []CustomerJSON `json:"customers"`
	Projects  []ProjectJSON  `json:"projects"`
}

type CompanyJSON struct {
	Ref     string `json:"ref"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
	LogoURL string `json:"logo_url,omitempty"`
	Default bool   `json:"default,omitempty"`
}

type ProductJSON struct {
	Ref        string          `json:"ref"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	TaxEnabled bool            `json:"tax_enabled"`
	Unit       string          `json:"unit,omitempty"`
}

type FlagsJSON struct {
	AttachTimesheet bool `json:"attach_timesheet,omitempty"`
	BillPerProject  bool `json:"bill_per_project,omitempty"`
	BookInvoice     bool `json:"book_invoice,omitempty"`
	SendEmail       bool `json:"send_email,omitempty"`
	ListByDates     bool `json:"list_by_dates,omitempty"`
	ListByProjects  bool `json:"list_by_projects,omitempty"`
}

type CustomerJSON struct {
	Ref             string    `json:"ref"`
	Name            string    `json:"name"`
	Locale          string    `json:"locale,omitempty"`
	Company         string    `json:"company,omitempty"`
	InvoicingRef    string    `json:"invoicing_ref,omitempty"`
	Email           string    `json:"email,omitempty"`
	PaymentTermDays int       `json:"payment_term_days,omitempty"`
	ServiceLevel    string    `json:"service_level,omitempty"`
	Flags           FlagsJSON `json:"flags"`
}

type ProjectJSON struct {
	Ref      string `json:"ref"`
	Name     string `json:"name,omitempty"`
	Customer string `json:"customer"`
	Product  string `json:"product"`
}

// =============================================================================
// DIRECTORY
// =============================================================================

// Directory is an immutable, in-memory billing.Directory and
// billing.CompanyDirectory.
type Directory struct {
	companies map[billing.CompanyRef]billing.Company
	products  map[billing.ProductRef]billing.Product
	customers map[billing.CustomerRef]billing.Customer
	projects  map[billing.ProjectRef]billing.Project
	fallback  billing.CompanyRef
}

var (
	_ billing.Directory        = (*Directory)(nil)
	_ billing.CompanyDirectory = (*Directory)(nil)
	_ billing.Catalog          = (*Directory)(nil)
)

// LoadDirectory reads and parses a directory file.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	return ParseDirectory(data)
}

// ParseDirectory decodes a JSONC directory and checks every reference.
func ParseDirectory(data []byte) (*Directory, error) {
	var def DirectoryJSON
	if err := json.Unmarshal(jsonc.ToJSON(data), &def); err != nil {
		return nil, fmt.Errorf("invalid directory JSON: %w", err)
	}
	return NewDirectory(def)
}

// NewDirectory validates def and builds the lookup tables.
func NewDirectory(def DirectoryJSON) (*Directory, error) {
	d := &Directory{
		companies: make(map[billing.CompanyRef]billing.Company),
		products:  make(map[billing.ProductRef]billing.Product),
		customers: make(map[billing.CustomerRef]billing.Customer),
		projects:  make(map[billing.ProjectRef]billing.Project),
	}
	var errs []error

	for _, c := range def.Companies {
		ref := billing.CompanyRef(c.Ref)
		if c.Ref == "" {
			errs = append(errs, errors.New("company without ref"))
			continue
		}
		if c.Default {
			if d.fallback != "" {
				errs = append(errs, fmt.Errorf("companies %q and %q are both default", d.fallback, ref))
			}
			d.fallback = ref
		}
		d.companies[ref] = billing.Company{Ref: ref, Name: c.Name, Email: c.Email, Website: c.Website, LogoURL: c.LogoURL, Default: c.Default}
	}
	if len(d.companies) > 0 && d.fallback == "" {
		errs = append(errs, errors.New("no default company"))
	}

	for _, p := range def.Products {
		ref := billing.ProductRef(p.Ref)
		unit := p.Unit
		if unit == "" {
			unit = "hours"
		}
		d.products[ref] = billing.Product{
			Ref: ref, Name: p.Name, UnitPrice: p.UnitPrice, TaxRate: p.TaxRate, TaxEnabled: p.TaxEnabled, Unit: unit,
		}
	}

	for _, c := range def.Customers {
		ref := billing.CustomerRef(c.Ref)
		company := billing.CompanyRef(c.Company)
		if company != "" {
			if _, ok := d.companies[company]; !ok {
				errs = append(errs, fmt.Errorf("customer %q: unknown company %q", c.Ref, c.Company))
			}
		}
		customer := billing.Customer{
			Ref:             ref,
			Name:            c.Name,
			Locale:          billing.ParseLocale(c.Locale),
			CompanyRef:      company,
			InvoicingRef:    c.InvoicingRef,
			Email:           c.Email,
			PaymentTermDays: c.PaymentTermDays,
			ServiceLevel:    c.ServiceLevel,
			Flags: billing.Flags{
				AttachTimesheet: c.Flags.AttachTimesheet,
				BillPerProject:  c.Flags.BillPerProject,
				BookInvoice:     c.Flags.BookInvoice,
				SendEmail:       c.Flags.SendEmail,
				ListByDates:     c.Flags.ListByDates,
				ListByProjects:  c.Flags.ListByProjects,
			},
		}
		if _, err := billing.LayoutFor(customer); err != nil {
			errs = append(errs, err)
		}
		d.customers[ref] = customer
	}

	for _, p := range def.Projects {
		ref := billing.ProjectRef(p.Ref)
		if _, ok := d.customers[billing.CustomerRef(p.Customer)]; !ok {
			errs = append(errs, fmt.Errorf("project %q: unknown customer %q", p.Ref, p.Customer))
		}
		product, ok := d.products[billing.ProductRef(p.Product)]
		if !ok {
			errs = append(errs, fmt.Errorf("project %q: unknown product %q", p.Ref, p.Product))
		}
		name := p.Name
		if name == "" {
			name = p.Ref
		}
		d.projects[ref] = billing.Project{Ref: ref, Name: name, CustomerRef: billing.CustomerRef(p.Customer), Product: product}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid directory: %w", err)
	}
	return d, nil
}

func (d *Directory) Project(_ context.Context, ref billing.ProjectRef) (billing.Project, error) {
	p, ok := d.projects[ref]
	if !ok {
		return billing.Project{}, fmt.Errorf("%w: project %q", billing.ErrNotFound, ref)
	}
	return p, nil
}

func (d *Directory) Customer(_ context.Context, ref billing.CustomerRef) (billing.Customer, error) {
	c, ok := d.customers[ref]
	if !ok {
		return billing.Customer{}, fmt.Errorf("%w: customer %q", billing.ErrNotFound, ref)
	}
	return c, nil
}

func (d *Directory) Product(_ context.Context, ref billing.ProjectRef) (billing.Product, error) {
	p, ok := d.projects[ref]
	if !ok {
		return billing.Product{}, fmt.Errorf("%w: product for project %q", billing.ErrNotFound, ref)
	}
	return p.Product, nil
}

func (d *Directory) Company(_ context.Context, ref billing.CompanyRef) (billing.Company, error) {
	c, ok := d.companies[ref]
	if !ok {
		return billing.Company{}, fmt.Errorf("%w: %q", billing.ErrCompanyNotFound, ref)
	}
	return c, nil
}

func (d *Directory) DefaultCompany(ctx context.Context) (billing.Company, error) {
	if d.fallback == "" {
		return billing.Company{}, fmt.Errorf("%w: no default company", billing.ErrCompanyNotFound)
	}
	return d.Company(ctx, d.fallback)
}

// =============================================================================
// LISTING
// =============================================================================

func (d *Directory) ListCustomers(context.Context) ([]billing.Customer, error) {
	out := make([]billing.Customer, 0, len(d.customers))
	for _, c := range d.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Ref < out[j].Ref
	})
	return out, nil
}

func (d *Directory) ListProjects(context.Context) ([]billing.Project, error) {
	out := make([]billing.Project, 0, len(d.projects))
	for _, p := range d.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

func (d *Directory) ListProducts(context.Context) ([]billing.Product, error) {
	out := make([]billing.Product, 0, len(d.products))
	for _, p := range d.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}
