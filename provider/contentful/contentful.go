/*
Package contentful reads the billing directory from the Contentful
Content Delivery API.

PURPOSE:
  Companies, products, customers and projects are maintained as
  Contentful entries. The client loads all four content types, resolves
  the links between them and answers lookups from memory until the next
  Refresh. The pipeline refreshes at the start of every run, so edits in
  Contentful reach a long-running server at its next run.

REFS:
  Project ref    = project name (what the time tracker reports)
  Customer ref   = entry id
  Product ref    = SKU (prefix + suffix), the invoicing system's key
  Company ref    = entry id

  A customer is issued by the company of its projects. When projects of
  one customer name different companies, the first project by name wins.

SEE ALSO:
  - billing/store.go: Directory, CompanyDirectory
  - factory/directory.go: Same records from a local file
*/
package contentful

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/provider/rest"
)

const (
	DefaultBaseURL     = "https://cdn.contentful.com"
	DefaultEnvironment = "master"

	pageSize = 1000
)

type Config struct {
	BaseURL     string
	Space       string
	Environment string
	Token       string
	Locale      string
}

type Client struct {
	api    *rest.Client
	locale string

	mu     sync.RWMutex
	loaded bool
	dir    directory
}

var (
	_ billing.Directory        = (*Client)(nil)
	_ billing.CompanyDirectory = (*Client)(nil)
	_ billing.Refresher        = (*Client)(nil)
	_ billing.Catalog          = (*Client)(nil)
)

// New builds a client. When httpClient is nil the token is sent as an
// OAuth bearer token.
func New(ctx context.Context, cfg Config, httpClient *http.Client) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	env := cfg.Environment
	if env == "" {
		env = DefaultEnvironment
	}
	locale := cfg.Locale
	if locale == "" {
		locale = "en-US"
	}
	if httpClient == nil {
		httpClient = rest.BearerClient(ctx, cfg.Token)
	}
	root := fmt.Sprintf("%s/spaces/%s/environments/%s", strings.TrimRight(base, "/"), url.PathEscape(cfg.Space), url.PathEscape(env))
	return &Client{api: rest.New(root, httpClient), locale: locale}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type sys struct {
	ID string `json:"id"`
}

type link struct {
	Sys sys `json:"sys"`
}

type entry[F any] struct {
	Sys    sys `json:"sys"`
	Fields F   `json:"fields"`
}

type page[F any] struct {
	Total    int        `json:"total"`
	Skip     int        `json:"skip"`
	Items    []entry[F] `json:"items"`
	Includes struct {
		Asset []entry[assetFields] `json:"Asset"`
	} `json:"includes"`
}

type assetFields struct {
	File struct {
		URL string `json:"url"`
	} `json:"file"`
}

type companyFields struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
	Website   string `json:"website"`
	Email     string `json:"email"`
	Logo      *link  `json:"logo"`
}

type productFields struct {
	Name      string          `json:"name"`
	SkuPrefix string          `json:"skuPrefix"`
	SkuSuffix string          `json:"skuSuffix"`
	NetPrice  decimal.Decimal `json:"netPrice"`
	Unit      string          `json:"unit"`
	Tax       *int            `json:"tax"`
}

type customerFields struct {
	Name         string   `json:"name"`
	Emails       []string `json:"emails"`
	PaymentTerm  int      `json:"paymentTerm"`
	Language     string   `json:"language"`
	Flags        []string `json:"flags"`
	InvoicingRef string   `json:"invoicingId"`
	ServiceLevel string   `json:"serviceLevel"`
}

type projectFields struct {
	Name     string `json:"name"`
	Company  *link  `json:"company"`
	Customer link   `json:"customer"`
	Product  link   `json:"product"`
}

// =============================================================================
// LOADING
// =============================================================================

type directory struct {
	companies map[billing.CompanyRef]billing.Company
	customers map[billing.CustomerRef]billing.Customer
	projects  map[billing.ProjectRef]billing.Project
	products  map[billing.ProductRef]billing.Product
	fallback  billing.CompanyRef
}

// Refresh reloads every content type.
func (c *Client) Refresh(ctx context.Context) error {
	dir, err := c.load(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.dir, c.loaded = dir, true
	c.mu.Unlock()
	return nil
}

func (c *Client) ensure(ctx context.Context) (directory, error) {
	c.mu.RLock()
	dir, loaded := c.dir, c.loaded
	c.mu.RUnlock()
	if loaded {
		return dir, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return directory{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dir, nil
}

func fetchAll[F any](ctx context.Context, c *Client, contentType string) ([]entry[F], map[string]string, error) {
	var (
		items  []entry[F]
		assets = map[string]string{}
	)
	for skip := 0; ; skip += pageSize {
		q := url.Values{
			"content_type": {contentType},
			"locale":       {c.locale},
			"include":      {"1"},
			"limit":        {strconv.Itoa(pageSize)},
			"skip":         {strconv.Itoa(skip)},
		}
		var p page[F]
		if err := c.api.Do(ctx, http.MethodGet, "/entries", q, nil, &p); err != nil {
			return nil, nil, fmt.Errorf("fetch %s entries: %w", contentType, err)
		}
		items = append(items, p.Items...)
		for _, a := range p.Includes.Asset {
			assets[a.Sys.ID] = a.Fields.File.URL
		}
		if len(p.Items) == 0 || skip+len(p.Items) >= p.Total {
			return items, assets, nil
		}
	}
}

func (c *Client) load(ctx context.Context) (directory, error) {
	companies, assets, err := fetchAll[companyFields](ctx, c, "company")
	if err != nil {
		return directory{}, err
	}
	products, _, err := fetchAll[productFields](ctx, c, "product")
	if err != nil {
		return directory{}, err
	}
	customers, _, err := fetchAll[customerFields](ctx, c, "customer")
	if err != nil {
		return directory{}, err
	}
	projects, _, err := fetchAll[projectFields](ctx, c, "project")
	if err != nil {
		return directory{}, err
	}

	dir := directory{
		companies: make(map[billing.CompanyRef]billing.Company, len(companies)),
		customers: make(map[billing.CustomerRef]billing.Customer, len(customers)),
		projects:  make(map[billing.ProjectRef]billing.Project, len(projects)),
		products:  make(map[billing.ProductRef]billing.Product, len(products)),
	}

	for _, e := range companies {
		ref := billing.CompanyRef(e.Sys.ID)
		company := billing.Company{
			Ref: ref, Name: e.Fields.Name, Email: e.Fields.Email, Website: e.Fields.Website, Default: e.Fields.IsDefault,
		}
		if e.Fields.Logo != nil {
			company.LogoURL = absoluteURL(assets[e.Fields.Logo.Sys.ID])
		}
		if company.Default && dir.fallback == "" {
			dir.fallback = ref
		}
		dir.companies[ref] = company
	}

	productsByID := make(map[string]billing.Product, len(products))
	for _, e := range products {
		f := e.Fields
		product := billing.Product{
			Ref:       billing.ProductRef(f.SkuPrefix + f.SkuSuffix),
			Name:      f.Name,
			UnitPrice: f.NetPrice,
			Unit:      f.Unit,
		}
		if f.Tax != nil {
			product.TaxEnabled = true
			product.TaxRate = decimal.NewFromInt(int64(*f.Tax))
		}
		if product.Unit == "" {
			product.Unit = "hours"
		}
		productsByID[e.Sys.ID] = product
		dir.products[product.Ref] = product
	}

	for _, e := range customers {
		f := e.Fields
		customer := billing.Customer{
			Ref:             billing.CustomerRef(e.Sys.ID),
			Name:            f.Name,
			Locale:          billing.ParseLocale(f.Language),
			Flags:           parseFlags(f.Flags),
			InvoicingRef:    f.InvoicingRef,
			PaymentTermDays: f.PaymentTerm,
			ServiceLevel:    f.ServiceLevel,
		}
		if len(f.Emails) > 0 {
			customer.Email = f.Emails[0]
		}
		dir.customers[customer.Ref] = customer
	}

	sort.SliceStable(projects, func(i, j int) bool { return projects[i].Fields.Name < projects[j].Fields.Name })
	for _, e := range projects {
		f := e.Fields
		customerRef := billing.CustomerRef(f.Customer.Sys.ID)
		// a dangling product link leaves the zero product; Product reports it
		product := productsByID[f.Product.Sys.ID]
		dir.projects[billing.ProjectRef(f.Name)] = billing.Project{
			Ref:         billing.ProjectRef(f.Name),
			Name:        f.Name,
			CustomerRef: customerRef,
			Product:     product,
		}
		if f.Company != nil {
			if customer, ok := dir.customers[customerRef]; ok && customer.CompanyRef == "" {
				customer.CompanyRef = billing.CompanyRef(f.Company.Sys.ID)
				dir.customers[customerRef] = customer
			}
		}
	}

	return dir, nil
}

func parseFlags(flags []string) billing.Flags {
	var out billing.Flags
	for _, f := range flags {
		switch f {
		case "attachTimesheet":
			out.AttachTimesheet = true
		case "billPerProject":
			out.BillPerProject = true
		case "bookInvoice":
			out.BookInvoice = true
		case "sendEmail":
			out.SendEmail = true
		case "listByDates":
			out.ListByDates = true
		case "listByProjects":
			out.ListByProjects = true
		}
	}
	return out
}

// asset URLs come protocol-relative
func absoluteURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

// =============================================================================
// LOOKUPS
// =============================================================================

func (c *Client) Project(ctx context.Context, ref billing.ProjectRef) (billing.Project, error) {
	dir, err := c.ensure(ctx)
	if err != nil {
		return billing.Project{}, err
	}
	p, ok := dir.projects[ref]
	if !ok {
		return billing.Project{}, fmt.Errorf("%w: project %q", billing.ErrNotFound, ref)
	}
	return p, nil
}

func (c *Client) Customer(ctx context.Context, ref billing.CustomerRef) (billing.Customer, error) {
	dir, err := c.ensure(ctx)
	if err != nil {
		return billing.Customer{}, err
	}
	cust, ok := dir.customers[ref]
	if !ok {
		return billing.Customer{}, fmt.Errorf("%w: customer %q", billing.ErrNotFound, ref)
	}
	return cust, nil
}

func (c *Client) Product(ctx context.Context, ref billing.ProjectRef) (billing.Product, error) {
	p, err := c.Project(ctx, ref)
	if err != nil {
		return billing.Product{}, err
	}
	if p.Product.Ref == "" {
		return billing.Product{}, fmt.Errorf("%w: product for project %q", billing.ErrNotFound, ref)
	}
	return p.Product, nil
}

func (c *Client) Company(ctx context.Context, ref billing.CompanyRef) (billing.Company, error) {
	dir, err := c.ensure(ctx)
	if err != nil {
		return billing.Company{}, err
	}
	company, ok := dir.companies[ref]
	if !ok {
		return billing.Company{}, fmt.Errorf("%w: %q", billing.ErrCompanyNotFound, ref)
	}
	return company, nil
}

func (c *Client) DefaultCompany(ctx context.Context) (billing.Company, error) {
	dir, err := c.ensure(ctx)
	if err != nil {
		return billing.Company{}, err
	}
	if dir.fallback == "" {
		return billing.Company{}, fmt.Errorf("%w: no default company", billing.ErrCompanyNotFound)
	}
	return dir.companies[dir.fallback], nil
}

// =============================================================================
// LISTING
// =============================================================================

func (c *Client) ListCustomers(ctx context.Context) ([]billing.Customer, error) {
	dir, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]billing.Customer, 0, len(dir.customers))
	for _, cust := range dir.customers {
		out = append(out, cust)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Ref < out[j].Ref
	})
	return out, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]billing.Project, error) {
	dir, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]billing.Project, 0, len(dir.projects))
	for _, p := range dir.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]billing.Product, error) {
	dir, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]billing.Product, 0, len(dir.products))
	for _, p := range dir.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}
