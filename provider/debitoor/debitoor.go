/*
Package debitoor is the invoicing system client.

PURPOSE:
  Implements invoice.Invoicing against the Debitoor REST API: draft
  invoices, booking, booking with e-mail, and switching the account's
  company profile.

COMPANY PROFILE:
  The sender shown on an invoice is account-wide state (settings
  companyProfile). SwitchCompany rewrites it; the orchestrator holds a
  CompanyScope while booking so the profile is always restored.

  A company logo is downloaded from its asset URL and uploaded to the
  logo endpoint of the web app (LogoBaseURL); the profile then points at
  the URL Debitoor returns. The download never carries the API token.

CUSTOMERS:
  A customer's InvoicingRef is its Debitoor customer id. Customers
  without one are looked up by name. The name list is kept until
  Refresh, which the pipeline calls at the start of every run.

SYNC:
  SyncProducts matches products by SKU, SyncCustomers matches customers
  by name. Missing records are created, differing ones patched.

SEE ALSO:
  - invoice/types.go: Invoicing interface, Request
  - invoice/company.go: CompanyScope
  - mirror/mirror.go: Calls the Sync methods
*/
package debitoor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/invoice"
	"github.com/warp/billing-engine/mirror"
	"github.com/warp/billing-engine/provider/rest"
)

const (
	DefaultBaseURL     = "https://api.debitoor.com/api"
	DefaultLogoBaseURL = "https://app.debitoor.com/api"

	customPaymentTerms = 7
)

type Config struct {
	BaseURL     string
	LogoBaseURL string
	Token       string

	// DownloadClient fetches company logos; nil means http.DefaultClient.
	DownloadClient *http.Client
}

type Client struct {
	api       *rest.Client
	logos     *rest.Client
	downloads *rest.Client

	mu        sync.Mutex
	customers map[string]string // name -> id
}

var (
	_ invoice.Invoicing     = (*Client)(nil)
	_ billing.Refresher     = (*Client)(nil)
	_ mirror.ProductTarget  = (*Client)(nil)
	_ mirror.CustomerTarget = (*Client)(nil)
)

// New builds a client. When httpClient is nil the token is sent as an
// OAuth bearer token.
func New(ctx context.Context, cfg Config, httpClient *http.Client) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	logoBase := cfg.LogoBaseURL
	if logoBase == "" {
		logoBase = DefaultLogoBaseURL
	}
	if httpClient == nil {
		httpClient = rest.BearerClient(ctx, cfg.Token)
	}
	return &Client{
		api:       rest.New(base, httpClient),
		logos:     rest.New(logoBase, httpClient),
		downloads: rest.New("", cfg.DownloadClient),
	}
}

// Refresh forgets the customer ids looked up so far.
func (c *Client) Refresh(context.Context) error {
	c.mu.Lock()
	c.customers = nil
	c.mu.Unlock()
	return nil
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type draftLine struct {
	ProductID    string      `json:"productId,omitempty"`
	ProductName  string      `json:"productName"`
	Description  string      `json:"description,omitempty"`
	Quantity     json.Number `json:"quantity"`
	UnitNetPrice json.Number `json:"unitNetPrice"`
	TaxEnabled   bool        `json:"taxEnabled"`
	TaxRate      json.Number `json:"taxRate"`
}

type attachmentRef struct {
	FileID string `json:"fileId"`
}

type draftInvoice struct {
	CustomerID             string          `json:"customerId"`
	CustomerName           string          `json:"customerName"`
	CustomerEmail          string          `json:"customerEmail,omitempty"`
	Date                   string          `json:"date"`
	Notes                  string          `json:"notes"`
	AdditionalNotes        string          `json:"additionalNotes"`
	LanguageCode           string          `json:"languageCode"`
	PaymentTermsID         int             `json:"paymentTermsId,omitempty"`
	CustomPaymentTermsDays int             `json:"customPaymentTermsDays,omitempty"`
	Lines                  []draftLine     `json:"lines"`
	Attachments            []attachmentRef `json:"attachments,omitempty"`
}

type draftResponse struct {
	ID               string          `json:"id"`
	Number           string          `json:"number"`
	Date             string          `json:"date"`
	DueDate          string          `json:"dueDate"`
	TotalNetAmount   decimal.Decimal `json:"totalNetAmount"`
	TotalTaxAmount   decimal.Decimal `json:"totalTaxAmount"`
	TotalGrossAmount decimal.Decimal `json:"totalGrossAmount"`
}

func (r draftResponse) submitted() invoice.Submitted {
	return invoice.Submitted{
		ID:      r.ID,
		Number:  r.Number,
		Date:    parseDate(r.Date),
		DueDate: parseDate(r.DueDate),
		Net:     r.TotalNetAmount,
		Tax:     r.TotalTaxAmount,
		Gross:   r.TotalGrossAmount,
	}
}

// parseDate reads a YYYY-MM-DD date; anything else is the zero time.
func parseDate(s string) time.Time {
	t, _ := time.Parse(time.DateOnly, s)
	return t
}

type customer struct {
	ID                     string `json:"id,omitempty"`
	Name                   string `json:"name"`
	Email                  string `json:"email,omitempty"`
	PaymentTermsID         int    `json:"paymentTermsId,omitempty"`
	CustomPaymentTermsDays int    `json:"customPaymentTermsDays,omitempty"`
}

type product struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Sku               string          `json:"sku"`
	NetUnitSalesPrice decimal.Decimal `json:"netUnitSalesPrice"`
	TaxEnabled        bool            `json:"taxEnabled"`
	Rate              decimal.Decimal `json:"rate"`
}

// productBody is a product as written; prices go out as JSON numbers.
type productBody struct {
	Name              string      `json:"name"`
	Sku               string      `json:"sku"`
	NetUnitSalesPrice json.Number `json:"netUnitSalesPrice"`
	TaxEnabled        bool        `json:"taxEnabled"`
	Rate              json.Number `json:"rate"`
}

type logo struct {
	LogoURL string `json:"logoUrl"`
}

type file struct {
	ID string `json:"id"`
}

type bookSend struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// =============================================================================
// INVOICING
// =============================================================================

// CreateInvoice uploads the attachments and creates a draft invoice.
func (c *Client) CreateInvoice(ctx context.Context, req invoice.Request) (invoice.Submitted, error) {
	customerID, err := c.customerID(ctx, req.Customer)
	if err != nil {
		return invoice.Submitted{}, err
	}

	draft := draftInvoice{
		CustomerID:      customerID,
		CustomerName:    req.Customer.Name,
		CustomerEmail:   req.Customer.Email,
		Date:            req.Date.Format("2006-01-02"),
		Notes:           req.Notes,
		AdditionalNotes: req.AdditionalNotes,
		LanguageCode:    req.LanguageCode,
	}
	if req.PaymentTermDays > 0 {
		draft.PaymentTermsID = customPaymentTerms
		draft.CustomPaymentTermsDays = req.PaymentTermDays
	}
	for _, l := range req.Lines {
		draft.Lines = append(draft.Lines, draftLine{
			ProductID:    string(l.ProductRef),
			ProductName:  l.Label,
			Description:  l.Description,
			Quantity:     number(l.Quantity),
			UnitNetPrice: number(l.UnitPrice),
			TaxEnabled:   l.TaxEnabled,
			TaxRate:      number(l.TaxRate),
		})
	}
	for _, a := range req.Attachments {
		var f file
		if err := c.api.Upload(ctx, "/files/v1", nil, "file", a.FileName, a.ContentType, a.Data, &f); err != nil {
			return invoice.Submitted{}, fmt.Errorf("upload %s: %w", a.FileName, err)
		}
		draft.Attachments = append(draft.Attachments, attachmentRef{FileID: f.ID})
	}

	var resp draftResponse
	if err := c.api.Do(ctx, http.MethodPost, "/sales/draftinvoices/v7", nil, draft, &resp); err != nil {
		return invoice.Submitted{}, fmt.Errorf("create draft invoice for %s: %w", req.Unit, err)
	}
	return resp.submitted(), nil
}

func (c *Client) Book(ctx context.Context, invoiceID string) error {
	path := fmt.Sprintf("/sales/draftinvoices/%s/book/v8", invoiceID)
	if err := c.api.Do(ctx, http.MethodPost, path, nil, nil, nil); err != nil {
		return fmt.Errorf("book %s: %w", invoiceID, err)
	}
	return nil
}

func (c *Client) BookAndSend(ctx context.Context, invoiceID string, mail invoice.Mail) error {
	path := fmt.Sprintf("/sales/draftinvoices/%s/booksend/v8", invoiceID)
	body := bookSend{Recipient: mail.Recipient, Subject: mail.Subject, Message: mail.Message}
	if err := c.api.Do(ctx, http.MethodPost, path, nil, body, nil); err != nil {
		return fmt.Errorf("book and send %s: %w", invoiceID, err)
	}
	return nil
}

// SwitchCompany rewrites the account's company profile. Settings are
// round-tripped as raw JSON so fields this client does not know survive.
func (c *Client) SwitchCompany(ctx context.Context, company billing.Company) error {
	var settings map[string]any
	if err := c.api.Do(ctx, http.MethodGet, "/settings/v3", nil, nil, &settings); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	profile, _ := settings["companyProfile"].(map[string]any)
	if profile == nil {
		profile = map[string]any{}
	}
	profile["name"] = company.Name
	profile["webSite"] = company.Website
	profile["email"] = company.Email
	if company.LogoURL != "" {
		logoURL, err := c.uploadLogo(ctx, company)
		if err != nil {
			return err
		}
		profile["logoUrl"] = logoURL
	}
	settings["companyProfile"] = profile

	if cc, ok := settings["ccInfo"].(map[string]any); ok {
		if billingInfo, ok := cc["billingInfo"].(map[string]any); ok {
			billingInfo["company"] = company.Name
		}
	}
	// read-only, rejected on write
	delete(settings, "vatReported")

	if err := c.api.Do(ctx, http.MethodPut, "/settings/v3", nil, settings, nil); err != nil {
		return fmt.Errorf("save settings for %s: %w", company.Ref, err)
	}
	return nil
}

// uploadLogo copies the company logo into Debitoor and returns the URL
// Debitoor serves it from.
func (c *Client) uploadLogo(ctx context.Context, company billing.Company) (string, error) {
	data, err := c.downloads.Download(ctx, company.LogoURL)
	if err != nil {
		return "", fmt.Errorf("download logo of %s: %w", company.Ref, err)
	}
	name := string(company.Ref) + ".png"
	q := url.Values{"ocr": {"true"}, "fileName": {name}}
	var resp logo
	if err := c.logos.Upload(ctx, "/v1.0/logo", q, "file", name, "image/png", data, &resp); err != nil {
		return "", fmt.Errorf("upload logo of %s: %w", company.Ref, err)
	}
	if resp.LogoURL == "" {
		return "", fmt.Errorf("upload logo of %s: no logoUrl in response", company.Ref)
	}
	return resp.LogoURL, nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (c *Client) listCustomers(ctx context.Context) ([]customer, error) {
	var list []customer
	if err := c.api.Do(ctx, http.MethodGet, "/customers/v2", nil, nil, &list); err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return list, nil
}

func (c *Client) customerID(ctx context.Context, cust billing.Customer) (string, error) {
	if cust.InvoicingRef != "" {
		return cust.InvoicingRef, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.customers == nil {
		list, err := c.listCustomers(ctx)
		if err != nil {
			return "", err
		}
		c.customers = make(map[string]string, len(list))
		for _, l := range list {
			c.customers[l.Name] = l.ID
		}
	}

	id, ok := c.customers[cust.Name]
	if !ok {
		return "", fmt.Errorf("%w: no invoicing customer named %q", billing.ErrCustomerNotFound, cust.Name)
	}
	return id, nil
}

// =============================================================================
// SYNC
// =============================================================================

// SyncCustomers creates or patches one Debitoor customer per directory
// customer, matched by name.
func (c *Client) SyncCustomers(ctx context.Context, customers []billing.Customer) (mirror.Changes, error) {
	existing, err := c.listCustomers(ctx)
	if err != nil {
		return mirror.Changes{}, err
	}
	byName := make(map[string]customer, len(existing))
	for _, e := range existing {
		byName[e.Name] = e
	}
	// new ids must be looked up again
	defer c.Refresh(ctx)

	var changes mirror.Changes
	for _, cust := range customers {
		want := customer{Name: cust.Name, Email: cust.Email}
		if cust.PaymentTermDays > 0 {
			want.PaymentTermsID = customPaymentTerms
			want.CustomPaymentTermsDays = cust.PaymentTermDays
		}
		have, ok := byName[cust.Name]
		switch {
		case !ok:
			if err := c.api.Do(ctx, http.MethodPost, "/customers/v2", nil, want, nil); err != nil {
				return changes, fmt.Errorf("create customer %s: %w", cust.Name, err)
			}
			changes.Created++
		case have.Email == want.Email && have.PaymentTermsID == want.PaymentTermsID &&
			have.CustomPaymentTermsDays == want.CustomPaymentTermsDays:
			changes.Unchanged++
		default:
			path := fmt.Sprintf("/customers/%s/v2", have.ID)
			if err := c.api.Do(ctx, http.MethodPatch, path, nil, want, nil); err != nil {
				return changes, fmt.Errorf("update customer %s: %w", cust.Name, err)
			}
			changes.Updated++
		}
	}
	return changes, nil
}

// SyncProducts creates or patches one Debitoor product per directory
// product, matched by SKU.
func (c *Client) SyncProducts(ctx context.Context, products []billing.Product) (mirror.Changes, error) {
	var changes mirror.Changes
	for _, p := range products {
		want := productBody{
			Name:              p.Name,
			Sku:               string(p.Ref),
			NetUnitSalesPrice: number(p.UnitPrice),
			TaxEnabled:        p.TaxEnabled,
			Rate:              number(p.TaxRate),
		}
		var found []product
		if err := c.api.Do(ctx, http.MethodGet, "/products/v1", url.Values{"sku": {want.Sku}}, nil, &found); err != nil {
			return changes, fmt.Errorf("look up product %s: %w", want.Sku, err)
		}
		if len(found) == 0 {
			if err := c.api.Do(ctx, http.MethodPost, "/products/v1", nil, want, nil); err != nil {
				return changes, fmt.Errorf("create product %s: %w", want.Sku, err)
			}
			changes.Created++
			continue
		}
		have := found[0]
		if have.Name == p.Name && have.TaxEnabled == p.TaxEnabled &&
			have.NetUnitSalesPrice.Equal(p.UnitPrice) && have.Rate.Equal(p.TaxRate) {
			changes.Unchanged++
			continue
		}
		path := fmt.Sprintf("/products/%s/v1", have.ID)
		if err := c.api.Do(ctx, http.MethodPatch, path, nil, want, nil); err != nil {
			return changes, fmt.Errorf("update product %s: %w", want.Sku, err)
		}
		changes.Updated++
	}
	return changes, nil
}
