/*
Package lexoffice is the Lexware Office (formerly lexoffice) invoicing
client.

PURPOSE:
  Implements invoice.Invoicing against the Lexware Office public API as
  an alternative to Debitoor. Selected with invoicing: lexoffice.

DIFFERENCES TO DEBITOOR:
  - An invoice is finalized when it is created (finalize=true) if the
    customer's invoices are booked. A draft cannot be finalized later,
    so Book only checks that the invoice is no longer a draft.
  - The API sends no e-mail. BookAndSend fails with errors.ErrUnsupported.
  - There is one sender per account. Switching to anything but the
    default company fails with errors.ErrUnsupported.

CONTACTS:
  A customer's InvoicingRef is its contact id. Customers without one are
  looked up by name; ids found are kept until Refresh.

SEE ALSO:
  - invoice/types.go: Invoicing interface, Request
  - provider/debitoor: The default invoicing system
*/
package lexoffice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/invoice"
	"github.com/warp/billing-engine/mirror"
	"github.com/warp/billing-engine/provider/rest"
)

const (
	DefaultBaseURL = "https://api.lexware.io"

	currency = "EUR"

	// voucherDate and shipping dates carry milliseconds and an offset
	dateTimeLayout = "2006-01-02T15:04:05.000Z07:00"

	statusDraft = "draft"
)

type Config struct {
	BaseURL string
	Token   string
}

type Client struct {
	api *rest.Client

	mu       sync.Mutex
	contacts map[string]string // name -> id
}

var (
	_ invoice.Invoicing     = (*Client)(nil)
	_ billing.Refresher     = (*Client)(nil)
	_ mirror.CustomerTarget = (*Client)(nil)
)

// New builds a client. When httpClient is nil the token is sent as an
// OAuth bearer token.
func New(ctx context.Context, cfg Config, httpClient *http.Client) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = rest.BearerClient(ctx, cfg.Token)
	}
	return &Client{api: rest.New(base, httpClient)}
}

// Refresh forgets the contact ids looked up so far.
func (c *Client) Refresh(context.Context) error {
	c.mu.Lock()
	c.contacts = nil
	c.mu.Unlock()
	return nil
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type lineItem struct {
	Type        string      `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Quantity    json.Number `json:"quantity"`
	UnitName    string      `json:"unitName"`
	UnitPrice   priceBody   `json:"unitPrice"`
}

type priceBody struct {
	Currency          string      `json:"currency"`
	NetAmount         json.Number `json:"netAmount"`
	TaxRatePercentage json.Number `json:"taxRatePercentage"`
}

type totalPrice struct {
	Currency         string          `json:"currency"`
	TotalNetAmount   decimal.Decimal `json:"totalNetAmount"`
	TotalGrossAmount decimal.Decimal `json:"totalGrossAmount"`
	TotalTaxAmount   decimal.Decimal `json:"totalTaxAmount"`
}

type paymentConditions struct {
	PaymentTermLabel    string `json:"paymentTermLabel"`
	PaymentTermDuration int    `json:"paymentTermDuration"`
}

type shippingConditions struct {
	ShippingDate    string `json:"shippingDate"`
	ShippingEndDate string `json:"shippingEndDate"`
	ShippingType    string `json:"shippingType"`
}

type invoiceBody struct {
	VoucherDate string `json:"voucherDate"`
	Address     struct {
		ContactID string `json:"contactId"`
	} `json:"address"`
	LineItems  []lineItem `json:"lineItems"`
	TotalPrice struct {
		Currency string `json:"currency"`
	} `json:"totalPrice"`
	TaxConditions struct {
		TaxType string `json:"taxType"`
	} `json:"taxConditions"`
	PaymentConditions  *paymentConditions `json:"paymentConditions,omitempty"`
	ShippingConditions shippingConditions `json:"shippingConditions"`
	Language           string             `json:"language"`
	Title              string             `json:"title"`
	Introduction       string             `json:"introduction,omitempty"`
	Remark             string             `json:"remark,omitempty"`
}

type created struct {
	ID string `json:"id"`
}

// voucher is an invoice as read back.
type voucher struct {
	ID            string     `json:"id"`
	VoucherStatus string     `json:"voucherStatus"`
	VoucherNumber string     `json:"voucherNumber"`
	VoucherDate   string     `json:"voucherDate"`
	DueDate       string     `json:"dueDate"`
	TotalPrice    totalPrice `json:"totalPrice"`
}

func (v voucher) submitted() invoice.Submitted {
	return invoice.Submitted{
		ID:      v.ID,
		Number:  v.VoucherNumber,
		Date:    parseTime(v.VoucherDate),
		DueDate: parseTime(v.DueDate),
		Net:     v.TotalPrice.TotalNetAmount,
		Tax:     v.TotalPrice.TotalTaxAmount,
		Gross:   v.TotalPrice.TotalGrossAmount,
	}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

type contact struct {
	ID      string `json:"id,omitempty"`
	Version int    `json:"version"`
	Roles   struct {
		Customer struct{} `json:"customer"`
	} `json:"roles"`
	Company struct {
		Name string `json:"name"`
	} `json:"company"`
	EmailAddresses struct {
		Business []string `json:"business,omitempty"`
		Other    []string `json:"other,omitempty"`
	} `json:"emailAddresses"`
}

type contactPage struct {
	Content []contact `json:"content"`
}

// =============================================================================
// INVOICING
// =============================================================================

// CreateInvoice creates the invoice, finalized when the customer's
// invoices are booked, and attaches the documents to it.
func (c *Client) CreateInvoice(ctx context.Context, req invoice.Request) (invoice.Submitted, error) {
	contactID, err := c.contactID(ctx, req.Customer)
	if err != nil {
		return invoice.Submitted{}, err
	}

	body := newInvoiceBody(req, contactID)
	var q url.Values
	if req.Customer.Flags.BookInvoice {
		q = url.Values{"finalize": {"true"}}
	}
	var resp created
	if err := c.api.Do(ctx, http.MethodPost, "/v1/invoices", q, body, &resp); err != nil {
		return invoice.Submitted{}, fmt.Errorf("create invoice for %s: %w", req.Unit, err)
	}

	for _, a := range req.Attachments {
		if err := c.api.Upload(ctx, "/v1/vouchers/"+resp.ID, nil, "file", a.FileName, a.ContentType, a.Data, nil); err != nil {
			return invoice.Submitted{ID: resp.ID}, fmt.Errorf("attach %s to %s: %w", a.FileName, resp.ID, err)
		}
	}

	v, err := c.voucher(ctx, resp.ID)
	if err != nil {
		// the invoice exists; report it without the system's figures
		return invoice.Submitted{ID: resp.ID}, nil
	}
	return v.submitted(), nil
}

func newInvoiceBody(req invoice.Request, contactID string) invoiceBody {
	locale := req.Customer.Locale
	var body invoiceBody
	body.VoucherDate = req.Date.Format(dateTimeLayout)
	body.Address.ContactID = contactID
	body.TotalPrice.Currency = currency
	body.TaxConditions.TaxType = "net"
	body.ShippingConditions = shippingConditions{
		ShippingDate:    req.ServicePeriod.From.Format(dateTimeLayout),
		ShippingEndDate: req.ServicePeriod.To.Format(dateTimeLayout),
		ShippingType:    "serviceperiod",
	}
	if req.PaymentTermDays > 0 {
		body.PaymentConditions = &paymentConditions{
			PaymentTermLabel: billing.Translate(locale, billing.TextPaymentTerm, map[string]string{
				"paymentRange": strconv.Itoa(req.PaymentTermDays),
			}),
			PaymentTermDuration: req.PaymentTermDays,
		}
	}
	body.Language = string(locale)
	body.Title = billing.Translate(locale, billing.TextInvoiceTitle, nil)
	body.Introduction = req.Introduction
	body.Remark = req.AdditionalNotes

	for _, l := range req.Lines {
		rate := decimal.Zero
		if l.TaxEnabled {
			rate = l.TaxRate
		}
		body.LineItems = append(body.LineItems, lineItem{
			Type:        "custom",
			Name:        l.Label,
			Description: l.Description,
			Quantity:    json.Number(l.Quantity.String()),
			UnitName:    unitName(locale, l.Unit),
			UnitPrice: priceBody{
				Currency:          currency,
				NetAmount:         json.Number(l.UnitPrice.String()),
				TaxRatePercentage: json.Number(rate.String()),
			},
		})
	}
	return body
}

func unitName(locale billing.Locale, unit string) string {
	switch unit {
	case "", "hour", "hours":
		return billing.Translate(locale, billing.TextHours, nil)
	}
	return unit
}

func (c *Client) voucher(ctx context.Context, id string) (voucher, error) {
	var v voucher
	if err := c.api.Do(ctx, http.MethodGet, "/v1/invoices/"+id, nil, nil, &v); err != nil {
		return voucher{}, fmt.Errorf("load invoice %s: %w", id, err)
	}
	return v, nil
}

// Book checks that the invoice was finalized at creation.
func (c *Client) Book(ctx context.Context, invoiceID string) error {
	v, err := c.voucher(ctx, invoiceID)
	if err != nil {
		return err
	}
	if v.VoucherStatus == statusDraft {
		return fmt.Errorf("book %s: %w: a draft can only be finalized when it is created", invoiceID, errors.ErrUnsupported)
	}
	return nil
}

func (c *Client) BookAndSend(ctx context.Context, invoiceID string, _ invoice.Mail) error {
	if err := c.Book(ctx, invoiceID); err != nil {
		return err
	}
	return fmt.Errorf("send %s: %w: invoices are not sent by e-mail", invoiceID, errors.ErrUnsupported)
}

// SwitchCompany accepts only the default company.
func (c *Client) SwitchCompany(_ context.Context, company billing.Company) error {
	if company.Default {
		return nil
	}
	return fmt.Errorf("switch to %s: %w: one sender per account", company.Ref, errors.ErrUnsupported)
}

// =============================================================================
// CONTACTS
// =============================================================================

// findContact looks a contact up by name. The API matches names with
// HTML entities escaped.
func (c *Client) findContact(ctx context.Context, name string) (contact, bool, error) {
	var page contactPage
	q := url.Values{"name": {html.EscapeString(name)}}
	if err := c.api.Do(ctx, http.MethodGet, "/v1/contacts", q, nil, &page); err != nil {
		return contact{}, false, fmt.Errorf("look up contact %s: %w", name, err)
	}
	if len(page.Content) == 0 {
		return contact{}, false, nil
	}
	return page.Content[0], true, nil
}

func (c *Client) contactID(ctx context.Context, cust billing.Customer) (string, error) {
	if cust.InvoicingRef != "" {
		return cust.InvoicingRef, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.contacts[cust.Name]; ok {
		return id, nil
	}
	found, ok, err := c.findContact(ctx, cust.Name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: no contact named %q", billing.ErrCustomerNotFound, cust.Name)
	}
	if c.contacts == nil {
		c.contacts = make(map[string]string)
	}
	c.contacts[cust.Name] = found.ID
	return found.ID, nil
}

// SyncCustomers creates or updates one customer contact per directory
// customer, matched by name.
func (c *Client) SyncCustomers(ctx context.Context, customers []billing.Customer) (mirror.Changes, error) {
	var changes mirror.Changes
	for _, cust := range customers {
		found, ok, err := c.findContact(ctx, cust.Name)
		if err != nil {
			return changes, err
		}
		var want contact
		want.Company.Name = cust.Name
		if cust.Email != "" {
			want.EmailAddresses.Business = []string{cust.Email}
		}
		switch {
		case !ok:
			if err := c.api.Do(ctx, http.MethodPost, "/v1/contacts", nil, want, nil); err != nil {
				return changes, fmt.Errorf("create contact %s: %w", cust.Name, err)
			}
			changes.Created++
		case sameContact(found, want):
			changes.Unchanged++
		default:
			// the update must name the version it replaces
			want.Version = found.Version
			if err := c.api.Do(ctx, http.MethodPut, "/v1/contacts/"+found.ID, nil, want, nil); err != nil {
				return changes, fmt.Errorf("update contact %s: %w", cust.Name, err)
			}
			changes.Updated++
		}
	}
	return changes, nil
}

// sameContact compares the fields the directory owns.
func sameContact(have, want contact) bool {
	if have.Company.Name != want.Company.Name {
		return false
	}
	if len(want.EmailAddresses.Business) == 0 {
		return true
	}
	return len(have.EmailAddresses.Business) > 0 && have.EmailAddresses.Business[0] == want.EmailAddresses.Business[0]
}
