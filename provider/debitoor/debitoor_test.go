package debitoor_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/invoice"
	"github.com/warp/billing-engine/mirror"
	"github.com/warp/billing-engine/provider/debitoor"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fakeDebitoor struct {
	mu        sync.Mutex
	calls     []string
	customers string
	draft     map[string]any
	settings  map[string]any
	sent      map[string]any
	logoQuery string
	written   []map[string]any
}

func (f *fakeDebitoor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	switch {
	case r.URL.Path == "/customers/v2" && r.Method == http.MethodGet:
		w.Write([]byte(f.customers))
	case r.URL.Path == "/products/v1" && r.Method == http.MethodGet:
		switch r.URL.Query().Get("sku") {
		case "consulting":
			w.Write([]byte(`[{"id": "p-1", "name": "Consulting", "sku": "consulting", "netUnitSalesPrice": 100, "taxEnabled": true, "rate": 19}]`))
		case "dev":
			w.Write([]byte(`[{"id": "p-2", "name": "Development", "sku": "dev", "netUnitSalesPrice": 80, "taxEnabled": true, "rate": 19}]`))
		default:
			w.Write([]byte(`[]`))
		}
	case r.Method == http.MethodPost && (r.URL.Path == "/customers/v2" || r.URL.Path == "/products/v1"),
		r.Method == http.MethodPatch:
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.written = append(f.written, body)
		w.Write([]byte(`{}`))
	case r.URL.Path == "/assets/logo.png":
		w.Write([]byte("png-bytes"))
	case r.URL.Path == "/v1.0/logo":
		f.logoQuery = r.URL.RawQuery
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if string(data) != "png-bytes" {
			http.Error(w, "unexpected logo", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"logoUrl": "https://debitoor.example/logos/labs.png"}`))
	case r.URL.Path == "/files/v1":
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "sheet.csv" || string(data) != "a,b" {
			http.Error(w, "unexpected upload", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"id": "file-1"}`))
	case r.URL.Path == "/sales/draftinvoices/v7":
		json.NewDecoder(r.Body).Decode(&f.draft)
		w.Write([]byte(`{
			"id": "inv-1", "number": "D-1", "date": "2025-04-01", "dueDate": "2025-04-15",
			"totalNetAmount": 150, "totalTaxAmount": 28.5, "totalGrossAmount": 178.5
		}`))
	case r.URL.Path == "/settings/v3" && r.Method == http.MethodGet:
		w.Write([]byte(`{
			"id": "settings",
			"companyProfile": {"name": "Old", "webSite": "", "email": "", "address": "Street 1"},
			"ccInfo": {"billingInfo": {"company": "Old"}},
			"vatReported": ["2024"]
		}`))
	case r.URL.Path == "/settings/v3" && r.Method == http.MethodPut:
		json.NewDecoder(r.Body).Decode(&f.settings)
	case strings.HasSuffix(r.URL.Path, "/booksend/v8"):
		json.NewDecoder(r.Body).Decode(&f.sent)
	case strings.HasSuffix(r.URL.Path, "/book/v8"):
	default:
		http.NotFound(w, r)
	}
}

const twoCustomers = `[{"id": "c-1", "name": "Acme GmbH"}, {"id": "c-2", "name": "Globex"}]`

func newClient(t *testing.T) (*debitoor.Client, *fakeDebitoor, string) {
	t.Helper()
	fake := &fakeDebitoor{customers: twoCustomers}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	cfg := debitoor.Config{BaseURL: srv.URL, LogoBaseURL: srv.URL, Token: "t", DownloadClient: srv.Client()}
	return debitoor.New(context.Background(), cfg, srv.Client()), fake, srv.URL
}

func request() invoice.Request {
	return invoice.Request{
		Unit:            "Acme GmbH",
		Customer:        billing.Customer{Ref: "acme", Name: "Acme GmbH", Email: "ap@acme.example"},
		LanguageCode:    "de-DE",
		Date:            time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
		Notes:           "Leistungszeitraum",
		AdditionalNotes: "100.00",
		PaymentTermDays: 14,
		Lines: []invoice.Line{{
			ProductRef:  "p-1",
			TaxEnabled:  true,
			TaxRate:     decimal.NewFromInt(19),
			UnitPrice:   decimal.NewFromInt(100),
			Quantity:    decimal.RequireFromString("1.5"),
			Label:       "Website",
			Description: "- Design (03.03.2025)",
		}},
		Attachments: []invoice.Attachment{{FileName: "sheet.csv", ContentType: "text/csv", Data: []byte("a,b")}},
	}
}

// =============================================================================
// TESTS
// =============================================================================

func TestClient_CreateInvoice(t *testing.T) {
	c, fake, _ := newClient(t)

	sub, err := c.CreateInvoice(context.Background(), request())

	require.NoError(t, err)
	assert.Equal(t, "inv-1", sub.ID)
	assert.Equal(t, "D-1", sub.Number)
	assert.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), sub.Date)
	assert.Equal(t, time.Date(2025, time.April, 15, 0, 0, 0, 0, time.UTC), sub.DueDate)
	assert.Equal(t, "150.00", sub.Net.StringFixed(2))
	assert.Equal(t, "28.50", sub.Tax.StringFixed(2))
	assert.Equal(t, "178.50", sub.Gross.StringFixed(2))
	assert.Equal(t, []string{"GET /customers/v2", "POST /files/v1", "POST /sales/draftinvoices/v7"}, fake.calls)

	assert.Equal(t, "c-1", fake.draft["customerId"])
	assert.Equal(t, "2025-04-01", fake.draft["date"])
	assert.Equal(t, "de-DE", fake.draft["languageCode"])
	assert.Equal(t, float64(14), fake.draft["customPaymentTermsDays"])
	line := fake.draft["lines"].([]any)[0].(map[string]any)
	assert.Equal(t, 1.5, line["quantity"])
	assert.Equal(t, float64(100), line["unitNetPrice"])
	assert.Equal(t, "Website", line["productName"])
	assert.Equal(t, []any{map[string]any{"fileId": "file-1"}}, fake.draft["attachments"])
}

func TestClient_CreateInvoice_UsesInvoicingRef(t *testing.T) {
	c, fake, _ := newClient(t)
	req := request()
	req.Customer.InvoicingRef = "c-9"
	req.Attachments = nil

	_, err := c.CreateInvoice(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, []string{"POST /sales/draftinvoices/v7"}, fake.calls)
	assert.Equal(t, "c-9", fake.draft["customerId"])
}

func TestClient_CreateInvoice_UnknownCustomer(t *testing.T) {
	c, _, _ := newClient(t)
	req := request()
	req.Customer.Name = "Nobody"

	_, err := c.CreateInvoice(context.Background(), req)

	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)
}

func TestClient_BookAndSend(t *testing.T) {
	c, fake, _ := newClient(t)

	require.NoError(t, c.Book(context.Background(), "inv-1"))
	require.NoError(t, c.BookAndSend(context.Background(), "inv-2", invoice.Mail{Recipient: "ap@acme.example", Subject: "s", Message: "m"}))

	assert.Equal(t, []string{
		"POST /sales/draftinvoices/inv-1/book/v8",
		"POST /sales/draftinvoices/inv-2/booksend/v8",
	}, fake.calls)
	assert.Equal(t, "ap@acme.example", fake.sent["recipient"])
	assert.Equal(t, "s", fake.sent["subject"])
}

func TestClient_SwitchCompany_KeepsUnknownSettings(t *testing.T) {
	c, fake, _ := newClient(t)

	err := c.SwitchCompany(context.Background(), billing.Company{
		Ref: "labs", Name: "Main Labs", Email: "billing@labs.example", Website: "https://labs.example",
	})

	require.NoError(t, err)
	profile := fake.settings["companyProfile"].(map[string]any)
	assert.Equal(t, "Main Labs", profile["name"])
	assert.Equal(t, "https://labs.example", profile["webSite"])
	assert.Equal(t, "Street 1", profile["address"])
	assert.Equal(t, "Main Labs", fake.settings["ccInfo"].(map[string]any)["billingInfo"].(map[string]any)["company"])
	assert.NotContains(t, fake.settings, "vatReported")
	assert.Equal(t, "settings", fake.settings["id"])
}

func TestClient_SwitchCompany_UploadsLogo(t *testing.T) {
	// GIVEN a company whose logo is an asset URL
	c, fake, base := newClient(t)

	// WHEN
	err := c.SwitchCompany(context.Background(), billing.Company{
		Ref: "labs", Name: "Main Labs", LogoURL: base + "/assets/logo.png",
	})

	// THEN the logo goes through the upload endpoint and the profile uses its URL
	require.NoError(t, err)
	assert.Equal(t, []string{
		"GET /settings/v3",
		"GET /assets/logo.png",
		"POST /v1.0/logo",
		"PUT /settings/v3",
	}, fake.calls)
	assert.Equal(t, "fileName=labs.png&ocr=true", fake.logoQuery)
	profile := fake.settings["companyProfile"].(map[string]any)
	assert.Equal(t, "https://debitoor.example/logos/labs.png", profile["logoUrl"])
}

func TestClient_SwitchCompany_LogoDownloadFails(t *testing.T) {
	// GIVEN a logo that cannot be downloaded
	c, fake, base := newClient(t)

	// WHEN
	err := c.SwitchCompany(context.Background(), billing.Company{Ref: "labs", LogoURL: base + "/assets/missing.png"})

	// THEN the profile is left alone
	assert.ErrorContains(t, err, "download logo of labs")
	assert.Nil(t, fake.settings)
}

func TestClient_Refresh_FindsCustomersCreatedSince(t *testing.T) {
	// GIVEN the customer list was loaded before "Initech" existed
	c, fake, _ := newClient(t)
	req := request()
	req.Attachments = nil
	_, err := c.CreateInvoice(context.Background(), req)
	require.NoError(t, err)

	fake.mu.Lock()
	fake.customers = `[{"id": "c-1", "name": "Acme GmbH"}, {"id": "c-3", "name": "Initech"}]`
	fake.mu.Unlock()
	req.Customer.Name = "Initech"

	// WHEN looked up before and after Refresh
	_, before := c.CreateInvoice(context.Background(), req)
	require.NoError(t, c.Refresh(context.Background()))
	_, after := c.CreateInvoice(context.Background(), req)

	// THEN only the refreshed client knows the new customer
	assert.ErrorIs(t, before, billing.ErrCustomerNotFound)
	require.NoError(t, after)
	assert.Equal(t, "c-3", fake.draft["customerId"])
}

func TestClient_SyncCustomers(t *testing.T) {
	// GIVEN Debitoor knows Acme (without e-mail) and Globex
	c, fake, _ := newClient(t)

	// WHEN
	changes, err := c.SyncCustomers(context.Background(), []billing.Customer{
		{Ref: "acme", Name: "Acme GmbH", Email: "ap@acme.example", PaymentTermDays: 14},
		{Ref: "globex", Name: "Globex"},
		{Ref: "initech", Name: "Initech"},
	})

	// THEN Acme is patched, Globex left alone, Initech created
	require.NoError(t, err)
	assert.Equal(t, 1, changes.Created)
	assert.Equal(t, 1, changes.Updated)
	assert.Equal(t, 1, changes.Unchanged)
	assert.Equal(t, []string{"GET /customers/v2", "PATCH /customers/c-1/v2", "POST /customers/v2"}, fake.calls)
	require.Len(t, fake.written, 2)
	assert.Equal(t, "ap@acme.example", fake.written[0]["email"])
	assert.Equal(t, float64(14), fake.written[0]["customPaymentTermsDays"])
	assert.Equal(t, "Initech", fake.written[1]["name"])
}

func TestClient_SyncProducts(t *testing.T) {
	// GIVEN Debitoor has consulting as listed and dev at an old price
	c, fake, _ := newClient(t)

	// WHEN
	changes, err := c.SyncProducts(context.Background(), []billing.Product{
		{Ref: "consulting", Name: "Consulting", UnitPrice: decimal.NewFromInt(100), TaxEnabled: true, TaxRate: decimal.NewFromInt(19)},
		{Ref: "dev", Name: "Development", UnitPrice: decimal.NewFromInt(85), TaxEnabled: true, TaxRate: decimal.NewFromInt(19)},
		{Ref: "support", Name: "Support", UnitPrice: decimal.NewFromInt(60)},
	})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, mirror.Changes{Created: 1, Updated: 1, Unchanged: 1}, changes)
	assert.Equal(t, []string{
		"GET /products/v1", "GET /products/v1", "PATCH /products/p-2/v1", "GET /products/v1", "POST /products/v1",
	}, fake.calls)
	require.Len(t, fake.written, 2)
	assert.Equal(t, float64(85), fake.written[0]["netUnitSalesPrice"])
	assert.Equal(t, "support", fake.written[1]["sku"])
}
