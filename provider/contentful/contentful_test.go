package contentful_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/provider/contentful"
)

var fixtures = map[string]string{
	"company": `{
		"total": 2, "skip": 0,
		"items": [
			{"sys": {"id": "co-main"}, "fields": {"name": "Main GmbH", "isDefault": true, "email": "billing@main.example",
			 "logo": {"sys": {"type": "Link", "linkType": "Asset", "id": "logo-1"}}}},
			{"sys": {"id": "co-labs"}, "fields": {"name": "Main Labs", "email": "billing@labs.example"}}
		],
		"includes": {"Asset": [{"sys": {"id": "logo-1"}, "fields": {"file": {"url": "//images.example/logo.png"}}}]}
	}`,
	"product": `{
		"total": 1, "skip": 0,
		"items": [{"sys": {"id": "pr-1"}, "fields": {"name": "Development", "skuPrefix": "DEVELOPMENT", "skuSuffix": "-STD",
			"netPrice": 95.5, "unit": "hour", "tax": 19}}]
	}`,
	"customer": `{
		"total": 1, "skip": 0,
		"items": [{"sys": {"id": "cu-acme"}, "fields": {"name": "Acme GmbH", "emails": ["ap@acme.example", "cc@acme.example"],
			"paymentTerm": 14, "language": "en", "flags": ["attachTimesheet", "billPerProject", "bookInvoice"]}}]
	}`,
	"project": `{
		"total": 2, "skip": 0,
		"items": [
			{"sys": {"id": "pj-2"}, "fields": {"name": "Website", "customer": {"sys": {"id": "cu-acme"}},
			 "product": {"sys": {"id": "pr-1"}}, "company": {"sys": {"id": "co-main"}}}},
			{"sys": {"id": "pj-1"}, "fields": {"name": "App", "customer": {"sys": {"id": "cu-acme"}},
			 "product": {"sys": {"id": "gone"}}, "company": {"sys": {"id": "co-labs"}}}}
		]
	}`,
}

func newClient(t *testing.T) (*contentful.Client, *atomic.Int32) {
	t.Helper()
	return newClientFrom(t, func(contentType string) (string, bool) {
		body, ok := fixtures[contentType]
		return body, ok
	})
}

// newClientFrom serves whatever body returns for a content type.
func newClientFrom(t *testing.T, body func(contentType string) (string, bool)) (*contentful.Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/spaces/sp/environments/master/entries", r.URL.Path)
		assert.Equal(t, "Bearer cda", r.Header.Get("Authorization"))
		payload, ok := body(r.URL.Query().Get("content_type"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return contentful.New(context.Background(), contentful.Config{BaseURL: srv.URL, Space: "sp", Token: "cda"}, nil), &calls
}

func TestClient_ResolvesLinkedEntries(t *testing.T) {
	ctx := context.Background()
	c, calls := newClient(t)

	p, err := c.Project(ctx, "Website")
	require.NoError(t, err)
	assert.Equal(t, billing.CustomerRef("cu-acme"), p.CustomerRef)

	product, err := c.Product(ctx, "Website")
	require.NoError(t, err)
	assert.Equal(t, billing.ProductRef("DEVELOPMENT-STD"), product.Ref)
	assert.Equal(t, "95.5", product.UnitPrice.String())
	assert.True(t, product.TaxEnabled)
	assert.Equal(t, "19", product.TaxRate.String())

	cust, err := c.Customer(ctx, "cu-acme")
	require.NoError(t, err)
	assert.Equal(t, "ap@acme.example", cust.Email)
	assert.Equal(t, billing.LocaleEN, cust.Locale)
	assert.True(t, cust.Flags.AttachTimesheet)
	assert.True(t, cust.Flags.BillPerProject)
	assert.False(t, cust.Flags.SendEmail)
	// "App" sorts before "Website"
	assert.Equal(t, billing.CompanyRef("co-labs"), cust.CompanyRef)

	def, err := c.DefaultCompany(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://images.example/logo.png", def.LogoURL)

	// loaded once, four content types
	assert.Equal(t, int32(4), calls.Load())
}

func TestClient_DanglingProductLink(t *testing.T) {
	c, _ := newClient(t)

	_, err := c.Product(context.Background(), "App")

	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestClient_UnknownRefs(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)

	_, err := c.Project(ctx, "nope")
	assert.ErrorIs(t, err, billing.ErrNotFound)
	_, err = c.Company(ctx, "nope")
	assert.ErrorIs(t, err, billing.ErrCompanyNotFound)
}

func TestClient_Refresh_Reloads(t *testing.T) {
	ctx := context.Background()
	c, calls := newClient(t)

	require.NoError(t, c.Refresh(ctx))
	require.NoError(t, c.Refresh(ctx))

	assert.Equal(t, int32(8), calls.Load())
}

func TestClient_Refresh_SeesEditedEntries(t *testing.T) {
	// GIVEN a loaded directory
	ctx := context.Background()
	var product atomic.Value
	product.Store(fixtures["product"])
	c, _ := newClientFrom(t, func(contentType string) (string, bool) {
		if contentType == "product" {
			return product.Load().(string), true
		}
		body, ok := fixtures[contentType]
		return body, ok
	})
	before, err := c.Product(ctx, "Website")
	require.NoError(t, err)

	// WHEN the price is edited in Contentful
	product.Store(strings.Replace(fixtures["product"], `"netPrice": 95.5`, `"netPrice": 110`, 1))
	cached, err := c.Product(ctx, "Website")
	require.NoError(t, err)
	require.NoError(t, c.Refresh(ctx))
	after, err := c.Product(ctx, "Website")
	require.NoError(t, err)

	// THEN only a refresh picks up the new price
	assert.Equal(t, "95.5", before.UnitPrice.String())
	assert.Equal(t, "95.5", cached.UnitPrice.String())
	assert.Equal(t, "110", after.UnitPrice.String())
}

func TestClient_Listings(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)

	customers, err := c.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "Acme GmbH", customers[0].Name)

	projects, err := c.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, billing.ProjectRef("App"), projects[0].Ref)
	assert.Equal(t, billing.ProjectRef("Website"), projects[1].Ref)

	products, err := c.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, billing.ProductRef("DEVELOPMENT-STD"), products[0].Ref)
	assert.Equal(t, "hour", products[0].Unit)
}
