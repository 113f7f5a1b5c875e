package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/config"
	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/invoice"
	"github.com/warp/billing-engine/mirror"
	"github.com/warp/billing-engine/pipeline"
	"github.com/warp/billing-engine/provider/rest"
	"github.com/warp/billing-engine/store/sqlite"
	"github.com/warp/billing-engine/timesheet"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type source struct {
	entries []billing.TimeEntry
	billed  []billing.EntryID
}

func (s *source) TimeEntries(context.Context, billing.DateRange) ([]billing.TimeEntry, error) {
	return s.entries, nil
}

func (s *source) MarkBilled(_ context.Context, ids []billing.EntryID) error {
	s.billed = append(s.billed, ids...)
	return nil
}

type invoicing struct{}

func (invoicing) CreateInvoice(_ context.Context, req invoice.Request) (invoice.Submitted, error) {
	net, tax := req.NetTotal(), req.TaxTotal()
	return invoice.Submitted{
		ID: "inv-" + string(req.Customer.Ref), Number: "R-1",
		Date: req.Date, DueDate: req.Date.AddDate(0, 0, req.PaymentTermDays),
		Net: net, Tax: tax, Gross: net.Add(tax),
	}, nil
}
func (invoicing) Book(context.Context, string) error                      { return nil }
func (invoicing) BookAndSend(context.Context, string, invoice.Mail) error { return nil }
func (invoicing) SwitchCompany(context.Context, billing.Company) error   { return nil }

// unreachable answers every project lookup like a directory that is down.
type unreachable struct {
	*factory.Directory
}

func (unreachable) Project(context.Context, billing.ProjectRef) (billing.Project, error) {
	return billing.Project{}, &rest.StatusError{Method: http.MethodGet, URL: "https://directory.example/entries", Code: http.StatusServiceUnavailable}
}

type renderer struct{}

func (renderer) Render(context.Context, timesheet.Sheet) ([]byte, error) { return []byte("%PDF"), nil }

var utc = time.UTC

func work(id, project string, day int, seconds int64, desc string) billing.TimeEntry {
	start := time.Date(2025, time.March, day, 9, 0, 0, 0, utc)
	return billing.TimeEntry{
		ID:              billing.EntryID(id),
		ProjectRef:      billing.ProjectRef(project),
		Start:           start,
		Stop:            start.Add(time.Duration(seconds) * time.Second),
		DurationSeconds: seconds,
		Description:     desc,
	}
}

type testServer struct {
	router  http.Handler
	handler *api.Handler
	source *source
	runs   *sqlite.Store
}

func newTestServer(t *testing.T, defaults config.DefaultsConfig) *testServer {
	t.Helper()
	return newTestServerWith(t, defaults, nil)
}

// newTestServerWith lets wrap replace the directory the pipeline resolves
// entries against; companies still come from the fixture file.
func newTestServerWith(t *testing.T, defaults config.DefaultsConfig, wrap func(*factory.Directory) billing.Directory) *testServer {
	t.Helper()
	dir, err := factory.LoadDirectory("../factory/testdata/directory.jsonc")
	require.NoError(t, err)
	runs, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	src := &source{entries: []billing.TimeEntry{
		work("1", "Website", 3, 5400, "Design"),
		work("2", "App", 4, 1800, "Login screen"),
	}}
	var lookup billing.Directory = dir
	if wrap != nil {
		lookup = wrap(dir)
	}
	p := &pipeline.Pipeline{
		Source:    src,
		Directory: lookup,
		Companies: dir,
		Invoicing: invoicing{},
		Runs:      runs,
		Renderer:  renderer{},
	}
	h := api.NewHandler(p, runs, defaults, utc, nil)
	h.Now = func() time.Time { return time.Date(2025, time.April, 2, 8, 0, 0, 0, utc) }
	return &testServer{router: api.NewRouter(h, nil), handler: h, source: src, runs: runs}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// INVOICES
// =============================================================================

func TestCreateInvoices_ReturnsSummaryAndRecordsRun(t *testing.T) {
	// GIVEN
	s := newTestServer(t, config.DefaultsConfig{SetBilled: true})

	// WHEN
	rec := s.do(t, http.MethodPost, "/api/invoices", `{"year": 2025, "month": 3}`)

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.InvoiceRunResponse](t, rec)
	require.Len(t, resp.Invoices, 2)

	acme := resp.Invoices[0]
	assert.Equal(t, "Acme GmbH", acme.Unit)
	assert.Equal(t, "booked", acme.Status)
	assert.Equal(t, "inv-acme", acme.InvoiceID)
	assert.Equal(t, "R-1", acme.Number)
	assert.Equal(t, "1.5", acme.Hours)
	assert.Equal(t, "150.00", acme.Net)
	assert.Equal(t, "28.50", acme.Tax)
	require.Len(t, acme.Lines, 1)
	assert.Equal(t, "consulting", acme.Lines[0].Product)

	// AND: the invoicing system's figures are reported next to ours
	require.NotNil(t, acme.Submitted)
	assert.Equal(t, "2025-03-31", acme.Submitted.Date)
	assert.Equal(t, "2025-04-14", acme.Submitted.DueDate)
	assert.Equal(t, "150.00", acme.Submitted.Net)
	assert.Equal(t, "28.50", acme.Submitted.Tax)
	assert.Equal(t, "178.50", acme.Submitted.Gross)

	assert.Equal(t, "2025-03-01", resp.Run.From)
	assert.Equal(t, "2025-03-31", resp.Run.To)
	assert.Equal(t, 2, resp.Billed)
	assert.ElementsMatch(t, []billing.EntryID{"1", "2"}, s.source.billed)

	// AND: the run can be fetched back
	rec = s.do(t, http.MethodGet, "/api/runs/"+resp.Run.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[api.RunDTO](t, rec)
	assert.Equal(t, "invoices", run.Kind)
	require.Len(t, run.Outcomes, 2)
	assert.Equal(t, "178.50", run.Outcomes[0].Gross)
	assert.Equal(t, "2025-04-14", run.Outcomes[0].DueDate)
}

func TestCreateInvoices_EmptyBody_UsesPreviousMonthAndDefaults(t *testing.T) {
	s := newTestServer(t, config.DefaultsConfig{CustomerBlacklist: []string{"globex"}})

	rec := s.do(t, http.MethodPost, "/api/invoices", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.InvoiceRunResponse](t, rec)
	assert.Equal(t, "2025-03-01", resp.Run.From)
	require.Len(t, resp.Invoices, 1)
	assert.Equal(t, "acme", resp.Invoices[0].Customer)
	assert.Zero(t, resp.Billed)
}

func TestCreateInvoices_DryRun(t *testing.T) {
	s := newTestServer(t, config.DefaultsConfig{SetBilled: true})

	rec := s.do(t, http.MethodPost, "/api/invoices", `{"year": 2025, "month": 3, "dry_run": true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.InvoiceRunResponse](t, rec)
	assert.True(t, resp.Run.DryRun)
	for _, inv := range resp.Invoices {
		assert.Equal(t, "draft", inv.Status)
		assert.Empty(t, inv.InvoiceID)
	}
	assert.Empty(t, s.source.billed)
}

func TestCreateInvoices_BadRequests(t *testing.T) {
	s := newTestServer(t, config.DefaultsConfig{})

	for name, body := range map[string]string{
		"malformed json":  `{"year": `,
		"month too large": `{"year": 2025, "month": 13}`,
		"from without to": `{"from": "2025-03-01"}`,
		"to before from":  `{"from": "2025-03-10", "to": "2025-03-01"}`,
		"bad date":        `{"from": "March", "to": "2025-03-01"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/invoices", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[api.ErrorResponse](t, rec).Error)
		})
	}
}

func TestCreateInvoices_UnknownProject_Unprocessable(t *testing.T) {
	s := newTestServer(t, config.DefaultsConfig{})
	s.source.entries = append(s.source.entries, work("9", "Nowhere", 5, 60, "x"))

	rec := s.do(t, http.MethodPost, "/api/invoices", `{"year": 2025, "month": 3}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Details, "Nowhere")
}

func TestCreateInvoices_UnreachableDirectory_BadGateway(t *testing.T) {
	// GIVEN a directory that answers 503
	s := newTestServerWith(t, config.DefaultsConfig{}, func(d *factory.Directory) billing.Directory {
		return unreachable{d}
	})

	// WHEN
	rec := s.do(t, http.MethodPost, "/api/invoices", `{"year": 2025, "month": 3}`)

	// THEN the outage is reported as upstream failure, not as bad data
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Details, "status 503")
}

// =============================================================================
// SHEETS
// =============================================================================

func TestCreateSheets_WithHTML(t *testing.T) {
	s := newTestServer(t, config.DefaultsConfig{})

	rec := s.do(t, http.MethodPost, "/api/sheets", `{"from": "2025-03-01", "to": "2025-03-31", "html": true}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.SheetRunResponse](t, rec)
	require.Len(t, resp.Sheets, 2)
	assert.Equal(t, "Acme_GmbH_2025-03.csv", resp.Sheets[0].FileName)
	assert.Contains(t, resp.Sheets[0].CSV, "Design")
	assert.Contains(t, resp.Sheets[0].HTML, "<table>")
	assert.Equal(t, "sheets", resp.Run.Kind)
}

// =============================================================================
// SYNC
// =============================================================================

type syncer struct {
	report *mirror.Report
	err    error
}

func (s syncer) Sync(context.Context) (*mirror.Report, error) { return s.report, s.err }

func TestSync_ReportsSteps(t *testing.T) {
	// GIVEN
	s := newTestServer(t, config.DefaultsConfig{})
	s.handler.Mirror = syncer{report: &mirror.Report{Steps: []mirror.StepResult{
		{Step: mirror.StepCustomers, Changes: mirror.Changes{Created: 1, Unchanged: 1}},
		{Step: mirror.StepClients, Changes: mirror.Changes{Updated: 2}},
	}}}

	// WHEN
	rec := s.do(t, http.MethodPost, "/api/sync", "")

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.SyncResponse](t, rec)
	assert.Equal(t, []api.SyncStepDTO{
		{Step: "customers", Created: 1, Unchanged: 1},
		{Step: "clients", Updated: 2},
	}, resp.Steps)
	assert.Empty(t, resp.Error)
}

func TestSync_FailedStep_BadGatewayWithFinishedSteps(t *testing.T) {
	s := newTestServer(t, config.DefaultsConfig{})
	s.handler.Mirror = syncer{
		report: &mirror.Report{Steps: []mirror.StepResult{{Step: mirror.StepProducts}}},
		err:    errors.New("sync customers: status 500"),
	}

	rec := s.do(t, http.MethodPost, "/api/sync", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[api.SyncResponse](t, rec)
	assert.Equal(t, "sync customers: status 500", resp.Error)
	require.Len(t, resp.Steps, 1)
	assert.Equal(t, "products", resp.Steps[0].Step)
}

func TestSync_NotConfigured(t *testing.T) {
	s := newTestServer(t, config.DefaultsConfig{})

	rec := s.do(t, http.MethodPost, "/api/sync", "")

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

// =============================================================================
// RUNS
// =============================================================================

func TestListRuns_NewestFirstWithLimit(t *testing.T) {
	s := newTestServer(t, config.DefaultsConfig{})
	s.do(t, http.MethodPost, "/api/sheets", `{"year": 2025, "month": 3}`)
	s.do(t, http.MethodPost, "/api/invoices", `{"year": 2025, "month": 3, "dry_run": true}`)

	rec := s.do(t, http.MethodGet, "/api/runs?limit=1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]api.RunDTO](t, rec)
	require.Len(t, runs, 1)

	rec = s.do(t, http.MethodGet, "/api/runs", "")
	assert.Len(t, decode[[]api.RunDTO](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestServer(t, config.DefaultsConfig{})

	rec := s.do(t, http.MethodGet, "/api/runs/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, config.DefaultsConfig{})

	rec := s.do(t, http.MethodGet, "/api/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[api.HealthDTO](t, rec).Status)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

// =============================================================================
// REQUEST → CONFIG
// =============================================================================

func TestRunRequest_Config(t *testing.T) {
	now := time.Date(2025, time.January, 15, 12, 0, 0, 0, utc)
	defaults := config.DefaultsConfig{SetBilled: true, LabelBlacklist: []string{"internal"}}

	t.Run("previous month crosses the year", func(t *testing.T) {
		cfg, err := api.RunRequest{}.Config(now, utc, defaults)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, time.December, 1, 0, 0, 0, 0, utc), cfg.Range.From)
		assert.True(t, cfg.SetBilled)
		assert.Equal(t, []string{"internal"}, cfg.LabelBlacklist)
	})

	t.Run("explicit values override defaults", func(t *testing.T) {
		off := false
		cfg, err := api.RunRequest{From: "2025-01-02", To: "2025-01-02", SetBilled: &off, LabelBlacklist: []string{}}.
			Config(now, utc, defaults)
		require.NoError(t, err)
		assert.False(t, cfg.SetBilled)
		assert.Empty(t, cfg.LabelBlacklist)
		assert.Equal(t, billing.EndOfDay(time.Date(2025, time.January, 2, 0, 0, 0, 0, utc)), cfg.Range.To)
	})

	t.Run("range errors are client errors", func(t *testing.T) {
		_, err := api.RunRequest{Month: 4}.Config(now, utc, defaults)
		assert.True(t, billing.IsClientError(err))
	})
}
