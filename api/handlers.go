/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes billing runs via REST API. Handles HTTP request/response and
  JSON serialization, and delegates to the pipeline.

ENDPOINTS:
  Runs:
    POST   /api/invoices       Invoice a period (dry_run to preview)
    POST   /api/sheets         Build timesheets for a period
    GET    /api/runs           Recorded runs, newest first (?limit=N)
    GET    /api/runs/{id}      One recorded run

  Directory:
    POST   /api/sync           Copy the directory into invoicing and tracker

  Health:
    GET    /api/health

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input (range, conflicting customer flags)
  - 404: Run not found
  - 501: Sync requested but no mirror configured
  - 422: Time entries the run cannot bill (unknown project, cross-day)
  - 502: A collaborator (time tracker, directory, invoicing) failed
  - 500: Internal errors

  A run in which single invoices failed is still a 200; failures are in
  the outcomes.

SECURITY NOTE:
  No authentication. Run the server on a trusted network only.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - pipeline/pipeline.go: What a run does
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/config"
	"github.com/warp/billing-engine/mirror"
	"github.com/warp/billing-engine/pipeline"
	"github.com/warp/billing-engine/provider/rest"
)

const defaultRunLimit = 50

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Syncer copies the directory into the systems that mirror it.
type Syncer interface {
	Sync(ctx context.Context) (*mirror.Report, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Pipeline *pipeline.Pipeline
	Mirror   Syncer // optional
	Runs     billing.RunStore
	Defaults config.DefaultsConfig
	Location *time.Location
	Logger   *slog.Logger

	// Now is the clock used for the previous-month default.
	Now func() time.Time
}

// NewHandler creates a handler. runs is usually the pipeline's store.
func NewHandler(p *pipeline.Pipeline, runs billing.RunStore, defaults config.DefaultsConfig, loc *time.Location, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{Pipeline: p, Runs: runs, Defaults: defaults, Location: loc, Logger: logger, Now: time.Now}
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// CreateInvoices runs the invoice pipeline.
func (h *Handler) CreateInvoices(w http.ResponseWriter, r *http.Request) {
	cfg, _, ok := h.runConfig(w, r)
	if !ok {
		return
	}
	res, err := h.Pipeline.Invoice(r.Context(), cfg)
	if err != nil {
		h.writeRunError(w, "Invoice run failed", err)
		return
	}

	resp := InvoiceRunResponse{
		Run:      toRunDTO(res.Run),
		Billed:   res.Billed,
		Invoices: make([]InvoiceDTO, len(res.Report.Results)),
	}
	for i, result := range res.Report.Results {
		resp.Invoices[i] = toInvoiceDTO(result)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateSheets builds timesheets without submitting anything.
func (h *Handler) CreateSheets(w http.ResponseWriter, r *http.Request) {
	cfg, req, ok := h.runConfig(w, r)
	if !ok {
		return
	}

	res, err := h.Pipeline.Sheets(r.Context(), cfg)
	if err != nil {
		h.writeRunError(w, "Sheet run failed", err)
		return
	}

	resp := SheetRunResponse{Run: toRunDTO(res.Run), Sheets: make([]SheetDTO, len(res.Sheets))}
	for i, s := range res.Sheets {
		dto, err := toSheetDTO(s, req.HTML)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to render sheet", err)
			return
		}
		resp.Sheets[i] = dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// runConfig decodes the request body. An empty body selects the previous
// month with the configured defaults.
func (h *Handler) runConfig(w http.ResponseWriter, r *http.Request) (billing.Config, RunRequest, bool) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return billing.Config{}, req, false
	}
	cfg, err := req.Config(h.Now(), h.Location, h.Defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid billing period", err)
		return billing.Config{}, req, false
	}
	return cfg, req, true
}

func (h *Handler) writeRunError(w http.ResponseWriter, message string, err error) {
	var upstream *rest.StatusError
	status := http.StatusInternalServerError
	switch {
	case billing.IsClientError(err):
		status = http.StatusBadRequest
	case billing.IsFatal(err):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &upstream):
		status = http.StatusBadGateway
	}
	h.Logger.Error(message, "status", status, "error", err)
	writeError(w, status, message, err)
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// Sync pushes the directory to the invoicing system and the tracker.
// A failed step is a 502 listing the steps that finished before it.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	if h.Mirror == nil {
		writeError(w, http.StatusNotImplemented, "Sync is not configured", nil)
		return
	}
	report, err := h.Mirror.Sync(r.Context())
	resp := toSyncResponse(report)
	if err != nil {
		h.Logger.Error("Sync failed", "error", err)
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListRuns returns recorded runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRun returns one recorded run.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.Runs.LoadRun(r.Context(), id)
	if billing.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "Run not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get run", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// Health reports that the server is up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok", Time: h.Now().UTC().Format(time.RFC3339)})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
