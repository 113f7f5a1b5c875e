// Package app builds a ready billing pipeline from the configuration.
// Both binaries start here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/config"
	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/invoice"
	"github.com/warp/billing-engine/mirror"
	"github.com/warp/billing-engine/pipeline"
	"github.com/warp/billing-engine/provider/contentful"
	"github.com/warp/billing-engine/provider/debitoor"
	"github.com/warp/billing-engine/provider/lexoffice"
	"github.com/warp/billing-engine/provider/toggl"
	"github.com/warp/billing-engine/store/sqlite"
	"golang.org/x/oauth2"
)

const httpTimeout = 60 * time.Second

// App owns the pipeline and the resources behind it.
type App struct {
	Config   *config.Config
	Location *time.Location
	Pipeline *pipeline.Pipeline
	Store    *sqlite.Store

	// Catalog lists the directory, whichever backend serves it.
	Catalog billing.Catalog

	// Mirror pushes the directory to the invoicing system and the tracker.
	Mirror *mirror.Mirror
}

// invoicingSystem is an invoicing backend that also keeps its customers
// in line with the directory.
type invoicingSystem interface {
	invoice.Invoicing
	mirror.CustomerTarget
}

// New validates cfg and connects every collaborator. Close releases them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Location: loc, Store: store}

	// bearer clients pick their transport from the context
	httpClient := &http.Client{Timeout: httpTimeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	var (
		dir       billing.Directory
		companies billing.CompanyDirectory
	)
	if cfg.Directory != "" {
		f, err := factory.OpenFile(cfg.Directory)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.Catalog, dir, companies = f, f, f
	} else {
		c := contentful.New(ctx, contentful.Config{
			BaseURL:     cfg.Contentful.BaseURL,
			Space:       cfg.Contentful.Space,
			Environment: cfg.Contentful.Environment,
			Token:       cfg.Contentful.Token,
			Locale:      cfg.Contentful.Locale,
		}, nil)
		a.Catalog, dir, companies = c, c, c
	}

	tracker := toggl.New(toggl.Config{
		BaseURL:   cfg.Toggl.BaseURL,
		Token:     cfg.Toggl.Token,
		Workspace: cfg.Toggl.Workspace,
	}, httpClient)

	a.Mirror = &mirror.Mirror{Catalog: a.Catalog, Tracker: tracker, Logger: logger}

	var invoicing invoicingSystem
	switch cfg.Invoicing {
	case config.InvoicingLexoffice:
		invoicing = lexoffice.New(ctx, lexoffice.Config{
			BaseURL: cfg.Lexoffice.BaseURL,
			Token:   cfg.Lexoffice.Token,
		}, nil)
	default:
		d := debitoor.New(ctx, debitoor.Config{
			BaseURL:        cfg.Debitoor.BaseURL,
			LogoBaseURL:    cfg.Debitoor.LogoBaseURL,
			Token:          cfg.Debitoor.Token,
			DownloadClient: httpClient,
		}, nil)
		a.Mirror.Products = d
		invoicing = d
	}
	a.Mirror.Customers = invoicing

	a.Pipeline = &pipeline.Pipeline{
		Source:      tracker,
		Directory:   dir,
		Companies:   companies,
		Invoicing:   invoicing,
		Runs:        store,
		Logger:      logger,
		Concurrency: cfg.Concurrency,
	}
	return a, nil
}

func openStore(path string) (*sqlite.Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.Store.Close()
}
