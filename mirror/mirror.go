/*
Package mirror copies the billing directory into the systems that keep
their own copy of it.

PURPOSE:
  Products and customers also live in the invoicing system; customers
  and projects also live in the time tracker, as clients and projects.
  Sync brings those copies in line with the directory, in this order:

    1. invoicing products     (matched by SKU)
    2. invoicing customers    (matched by name)
    3. tracker clients        (matched by customer ref in the notes, or name)
    4. tracker projects       (matched by client and name)

  Tracker projects point at their client, so clients go first. The first
  failing step stops the sync; steps already done stay done. A target
  that is not configured is skipped.

  Nothing is deleted. Records the directory no longer lists are left
  alone in the target.

SEE ALSO:
  - billing/store.go: Catalog, the source of the sync
  - provider/debitoor, provider/lexoffice: invoicing targets
  - provider/toggl: tracker target
*/
package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warp/billing-engine/billing"
)

// Changes counts what one step did to a target.
type Changes struct {
	Created   int
	Updated   int
	Unchanged int
}

// Step names a sync step.
type Step string

const (
	StepProducts  Step = "products"
	StepCustomers Step = "customers"
	StepClients   Step = "clients"
	StepProjects  Step = "projects"
)

// ProductTarget keeps the invoicing system's products.
type ProductTarget interface {
	SyncProducts(ctx context.Context, products []billing.Product) (Changes, error)
}

// CustomerTarget keeps the invoicing system's customers.
type CustomerTarget interface {
	SyncCustomers(ctx context.Context, customers []billing.Customer) (Changes, error)
}

// TrackerTarget keeps the time tracker's clients and projects.
type TrackerTarget interface {
	SyncClients(ctx context.Context, customers []billing.Customer) (Changes, error)
	SyncProjects(ctx context.Context, projects []billing.Project) (Changes, error)
}

// StepResult is one finished step.
type StepResult struct {
	Step    Step
	Changes Changes
}

// Report lists the steps that ran, in order.
type Report struct {
	Steps []StepResult
}

// Mirror syncs Catalog into the configured targets.
type Mirror struct {
	Catalog billing.Catalog

	Products  ProductTarget
	Customers CustomerTarget
	Tracker   TrackerTarget

	Logger *slog.Logger
}

func (m *Mirror) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.Logger
}

// Sync runs every configured step. On error the report holds the steps
// that finished before it.
func (m *Mirror) Sync(ctx context.Context) (*Report, error) {
	log := m.logger()
	report := &Report{}

	if r, ok := m.Catalog.(billing.Refresher); ok {
		if err := r.Refresh(ctx); err != nil {
			return report, fmt.Errorf("refresh directory: %w", err)
		}
	}

	customers, err := m.Catalog.ListCustomers(ctx)
	if err != nil {
		return report, fmt.Errorf("list customers: %w", err)
	}
	projects, err := m.Catalog.ListProjects(ctx)
	if err != nil {
		return report, fmt.Errorf("list projects: %w", err)
	}
	products, err := m.Catalog.ListProducts(ctx)
	if err != nil {
		return report, fmt.Errorf("list products: %w", err)
	}

	steps := []struct {
		step Step
		on   bool
		run  func() (Changes, error)
	}{
		{StepProducts, m.Products != nil, func() (Changes, error) { return m.Products.SyncProducts(ctx, products) }},
		{StepCustomers, m.Customers != nil, func() (Changes, error) { return m.Customers.SyncCustomers(ctx, customers) }},
		{StepClients, m.Tracker != nil, func() (Changes, error) { return m.Tracker.SyncClients(ctx, customers) }},
		{StepProjects, m.Tracker != nil, func() (Changes, error) { return m.Tracker.SyncProjects(ctx, projects) }},
	}
	for _, s := range steps {
		if !s.on {
			log.Info("sync step skipped, no target", "step", s.step)
			continue
		}
		changes, err := s.run()
		if err != nil {
			return report, fmt.Errorf("sync %s: %w", s.step, err)
		}
		log.Info("sync step done", "step", s.step,
			"created", changes.Created, "updated", changes.Updated, "unchanged", changes.Unchanged)
		report.Steps = append(report.Steps, StepResult{Step: s.step, Changes: changes})
	}
	return report, nil
}
