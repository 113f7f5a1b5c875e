package billing_test

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var berlin = mustLoad("Europe/Berlin")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, 3600)
	}
	return loc
}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, berlin)
}

func entry(id string, project string, start time.Time, seconds int64, desc string, tags ...string) billing.TimeEntry {
	return billing.TimeEntry{
		ID:              billing.EntryID(id),
		ProjectRef:      billing.ProjectRef(project),
		Start:           start,
		Stop:            start.Add(time.Duration(seconds) * time.Second),
		DurationSeconds: seconds,
		Description:     desc,
		Tags:            tags,
	}
}

// mapDirectory is a Directory backed by maps that counts lookups.
type mapDirectory struct {
	projects  map[billing.ProjectRef]billing.Project
	customers map[billing.CustomerRef]billing.Customer
	calls     int

	// noProduct lists projects whose product lookup misses.
	noProduct map[billing.ProjectRef]bool
	// down fails every lookup, like an unreachable directory.
	down error
}

func newDirectory() *mapDirectory {
	d := &mapDirectory{
		projects:  make(map[billing.ProjectRef]billing.Project),
		customers: make(map[billing.CustomerRef]billing.Customer),
		noProduct: make(map[billing.ProjectRef]bool),
	}
	d.add("acme", "Acme GmbH", "website", "Website")
	d.add("acme", "Acme GmbH", "shop", "Shop")
	d.add("globex", "Globex Ltd", "app", "App")
	return d
}

func (d *mapDirectory) add(customer, customerName, project, projectName string) {
	d.customers[billing.CustomerRef(customer)] = billing.Customer{
		Ref:    billing.CustomerRef(customer),
		Name:   customerName,
		Locale: billing.LocaleDE,
	}
	d.projects[billing.ProjectRef(project)] = billing.Project{
		Ref:         billing.ProjectRef(project),
		Name:        projectName,
		CustomerRef: billing.CustomerRef(customer),
	}
}

func (d *mapDirectory) Project(_ context.Context, ref billing.ProjectRef) (billing.Project, error) {
	d.calls++
	if d.down != nil {
		return billing.Project{}, d.down
	}
	p, ok := d.projects[ref]
	if !ok {
		return billing.Project{}, fmt.Errorf("%w: project %s", billing.ErrNotFound, ref)
	}
	return p, nil
}

func (d *mapDirectory) Customer(_ context.Context, ref billing.CustomerRef) (billing.Customer, error) {
	d.calls++
	if d.down != nil {
		return billing.Customer{}, d.down
	}
	c, ok := d.customers[ref]
	if !ok {
		return billing.Customer{}, fmt.Errorf("%w: customer %s", billing.ErrNotFound, ref)
	}
	return c, nil
}

func (d *mapDirectory) Product(_ context.Context, ref billing.ProjectRef) (billing.Product, error) {
	d.calls++
	if d.down != nil {
		return billing.Product{}, d.down
	}
	if _, ok := d.projects[ref]; !ok || d.noProduct[ref] {
		return billing.Product{}, fmt.Errorf("%w: product for %s", billing.ErrNotFound, ref)
	}
	return billing.Product{
		Ref:        "consulting",
		Name:       "Consulting",
		UnitPrice:  decimal.NewFromInt(100),
		TaxRate:    decimal.NewFromInt(19),
		TaxEnabled: true,
		Unit:       "hours",
	}, nil
}

func enrich(dir billing.Directory, entries ...billing.TimeEntry) []billing.EnrichedTimeEntry {
	out, err := billing.NewEnricher(dir, nil, nil).Enrich(context.Background(), entries)
	if err != nil {
		panic(err)
	}
	return out
}
