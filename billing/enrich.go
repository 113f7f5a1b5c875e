package billing

import (
	"context"
	"log/slog"
	"sync"
)

// =============================================================================
// CACHE - Lives for exactly one invocation
// =============================================================================

// Cache memoises directory lookups for one run. Create it at the start of
// an invocation, hand it to the Enricher, and drop (or Reset) it at the
// end. It is never shared between runs.
type Cache struct {
	mu        sync.Mutex
	projects  map[ProjectRef]Project
	customers map[CustomerRef]Customer
	products  map[ProjectRef]Product
	misses    int
}

func NewCache() *Cache {
	c := &Cache{}
	c.Reset()
	return c
}

// Reset drops every memoised record.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projects = make(map[ProjectRef]Project)
	c.customers = make(map[CustomerRef]Customer)
	c.products = make(map[ProjectRef]Product)
	c.misses = 0
}

// Misses is the number of lookups that went to the directory.
func (c *Cache) Misses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.misses
}

func (c *Cache) project(ctx context.Context, dir Directory, ref ProjectRef) (Project, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.projects[ref]; ok {
		return p, nil
	}
	c.misses++
	p, err := dir.Project(ctx, ref)
	if err != nil {
		return Project{}, err
	}
	c.projects[ref] = p
	return p, nil
}

func (c *Cache) customer(ctx context.Context, dir Directory, ref CustomerRef) (Customer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cu, ok := c.customers[ref]; ok {
		return cu, nil
	}
	c.misses++
	cu, err := dir.Customer(ctx, ref)
	if err != nil {
		return Customer{}, err
	}
	c.customers[ref] = cu
	return cu, nil
}

func (c *Cache) product(ctx context.Context, dir Directory, ref ProjectRef) (Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.products[ref]; ok {
		return p, nil
	}
	c.misses++
	p, err := dir.Product(ctx, ref)
	if err != nil {
		return Product{}, err
	}
	c.products[ref] = p
	return p, nil
}

// =============================================================================
// ENRICHER
// =============================================================================

// Enricher joins entries with their project, customer and product.
type Enricher struct {
	dir    Directory
	cache  *Cache
	logger *slog.Logger
}

// NewEnricher binds a directory to a run's cache. A nil cache gets a
// fresh one.
func NewEnricher(dir Directory, cache *Cache, logger *slog.Logger) *Enricher {
	if cache == nil {
		cache = NewCache()
	}
	return &Enricher{dir: dir, cache: cache, logger: orDiscard(logger)}
}

// Enrich resolves every entry. The first miss aborts with a
// ResolutionError; no partial result is returned.
func (e *Enricher) Enrich(ctx context.Context, entries []TimeEntry) ([]EnrichedTimeEntry, error) {
	out := make([]EnrichedTimeEntry, 0, len(entries))
	for _, entry := range entries {
		enriched, err := e.resolve(ctx, entry)
		if err != nil {
			e.logger.Error("cannot enrich time entry", "entry_id", entry.ID, "project", entry.ProjectRef, "error", err)
			return nil, err
		}
		out = append(out, enriched)
	}
	return out, nil
}

func (e *Enricher) resolve(ctx context.Context, entry TimeEntry) (EnrichedTimeEntry, error) {
	project, err := e.cache.project(ctx, e.dir, entry.ProjectRef)
	if err != nil {
		return EnrichedTimeEntry{}, &ResolutionError{Kind: ResolveProject, Ref: string(entry.ProjectRef), EntryID: entry.ID, Err: err}
	}
	customer, err := e.cache.customer(ctx, e.dir, project.CustomerRef)
	if err != nil {
		return EnrichedTimeEntry{}, &ResolutionError{Kind: ResolveCustomer, Ref: string(project.CustomerRef), EntryID: entry.ID, Err: err}
	}
	product, err := e.cache.product(ctx, e.dir, entry.ProjectRef)
	if err != nil {
		return EnrichedTimeEntry{}, &ResolutionError{Kind: ResolveProduct, Ref: string(entry.ProjectRef), EntryID: entry.ID, Err: err}
	}
	project.Product = product
	return EnrichedTimeEntry{TimeEntry: entry, Project: project, Customer: customer}, nil
}
