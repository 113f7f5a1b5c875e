package factory

import (
	"context"
	"sync"

	"github.com/warp/billing-engine/billing"
)

// File is a directory file that is read again on every Refresh, so edits
// reach a long-running server at its next run.
type File struct {
	path string

	mu  sync.RWMutex
	dir *Directory
}

var (
	_ billing.Directory        = (*File)(nil)
	_ billing.CompanyDirectory = (*File)(nil)
	_ billing.Refresher        = (*File)(nil)
	_ billing.Catalog          = (*File)(nil)
)

// OpenFile loads path once; it must be valid at startup.
func OpenFile(path string) (*File, error) {
	dir, err := LoadDirectory(path)
	if err != nil {
		return nil, err
	}
	return &File{path: path, dir: dir}, nil
}

// Refresh re-reads the file. An invalid file keeps the previous contents
// and returns the error.
func (f *File) Refresh(context.Context) error {
	dir, err := LoadDirectory(f.path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.dir = dir
	f.mu.Unlock()
	return nil
}

func (f *File) current() *Directory {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dir
}

func (f *File) Project(ctx context.Context, ref billing.ProjectRef) (billing.Project, error) {
	return f.current().Project(ctx, ref)
}

func (f *File) Customer(ctx context.Context, ref billing.CustomerRef) (billing.Customer, error) {
	return f.current().Customer(ctx, ref)
}

func (f *File) Product(ctx context.Context, ref billing.ProjectRef) (billing.Product, error) {
	return f.current().Product(ctx, ref)
}

func (f *File) Company(ctx context.Context, ref billing.CompanyRef) (billing.Company, error) {
	return f.current().Company(ctx, ref)
}

func (f *File) DefaultCompany(ctx context.Context) (billing.Company, error) {
	return f.current().DefaultCompany(ctx)
}

func (f *File) ListCustomers(ctx context.Context) ([]billing.Customer, error) {
	return f.current().ListCustomers(ctx)
}

func (f *File) ListProjects(ctx context.Context) ([]billing.Project, error) {
	return f.current().ListProjects(ctx)
}

func (f *File) ListProducts(ctx context.Context) ([]billing.Product, error) {
	return f.current().ListProducts(ctx)
}
