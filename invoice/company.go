package invoice

import (
	"context"
	"log/slog"
	"sync"

	"github.com/warp/billing-engine/billing"
)

// CompanyScope holds the invoicing system's active company for the
// duration of one booking batch. Always pair AcquireCompany with a
// deferred Release; Release restores the default company.
type CompanyScope struct {
	inv      Invoicing
	company  billing.Company
	fallback billing.Company
	logger   *slog.Logger
	once     sync.Once
	err      error
}

// AcquireCompany switches the invoicing system to company. If the switch
// fails, the default company is restored before the error is returned,
// so callers never need to Release a scope they did not get.
func AcquireCompany(ctx context.Context, inv Invoicing, company, fallback billing.Company, logger *slog.Logger) (*CompanyScope, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &CompanyScope{inv: inv, company: company, fallback: fallback, logger: logger}
	if err := inv.SwitchCompany(ctx, company); err != nil {
		logger.Error("cannot switch company", "company", company.Ref, "error", err)
		if rerr := s.Release(ctx); rerr != nil {
			return nil, rerr
		}
		return nil, &billing.CompanyContextError{Company: company.Ref, Err: err}
	}
	logger.Info("switched company", "company", company.Ref)
	return s, nil
}

func (s *CompanyScope) Company() billing.Company { return s.company }

// Release reverts to the default company. It runs once; later calls
// return the first result. A cancelled ctx does not stop the revert.
func (s *CompanyScope) Release(ctx context.Context) error {
	s.once.Do(func() {
		if err := s.inv.SwitchCompany(context.WithoutCancel(ctx), s.fallback); err != nil {
			s.logger.Error("cannot revert to default company", "company", s.fallback.Ref, "error", err)
			s.err = &billing.CompanyContextError{Company: s.company.Ref, Revert: true, Err: err}
			return
		}
		s.logger.Info("reverted to default company", "company", s.fallback.Ref)
	})
	return s.err
}
