package pipeline

import (
	"context"
	"fmt"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/invoice"
	"github.com/warp/billing-engine/timesheet"
)

// SheetAttacher attaches the unit's timesheet, rendered as PDF, to its
// invoice.
type SheetAttacher struct {
	Companies billing.CompanyDirectory
	Renderer  timesheet.Renderer // nil means PDF
}

var _ invoice.Attacher = (*SheetAttacher)(nil)

func (a *SheetAttacher) Attach(ctx context.Context, unit billing.Unit, cfg billing.Config) ([]invoice.Attachment, error) {
	provider, err := companyFor(ctx, a.Companies, unit.Customer)
	if err != nil {
		return nil, err
	}
	renderer := a.Renderer
	if renderer == nil {
		renderer = timesheet.NewPDFRenderer()
	}

	sheet := timesheet.Generate(unit, cfg, provider)
	data, err := renderer.Render(ctx, sheet)
	if err != nil {
		return nil, fmt.Errorf("render timesheet: %w", err)
	}
	return []invoice.Attachment{{
		FileName:    sheet.FileName("pdf"),
		ContentType: "application/pdf",
		Data:        data,
	}}, nil
}
