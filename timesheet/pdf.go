package timesheet

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// column widths in mm, landscape A4 leaves 277mm between the margins
var columnWidths = []float64{24, 121, 24, 20, 20, 20, 48}

const (
	lineHeight = 5.0
	fontFamily = "Arial"
)

// PDFRenderer lays the sheet out as a landscape A4 table.
type PDFRenderer struct{}

func NewPDFRenderer() *PDFRenderer { return &PDFRenderer{} }

func (r *PDFRenderer) Render(ctx context.Context, s Sheet) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(s.Name, true)
	pdf.AddPage()

	// metadata block
	for i, m := range s.Meta {
		if i == 0 {
			pdf.SetFont(fontFamily, "B", 12)
			pdf.Cell(0, 8, tr(m[0]))
			pdf.Ln(9)
			continue
		}
		pdf.SetFont(fontFamily, "B", 9)
		pdf.Cell(40, lineHeight, tr(cell(m, 0)))
		pdf.SetFont(fontFamily, "", 9)
		pdf.Cell(0, lineHeight, tr(cell(m, 1)))
		pdf.Ln(lineHeight)
	}
	pdf.Ln(lineHeight)

	// entries table
	pdf.SetFont(fontFamily, "B", 8)
	r.row(pdf, tr, s.Header, true)
	pdf.SetFont(fontFamily, "", 8)
	for _, row := range s.Rows {
		r.row(pdf, tr, row, true)
	}
	pdf.SetFont(fontFamily, "B", 8)
	r.row(pdf, tr, s.Sum, false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render timesheet %q: %w", s.Name, err)
	}
	return buf.Bytes(), nil
}

// row draws one table row; the description column wraps, the row grows
// to the tallest cell.
func (r *PDFRenderer) row(pdf *gofpdf.Fpdf, tr func(string) string, cells []string, border bool) {
	lines := 1
	for i, c := range cells {
		if i >= len(columnWidths) {
			break
		}
		if n := len(pdf.SplitLines([]byte(tr(c)), columnWidths[i]-2)); n > lines {
			lines = n
		}
	}
	height := float64(lines) * lineHeight

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if pdf.GetY()+height > pageHeight-bottom {
		pdf.AddPage()
	}

	x, y := pdf.GetXY()
	for i, width := range columnWidths {
		if border {
			pdf.Rect(x, y, width, height, "D")
		}
		pdf.SetXY(x, y)
		pdf.MultiCell(width, lineHeight, tr(cell(cells, i)), "", "L", false)
		x += width
	}
	left, _, _, _ := pdf.GetMargins()
	pdf.SetXY(left, y+height)
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
