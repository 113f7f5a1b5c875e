package invoice

import (
	"sort"
	"strings"
	"time"

	"github.com/warp/billing-engine/billing"
)

// BuildRequest generates the invoice request for one unit. It performs no
// I/O; the only error is an unresolvable layout.
func BuildRequest(unit billing.Unit, cfg billing.Config) (Request, error) {
	layout, err := billing.LayoutFor(unit.Customer)
	if err != nil {
		return Request{}, err
	}
	locale := unit.Customer.Locale

	req := Request{
		Unit:            unit.Name(),
		Customer:        unit.Customer,
		Layout:          layout,
		LanguageCode:    locale.LanguageCode(),
		Date:            cfg.Range.To,
		ServicePeriod:   cfg.Range,
		Introduction:    introduction(unit),
		PaymentTermDays: unit.Customer.PaymentTermDays,
		Notes: billing.Translate(locale, billing.TextPerformancePeriod, map[string]string{
			"from": billing.FormatDate(cfg.Range.From),
			"to":   billing.FormatDate(cfg.Range.To),
		}),
		AdditionalNotes: billing.Translate(locale, billing.TextAdditionalNotes, map[string]string{
			"netUnitSalesPrice": unit.PrimaryProduct().UnitPrice.StringFixed(2),
		}),
	}

	switch layout {
	case billing.LayoutByDate:
		req.Lines = linesByDate(unit)
	case billing.LayoutByProject:
		req.Lines = linesByProject(unit, cfg.Location)
	}
	return req, nil
}

func introduction(unit billing.Unit) string {
	locale := unit.Customer.Locale
	if unit.Project != nil {
		return billing.Translate(locale, billing.TextProject, map[string]string{"projects": unit.Project.Name})
	}
	names := make([]string, 0, len(unit.Projects))
	for _, p := range unit.Projects {
		names = append(names, p.Project.Name)
	}
	key := billing.TextProjects
	if len(names) == 1 {
		key = billing.TextProject
	}
	return billing.Translate(locale, key, map[string]string{"projects": strings.Join(names, ", ")})
}

func lineFor(product billing.Product, seconds int64, label, description string) Line {
	return Line{
		ProductRef:  product.Ref,
		TaxEnabled:  product.TaxEnabled,
		TaxRate:     product.TaxRate,
		UnitPrice:   product.UnitPrice,
		Quantity:    billing.RoundedHours(seconds),
		Unit:        product.Unit,
		Label:       label,
		Description: description,
	}
}

// =============================================================================
// BY PROJECT
// =============================================================================

func linesByProject(unit billing.Unit, loc *time.Location) []Line {
	if loc == nil {
		loc = time.UTC
	}
	lines := make([]Line, 0, len(unit.Projects))
	for _, p := range unit.Projects {
		lines = append(lines, lineFor(p.Project.Product, p.TotalSecondsSpent, p.Project.Name, projectRows(p.Entries, loc)))
	}
	return lines
}

type descriptionRow struct {
	description string
	first       time.Time
	dates       []time.Time
	seen        map[string]bool
}

// projectRows lists each distinct description once, followed by the
// sorted dates it was worked on. Rows are ordered by their first date.
func projectRows(entries []billing.EnrichedTimeEntry, loc *time.Location) string {
	rows := make(map[string]*descriptionRow)
	for _, e := range entries {
		start := e.Start.In(loc)
		row, ok := rows[e.Description]
		if !ok {
			row = &descriptionRow{description: e.Description, first: start, seen: make(map[string]bool)}
			rows[e.Description] = row
		}
		date := billing.FormatDate(start)
		if !row.seen[date] {
			row.seen[date] = true
			row.dates = append(row.dates, start)
		}
		if start.Before(row.first) {
			row.first = start
		}
	}

	ordered := make([]*descriptionRow, 0, len(rows))
	for _, r := range rows {
		sort.Slice(r.dates, func(i, j int) bool { return r.dates[i].Before(r.dates[j]) })
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.first.Equal(b.first) {
			return a.first.Before(b.first)
		}
		return a.description < b.description
	})

	var sb strings.Builder
	for i, r := range ordered {
		if i > 0 {
			sb.WriteByte('\n')
		}
		dates := make([]string, 0, len(r.dates))
		for _, d := range r.dates {
			dates = append(dates, billing.FormatDate(d))
		}
		sb.WriteString("- " + r.description + " (" + strings.Join(dates, ", ") + ")")
	}
	return sb.String()
}

// =============================================================================
// BY DATE
// =============================================================================

// linesByDate emits one line per day. A day on a single project carries
// the project in its label ("date | project") and below its rows.
func linesByDate(unit billing.Unit) []Line {
	lines := make([]Line, 0, len(unit.Days))
	for _, day := range unit.Days {
		product := dayProduct(unit, day)
		label, rows := billing.FormatDate(day.Date), dayRows(day)
		if names := dayProjects(day); len(names) == 1 {
			label += " | " + names[0]
			rows += "\n\n" + names[0]
		}
		lines = append(lines, lineFor(product, day.TotalSecondsSpent, label, rows))
	}
	return lines
}

// dayProjects returns the distinct project names of the day, sorted.
func dayProjects(day billing.DayBucket) []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range day.Entries {
		if !seen[e.Project.Name] {
			seen[e.Project.Name] = true
			names = append(names, e.Project.Name)
		}
	}
	sort.Strings(names)
	return names
}

// dayProduct is the product of the first of the unit's projects that
// has time on that day.
func dayProduct(unit billing.Unit, day billing.DayBucket) billing.Product {
	present := make(map[billing.ProjectRef]bool)
	for _, e := range day.Entries {
		present[e.Project.Ref] = true
	}
	for _, p := range unit.Projects {
		if present[p.Project.Ref] {
			return p.Project.Product
		}
	}
	return unit.PrimaryProduct()
}

// dayRows lists the day's distinct descriptions, sorted. With more than
// one project on the day every row is prefixed with its project name.
func dayRows(day billing.DayBucket) string {
	prefixed := len(dayProjects(day)) > 1

	seen := make(map[string]bool)
	var rows []string
	for _, e := range day.Entries {
		row := e.Description
		if prefixed {
			row = e.Project.Name + " | " + row
		}
		if seen[row] {
			continue
		}
		seen[row] = true
		rows = append(rows, row)
	}
	sort.Strings(rows)

	for i, r := range rows {
		rows[i] = "- " + r
	}
	return strings.Join(rows, "\n")
}
