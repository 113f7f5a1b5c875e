/*
Package timesheet renders the per-day timesheet attached to invoices.

PURPOSE:
  A Sheet is a small table: a metadata header (client, period, provider,
  service level), a blank line, then one row per calendar day and a
  final sum row. The same rows are rendered as quoted CSV, as an HTML
  document (GFM tables through goldmark) and as a landscape A4 PDF.

ROW SEMANTICS:
  Start/End    earliest start and latest stop of the day
  Pause        (End - Start) - worked seconds, never negative
  Location     onsite when any entry of the day is tagged "onsite"
  Durations    HH:MM, rounded to the nearest five minutes

SEE ALSO:
  - html.go, pdf.go: Other renderings of the same rows
  - billing/aggregate.go: DayBucket
*/
package timesheet

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/warp/billing-engine/billing"
)

const tagOnsite = "onsite"

// Sheet is the rendered-agnostic timesheet of one billing unit.
type Sheet struct {
	Name   string
	Title  string
	Period billing.DateRange
	Meta   [][]string
	Header []string
	Rows   [][]string
	Sum    []string
}

// Renderer turns a sheet into a binary document (PDF).
type Renderer interface {
	Render(ctx context.Context, sheet Sheet) ([]byte, error)
}

// Generate builds the sheet for unit, provided by company.
func Generate(unit billing.Unit, cfg billing.Config, provider billing.Company) Sheet {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	l := unit.Customer.Locale
	t := func(key billing.TextKey) string { return billing.Translate(l, key, nil) }

	s := Sheet{
		Name:   unit.Name(),
		Title:  t(billing.TextTimesheet),
		Period: cfg.Range,
		Meta: [][]string{
			{t(billing.TextTimesheet)},
			{t(billing.TextClient), unit.Customer.Name},
			{t(billing.TextFrom), billing.FormatDate(cfg.Range.From)},
			{t(billing.TextTo), billing.FormatDate(cfg.Range.To)},
			{t(billing.TextProvider), provider.Name + " (" + provider.Email + ")"},
			{t(billing.TextServiceLevel), serviceLevel(unit.Customer)},
		},
		Header: []string{
			t(billing.TextDate),
			t(billing.TextDescription),
			t(billing.TextLocation),
			t(billing.TextStart),
			t(billing.TextEnd),
			t(billing.TextPause),
			t(billing.TextTotalTimeWorked),
		},
	}

	for _, day := range unit.Days {
		start, stop := day.Start.In(loc), day.Stop.In(loc)
		pause := int64(stop.Sub(start).Seconds()) - day.TotalSecondsSpent
		location := t(billing.TextOffsite)
		if onsite(day) {
			location = t(billing.TextOnsite)
		}
		s.Rows = append(s.Rows, []string{
			billing.FormatDate(day.Date),
			descriptions(day),
			location,
			billing.FormatClock(start),
			billing.FormatClock(stop),
			billing.ClockDuration(pause),
			billing.ClockDuration(day.TotalSecondsSpent),
		})
	}

	s.Sum = make([]string, len(s.Header))
	s.Sum[len(s.Sum)-2] = t(billing.TextSum)
	s.Sum[len(s.Sum)-1] = billing.ClockDuration(unit.TotalSecondsSpent)
	return s
}

func serviceLevel(c billing.Customer) string {
	if c.ServiceLevel != "" {
		return c.ServiceLevel
	}
	return billing.Translate(c.Locale, billing.TextServiceLevelDefault, nil)
}

func descriptions(day billing.DayBucket) string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range day.Entries {
		if !seen[e.Description] {
			seen[e.Description] = true
			out = append(out, e.Description)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

func onsite(day billing.DayBucket) bool {
	for _, e := range day.Entries {
		for _, tag := range e.Tags {
			if strings.EqualFold(tag, tagOnsite) {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// CSV
// =============================================================================

// CSV renders every cell quoted and comma-joined, with a blank line
// between the metadata block and the table.
func (s Sheet) CSV() string {
	lines := make([]string, 0, len(s.Meta)+len(s.Rows)+3)
	for _, m := range s.Meta {
		lines = append(lines, csvLine(m))
	}
	lines = append(lines, "", csvLine(s.Header))
	for _, r := range s.Rows {
		lines = append(lines, csvLine(r))
	}
	lines = append(lines, csvLine(s.Sum))
	return strings.Join(lines, "\n")
}

func csvLine(cells []string) string {
	quoted := make([]string, len(cells))
	for i, c := range cells {
		quoted[i] = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName is a filesystem-safe name for the sheet with the given extension.
func (s Sheet) FileName(ext string) string {
	name := strings.Trim(unsafeFileChars.ReplaceAllString(s.Name, "_"), "_")
	if name == "" {
		name = "timesheet"
	}
	return name + "_" + s.Period.From.Format("2006-01") + "." + strings.TrimPrefix(ext, ".")
}
