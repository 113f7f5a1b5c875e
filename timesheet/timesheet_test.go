package timesheet_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/timesheet"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var provider = billing.Company{Ref: "main", Name: "Main GmbH", Email: "billing@main.example", Default: true}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
}

func sampleUnit(t *testing.T, locale billing.Locale) billing.Unit {
	t.Helper()
	acme := billing.Customer{Ref: "acme", Name: "Acme", Locale: locale}
	website := billing.Project{Ref: "website", Name: "Website", CustomerRef: "acme"}
	mk := func(id string, start time.Time, seconds int64, desc string, tags ...string) billing.EnrichedTimeEntry {
		return billing.EnrichedTimeEntry{
			TimeEntry: billing.TimeEntry{
				ID: billing.EntryID(id), ProjectRef: "website",
				Start: start, Stop: start.Add(time.Duration(seconds) * time.Second),
				DurationSeconds: seconds, Description: desc, Tags: tags,
			},
			Project:  website,
			Customer: acme,
		}
	}
	aggs, err := billing.Aggregate([]billing.EnrichedTimeEntry{
		mk("1", at(3, 9, 0), 3600, "Design", "OnSite"),
		mk("2", at(3, 11, 0), 1800, "Review"),
		mk("3", at(3, 10, 0), 0, "Design"),
		mk("4", at(4, 14, 0), 1200, "Fix"),
	}, time.UTC, nil)
	require.NoError(t, err)
	return billing.Units(aggs)[0]
}

func cfg() billing.Config {
	return billing.Config{Range: billing.MonthRange(2025, time.March, time.UTC), Location: time.UTC}
}

// =============================================================================
// CSV
// =============================================================================

func TestGenerate_CSV(t *testing.T) {
	sheet := timesheet.Generate(sampleUnit(t, billing.LocaleEN), cfg(), provider)

	want := strings.Join([]string{
		`"Timesheet"`,
		`"Client","Acme"`,
		`"From","01.03.2025"`,
		`"To","31.03.2025"`,
		`"Provider","Main GmbH (billing@main.example)"`,
		`"Service level","Time and material"`,
		``,
		`"Date","Description","Location","Start","End","Pause","Total time worked"`,
		`"03.03.2025","Design, Review","Onsite","09:00","11:30","01:00","01:30"`,
		`"04.03.2025","Fix","Offsite","14:00","14:20","00:00","00:20"`,
		`"","","","","","Sum","01:50"`,
	}, "\n")
	assert.Equal(t, want, sheet.CSV())
}

func TestGenerate_GermanLabels(t *testing.T) {
	sheet := timesheet.Generate(sampleUnit(t, billing.LocaleDE), cfg(), provider)

	assert.Equal(t, []string{"Kunde", "Acme"}, sheet.Meta[1])
	assert.Equal(t, "Vor Ort", sheet.Rows[0][2])
	assert.Equal(t, "Summe", sheet.Sum[5])
}

func TestGenerate_CustomServiceLevel(t *testing.T) {
	u := sampleUnit(t, billing.LocaleEN)
	u.Customer.ServiceLevel = "Retainer"

	sheet := timesheet.Generate(u, cfg(), provider)

	assert.Equal(t, []string{"Service level", "Retainer"}, sheet.Meta[5])
}

func TestSheet_CSV_EscapesQuotes(t *testing.T) {
	sheet := timesheet.Sheet{Header: []string{`say "hi"`}, Sum: []string{"x"}}
	assert.Contains(t, sheet.CSV(), `"say ""hi"""`)
}

func TestSheet_FileName(t *testing.T) {
	sheet := timesheet.Generate(sampleUnit(t, billing.LocaleEN), cfg(), provider)
	sheet.Name = "Acme GmbH / Website"

	assert.Equal(t, "Acme_GmbH_Website_2025-03.pdf", sheet.FileName("pdf"))
	assert.Equal(t, "Acme_GmbH_Website_2025-03.csv", sheet.FileName(".csv"))
}

// =============================================================================
// HTML + PDF
// =============================================================================

func TestSheet_HTML_RendersTables(t *testing.T) {
	sheet := timesheet.Generate(sampleUnit(t, billing.LocaleEN), cfg(), provider)

	html, err := sheet.HTML()

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Equal(t, 2, strings.Count(html, "<table>"))
	assert.Contains(t, html, "<title>Acme</title>")
	assert.Contains(t, html, "<th>Total time worked</th>")
	assert.Contains(t, html, "<td>Design, Review</td>")
	assert.Contains(t, html, "<td>01:50</td>")
}

func TestSheet_HTML_IsPure(t *testing.T) {
	sheet := timesheet.Generate(sampleUnit(t, billing.LocaleEN), cfg(), provider)

	a, err := sheet.HTML()
	require.NoError(t, err)
	b, err := sheet.HTML()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPDFRenderer_ProducesPDF(t *testing.T) {
	sheet := timesheet.Generate(sampleUnit(t, billing.LocaleDE), cfg(), provider)

	data, err := timesheet.NewPDFRenderer().Render(context.Background(), sheet)

	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestPDFRenderer_RespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := timesheet.NewPDFRenderer().Render(ctx, timesheet.Sheet{})

	assert.ErrorIs(t, err, context.Canceled)
}
