package billing

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATE RANGE - Inclusive billing period
// =============================================================================

// DateRange is the billing period, [From, To] inclusive at day granularity.
type DateRange struct {
	From time.Time
	To   time.Time
}

// MonthRange returns the full calendar month in loc.
func MonthRange(year int, month time.Month, loc *time.Location) DateRange {
	if loc == nil {
		loc = time.UTC
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return DateRange{From: from, To: EndOfDay(from.AddDate(0, 1, -1))}
}

// PreviousMonth returns the calendar month before now.
func PreviousMonth(now time.Time) DateRange {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	prev := first.AddDate(0, -1, 0)
	return MonthRange(prev.Year(), prev.Month(), now.Location())
}

func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() || r.To.Before(r.From) {
		return fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	return nil
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(StartOfDay(r.From)) && !t.After(EndOfDay(r.To))
}

func (r DateRange) String() string {
	return r.From.Format(time.DateOnly) + ".." + r.To.Format(time.DateOnly)
}

// =============================================================================
// DAY HELPERS
// =============================================================================

func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-1), t.Location())
}

// SameDay compares calendar dates of a and b in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	a, b = a.In(loc), b.In(loc)
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// =============================================================================
// ROUNDING
// =============================================================================

const secondsPerQuarterHour = 15 * 60

// RoundedHours converts seconds to hours, rounded up to the next
// quarter hour. Zero and negative durations yield zero.
func RoundedHours(seconds int64) decimal.Decimal {
	if seconds <= 0 {
		return decimal.Zero
	}
	quarters := (seconds + secondsPerQuarterHour - 1) / secondsPerQuarterHour
	return decimal.New(quarters*25, -2)
}

// ClockDuration formats seconds as HH:MM after rounding to the nearest
// five minutes. Used for timesheet cells.
func ClockDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	const step = 5 * 60
	rounded := (seconds + step/2) / step * step
	return fmt.Sprintf("%02d:%02d", rounded/3600, rounded%3600/60)
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatDate renders a calendar date the way invoices print it: DD.MM.YYYY.
func FormatDate(t time.Time) string {
	return t.Format("02.01.2006")
}

// FormatClock renders a time of day as HH:MM.
func FormatClock(t time.Time) string {
	return t.Format("15:04")
}

// =============================================================================
// ORDERING
// =============================================================================

// SortByStop stable-sorts entries by stop time ascending.
// Ties keep their input order.
func SortByStop(entries []EnrichedTimeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Stop.Before(entries[j].Stop)
	})
}
