/*
aggregate.go - Customer → project → day hierarchy

PURPOSE:
  Folds enriched entries into CustomerAggregates. Each level carries the
  running total of its entries and the entries themselves, sorted by stop
  time.

INVARIANTS:
  - Every DayBucket holds only entries that start and stop on its date.
    An entry crossing midnight aborts the run (CrossDayError).
  - For every aggregate: Σ Days.TotalSecondsSpent == TotalSecondsSpent
    == Σ Entries.DurationSeconds.
  - A fragment (EntryKey) is counted once even if it is folded twice.
  - Output order is canonical: customers and projects by name then ref,
    days by date. Map iteration order never leaks into the result.

SEE ALSO:
  - sanitize.go: Produces the fragments
  - invoice/lines.go, timesheet/csv.go: Consume the aggregates
*/
package billing

import (
	"log/slog"
	"sort"
	"time"
)

type projectGroup struct {
	project Project
	entries []EnrichedTimeEntry
}

type customerGroup struct {
	customer Customer
	entries  []EnrichedTimeEntry
	projects map[ProjectRef]*projectGroup
}

// Aggregate groups entries by customer, project and calendar day in loc.
func Aggregate(entries []EnrichedTimeEntry, loc *time.Location, logger *slog.Logger) ([]CustomerAggregate, error) {
	logger = orDiscard(logger)
	if loc == nil {
		loc = time.UTC
	}

	seen := make(map[EntryKey]struct{}, len(entries))
	groups := make(map[CustomerRef]*customerGroup)
	for _, e := range entries {
		if !SameDay(e.Start, e.Stop, loc) {
			return nil, &CrossDayError{EntryID: e.ID, Start: e.Start.In(loc), Stop: e.Stop.In(loc)}
		}
		if _, dup := seen[e.Key()]; dup {
			logger.Debug("skipping duplicate fragment", "entry_id", e.ID, "fragment", e.Fragment)
			continue
		}
		seen[e.Key()] = struct{}{}

		cg, ok := groups[e.Customer.Ref]
		if !ok {
			cg = &customerGroup{customer: e.Customer, projects: make(map[ProjectRef]*projectGroup)}
			groups[e.Customer.Ref] = cg
		}
		cg.entries = append(cg.entries, e)

		pg, ok := cg.projects[e.Project.Ref]
		if !ok {
			pg = &projectGroup{project: e.Project}
			cg.projects[e.Project.Ref] = pg
		}
		pg.entries = append(pg.entries, e)
	}

	out := make([]CustomerAggregate, 0, len(groups))
	for _, cg := range groups {
		agg := CustomerAggregate{Customer: cg.customer}
		agg.Entries, agg.Days, agg.TotalSecondsSpent = fold(cg.entries, loc)
		for _, pg := range cg.projects {
			pa := ProjectAggregate{Project: pg.project, Customer: cg.customer}
			pa.Entries, pa.Days, pa.TotalSecondsSpent = fold(pg.entries, loc)
			agg.Projects = append(agg.Projects, pa)
		}
		sort.Slice(agg.Projects, func(i, j int) bool {
			a, b := agg.Projects[i].Project, agg.Projects[j].Project
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.Ref < b.Ref
		})
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Customer, out[j].Customer
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Ref < b.Ref
	})
	return out, nil
}

// fold sorts entries by stop time and buckets them into days.
func fold(entries []EnrichedTimeEntry, loc *time.Location) ([]EnrichedTimeEntry, []DayBucket, int64) {
	sorted := make([]EnrichedTimeEntry, len(entries))
	copy(sorted, entries)
	SortByStop(sorted)

	var total int64
	index := make(map[string]int)
	var days []DayBucket
	for _, e := range sorted {
		total += e.DurationSeconds
		date := StartOfDay(e.Start.In(loc))
		key := date.Format(time.DateOnly)
		i, ok := index[key]
		if !ok {
			i = len(days)
			index[key] = i
			days = append(days, DayBucket{Date: date, Start: e.Start, Stop: e.Stop})
		}
		d := &days[i]
		d.Entries = append(d.Entries, e)
		d.TotalSecondsSpent += e.DurationSeconds
		if e.Start.Before(d.Start) {
			d.Start = e.Start
		}
		if e.Stop.After(d.Stop) {
			d.Stop = e.Stop
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return sorted, days, total
}

// FilterCustomers applies customer white- and blacklists to the top-level
// groups. A customer matches a list by name or by ref.
func FilterCustomers(aggs []CustomerAggregate, whitelist, blacklist []string) []CustomerAggregate {
	white, black := toSet(whitelist), toSet(blacklist)
	matches := func(c Customer, set map[string]struct{}) bool {
		_, byName := set[c.Name]
		_, byRef := set[string(c.Ref)]
		return byName || byRef
	}

	out := make([]CustomerAggregate, 0, len(aggs))
	for _, a := range aggs {
		if len(white) > 0 && !matches(a.Customer, white) {
			continue
		}
		if matches(a.Customer, black) {
			continue
		}
		out = append(out, a)
	}
	return out
}
