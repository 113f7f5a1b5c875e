package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/billing-engine/billing"
)

func ids(entries []billing.TimeEntry) []billing.EntryID {
	out := make([]billing.EntryID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestFilterEntries_DropsMalformed(t *testing.T) {
	// GIVEN: one good entry and three data-quality problems
	running := entry("4", "website", at(3, 9, 0), -1, "still going")
	running.Stop = time.Time{}
	entries := []billing.TimeEntry{
		entry("1", "website", at(3, 9, 0), 3600, "Design"),
		entry("2", "website", at(3, 10, 0), 3600, "   "),
		entry("3", "", at(3, 11, 0), 3600, "No project"),
		running,
	}

	// WHEN
	got := billing.FilterEntries(entries, nil, nil, nil)

	// THEN
	assert.Equal(t, []billing.EntryID{"1"}, ids(got))
}

func TestFilterEntries_Whitelist_NeedsOneMatchingTag(t *testing.T) {
	entries := []billing.TimeEntry{
		entry("1", "website", at(3, 9, 0), 60, "a", "dev"),
		entry("2", "website", at(3, 9, 0), 60, "b", "meeting", "dev"),
		entry("3", "website", at(3, 9, 0), 60, "c", "internal"),
		entry("4", "website", at(3, 9, 0), 60, "d"),
	}

	got := billing.FilterEntries(entries, []string{"dev"}, nil, nil)

	assert.Equal(t, []billing.EntryID{"1", "2"}, ids(got))
}

func TestFilterEntries_Blacklist_RejectsAnyMatchingTag(t *testing.T) {
	entries := []billing.TimeEntry{
		entry("1", "website", at(3, 9, 0), 60, "a", "dev"),
		entry("2", "website", at(3, 9, 0), 60, "b", "dev", "internal"),
	}

	got := billing.FilterEntries(entries, nil, []string{"internal"}, nil)

	assert.Equal(t, []billing.EntryID{"1"}, ids(got))
}

func TestFilterEntries_BilledAlwaysBlacklisted(t *testing.T) {
	entries := []billing.TimeEntry{
		entry("1", "website", at(3, 9, 0), 60, "a", billing.LabelBilled),
		entry("2", "website", at(3, 9, 0), 60, "b", "dev"),
	}

	got := billing.FilterEntries(entries, []string{"dev", billing.LabelBilled}, nil, nil)

	assert.Equal(t, []billing.EntryID{"2"}, ids(got))
}

func TestFilterEntries_Idempotent(t *testing.T) {
	entries := []billing.TimeEntry{
		entry("1", "website", at(3, 9, 0), 60, "a", "dev"),
		entry("2", "website", at(3, 9, 0), 60, "", "dev"),
		entry("3", "shop", at(3, 9, 0), 60, "c", "dev", "internal"),
		entry("4", "shop", at(3, 9, 0), 60, "d", "ops"),
		entry("5", "app", at(3, 9, 0), 60, "e", "dev", billing.LabelBilled),
	}
	white, black := []string{"dev", "ops"}, []string{"internal"}

	once := billing.FilterEntries(entries, white, black, nil)
	twice := billing.FilterEntries(once, white, black, nil)

	assert.Equal(t, once, twice)
	assert.Equal(t, []billing.EntryID{"1", "4"}, ids(once))
}

func TestConfig_EffectiveLabelBlacklist(t *testing.T) {
	cfg := billing.Config{LabelBlacklist: []string{"internal"}}
	assert.Equal(t, []string{"internal", billing.LabelBilled}, cfg.EffectiveLabelBlacklist())

	cfg = billing.Config{LabelBlacklist: []string{billing.LabelBilled}}
	assert.Equal(t, []string{billing.LabelBilled}, cfg.EffectiveLabelBlacklist())
}

func TestNewConfig_RejectsInvalidRange(t *testing.T) {
	_, err := billing.NewConfig(billing.Config{})
	assert.ErrorIs(t, err, billing.ErrInvalidRange)
	assert.True(t, billing.IsClientError(err))
}

func TestLayoutFor(t *testing.T) {
	layout, err := billing.LayoutFor(billing.Customer{})
	assert.NoError(t, err)
	assert.Equal(t, billing.LayoutByProject, layout)

	layout, err = billing.LayoutFor(billing.Customer{Flags: billing.Flags{ListByDates: true}})
	assert.NoError(t, err)
	assert.Equal(t, billing.LayoutByDate, layout)

	layout, err = billing.LayoutFor(billing.Customer{Flags: billing.Flags{ListByProjects: true}})
	assert.NoError(t, err)
	assert.Equal(t, billing.LayoutByProject, layout)

	_, err = billing.LayoutFor(billing.Customer{Name: "Acme", Flags: billing.Flags{ListByDates: true, ListByProjects: true}})
	assert.ErrorIs(t, err, billing.ErrConflictingFlags)
}
