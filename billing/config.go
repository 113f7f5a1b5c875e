package billing

import (
	"fmt"
	"time"
)

// LabelBilled marks entries that were already invoiced. It is always
// blacklisted so a second run never bills the same work twice.
const LabelBilled = "billed"

// Config is the immutable configuration of one run.
type Config struct {
	Range             DateRange
	DryRun            bool
	SetBilled         bool
	LabelWhitelist    []string
	LabelBlacklist    []string
	CustomerWhitelist []string
	CustomerBlacklist []string

	// Location decides calendar days; nil means UTC.
	Location *time.Location
}

// NewConfig validates the range and freezes copies of the lists.
func NewConfig(cfg Config) (Config, error) {
	if err := cfg.Range.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cfg.Range = DateRange{From: cfg.Range.From.In(cfg.Location), To: cfg.Range.To.In(cfg.Location)}
	cfg.LabelWhitelist = clone(cfg.LabelWhitelist)
	cfg.LabelBlacklist = clone(cfg.LabelBlacklist)
	cfg.CustomerWhitelist = clone(cfg.CustomerWhitelist)
	cfg.CustomerBlacklist = clone(cfg.CustomerBlacklist)
	return cfg, nil
}

// EffectiveLabelBlacklist returns the blacklist including LabelBilled.
func (c Config) EffectiveLabelBlacklist() []string {
	for _, l := range c.LabelBlacklist {
		if l == LabelBilled {
			return clone(c.LabelBlacklist)
		}
	}
	return append(clone(c.LabelBlacklist), LabelBilled)
}

func clone(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// =============================================================================
// LAYOUT
// =============================================================================

// Layout decides how time is broken into invoice lines.
type Layout int

const (
	LayoutByProject Layout = iota
	LayoutByDate
)

func (l Layout) String() string {
	switch l {
	case LayoutByDate:
		return "by_date"
	default:
		return "by_project"
	}
}

// LayoutFor resolves the customer's layout. Asking for both layouts is a
// configuration error; asking for none means by project.
func LayoutFor(c Customer) (Layout, error) {
	switch {
	case c.Flags.ListByDates && c.Flags.ListByProjects:
		return 0, fmt.Errorf("%w: customer %q lists by dates and by projects", ErrConflictingFlags, c.Name)
	case c.Flags.ListByDates:
		return LayoutByDate, nil
	default:
		return LayoutByProject, nil
	}
}
