package billing

import (
	"log/slog"
	"strings"
)

// FilterEntries keeps the entries that are fit for billing.
//
// Entries without description or project, and still-running entries, are
// dropped with a warning. With a non-empty whitelist an entry must carry at
// least one whitelisted tag; it must carry none of the blacklisted tags.
// LabelBilled is blacklisted even when the caller forgets it. Input order
// is preserved and applying the filter twice changes nothing.
func FilterEntries(entries []TimeEntry, whitelist, blacklist []string, logger *slog.Logger) []TimeEntry {
	logger = orDiscard(logger)
	black := toSet(blacklist)
	black[LabelBilled] = struct{}{}
	white := toSet(whitelist)

	out := make([]TimeEntry, 0, len(entries))
	for _, e := range entries {
		if reason := malformed(e); reason != "" {
			logger.Warn("dropping time entry",
				"reason", reason,
				"entry_id", e.ID,
				"description", e.Description,
				"project", e.ProjectRef)
			continue
		}
		if len(white) > 0 && !anyIn(e.Tags, white) {
			continue
		}
		if anyIn(e.Tags, black) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func malformed(e TimeEntry) string {
	switch {
	case strings.TrimSpace(e.Description) == "":
		return "missing description"
	case e.ProjectRef == "":
		return "missing project"
	case e.Stop.IsZero() || e.DurationSeconds < 0:
		return "still running"
	}
	return ""
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

func anyIn(tags []string, set map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
