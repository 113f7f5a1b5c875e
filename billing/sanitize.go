package billing

import "strings"

// SanitizeEntries splits comma-separated descriptions into one entry per
// fragment. Fragments are trimmed and empty ones dropped. The first
// non-empty fragment keeps the full duration and the rest get zero, so
// the total duration of the input is preserved exactly.
func SanitizeEntries(entries []TimeEntry) []TimeEntry {
	out := make([]TimeEntry, 0, len(entries))
	for _, e := range entries {
		fragment := 0
		for _, part := range strings.Split(e.Description, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			split := e
			split.Description = part
			split.Fragment = fragment
			if fragment > 0 {
				split.DurationSeconds = 0
			}
			out = append(out, split)
			fragment++
		}
		if fragment == 0 {
			// only separators; keep the entry so its time is not lost
			e.Description = strings.TrimSpace(e.Description)
			out = append(out, e)
		}
	}
	return out
}
