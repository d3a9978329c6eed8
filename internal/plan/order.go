package plan

import (
	"cmp"
	"slices"
)

// CompareCandidates orders entries competing for the next start: non-default
// before default, higher priority first, earlier NextRunTime first (entries
// without one last), then name and ID for a deterministic tie-break.
func CompareCandidates(a, b *Entry) int {
	if a.Default != b.Default {
		if a.Default {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	switch {
	case a.NextRunTime == nil && b.NextRunTime != nil:
		return 1
	case a.NextRunTime != nil && b.NextRunTime == nil:
		return -1
	case a.NextRunTime != nil && b.NextRunTime != nil:
		if c := a.NextRunTime.Compare(*b.NextRunTime); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortCandidates sorts entries in place by CompareCandidates.
func SortCandidates(entries []*Entry) {
	slices.SortStableFunc(entries, CompareCandidates)
}

// SortForDisplay returns a copy ordered enabled-before-disabled, then by
// CompareCandidates.
func SortForDisplay(entries []*Entry) []*Entry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b *Entry) int {
		if a.Enabled != b.Enabled {
			if a.Enabled {
				return -1
			}
			return 1
		}
		return CompareCandidates(a, b)
	})
	return out
}
