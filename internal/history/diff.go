package history

import (
	"sort"

	"github.com/yairfalse/balscan/pkg/rule"
)

// Fingerprint identifies an issue across runs by rule, file and range.
func Fingerprint(i rule.Issue) string {
	return i.Rule.ID + "|" + i.Location.FilePath + "|" + i.Location.Range.String()
}

// Fingerprints returns the sorted fingerprints of issues. Repeated
// findings keep one entry each.
func Fingerprints(issues []rule.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, Fingerprint(i))
	}
	sort.Strings(out)
	return out
}

// Diff counts how the issue set changed between two runs.
type Diff struct {
	New      int
	Resolved int
}

// Compare diffs the fingerprints of a previous run against the current
// ones. Both slices are treated as multisets.
func Compare(previous, current []string) Diff {
	counts := make(map[string]int, len(previous))
	for _, fp := range previous {
		counts[fp]++
	}

	var d Diff
	for _, fp := range current {
		if counts[fp] > 0 {
			counts[fp]--
			continue
		}
		d.New++
	}
	for _, n := range counts {
		d.Resolved += n
	}
	return d
}
