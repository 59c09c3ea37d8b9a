// Package filter applies include/exclude rule filters for balscan.
package filter

import (
	"github.com/yairfalse/balscan/pkg/rule"
)

// Filter decides which qualified rule ids take part in a scan.
//
// A non-empty include set is an allowlist; the exclude set is then applied
// as a denylist on top of it. The same decision is used for rules before
// analysis and for issues after it.
type Filter struct {
	include map[string]bool
	exclude map[string]bool
}

// New creates a Filter from include and exclude rule ids.
func New(include, exclude []string) *Filter {
	return &Filter{
		include: toSet(include),
		exclude: toSet(exclude),
	}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Allows returns true if the qualified rule id is retained.
func (f *Filter) Allows(id string) bool {
	if len(f.include) > 0 && !f.include[id] {
		return false
	}
	return !f.exclude[id]
}

// IDs returns the retained ids, in input order.
func (f *Filter) IDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if f.Allows(id) {
			out = append(out, id)
		}
	}
	return out
}

// Rules returns only rules that pass the filter.
func (f *Filter) Rules(rules []rule.Rule) []rule.Rule {
	if f.IsEmpty() {
		return rules
	}

	filtered := make([]rule.Rule, 0, len(rules))
	for _, r := range rules {
		if f.Allows(r.ID) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Issues returns only issues whose rule passes the filter.
func (f *Filter) Issues(issues []rule.Issue) []rule.Issue {
	if f.IsEmpty() {
		return issues
	}

	filtered := make([]rule.Issue, 0, len(issues))
	for _, i := range issues {
		if f.Allows(i.Rule.ID) {
			filtered = append(filtered, i)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.include) == 0 && len(f.exclude) == 0
}
