// Package catalog holds the active rules of a scan, partitioned by provider.
//
// The core provider always comes first. External providers follow in the
// order the scan configuration declares their analyzers, and an analyzer
// declared twice yields two entries.
package catalog

import (
	"context"
	"fmt"

	"github.com/yairfalse/balscan/internal/provider"
	"github.com/yairfalse/balscan/pkg/rule"
)

// Entry pairs a provider with its indexed rules.
type Entry struct {
	Provider provider.Provider
	Rules    *RuleSet
}

// Catalog is read-only once built.
type Catalog struct {
	entries []Entry
	byID    map[string]rule.Rule
}

// New indexes the rules of each provider, in order.
func New(providers ...provider.Provider) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]rule.Rule)}
	for _, p := range providers {
		id := p.Identity()
		if err := id.Validate(); err != nil {
			return nil, &IntegrityError{Provider: id.Qualifier(), Reason: err.Error()}
		}
		set, err := NewRuleSet(id, p.Rules())
		if err != nil {
			return nil, err
		}
		c.entries = append(c.entries, Entry{Provider: p, Rules: set})
		for _, r := range set.Rules() {
			c.byID[r.ID] = r
		}
	}
	return c, nil
}

// Load builds the catalog from the core provider and the analyzers named
// in the scan configuration, resolved through reg.
func Load(ctx context.Context, core provider.Provider, analyzers []rule.Identity, reg *provider.Registry) (*Catalog, error) {
	providers := make([]provider.Provider, 0, len(analyzers)+1)
	providers = append(providers, core)
	for _, id := range analyzers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := reg.Resolve(id)
		if err != nil {
			return nil, fmt.Errorf("resolve analyzer: %w", err)
		}
		if got := p.Identity(); got.IsCore() || got.Qualifier() != id.Qualifier() {
			return nil, &IntegrityError{
				Provider: id.Qualifier(),
				Reason:   fmt.Sprintf("analyzer claims identity %q", got.Qualifier()),
			}
		}
		providers = append(providers, p)
	}
	return New(providers...)
}

// Entries returns the providers in catalog order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Rules returns every rule: core first, then each external provider in
// declaration order, each in numeric id order.
func (c *Catalog) Rules() []rule.Rule {
	var out []rule.Rule
	for _, e := range c.entries {
		out = append(out, e.Rules.Rules()...)
	}
	return out
}

// Lookup finds a rule by qualified id.
func (c *Catalog) Lookup(id string) (rule.Rule, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// Len returns the total number of rules, counting repeated providers once
// per entry.
func (c *Catalog) Len() int {
	n := 0
	for _, e := range c.entries {
		n += e.Rules.Len()
	}
	return n
}
