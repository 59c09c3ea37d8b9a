// Package provider defines the rule provider interface for balscan.
package provider

import (
	"context"

	"github.com/yairfalse/balscan/internal/project"
	"github.com/yairfalse/balscan/pkg/rule"
)

// Provider is a source of rules: the built-in core set or one external
// analyzer. Analyze must treat the project as read-only and may be called
// concurrently with other providers.
type Provider interface {
	// Identity names the provider; it qualifies every rule id it declares.
	Identity() rule.Identity

	// Rules returns the declared rules, qualified by Identity.
	Rules() []rule.Rule

	// Analyze runs the given subset of Rules against the project.
	Analyze(ctx context.Context, p *project.Project, rules []rule.Rule) ([]rule.Issue, error)
}

// Source returns the provenance tag for issues produced by p.
func Source(p Provider) rule.Source {
	if p.Identity().IsCore() {
		return rule.SourceBuiltIn
	}
	return rule.SourceExternal
}
