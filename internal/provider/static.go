package provider

import (
	"context"

	"github.com/yairfalse/balscan/internal/project"
	"github.com/yairfalse/balscan/pkg/rule"
)

// AnalyzeFunc runs rules against a project.
type AnalyzeFunc func(ctx context.Context, p *project.Project, rules []rule.Rule) ([]rule.Issue, error)

// Static is a provider with a fixed rule list. Embedders and tests use it
// to plug analyzers into a Registry without a dedicated type.
type Static struct {
	ID       rule.Identity
	Declared []rule.Rule
	Run      AnalyzeFunc
}

func (s *Static) Identity() rule.Identity {
	return s.ID
}

func (s *Static) Rules() []rule.Rule {
	out := make([]rule.Rule, len(s.Declared))
	copy(out, s.Declared)
	return out
}

func (s *Static) Analyze(ctx context.Context, p *project.Project, rules []rule.Rule) ([]rule.Issue, error) {
	if s.Run == nil {
		return nil, nil
	}
	return s.Run(ctx, p, rules)
}
