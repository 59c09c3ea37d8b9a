package scan

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/balscan/internal/catalog"
	"github.com/yairfalse/balscan/internal/filter"
	"github.com/yairfalse/balscan/internal/issues"
	"github.com/yairfalse/balscan/internal/project"
	"github.com/yairfalse/balscan/internal/provider"
	"github.com/yairfalse/balscan/pkg/rule"
)

// analyze runs every provider with a non-empty active rule subset, at most
// jobs at a time. Results are merged in catalog order regardless of which
// provider finishes first.
func (s *Scanner) analyze(ctx context.Context, p *project.Project, entries []catalog.Entry, f *filter.Filter, jobs int) ([]rule.Issue, error) {
	ctx, span := s.tracer.Start(ctx, "scan.analyze", trace.WithAttributes(attribute.Int("providers", len(entries))))
	defer span.End()

	found := make([][]rule.Issue, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, e := range entries {
		i, e := i, e
		active := f.Rules(e.Rules.Rules())
		if len(active) == 0 {
			s.log.Debug().Ctx(ctx).Str("provider", e.Provider.Identity().String()).Msg("no active rules, skipping provider")
			continue
		}
		g.Go(func() error {
			out, err := s.runProvider(gctx, p, e, active)
			if err != nil {
				return err
			}
			found[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	reporter := issues.NewReporter()
	for _, out := range found {
		if err := reporter.Record(out...); err != nil {
			return nil, err
		}
	}
	reporter.Freeze()

	span.SetAttributes(attribute.Int("issues.raw", reporter.Len()))
	return reporter.Issues(), nil
}

func (s *Scanner) runProvider(ctx context.Context, p *project.Project, e catalog.Entry, active []rule.Rule) ([]rule.Issue, error) {
	id := e.Provider.Identity()
	ctx, span := s.tracer.Start(ctx, "scan.provider",
		trace.WithAttributes(
			attribute.String("provider", id.String()),
			attribute.Int("rules.active", len(active)),
		),
	)
	defer span.End()

	raw, err := e.Provider.Analyze(ctx, p, active)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("provider %s: %w", id, err)
	}

	source := provider.Source(e.Provider)
	out := make([]rule.Issue, 0, len(raw))
	for _, issue := range raw {
		declared, err := e.Rules.Check(issue)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		issue.Rule = declared
		issue.Source = source
		out = append(out, issue)
	}

	s.log.Debug().Ctx(ctx).Str("provider", id.String()).Int("issues", len(out)).Msg("provider finished")
	return out, nil
}
