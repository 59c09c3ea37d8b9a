package scan

import (
	"context"

	"github.com/yairfalse/balscan/internal/report"
)

// ReportOptions select the outputs written after a successful scan.
type ReportOptions struct {
	// Dir names the report directory under the project root. Empty means
	// <target>/report.
	Dir string
	// HTML also writes the HTML report.
	HTML bool
	// Platforms are handed the final issues, in order.
	Platforms []string
}

// Report prints the issues to the scanner output, saves them as JSON and
// optionally as HTML, then dispatches to platforms. It returns the paths
// written. Every failure is a report write error.
func (s *Scanner) Report(ctx context.Context, res *Result, opts ReportOptions) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "scan.report")
	defer span.End()

	fail := func(err error) ([]string, error) {
		span.RecordError(err)
		return nil, stageErr(StageReport, err)
	}

	if err := report.WriteJSON(s.out, res.Issues); err != nil {
		return fail(err)
	}

	dir, err := report.ResolveDir(res.Project, opts.Dir)
	if err != nil {
		return fail(err)
	}

	var paths []string
	path, err := report.SaveJSON(dir, res.Issues)
	if err != nil {
		return fail(err)
	}
	paths = append(paths, path)

	if opts.HTML {
		path, err := report.GenerateHTML(dir, res.Project, res.Issues)
		if err != nil {
			return fail(err)
		}
		paths = append(paths, path)
		s.log.Info().Ctx(ctx).Str("path", path).Msg("generated HTML report")
	}

	if len(opts.Platforms) > 0 {
		err := s.platforms.Dispatch(ctx, s.log, res.Config, opts.Platforms, res.Project, res.Issues)
		if err != nil {
			return fail(err)
		}
	}

	return paths, nil
}
