// Package scan runs the analysis pipeline for one project: resolve the
// scan configuration, build the rule catalog, analyze, filter and report.
package scan

import (
	"context"
	"errors"
	"io"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/balscan/internal/cache"
	"github.com/yairfalse/balscan/internal/catalog"
	"github.com/yairfalse/balscan/internal/config"
	"github.com/yairfalse/balscan/internal/filter"
	"github.com/yairfalse/balscan/internal/history"
	"github.com/yairfalse/balscan/internal/platform"
	"github.com/yairfalse/balscan/internal/project"
	"github.com/yairfalse/balscan/internal/provider"
	"github.com/yairfalse/balscan/internal/telemetry"
	"github.com/yairfalse/balscan/pkg/rule"
)

// Options control a single scan.
type Options struct {
	// Include and Exclude replace the configured rule filters when non-empty.
	Include []string
	Exclude []string

	// Jobs bounds concurrent provider analyses. Defaults to GOMAXPROCS.
	Jobs int
}

// Result is the outcome of a successful scan.
type Result struct {
	Project     *project.Project
	Config      *config.ScanConfig
	Catalog     *catalog.Catalog
	ActiveRules []rule.Rule
	Issues      []rule.Issue
	Duration    time.Duration

	// Diff compares against the last successful run when history is on.
	Diff  *history.Diff
	RunID uint64
}

// Scanner coordinates config → catalog → analysis → filter.
type Scanner struct {
	core      provider.Provider
	analyzers *provider.Registry
	platforms *platform.Registry
	history   *history.Store
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	log       zerolog.Logger
	out       io.Writer
	cacheOpts []cache.Option
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithCore replaces the built-in provider.
func WithCore(p provider.Provider) Option {
	return func(s *Scanner) { s.core = p }
}

// WithAnalyzers sets the registry external analyzers resolve from.
func WithAnalyzers(r *provider.Registry) Option {
	return func(s *Scanner) { s.analyzers = r }
}

// WithPlatforms sets the registry of reporting platforms.
func WithPlatforms(r *platform.Registry) Option {
	return func(s *Scanner) { s.platforms = r }
}

// WithHistory records each run in store.
func WithHistory(store *history.Store) Option {
	return func(s *Scanner) { s.history = store }
}

// WithMetrics records scan metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// WithTracer sets the tracer for scan spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scanner) { s.tracer = t }
}

// WithLogger sets the progress logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scanner) { s.log = l }
}

// WithOutput sets where machine-readable output is printed.
func WithOutput(w io.Writer) Option {
	return func(s *Scanner) { s.out = w }
}

// WithCacheOptions passes options to the artifact cache of each scan.
func WithCacheOptions(opts ...cache.Option) Option {
	return func(s *Scanner) { s.cacheOpts = append(s.cacheOpts, opts...) }
}

// New creates a scanner. Without options it runs the core provider only,
// with the default analyzer registry and no platforms.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		core:      provider.NewCore(),
		analyzers: provider.Default(),
		platforms: platform.NewRegistry(),
		tracer:    otel.Tracer("balscan.scan"),
		log:       zerolog.Nop(),
		out:       io.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run scans p. Fatal errors are *StageError values; no partial result is
// returned with them.
func (s *Scanner) Run(ctx context.Context, p *project.Project, opts Options) (*Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "scan.run",
		trace.WithAttributes(
			attribute.String("project.name", p.Name),
			attribute.String("project.kind", p.Kind.String()),
		),
	)
	defer span.End()

	s.log.Info().Ctx(ctx).Str("project", p.Name).Int("documents", len(p.Documents)).Msg("starting scan")

	res, err := s.run(ctx, p, opts)
	duration := time.Since(start)

	status := history.StatusSuccess
	if err != nil {
		status = history.StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		res.Duration = duration
		s.recordIssueMetrics(ctx, res.Issues)
	}
	s.metrics.RecordScan(ctx, status, duration.Seconds())
	s.recordHistory(ctx, p, res, err, start, duration)

	if err != nil {
		return nil, err
	}

	s.log.Info().Ctx(ctx).
		Int("rules", len(res.ActiveRules)).
		Int("issues", len(res.Issues)).
		Dur("duration", duration).
		Msg("scan complete")
	return res, nil
}

func (s *Scanner) run(ctx context.Context, p *project.Project, opts Options) (*Result, error) {
	cfg, cat, err := s.load(ctx, p, opts)
	if err != nil {
		return nil, err
	}

	f := filter.New(cfg.Include(), cfg.Exclude())
	active := f.Rules(cat.Rules())
	s.metrics.RecordActiveRules(ctx, int64(len(active)))
	s.log.Debug().Ctx(ctx).Int("active", len(active)).Int("declared", cat.Len()).Msg("rules filtered")

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	found, err := s.analyze(ctx, p, cat.Entries(), f, jobs)
	if err != nil {
		return nil, stageErr(StageAnalysis, err)
	}

	return &Result{
		Project:     p,
		Config:      cfg,
		Catalog:     cat,
		ActiveRules: active,
		Issues:      f.Issues(found),
	}, nil
}

// ListRules resolves the configuration and catalog without analyzing.
func (s *Scanner) ListRules(ctx context.Context, p *project.Project, opts Options) ([]rule.Rule, error) {
	ctx, span := s.tracer.Start(ctx, "scan.list_rules")
	defer span.End()

	_, cat, err := s.load(ctx, p, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return cat.Rules(), nil
}

func (s *Scanner) load(ctx context.Context, p *project.Project, opts Options) (*config.ScanConfig, *catalog.Catalog, error) {
	cfg, err := s.resolveConfig(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	cfg = cfg.WithRules(opts.Include, opts.Exclude)

	ctx, span := s.tracer.Start(ctx, "scan.catalog")
	defer span.End()

	analyzers := cfg.Analyzers()
	ids := make([]rule.Identity, 0, len(analyzers))
	for _, a := range analyzers {
		ids = append(ids, a.Identity())
	}
	cat, err := catalog.Load(ctx, s.core, ids, s.analyzers)
	if err != nil {
		return nil, nil, stageErr(StageCatalog, err)
	}
	span.SetAttributes(attribute.Int("rules.declared", cat.Len()))
	return cfg, cat, nil
}

func (s *Scanner) resolveConfig(ctx context.Context, p *project.Project) (*config.ScanConfig, error) {
	ctx, span := s.tracer.Start(ctx, "scan.config")
	defer span.End()

	opts := append([]cache.Option{
		cache.WithMetrics(s.metrics),
		cache.WithLogger(s.log),
	}, s.cacheOpts...)
	c := cache.New(p.TargetDir, opts...)

	cfg, err := config.NewResolver(c, s.log).Resolve(ctx, p)
	if err != nil {
		if errors.Is(err, cache.ErrDownload) {
			return nil, stageErr(StageDownload, err)
		}
		return nil, stageErr(StageConfig, err)
	}

	span.SetAttributes(
		attribute.Int("config.platforms", len(cfg.Platforms())),
		attribute.Int("config.analyzers", len(cfg.Analyzers())),
		attribute.Int64("cache.downloads", c.Stats().Downloads),
	)
	return cfg, nil
}

func (s *Scanner) recordIssueMetrics(ctx context.Context, found []rule.Issue) {
	type key struct {
		kind   string
		source string
	}
	counts := make(map[key]int64)
	for _, i := range found {
		counts[key{i.Rule.Kind.String(), string(i.Source)}]++
	}
	for k, n := range counts {
		s.metrics.RecordIssues(ctx, k.kind, k.source, n)
	}
}

func (s *Scanner) recordHistory(ctx context.Context, p *project.Project, res *Result, scanErr error, start time.Time, d time.Duration) {
	if s.history == nil {
		return
	}

	run := history.Run{
		Project:   p.Name,
		StartedAt: start,
		Duration:  d,
		Status:    history.StatusSuccess,
	}
	if scanErr != nil {
		run.Status = history.StatusFailed
		run.Stage = string(StageOf(scanErr))
		run.Error = scanErr.Error()
	} else {
		run.Rules = len(res.ActiveRules)
		run.Issues = len(res.Issues)
		run.ByKind = make(map[string]int)
		for _, i := range res.Issues {
			run.ByKind[i.Rule.Kind.String()]++
		}
		run.Fingerprints = history.Fingerprints(res.Issues)

		if prev, err := s.history.LastSuccess(p.Name); err == nil {
			diff := history.Compare(prev.Fingerprints, run.Fingerprints)
			res.Diff = &diff
		}
	}

	recorded, err := s.history.Record(ctx, run)
	if err != nil {
		s.log.Warn().Ctx(ctx).Err(err).Msg("failed to record scan history")
		return
	}
	if res != nil {
		res.RunID = recorded.ID
	}
}
