package scan

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yairfalse/balscan/internal/catalog"
	"github.com/yairfalse/balscan/internal/history"
	"github.com/yairfalse/balscan/internal/platform"
	"github.com/yairfalse/balscan/internal/project"
	"github.com/yairfalse/balscan/internal/provider"
	"github.com/yairfalse/balscan/internal/report"
	"github.com/yairfalse/balscan/internal/telemetry"
	"github.com/yairfalse/balscan/pkg/rule"
)

const mainBal = `import ballerina/io;

public function main() {
    int x = checkpanic int:fromString("1");
    io:println(x);
}
`

// fixture writes a build project and loads it.
func fixture(t *testing.T, manifest, scanToml string) *project.Project {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, project.ManifestFile), []byte("[package]\nname = \"demo\"\n"+manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.bal"), []byte(mainBal), 0o644))
	if scanToml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(root, "Scan.toml"), []byte(scanToml), 0o644))
	}
	p, err := project.Load(root)
	require.NoError(t, err)
	return p
}

// analyzer is a test provider that reports one issue per rule it is given,
// or per declared rule when ignoreSubset is set.
type analyzer struct {
	id           rule.Identity
	declared     []rule.Rule
	delay        time.Duration
	ignoreSubset bool
	received     atomic.Pointer[[]rule.Rule]
	extra        []rule.Issue
	err          error
}

func newAnalyzer(org, name string, numericIDs ...int) *analyzer {
	a := &analyzer{id: rule.Identity{Org: org, Name: name}}
	for _, n := range numericIDs {
		a.declared = append(a.declared, rule.New(a.id, n, rule.KindBug, "external rule"))
	}
	return a
}

func (a *analyzer) Identity() rule.Identity { return a.id }
func (a *analyzer) Rules() []rule.Rule      { return append([]rule.Rule(nil), a.declared...) }

func (a *analyzer) Analyze(ctx context.Context, p *project.Project, rules []rule.Rule) ([]rule.Issue, error) {
	a.received.Store(&rules)
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}

	targets := rules
	if a.ignoreSubset {
		targets = a.declared
	}
	doc := p.Documents[0]
	var out []rule.Issue
	for _, r := range targets {
		out = append(out, rule.Issue{
			Rule: r,
			Location: rule.Location{
				FileName: doc.Name,
				FilePath: doc.Path,
				Range:    rule.LineRange{StartLine: 1, StartOffset: 0, EndLine: 1, EndOffset: 6},
			},
		})
	}
	return append(out, a.extra...), nil
}

func registryOf(analyzers ...*analyzer) *provider.Registry {
	reg := provider.NewRegistry()
	for _, a := range analyzers {
		a := a
		reg.Register(a.id.Org, a.id.Name, func(rule.Identity) (provider.Provider, error) {
			return a, nil
		})
	}
	return reg
}

func ids(issues []rule.Issue) []string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = issue.Rule.ID
	}
	return out
}

func TestRun_CoreOnly(t *testing.T) {
	p := fixture(t, "", "")

	res, err := New().Run(context.Background(), p, Options{})
	require.NoError(t, err)

	require.Len(t, res.Issues, 1)
	issue := res.Issues[0]
	assert.Equal(t, "ballerina:1", issue.Rule.ID)
	assert.Equal(t, rule.SourceBuiltIn, issue.Source)
	assert.Equal(t, 4, issue.Location.Range.StartLine)
	assert.Equal(t, 1, res.Catalog.Len())
	assert.True(t, res.Duration > 0)
}

func TestRun_MergesInCatalogOrder(t *testing.T) {
	zeta := newAnalyzer("zeta", "checks", 2, 1)
	zeta.delay = 50 * time.Millisecond
	alpha := newAnalyzer("alpha", "checks", 1)

	p := fixture(t, "", `
[[analyzer]]
org = "zeta"
name = "checks"

[[analyzer]]
org = "alpha"
name = "checks"
`)

	s := New(WithAnalyzers(registryOf(zeta, alpha)))
	res, err := s.Run(context.Background(), p, Options{Jobs: 4})
	require.NoError(t, err)

	assert.Equal(t, []string{"ballerina:1", "zeta/checks:1", "zeta/checks:2", "alpha/checks:1"}, ids(res.Issues))
	for _, issue := range res.Issues[1:] {
		assert.Equal(t, rule.SourceExternal, issue.Source)
	}
}

func TestRun_FilterAppliedBeforeAndAfterAnalysis(t *testing.T) {
	ext := newAnalyzer("acme", "lint", 1, 2, 3)
	ext.ignoreSubset = true

	p := fixture(t, "", `
[[analyzer]]
org = "acme"
name = "lint"

[rule]
exclude = ["acme/lint:2"]
`)

	res, err := New(WithAnalyzers(registryOf(ext))).Run(context.Background(), p, Options{})
	require.NoError(t, err)

	received := ext.received.Load()
	require.NotNil(t, received)
	assert.Equal(t, []string{"acme/lint:1", "acme/lint:3"}, []string{(*received)[0].ID, (*received)[1].ID})

	// The provider ignored its subset; the excluded issue is still dropped.
	assert.Equal(t, []string{"ballerina:1", "acme/lint:1", "acme/lint:3"}, ids(res.Issues))
	assert.Len(t, res.ActiveRules, 3)
}

func TestRun_CLIRulesReplaceConfig(t *testing.T) {
	ext := newAnalyzer("acme", "lint", 1, 2)
	p := fixture(t, "", `
[[analyzer]]
org = "acme"
name = "lint"

[rule]
include = ["acme/lint:1"]
`)

	res, err := New(WithAnalyzers(registryOf(ext))).Run(context.Background(), p, Options{
		Include: []string{"ballerina:1", "acme/lint:2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ballerina:1", "acme/lint:2"}, ids(res.Issues))
}

func TestRun_ProviderWithoutActiveRulesIsSkipped(t *testing.T) {
	ext := newAnalyzer("acme", "lint", 1)
	p := fixture(t, "", "[[analyzer]]\norg = \"acme\"\nname = \"lint\"\n\n[rule]\ninclude = [\"ballerina:1\"]\n")

	res, err := New(WithAnalyzers(registryOf(ext))).Run(context.Background(), p, Options{})
	require.NoError(t, err)
	assert.Nil(t, ext.received.Load())
	assert.Equal(t, []string{"ballerina:1"}, ids(res.Issues))
}

func TestRun_IssueForUndeclaredRule(t *testing.T) {
	ext := newAnalyzer("acme", "lint", 1)
	ext.extra = []rule.Issue{{
		Rule:     rule.New(ext.id, 9, rule.KindBug, "rogue"),
		Location: rule.Location{FileName: "main.bal", FilePath: "/p/main.bal", Range: rule.LineRange{StartLine: 1, EndLine: 1}},
	}}
	p := fixture(t, "", "[[analyzer]]\norg = \"acme\"\nname = \"lint\"\n")

	_, err := New(WithAnalyzers(registryOf(ext))).Run(context.Background(), p, Options{})
	require.Error(t, err)
	assert.Equal(t, StageAnalysis, StageOf(err))

	var integrity *catalog.IntegrityError
	assert.True(t, errors.As(err, &integrity))
}

func TestRun_ReportsDeclaredRuleMetadata(t *testing.T) {
	ext := newAnalyzer("acme", "lint", 1)
	forged := ext.declared[0]
	forged.Kind = rule.KindVulnerability
	forged.Description = "forged"
	ext.extra = []rule.Issue{{
		Rule:     forged,
		Source:   rule.SourceBuiltIn,
		Location: rule.Location{FileName: "main.bal", FilePath: "/p/main.bal", Range: rule.LineRange{StartLine: 2, EndLine: 2}},
	}}
	p := fixture(t, "", "[[analyzer]]\norg = \"acme\"\nname = \"lint\"\n")

	res, err := New(WithAnalyzers(registryOf(ext))).Run(context.Background(), p, Options{})
	require.NoError(t, err)

	require.Len(t, res.Issues, 3)
	for _, issue := range res.Issues[1:] {
		assert.Equal(t, "acme/lint:1", issue.Rule.ID)
		assert.Equal(t, rule.KindBug, issue.Rule.Kind)
		assert.Equal(t, "external rule", issue.Rule.Description)
		assert.Equal(t, rule.SourceExternal, issue.Source)
	}
}

func TestRun_AnalyzerClaimingCoreIdentity(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register("acme", "lint", func(rule.Identity) (provider.Provider, error) {
		core := rule.CoreIdentity()
		return &provider.Static{ID: core, Declared: []rule.Rule{rule.New(core, 1, rule.KindBug, "impostor")}}, nil
	})
	p := fixture(t, "", "[[analyzer]]\norg = \"acme\"\nname = \"lint\"\n")

	_, err := New(WithAnalyzers(reg)).ListRules(context.Background(), p, Options{})
	require.Error(t, err)
	assert.Equal(t, StageCatalog, StageOf(err))

	var integrity *catalog.IntegrityError
	assert.ErrorAs(t, err, &integrity)
}

func TestRun_LogsCarryTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Hook(telemetry.OTELHook{})

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	p := fixture(t, "", "")
	_, err := New(WithLogger(log), WithTracer(tp.Tracer("test"))).Run(context.Background(), p, Options{})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"message":"starting scan"`)
	assert.Contains(t, buf.String(), `"trace_id":"`)
	assert.Contains(t, buf.String(), `"span_id":"`)
}

func TestRun_ProviderFailure(t *testing.T) {
	ext := newAnalyzer("acme", "lint", 1)
	ext.err = errors.New("analyzer crashed")
	p := fixture(t, "", "[[analyzer]]\norg = \"acme\"\nname = \"lint\"\n")

	_, err := New(WithAnalyzers(registryOf(ext))).Run(context.Background(), p, Options{})
	require.Error(t, err)
	assert.Equal(t, StageAnalysis, StageOf(err))
	assert.Contains(t, err.Error(), "analysis: provider acme/lint")
	assert.Contains(t, err.Error(), "analyzer crashed")
}

func TestRun_UnknownAnalyzer(t *testing.T) {
	p := fixture(t, "", "[[analyzer]]\norg = \"acme\"\nname = \"missing\"\n")

	_, err := New(WithAnalyzers(provider.NewRegistry())).Run(context.Background(), p, Options{})
	require.Error(t, err)
	assert.Equal(t, StageCatalog, StageOf(err))
	assert.ErrorIs(t, err, provider.ErrUnknownAnalyzer)
}

func TestRun_StageClassification(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	tests := []struct {
		name     string
		manifest string
		want     Stage
	}{
		{
			name:     "missing local config",
			manifest: "\n[scan]\nconfigPath = \"missing/Scan.toml\"\n",
			want:     StageConfig,
		},
		{
			name:     "remote config download fails",
			manifest: "\n[scan]\nconfigPath = \"" + down.URL + "/Scan.toml\"\n",
			want:     StageDownload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := fixture(t, tt.manifest, "")
			var out bytes.Buffer

			_, err := New(WithOutput(&out)).Run(context.Background(), p, Options{})
			require.Error(t, err)
			assert.Equal(t, tt.want, StageOf(err))
			assert.Empty(t, out.String())

			_, statErr := os.Stat(filepath.Join(p.TargetDir, report.DefaultDir, report.ResultsFile))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestListRules(t *testing.T) {
	ext := newAnalyzer("acme", "lint", 2, 1)
	p := fixture(t, "", "[[analyzer]]\norg = \"acme\"\nname = \"lint\"\n\n[rule]\nexclude = [\"acme/lint:1\"]\n")

	rules, err := New(WithAnalyzers(registryOf(ext))).ListRules(context.Background(), p, Options{})
	require.NoError(t, err)

	got := make([]string, len(rules))
	for i, r := range rules {
		got[i] = r.ID
	}
	// Listing shows the full catalog, filters do not apply.
	assert.Equal(t, []string{"ballerina:1", "acme/lint:1", "acme/lint:2"}, got)
	assert.Nil(t, ext.received.Load())
}

type recordingPlatform struct {
	contexts []platform.Context
}

func (r *recordingPlatform) Name() string { return "recorder" }

func (r *recordingPlatform) Report(_ context.Context, c platform.Context) error {
	r.contexts = append(r.contexts, c)
	return nil
}

func TestReport_WritesOutputs(t *testing.T) {
	p := fixture(t, "", "[[platform]]\nname = \"recorder\"\npath = \"sink.jar\"\nmode = \"full\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "sink.jar"), []byte("jar"), 0o644))

	rec := &recordingPlatform{}
	var out bytes.Buffer
	s := New(WithOutput(&out), WithPlatforms(platform.NewRegistry(rec)))

	res, err := s.Run(context.Background(), p, Options{})
	require.NoError(t, err)

	paths, err := s.Report(context.Background(), res, ReportOptions{Dir: "scan-out", HTML: true, Platforms: []string{"recorder", "absent"}})
	require.NoError(t, err)

	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(p.Root, "scan-out", report.ResultsFile), paths[0])
	assert.Equal(t, filepath.Join(p.Root, "scan-out", report.HTMLFile), paths[1])
	for _, path := range paths {
		assert.FileExists(t, path)
	}

	assert.Contains(t, out.String(), `"ruleID": "ballerina:1"`)

	require.Len(t, rec.contexts, 1)
	assert.Equal(t, "full", rec.contexts[0].Args["mode"])
	assert.Len(t, rec.contexts[0].Issues, 1)
}

func TestReport_FailureIsReportStage(t *testing.T) {
	p := fixture(t, "", "")
	s := New()
	res, err := s.Run(context.Background(), p, Options{})
	require.NoError(t, err)

	// A file where the report directory should be.
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "blocked"), nil, 0o644))

	_, err = s.Report(context.Background(), res, ReportOptions{Dir: "blocked"})
	require.Error(t, err)
	assert.Equal(t, StageReport, StageOf(err))
}

func TestRun_RecordsHistory(t *testing.T) {
	store, err := history.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	p := fixture(t, "", "")
	s := New(WithHistory(store))

	first, err := s.Run(context.Background(), p, Options{})
	require.NoError(t, err)
	assert.Nil(t, first.Diff)
	assert.Equal(t, uint64(1), first.RunID)

	second, err := s.Run(context.Background(), p, Options{})
	require.NoError(t, err)
	require.NotNil(t, second.Diff)
	assert.Equal(t, history.Diff{}, *second.Diff)

	require.NoError(t, os.WriteFile(filepath.Join(p.Root, project.ManifestFile), []byte("[package]\nname = \"demo\"\n[scan]\nconfigPath = \"nope.toml\"\n"), 0o644))
	broken, err := project.Load(p.Root)
	require.NoError(t, err)
	_, err = s.Run(context.Background(), broken, Options{})
	require.Error(t, err)

	runs, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, history.StatusFailed, runs[0].Status)
	assert.Equal(t, string(StageConfig), runs[0].Stage)
	assert.Equal(t, 1, runs[1].Issues)
	assert.Equal(t, map[string]int{"CODE_SMELL": 1}, runs[1].ByKind)
}
