package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/balscan/internal/cache"
	"github.com/yairfalse/balscan/internal/history"
	"github.com/yairfalse/balscan/internal/platform"
	"github.com/yairfalse/balscan/internal/project"
	"github.com/yairfalse/balscan/internal/report"
	"github.com/yairfalse/balscan/internal/scan"
	"github.com/yairfalse/balscan/internal/telemetry"
)

var (
	scanJobs            int
	scanDownloadTimeout time.Duration
	scanOTELEndpoint    string
	scanOTELInsecure    bool
	scanMetricsFile     string
	scanHistory         bool
	scanTargetDir       string
	scanReport          bool
	scanListRules       bool
	scanInclude         []string
	scanExclude         []string
	scanPlatforms       []string
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [project]",
	Short: "Scan a project and report issues",
	Long: `Scan a Ballerina build project or a single .bal file.

The scan configuration comes from Scan.toml in the project root, or from
[scan] configPath in Ballerina.toml, which may be a local path or a URL.
Remote configuration and platform artifacts are downloaded once into the
project target directory and reused on later runs.`,
	Example: `  balscan scan                                   # Scan the current directory
  balscan scan --scan-report                     # Also write the HTML report
  balscan scan --include-rules ballerina:1       # Only run one rule
  balscan scan --platforms prometheus            # Report to a configured platform
  balscan scan --list-rules                      # List the rules and exit`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().IntVarP(&scanJobs, "jobs", "j", 0, "Concurrent provider analyses (default: number of CPUs)")
	scanCmd.Flags().DurationVar(&scanDownloadTimeout, "download-timeout", cache.DefaultTimeout, "Timeout for each artifact download")
	scanCmd.Flags().StringVar(&scanOTELEndpoint, "otel-endpoint", "", "OTLP gRPC endpoint for traces and metrics")
	scanCmd.Flags().BoolVar(&scanOTELInsecure, "otel-insecure", false, "Disable TLS for the OTLP endpoint")
	scanCmd.Flags().StringVar(&scanMetricsFile, "metrics-file", "", "Write scan metrics to this file in Prometheus text format")
	scanCmd.Flags().BoolVar(&scanHistory, "history", false, "Record the run in the project history database")
	scanCmd.Flags().StringVar(&scanTargetDir, "target-dir", "", "Report directory under the project root (default: target/report)")
	scanCmd.Flags().BoolVar(&scanReport, "scan-report", false, "Generate the HTML report")
	scanCmd.Flags().BoolVar(&scanListRules, "list-rules", false, "List the available rules and exit")
	scanCmd.Flags().StringSliceVar(&scanInclude, "include-rules", nil, "Comma-separated rule ids to run")
	scanCmd.Flags().StringSliceVar(&scanExclude, "exclude-rules", nil, "Comma-separated rule ids to skip")
	scanCmd.Flags().StringSliceVar(&scanPlatforms, "platforms", nil, "Comma-separated platforms to report to")
}

func runScan(cmd *cobra.Command, args []string) error {
	scanCommand := &ScanCommand{
		Path:            projectPath(args),
		Jobs:            scanJobs,
		DownloadTimeout: scanDownloadTimeout,
		OTELEndpoint:    scanOTELEndpoint,
		OTELInsecure:    scanOTELInsecure,
		MetricsFile:     scanMetricsFile,
		History:         scanHistory,
		TargetDir:       scanTargetDir,
		ScanReport:      scanReport,
		ListRules:       scanListRules,
		Include:         scanInclude,
		Exclude:         scanExclude,
		Platforms:       scanPlatforms,
		Debug:           debug,
		Out:             cmd.OutOrStdout(),
		Err:             cmd.ErrOrStderr(),
	}
	return scanCommand.Run(cmd.Context())
}

// ScanCommand holds everything one scan invocation needs.
type ScanCommand struct {
	Path            string
	Jobs            int
	DownloadTimeout time.Duration
	OTELEndpoint    string
	OTELInsecure    bool
	MetricsFile     string
	History         bool
	TargetDir       string
	ScanReport      bool
	ListRules       bool
	Include         []string
	Exclude         []string
	Platforms       []string
	Debug           bool

	// Out receives machine-readable output, Err receives logs.
	Out io.Writer
	Err io.Writer
}

// Run loads the project and scans it until done or interrupted.
func (c *ScanCommand) Run(ctx context.Context) error {
	log := telemetry.NewLogger(c.Err, c.Debug)

	p, err := project.Load(c.Path)
	if err != nil {
		return err
	}

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Endpoint:    c.OTELEndpoint,
		Insecure:    c.OTELInsecure,
		MetricsFile: c.MetricsFile,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer shutdownTelemetry(tel, log)

	metrics, err := telemetry.NewMetrics(tel.Meter())
	if err != nil {
		return fmt.Errorf("setup metrics: %w", err)
	}

	opts := []scan.Option{
		scan.WithLogger(log),
		scan.WithOutput(c.Out),
		scan.WithTracer(tel.Tracer()),
		scan.WithMetrics(metrics),
		scan.WithPlatforms(platform.NewRegistry(platform.NewPrometheus())),
		scan.WithCacheOptions(cache.WithTimeout(c.DownloadTimeout)),
	}
	if c.History && !c.ListRules {
		store, err := history.Open(p.TargetDir)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, scan.WithHistory(store))
	}
	scanner := scan.New(opts...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		return c.execute(runCtx, scanner, p, log)
	}, func(error) {
		cancel()
	})
	return g.Run()
}

func (c *ScanCommand) execute(ctx context.Context, scanner *scan.Scanner, p *project.Project, log zerolog.Logger) error {
	opts := scan.Options{
		Include: c.Include,
		Exclude: c.Exclude,
		Jobs:    c.Jobs,
	}

	if c.ListRules {
		rules, err := scanner.ListRules(ctx, p, opts)
		if err != nil {
			return err
		}
		return report.PrintRules(c.Out, rules, report.FormatText)
	}

	res, err := scanner.Run(ctx, p, opts)
	if err != nil {
		return err
	}

	paths, err := scanner.Report(ctx, res, scan.ReportOptions{
		Dir:       c.TargetDir,
		HTML:      c.ScanReport,
		Platforms: c.Platforms,
	})
	if err != nil {
		return err
	}

	report.PrintSummary(c.Err, res.Issues, paths...)
	if res.Diff != nil {
		log.Info().
			Int("new", res.Diff.New).
			Int("resolved", res.Diff.Resolved).
			Msg("compared with last successful scan")
	}
	return nil
}

func shutdownTelemetry(tel *telemetry.Provider, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}
