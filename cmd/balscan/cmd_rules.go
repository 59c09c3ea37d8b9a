package main

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/balscan/internal/cache"
	"github.com/yairfalse/balscan/internal/project"
	"github.com/yairfalse/balscan/internal/report"
	"github.com/yairfalse/balscan/internal/scan"
	"github.com/yairfalse/balscan/internal/telemetry"
)

var (
	rulesFormat          string
	rulesDownloadTimeout = cache.DefaultTimeout
)

// rulesCmd represents the rules command
var rulesCmd = &cobra.Command{
	Use:   "rules [project]",
	Short: "List the rules available to a project",
	Long: `List the built-in rules followed by the rules of every analyzer the
project's scan configuration declares. Rule filters are not applied.`,
	Example: `  balscan rules                 # Table of rules
  balscan rules --format json   # Machine-readable listing
  balscan rules --format yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)

	rulesCmd.Flags().StringVarP(&rulesFormat, "format", "f", report.FormatText, "Output format: text, json, yaml")
	rulesCmd.Flags().DurationVar(&rulesDownloadTimeout, "download-timeout", cache.DefaultTimeout, "Timeout for each artifact download")
}

func runRules(cmd *cobra.Command, args []string) error {
	log := telemetry.NewLogger(cmd.ErrOrStderr(), debug)

	p, err := project.Load(projectPath(args))
	if err != nil {
		return err
	}

	scanner := scan.New(
		scan.WithLogger(log),
		scan.WithCacheOptions(cache.WithTimeout(rulesDownloadTimeout)),
	)
	rules, err := scanner.ListRules(cmd.Context(), p, scan.Options{})
	if err != nil {
		return err
	}
	return report.PrintRules(cmd.OutOrStdout(), rules, rulesFormat)
}
