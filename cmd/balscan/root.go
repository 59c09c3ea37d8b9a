package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	debug   bool
	rootCmd = &cobra.Command{
		Use:   "balscan",
		Short: "Static analysis orchestrator for Ballerina projects",
		Long: `Balscan - static analysis orchestrator

Balscan resolves a project's scan configuration, loads the built-in and
external rule providers it names, runs the analysis and reports the
issues as JSON, HTML or to configured platforms.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Balscan {{.Version}} - static analysis orchestrator
`)
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the balscan version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "balscan %s\n", version)
	},
}

// projectPath returns the positional project argument, defaulting to ".".
func projectPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
