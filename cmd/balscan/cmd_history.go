package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yairfalse/balscan/internal/history"
	"github.com/yairfalse/balscan/internal/project"
)

var historyLimit int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history [project]",
	Short: "Show recorded scan runs",
	Long: `Show the scan runs recorded with "balscan scan --history", newest first.
The history database lives in the project target directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	p, err := project.Load(projectPath(args))
	if err != nil {
		return err
	}

	store, err := history.Open(p.TargetDir)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(historyLimit)
	if err != nil {
		return err
	}
	return printRuns(cmd.OutOrStdout(), runs)
}

func printRuns(out io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "No scan runs recorded.")
		return err
	}

	ok := color.New(color.FgGreen).SprintFunc()
	failed := color.New(color.FgRed).SprintFunc()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tRULES\tISSUES\tRESULT")
	for _, r := range runs {
		result := ok(r.Status)
		if r.Status != history.StatusSuccess {
			result = failed(fmt.Sprintf("%s (%s)", r.Status, r.Stage))
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration.Round(time.Millisecond),
			r.Rules,
			r.Issues,
			result,
		)
	}
	return w.Flush()
}
