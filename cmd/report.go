package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/scaffold-bench/internal/report"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report [run-id]",
		Short: "List past runs or show the summary of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			outputDir, _ := cmd.Flags().GetString("output-dir")

			if len(args) == 1 {
				run, err := report.ReadRun(outputDir, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Run %s started %s\n", run.ID, run.StartedAt.Local().Format(time.DateTime))
				fmt.Fprintf(out, "Pre-prompt: %q\n\n", run.PrePrompt)
				return report.PrintSummary(out, run.Result)
			}

			runs, err := report.ListRuns(outputDir)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintf(out, "No runs found in %s.\n", outputDir)
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %s  %-16s %-20s baseline %5.1f%%  scaffolded %5.1f%%  $%.4f\n",
					r.ID,
					r.StartedAt.Local().Format(time.DateTime),
					r.Result.Status,
					r.Model,
					r.Result.Baseline.AccuracyPct,
					r.Result.Scaffolded.AccuracyPct,
					r.Result.SpentUSD,
				)
			}
			return nil
		},
	}
}
