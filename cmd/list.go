package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/scaffold-bench/internal/benchmark"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available benchmarks and models",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			benchmarksDir, _ := cmd.Flags().GetString("benchmarks-dir")

			names, err := benchmark.List(benchmarksDir)
			if err != nil {
				return fmt.Errorf("failed to list benchmarks: %w", err)
			}
			fmt.Fprintf(out, "Benchmarks:\n\n")
			if len(names) == 0 {
				fmt.Fprintf(out, "  (none)\n")
			}
			for _, name := range names {
				b, err := benchmark.Load(name, benchmarksDir)
				if err != nil {
					fmt.Fprintf(out, "  - %s (error loading: %v)\n", name, err)
					continue
				}
				fmt.Fprintf(out, "  - %s\n", name)
				fmt.Fprintf(out, "    Name: %s\n", b.Name)
				if b.Description != "" {
					fmt.Fprintf(out, "    Description: %s\n", b.Description)
				}
				fmt.Fprintf(out, "    Questions: %d\n\n", len(b.Questions))
			}

			cat, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Models (USD per million tokens, input/output):\n\n")
			for _, m := range cat.Models() {
				fmt.Fprintf(out, "  - %-20s $%.2f / $%.2f", m.Name, m.InputPerMTok, m.OutputPerMTok)
				if m.InferenceService != "" {
					fmt.Fprintf(out, "  (KServe: %s)", m.InferenceService)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}
