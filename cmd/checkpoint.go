package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/scaffold-bench/internal/checkpoint"
	"github.com/giantswarm/scaffold-bench/internal/evaluation"
)

func newCheckpointCmd() *cobra.Command {
	var (
		benchmarkName string
		model         string
		prePrompt     string
		scaffoldFile  string
	)

	resolve := func(cmd *cobra.Command) (string, error) {
		if scaffoldFile != "" {
			if prePrompt != "" {
				return "", errors.New("--pre-prompt and --scaffold-file are mutually exclusive")
			}
			s, err := evaluation.LoadScaffold(scaffoldFile)
			if err != nil {
				return "", err
			}
			prePrompt = s.PrePrompt
		}
		dir, _ := cmd.Flags().GetString("checkpoint-dir")
		return checkpoint.PathFor(dir, benchmarkName, model, prePrompt), nil
	}

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or clear run checkpoints",
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the checkpoint file of a benchmark, model and pre-prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve(cmd)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (not created yet)\n", path)
				return nil
			}
			store, err := checkpoint.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d outcomes)\n", path, store.Len())
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the checkpoint so the next run starts fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve(cmd)
			if err != nil {
				return err
			}
			if err := checkpoint.Remove(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checkpoint removed: %s\n", path)
			return nil
		},
	}

	for _, c := range []*cobra.Command{pathCmd, clearCmd} {
		c.Flags().StringVar(&benchmarkName, "benchmark", "mmlu-pro-mini", "Benchmark of the run")
		c.Flags().StringVar(&model, "model", "", "Model of the run")
		c.Flags().StringVar(&prePrompt, "pre-prompt", "", "Pre-prompt of the run")
		c.Flags().StringVar(&scaffoldFile, "scaffold-file", "", "YAML file holding the pre-prompt")
		_ = c.MarkFlagRequired("model")
		cmd.AddCommand(c)
	}
	return cmd
}
