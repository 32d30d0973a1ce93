package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scaffold-bench",
	Short: "Measure whether a pre-prompt pays for itself on multiple-choice benchmarks",
	Long: `scaffold-bench evaluates a model on a multiple-choice benchmark twice, once
with the bare question (baseline) and once with a pre-prompt prepended
(scaffolded), and compares accuracy and cost per correct answer.

Runs are checkpointed so an interrupted run resumes without paying twice, and
a spending ceiling halts a run before it exceeds its budget. Runs can be
started from the CLI, from the HTTP API, or through the MCP server.

When run without subcommands, it starts the MCP server (equivalent to 'scaffold-bench serve').`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})))
		}
	},
}

// serveCmd is stored so the root command can delegate to it by default.
var serveCmd *cobra.Command

var (
	buildCommit = "unknown"
	buildDate   = "unknown"
)

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// SetBuildInfo sets the commit and build date for the version command.
func SetBuildInfo(commit, date string) {
	buildCommit = commit
	buildDate = date
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "scaffold-bench version %s\n" .Version}}`)

	rootCmd.Run = func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(os.Stderr, "No subcommand specified. Defaulting to 'serve' (stdio transport).")
		fmt.Fprintln(os.Stderr, "For the HTTP API, use: scaffold-bench serve --transport streamable-http")
		fmt.Fprintln(os.Stderr)
		if err := serveCmd.RunE(serveCmd, args); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	serveCmd = newServeCmd()
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newCheckpointCmd())

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Enable verbose output")
	flags.String("kubeconfig", "", "Path to kubeconfig file")
	flags.StringP("namespace", "n", "scaffold-bench", "Kubernetes namespace of KServe InferenceServices")
	flags.String("catalog", "", "Model catalog YAML (default: built-in catalog)")
	flags.String("benchmarks-dir", "", "External benchmarks directory (optional)")
	flags.String("checkpoint-dir", ".checkpoints", "Directory for run checkpoints")
	flags.String("output-dir", "results", "Directory for run reports")
}
