package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/scaffold-bench/internal/evaluation"
	"github.com/giantswarm/scaffold-bench/internal/invoker"
	"github.com/giantswarm/scaffold-bench/internal/report"
	"github.com/giantswarm/scaffold-bench/internal/stream"
)

func newRunCmd() *cobra.Command {
	var (
		cfg          evaluation.RunConfig
		conditions   []string
		sampleSize   int
		budget       float64
		scaffoldFile string
		endpoint     string
		apiKey       string
		remote       string
		dryRun       bool
		ndjson       bool
		fallback     bool
		interval     time.Duration
		timeout      time.Duration
		inCluster    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a model with and without a pre-prompt",
		Long: `Sample questions from a benchmark, ask each one under the baseline and the
scaffolded condition, and report accuracy and cost per correct answer for both.

Outcomes are checkpointed after every call. Re-running the same benchmark, model
and pre-prompt resumes where the last run stopped; use --reset-checkpoint to
start over. The run halts once the budget ceiling is reached.

With --server the run executes on a remote scaffold-bench server and its
progress stream is rendered locally.`,
		Example: `  scaffold-bench run --model claude-haiku-4-5 --scaffold-file eliminate.yaml
  scaffold-bench run --model claude-sonnet-4-5 --pre-prompt "Think step by step." --sample-size 28 --budget 2
  scaffold-bench run --model claude-haiku-4-5 --pre-prompt "..." --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if scaffoldFile != "" {
				if cfg.PrePrompt != "" {
					return errors.New("--pre-prompt and --scaffold-file are mutually exclusive")
				}
				s, err := evaluation.LoadScaffold(scaffoldFile)
				if err != nil {
					return err
				}
				cfg.PrePrompt = s.PrePrompt
			}
			cfg.SampleSize = &sampleSize
			cfg.BudgetUSD = &budget
			for _, c := range conditions {
				cond, err := evaluation.ParseCondition(c)
				if err != nil {
					return err
				}
				cfg.Conditions = append(cfg.Conditions, cond)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			var next func() (stream.Event, error)
			if remote != "" {
				body, err := startRemoteRun(ctx, remote, cfg)
				if err != nil {
					return err
				}
				defer body.Close()
				next = stream.NewDecoder(body).Next
			} else {
				cat, err := loadCatalog(cmd)
				if err != nil {
					return err
				}
				if dryRun {
					interval = 0
				}
				opts := []invoker.Option{
					invoker.WithFallbackExtraction(fallback),
					invoker.WithInterval(interval),
				}
				svc := newService(cmd, serviceOptions{
					catalog: cat,
					factory: clientFactory{
						endpoint:     endpoint,
						apiKey:       apiKey,
						dryRun:       dryRun,
						discoverer:   newDiscoverer(cmd, cat, inCluster),
						readyTimeout: timeout,
					},
					invoker: opts,
				})
				events, err := svc.Start(ctx, cfg)
				if err != nil {
					return err
				}
				next = func() (stream.Event, error) {
					ev, ok := <-events
					if !ok {
						return stream.Event{}, io.EOF
					}
					return ev, nil
				}
			}

			result, err := consume(next, cmd.OutOrStdout(), cmd.ErrOrStderr(), ndjson)
			if err != nil {
				return err
			}
			if ndjson {
				return nil
			}
			return report.PrintSummary(cmd.OutOrStdout(), *result)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Benchmark, "benchmark", "mmlu-pro-mini", "Benchmark to sample questions from")
	f.StringVar(&cfg.Model, "model", "", "Model to evaluate (see 'scaffold-bench list')")
	f.StringVar(&cfg.PrePrompt, "pre-prompt", "", "Pre-prompt for the scaffolded condition")
	f.StringVar(&scaffoldFile, "scaffold-file", "", "YAML file holding the pre-prompt (name, pre_prompt)")
	f.IntVar(&sampleSize, "sample-size", evaluation.DefaultSampleSize, "Number of questions, stratified by subject")
	f.Float64Var(&budget, "budget", evaluation.DefaultBudgetUSD, "Spending ceiling in USD")
	f.Int64Var(&cfg.Seed, "seed", evaluation.DefaultSeed, "Sampling seed")
	f.StringSliceVar(&conditions, "conditions", nil, "Conditions to evaluate (baseline, scaffolded; default both)")
	f.BoolVar(&cfg.ResetCheckpoint, "reset-checkpoint", false, "Discard checkpointed outcomes before running")
	f.StringVar(&endpoint, "endpoint", "", "OpenAI-compatible API endpoint for models without their own base URL")
	f.StringVar(&apiKey, "api-key", "", "API key (or set OPENAI_API_KEY)")
	f.StringVar(&remote, "server", "", "Run on a remote scaffold-bench server (e.g. http://localhost:8080)")
	f.BoolVar(&dryRun, "dry-run", false, "Simulate model responses without calling any API")
	f.BoolVar(&ndjson, "ndjson", false, "Write the raw progress stream as NDJSON instead of a summary")
	f.BoolVar(&fallback, "fallback-extraction", false, "Ask the model for the answer letter when it cannot be parsed")
	f.DurationVar(&interval, "interval", invoker.DefaultInterval, "Minimum spacing between model calls")
	f.DurationVar(&timeout, "timeout", 0, "Overall timeout for the run (e.g. 30m). 0 means no timeout")
	f.BoolVar(&inCluster, "in-cluster", false, "Use in-cluster Kubernetes authentication for KServe models")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

// startRemoteRun posts the run configuration and returns the progress stream.
func startRemoteRun(ctx context.Context, server string, cfg evaluation.RunConfig) (io.ReadCloser, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(server, "/") + "/api/run-test"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", stream.ContentType)
	if token := os.Getenv("SCAFFOLD_BENCH_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return nil, fmt.Errorf("server rejected the run: %s", apiErr.Error)
	}
	return resp.Body, nil
}

// consume renders a progress stream until its terminal event. In NDJSON mode
// every event is copied to out unchanged; otherwise progress goes to status.
func consume(next func() (stream.Event, error), out, status io.Writer, ndjson bool) (*stream.Result, error) {
	var (
		view stream.View
		enc  = stream.NewEncoder(out)
	)
	for !view.Done() {
		ev, err := next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("progress stream ended without a result")
			}
			return nil, fmt.Errorf("failed to read progress stream: %w", err)
		}
		if err := view.Apply(ev); err != nil {
			return nil, err
		}

		if ndjson {
			if err := enc.Encode(ev); err != nil {
				return nil, err
			}
			continue
		}
		if ev.Type == stream.TypeProgress {
			_, _ = fmt.Fprintf(status, "[%3d%%] %d/%d %s\n", view.Percent(), view.Completed(), view.Total(), view.Message())
		}
	}

	if msg := view.Err(); msg != "" {
		return nil, fmt.Errorf("run failed: %s", msg)
	}
	if !ndjson {
		_, _ = fmt.Fprintln(status)
	}
	return view.Result(), nil
}
