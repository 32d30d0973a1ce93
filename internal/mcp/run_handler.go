package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/scaffold-bench/internal/evaluation"
	"github.com/giantswarm/scaffold-bench/internal/report"
	"github.com/giantswarm/scaffold-bench/internal/runner"
	"github.com/giantswarm/scaffold-bench/internal/server"
	"github.com/giantswarm/scaffold-bench/internal/stream"
)

func registerRunTools(s *mcpserver.MCPServer, sc *server.ServerContext) {
	s.AddTool(mcp.NewTool("run_evaluation",
		mcp.WithDescription("Evaluate a model on a benchmark with and without a pre-prompt, within a spending ceiling. "+
			"Blocks until the run ends and returns accuracy and cost per correct answer for both conditions. "+
			"Progress is reported through MCP progress notifications when the client sends a progress token."),
		mcp.WithString("benchmark",
			mcp.Required(),
			mcp.Description("Benchmark name (see list_benchmarks)"),
		),
		mcp.WithString("model",
			mcp.Required(),
			mcp.Description("Model name (see list_models)"),
		),
		mcp.WithString("pre_prompt",
			mcp.Description("Pre-prompt prepended to each question in the scaffolded condition"),
		),
		mcp.WithNumber("sample_size",
			mcp.Description(fmt.Sprintf("Number of questions to sample, stratified by subject (default: %d)", evaluation.DefaultSampleSize)),
		),
		mcp.WithNumber("budget_usd",
			mcp.Description(fmt.Sprintf("Spending ceiling in USD (default: %.2f)", evaluation.DefaultBudgetUSD)),
		),
		mcp.WithNumber("seed",
			mcp.Description(fmt.Sprintf("Sampling seed (default: %d)", evaluation.DefaultSeed)),
		),
		mcp.WithArray("conditions",
			mcp.Description("Conditions to evaluate: baseline, scaffolded (default: both)"),
			mcp.WithStringItems(),
		),
		mcp.WithBoolean("reset_checkpoint",
			mcp.Description("Discard previously checkpointed answers for this benchmark, model and pre-prompt"),
		),
	), bind(sc, handleRunEvaluation))

	s.AddTool(mcp.NewTool("get_results",
		mcp.WithDescription("Retrieve the summary of past evaluation runs"),
		mcp.WithString("run_id",
			mcp.Description("Specific run ID to retrieve (optional, lists all if omitted)"),
		),
	), bind(sc, handleGetResults))

	s.AddTool(mcp.NewTool("reset_checkpoint",
		mcp.WithDescription("Delete the checkpoint of a benchmark, model and pre-prompt combination so the next run starts fresh"),
		mcp.WithString("benchmark", mcp.Required(), mcp.Description("Benchmark name")),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model name")),
		mcp.WithString("pre_prompt", mcp.Description("Pre-prompt of the checkpointed runs")),
	), bind(sc, handleResetCheckpoint))
}

func runConfigFromArgs(args map[string]any) (evaluation.RunConfig, error) {
	var cfg evaluation.RunConfig

	cfg.Benchmark, _ = args["benchmark"].(string)
	if cfg.Benchmark == "" {
		return cfg, errors.New("benchmark is required")
	}
	cfg.Model, _ = args["model"].(string)
	if cfg.Model == "" {
		return cfg, errors.New("model is required")
	}
	cfg.PrePrompt, _ = args["pre_prompt"].(string)

	if raw, ok := args["sample_size"]; ok {
		n, err := integerArg("sample_size", raw)
		if err != nil {
			return cfg, err
		}
		cfg.SampleSize = evaluation.IntPtr(int(n))
	}
	if raw, ok := args["budget_usd"]; ok {
		v, ok := raw.(float64)
		if !ok {
			return cfg, fmt.Errorf("budget_usd must be a number, got %T", raw)
		}
		cfg.BudgetUSD = evaluation.Float64Ptr(v)
	}
	if raw, ok := args["seed"]; ok {
		n, err := integerArg("seed", raw)
		if err != nil {
			return cfg, err
		}
		cfg.Seed = n
	}
	cfg.ResetCheckpoint, _ = args["reset_checkpoint"].(bool)

	if raw, ok := args["conditions"].([]any); ok {
		for _, item := range raw {
			s, _ := item.(string)
			c, err := evaluation.ParseCondition(s)
			if err != nil {
				return cfg, err
			}
			cfg.Conditions = append(cfg.Conditions, c)
		}
	}
	return cfg, nil
}

// integerArg accepts a JSON number only when it has no fractional part.
func integerArg(name string, raw any) (int64, error) {
	v, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("%s must be a number, got %T", name, raw)
	}
	if v != math.Trunc(v) || math.IsInf(v, 0) || math.Abs(v) > 1<<53 {
		return 0, fmt.Errorf("%s must be an integer, got %v", name, v)
	}
	return int64(v), nil
}

func handleRunEvaluation(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	cfg, err := runConfigFromArgs(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	events, err := sc.Runs.Start(ctx, cfg)
	if err != nil {
		if errors.Is(err, runner.ErrRunInProgress) {
			return mcp.NewToolResultError("an evaluation run is already in progress; try again when it finishes"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to start run: %v", err)), nil
	}

	var token mcp.ProgressToken
	if request.Params.Meta != nil {
		token = request.Params.Meta.ProgressToken
	}

	var view stream.View
	for ev := range events {
		if err := view.Apply(ev); err != nil {
			slog.Warn("ignoring out-of-order event", "error", err)
			continue
		}
		if ev.Type == stream.TypeProgress {
			notifyProgress(ctx, token, ev.Progress)
		}
	}

	switch {
	case view.Err() != "":
		return mcp.NewToolResultError(view.Err()), nil
	case view.Result() == nil:
		return mcp.NewToolResultError("run ended without a result"), nil
	}
	return jsonResult(view.Result())
}

// notifyProgress forwards a progress event to the client when it asked for
// progress updates.
func notifyProgress(ctx context.Context, token mcp.ProgressToken, p *stream.Progress) {
	if token == nil || p == nil {
		return
	}
	srv := mcpserver.ServerFromContext(ctx)
	if srv == nil {
		return
	}
	err := srv.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
		"progressToken": token,
		"progress":      p.Completed,
		"total":         p.Total,
		"message":       p.Message,
	})
	if err != nil {
		slog.Debug("failed to send progress notification", "error", err)
	}
}

// runSummary is the list view of a past run.
type runSummary struct {
	ID            string           `json:"id"`
	Benchmark     string           `json:"benchmark"`
	Model         string           `json:"model"`
	Status        stream.RunStatus `json:"status"`
	StartedAt     string           `json:"started_at"`
	Questions     int              `json:"questions_tested"`
	SpentUSD      float64          `json:"spent_usd"`
	BaselineAcc   float64          `json:"baseline_accuracy_pct"`
	ScaffoldedAcc float64          `json:"scaffolded_accuracy_pct"`
	CostDelta     string           `json:"cost_per_correct_delta"`
}

func handleGetResults(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	outputDir := sc.Runs.OutputDir()
	if outputDir == "" {
		return mcp.NewToolResultError("no results directory configured"), nil
	}

	if runID, _ := args["run_id"].(string); runID != "" {
		run, err := report.ReadRun(outputDir, runID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(run)
	}

	runs, err := report.ListRuns(outputDir)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	summaries := make([]runSummary, 0, len(runs))
	for _, r := range runs {
		var view stream.View
		_ = view.Apply(stream.ResultEvent(r.Result))
		summaries = append(summaries, runSummary{
			ID:            r.ID,
			Benchmark:     r.Benchmark,
			Model:         r.Model,
			Status:        r.Result.Status,
			StartedAt:     r.StartedAt.Format(time.RFC3339),
			Questions:     r.Result.QuestionsTested,
			SpentUSD:      r.Result.SpentUSD,
			BaselineAcc:   r.Result.Baseline.AccuracyPct,
			ScaffoldedAcc: r.Result.Scaffolded.AccuracyPct,
			CostDelta:     view.CostDeltaLabel(),
		})
	}
	return jsonResult(summaries)
}

func handleResetCheckpoint(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	benchmarkName, _ := args["benchmark"].(string)
	model, _ := args["model"].(string)
	prePrompt, _ := args["pre_prompt"].(string)
	if benchmarkName == "" || model == "" {
		return mcp.NewToolResultError("benchmark and model are required"), nil
	}

	path, err := sc.Runs.ResetCheckpoint(benchmarkName, model, prePrompt)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to reset checkpoint: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Checkpoint removed: %s", path)), nil
}
