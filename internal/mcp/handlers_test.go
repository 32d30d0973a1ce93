package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/scaffold-bench/internal/catalog"
	"github.com/giantswarm/scaffold-bench/internal/evaluation"
	"github.com/giantswarm/scaffold-bench/internal/invoker"
	"github.com/giantswarm/scaffold-bench/internal/llm"
	"github.com/giantswarm/scaffold-bench/internal/runner"
	"github.com/giantswarm/scaffold-bench/internal/server"
	"github.com/giantswarm/scaffold-bench/internal/stream"
	"github.com/giantswarm/scaffold-bench/internal/testutil"
)

func newServerContext(t *testing.T, client llm.Client) *server.ServerContext {
	t.Helper()
	return &server.ServerContext{
		Runs: runner.NewService(runner.ServiceConfig{
			ClientForModel: func(context.Context, catalog.Model) (llm.Client, error) {
				return client, nil
			},
			CheckpointDir:  t.TempDir(),
			OutputDir:      t.TempDir(),
			InvokerOptions: []invoker.Option{invoker.WithInterval(0)},
		}),
	}
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	request := mcp.CallToolRequest{}
	request.Params.Arguments = args
	return request
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	content, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return content.Text
}

func TestRegisterTools(t *testing.T) {
	s := mcpserver.NewMCPServer("test", "0.0.0", mcpserver.WithToolCapabilities(true))
	require.NoError(t, RegisterTools(s, newServerContext(t, &testutil.MockLLMClient{})))
	assert.Error(t, RegisterTools(s, &server.ServerContext{}))
}

func TestHandleListBenchmarks(t *testing.T) {
	sc := newServerContext(t, &testutil.MockLLMClient{})

	result, err := handleListBenchmarks(context.Background(), mcp.CallToolRequest{}, sc)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var infos []server.BenchmarkInfo
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &infos))
	require.NotEmpty(t, infos)
	assert.Equal(t, "mmlu-pro-mini", infos[0].Name)
	assert.Equal(t, "MMLU-Pro mini", infos[0].Title)
}

func TestHandleListModels(t *testing.T) {
	sc := newServerContext(t, &testutil.MockLLMClient{})

	result, err := handleListModels(context.Background(), mcp.CallToolRequest{}, sc)
	require.NoError(t, err)

	var infos []server.ModelInfo
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &infos))
	byName := map[string]server.ModelInfo{}
	for _, m := range infos {
		byName[m.Name] = m
	}
	require.Contains(t, byName, "claude-haiku-4-5")
	assert.Equal(t, 1.0, byName["claude-haiku-4-5"].InputPerMTok)
	assert.Equal(t, 5.0, byName["claude-haiku-4-5"].OutputPerMTok)
}

func TestHandleListEndpointsWithoutCluster(t *testing.T) {
	sc := newServerContext(t, &testutil.MockLLMClient{})

	result, err := handleListEndpoints(context.Background(), mcp.CallToolRequest{}, sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not configured")
}

func TestRunConfigFromArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		want    evaluation.RunConfig
		wantErr string
	}{
		{
			name:    "missing benchmark",
			args:    map[string]any{"model": "m"},
			wantErr: "benchmark is required",
		},
		{
			name:    "missing model",
			args:    map[string]any{"benchmark": "b"},
			wantErr: "model is required",
		},
		{
			name:    "unknown condition",
			args:    map[string]any{"benchmark": "b", "model": "m", "conditions": []any{"fancy"}},
			wantErr: "unknown condition",
		},
		{
			name:    "fractional sample size",
			args:    map[string]any{"benchmark": "b", "model": "m", "sample_size": 2.7},
			wantErr: "sample_size must be an integer",
		},
		{
			name:    "fractional seed",
			args:    map[string]any{"benchmark": "b", "model": "m", "seed": 0.5},
			wantErr: "seed must be an integer",
		},
		{
			name:    "non-numeric budget",
			args:    map[string]any{"benchmark": "b", "model": "m", "budget_usd": "ten"},
			wantErr: "budget_usd must be a number",
		},
		{
			name: "explicit zeros are kept",
			args: map[string]any{"benchmark": "b", "model": "m", "sample_size": float64(0), "budget_usd": float64(0)},
			want: evaluation.RunConfig{
				Benchmark:  "b",
				Model:      "m",
				SampleSize: evaluation.IntPtr(0),
				BudgetUSD:  evaluation.Float64Ptr(0),
			},
		},
		{
			name: "all fields",
			args: map[string]any{
				"benchmark":        "b",
				"model":            "m",
				"pre_prompt":       "p",
				"sample_size":      float64(6),
				"budget_usd":       2.5,
				"seed":             float64(7),
				"conditions":       []any{"Baseline"},
				"reset_checkpoint": true,
			},
			want: evaluation.RunConfig{
				Benchmark:       "b",
				Model:           "m",
				PrePrompt:       "p",
				SampleSize:      evaluation.IntPtr(6),
				BudgetUSD:       evaluation.Float64Ptr(2.5),
				Seed:            7,
				Conditions:      []evaluation.Condition{evaluation.Baseline},
				ResetCheckpoint: true,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runConfigFromArgs(tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleRunEvaluation(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "The answer is (A).", InputTokens: 100, OutputTokens: 10}
	sc := newServerContext(t, client)

	result, err := handleRunEvaluation(context.Background(), callRequest(map[string]any{
		"benchmark":   "mmlu-pro-mini",
		"model":       "claude-haiku-4-5",
		"pre_prompt":  "Work through each option.",
		"sample_size": float64(2),
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var res stream.Result
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &res))
	assert.Equal(t, stream.StatusComplete, res.Status)
	assert.Equal(t, 2, res.QuestionsTested)
	assert.Equal(t, 2, res.Baseline.TotalQuestions)
	assert.Equal(t, 2, res.Scaffolded.TotalQuestions)
	assert.Equal(t, 4, client.CallCount())

	list, err := handleGetResults(context.Background(), callRequest(map[string]any{}), sc)
	require.NoError(t, err)
	var summaries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, list)), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, res.RunID, summaries[0]["id"])
	assert.Equal(t, "complete", summaries[0]["status"])

	one, err := handleGetResults(context.Background(), callRequest(map[string]any{"run_id": res.RunID}), sc)
	require.NoError(t, err)
	assert.False(t, one.IsError)
	assert.Contains(t, resultText(t, one), "Work through each option.")
}

func TestHandleRunEvaluationConfigError(t *testing.T) {
	sc := newServerContext(t, &testutil.MockLLMClient{})

	result, err := handleRunEvaluation(context.Background(), callRequest(map[string]any{
		"benchmark": "mmlu-pro-mini",
		"model":     "claude-haiku-4-5",
	}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "pre-prompt is required")
}

func TestHandleGetResultsRejectsTraversal(t *testing.T) {
	sc := newServerContext(t, &testutil.MockLLMClient{})

	result, err := handleGetResults(context.Background(), callRequest(map[string]any{"run_id": "../secrets"}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "path separators are not allowed")
}

func TestHandleResetCheckpoint(t *testing.T) {
	sc := newServerContext(t, &testutil.MockLLMClient{})

	result, err := handleResetCheckpoint(context.Background(), callRequest(map[string]any{"benchmark": "mmlu-pro-mini"}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = handleResetCheckpoint(context.Background(), callRequest(map[string]any{
		"benchmark":  "mmlu-pro-mini",
		"model":      "claude-haiku-4-5",
		"pre_prompt": "x",
	}), sc)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Checkpoint removed")
}
