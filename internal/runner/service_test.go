package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/scaffold-bench/internal/catalog"
	"github.com/giantswarm/scaffold-bench/internal/checkpoint"
	"github.com/giantswarm/scaffold-bench/internal/evaluation"
	"github.com/giantswarm/scaffold-bench/internal/invoker"
	"github.com/giantswarm/scaffold-bench/internal/llm"
	"github.com/giantswarm/scaffold-bench/internal/report"
	"github.com/giantswarm/scaffold-bench/internal/stream"
	"github.com/giantswarm/scaffold-bench/internal/testutil"
)

const testPrePrompt = "Eliminate clearly wrong options first."

func newTestService(t *testing.T, client llm.Client) (*Service, ServiceConfig) {
	t.Helper()
	cfg := ServiceConfig{
		ClientForModel: func(context.Context, catalog.Model) (llm.Client, error) {
			return client, nil
		},
		CheckpointDir:  t.TempDir(),
		OutputDir:      t.TempDir(),
		InvokerOptions: []invoker.Option{invoker.WithInterval(0)},
	}
	return NewService(cfg), cfg
}

func testRunConfig() evaluation.RunConfig {
	return evaluation.RunConfig{
		Benchmark:  "mmlu-pro-mini",
		Model:      "claude-haiku-4-5",
		PrePrompt:  testPrePrompt,
		SampleSize: evaluation.IntPtr(4),
		BudgetUSD:  evaluation.Float64Ptr(1),
	}
}

func TestServiceRunsAndExports(t *testing.T) {
	client := &testutil.MockLLMClient{
		DefaultResponse: "Let me think. The answer is (C).",
		InputTokens:     1000,
		OutputTokens:    100,
	}
	svc, cfg := newTestService(t, client)

	events, err := svc.Start(context.Background(), testRunConfig())
	require.NoError(t, err)
	last := terminal(t, collect(t, events))
	require.NotNil(t, last.Result, "unexpected error: %s", last.Error)
	res := last.Result

	assert.Equal(t, stream.StatusComplete, res.Status)
	assert.Equal(t, 4, res.QuestionsTested)
	assert.Equal(t, 8, client.CallCount())
	// claude-haiku-4-5: 1000 input at $1/Mtok plus 100 output at $5/Mtok.
	assert.InDelta(t, 8*0.0015, res.SpentUSD, 1e-9)
	assert.NotEmpty(t, res.RunID)
	assert.False(t, svc.Running())

	require.NotEmpty(t, res.OutputDir)
	assert.FileExists(t, filepath.Join(res.OutputDir, report.DetailFile))
	assert.FileExists(t, filepath.Join(res.OutputDir, report.SummaryFile))

	run, err := report.ReadRun(cfg.OutputDir, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, testPrePrompt, run.PrePrompt)
	assert.Equal(t, evaluation.DefaultSeed, run.Seed)

	assert.FileExists(t, checkpoint.PathFor(cfg.CheckpointDir, "mmlu-pro-mini", "claude-haiku-4-5", testPrePrompt))
}

func TestServiceSecondRunReusesCheckpoint(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "The answer is (A)", InputTokens: 10, OutputTokens: 1}
	svc, _ := newTestService(t, client)

	events, err := svc.Start(context.Background(), testRunConfig())
	require.NoError(t, err)
	first := terminal(t, collect(t, events)).Result
	require.NotNil(t, first)

	events, err = svc.Start(context.Background(), testRunConfig())
	require.NoError(t, err)
	second := terminal(t, collect(t, events)).Result
	require.NotNil(t, second)

	assert.Equal(t, 8, client.CallCount())
	assert.Equal(t, first.Summary, second.Summary)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestServiceResetCheckpointOption(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "The answer is (A)"}
	svc, _ := newTestService(t, client)

	events, err := svc.Start(context.Background(), testRunConfig())
	require.NoError(t, err)
	collect(t, events)

	cfg := testRunConfig()
	cfg.ResetCheckpoint = true
	events, err = svc.Start(context.Background(), cfg)
	require.NoError(t, err)
	collect(t, events)

	assert.Equal(t, 16, client.CallCount())
}

func TestServiceRejectsConcurrentRun(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	var once bool
	client := &testutil.MockLLMClient{
		Respond: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
			if !once {
				once = true
				close(started)
				<-unblock
			}
			return &llm.ChatResponse{Content: "The answer is (A)"}, nil
		},
	}
	svc, _ := newTestService(t, client)

	events, err := svc.Start(context.Background(), testRunConfig())
	require.NoError(t, err)
	<-started

	assert.True(t, svc.Running())
	_, err = svc.Start(context.Background(), testRunConfig())
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = svc.ResetCheckpoint("mmlu-pro-mini", "claude-haiku-4-5", testPrePrompt)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(unblock)
	last := terminal(t, collect(t, events))
	assert.Equal(t, stream.TypeResult, last.Type)
	assert.False(t, svc.Running())
}

func TestServiceConfigErrorsAreSingleEvents(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*evaluation.RunConfig)
		wantErr string
	}{
		{name: "unknown model", mutate: func(c *evaluation.RunConfig) { c.Model = "gpt-2" }, wantErr: `unknown model "gpt-2"`},
		{name: "unknown benchmark", mutate: func(c *evaluation.RunConfig) { c.Benchmark = "hellaswag" }, wantErr: `unknown benchmark "hellaswag"`},
		{name: "negative budget", mutate: func(c *evaluation.RunConfig) { c.BudgetUSD = evaluation.Float64Ptr(-1) }, wantErr: "budget ceiling must be positive"},
		{name: "zero budget", mutate: func(c *evaluation.RunConfig) { c.BudgetUSD = evaluation.Float64Ptr(0) }, wantErr: "budget ceiling must be positive"},
		{name: "zero sample size", mutate: func(c *evaluation.RunConfig) { c.SampleSize = evaluation.IntPtr(0) }, wantErr: "sample size must be positive"},
		{name: "zero sample and budget", mutate: func(c *evaluation.RunConfig) {
			c.SampleSize = evaluation.IntPtr(0)
			c.BudgetUSD = evaluation.Float64Ptr(0)
		}, wantErr: "sample size must be positive"},
		{name: "empty pre-prompt", mutate: func(c *evaluation.RunConfig) { c.PrePrompt = " " }, wantErr: "pre-prompt is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &testutil.MockLLMClient{}
			svc, _ := newTestService(t, client)
			cfg := testRunConfig()
			tt.mutate(&cfg)

			events, err := svc.Start(context.Background(), cfg)
			require.NoError(t, err)
			got := collect(t, events)
			require.Len(t, got, 1)
			assert.Equal(t, stream.TypeError, got[0].Type)
			assert.Contains(t, got[0].Error, tt.wantErr)
			assert.Zero(t, client.CallCount())
			assert.False(t, svc.Running())
		})
	}
}

func TestServiceClientFactoryError(t *testing.T) {
	svc := NewService(ServiceConfig{
		ClientForModel: func(context.Context, catalog.Model) (llm.Client, error) {
			return nil, errors.New("no endpoint")
		},
		CheckpointDir: t.TempDir(),
	})

	events, err := svc.Start(context.Background(), testRunConfig())
	require.NoError(t, err)
	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Error, "no endpoint")
}

func TestServiceWithoutOutputDirSkipsExport(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "The answer is (B)"}
	svc := NewService(ServiceConfig{
		ClientForModel: func(context.Context, catalog.Model) (llm.Client, error) { return client, nil },
		CheckpointDir:  t.TempDir(),
		InvokerOptions: []invoker.Option{invoker.WithInterval(0)},
	})

	cfg := testRunConfig()
	cfg.Conditions = []evaluation.Condition{evaluation.Baseline}
	cfg.PrePrompt = ""
	events, err := svc.Start(context.Background(), cfg)
	require.NoError(t, err)
	res := terminal(t, collect(t, events)).Result
	require.NotNil(t, res)
	assert.Empty(t, res.OutputDir)
	assert.Equal(t, 4, client.CallCount())
	assert.Zero(t, res.Scaffolded.TotalQuestions)
}

func TestServiceResetCheckpoint(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "The answer is (A)"}
	svc, cfg := newTestService(t, client)

	events, err := svc.Start(context.Background(), testRunConfig())
	require.NoError(t, err)
	collect(t, events)

	path, err := svc.ResetCheckpoint("mmlu-pro-mini", "claude-haiku-4-5", testPrePrompt)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.PathFor(cfg.CheckpointDir, "mmlu-pro-mini", "claude-haiku-4-5", testPrePrompt), path)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	_, err = svc.ResetCheckpoint("mmlu-pro-mini", "claude-haiku-4-5", testPrePrompt)
	assert.NoError(t, err, "removing a missing checkpoint is not an error")
}

func TestServiceListsCatalogAndBenchmarks(t *testing.T) {
	svc := NewService(ServiceConfig{})
	names, err := svc.Benchmarks()
	require.NoError(t, err)
	assert.Contains(t, names, "mmlu-pro-mini")
	assert.Contains(t, svc.Catalog().Names(), "claude-haiku-4-5")
}
