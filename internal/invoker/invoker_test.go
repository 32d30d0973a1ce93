package invoker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/scaffold-bench/internal/benchmark"
	"github.com/giantswarm/scaffold-bench/internal/catalog"
	"github.com/giantswarm/scaffold-bench/internal/evaluation"
	"github.com/giantswarm/scaffold-bench/internal/llm"
	"github.com/giantswarm/scaffold-bench/internal/testutil"
)

var testModel = catalog.Model{
	Name:          "claude-haiku-4-5",
	APIModel:      "claude-haiku-4-5-20251001",
	InputPerMTok:  1,
	OutputPerMTok: 5,
}

var testQuestion = benchmark.Question{
	ID:           "601",
	Subject:      "physics",
	Text:         "A 2 kg object accelerates at 3 m/s^2. What net force acts on it?",
	Options:      []string{"1.5 N", "5 N", "6 N", "9 N"},
	CorrectIndex: 2,
}

func newTestInvoker(client *testutil.MockLLMClient, opts ...Option) *Invoker {
	base := []Option{
		WithInterval(0),
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
	}
	return New(client, testModel, append(base, opts...)...)
}

func TestInvokeBaseline(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "C", InputTokens: 1000, OutputTokens: 200}
	inv := newTestInvoker(client)

	ans, err := inv.Invoke(context.Background(), Request{
		Question:  testQuestion,
		Condition: evaluation.Baseline,
		PrePrompt: "Think step by step.",
	})
	require.NoError(t, err)

	assert.Equal(t, "C", ans.Letter)
	assert.Equal(t, evaluation.StatusAnswered, ans.Status())
	assert.Equal(t, ExtractionRules, ans.Extraction)
	// 1000 input tokens at $1/M plus 200 output tokens at $5/M.
	assert.InDelta(t, 0.002, ans.CostUSD, 1e-12)

	req := client.LastRequest
	assert.Equal(t, "claude-haiku-4-5-20251001", req.Model)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.Contains(t, req.SystemMessage, "(A, B, C, or D)")
	assert.NotContains(t, req.UserMessage, "Think step by step.")
	assert.Contains(t, req.UserMessage, "C. 6 N")
}

func TestInvokeScaffoldedPrependsPrePrompt(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "Reasoning... The answer is (C)."}
	inv := newTestInvoker(client)

	ans, err := inv.Invoke(context.Background(), Request{
		Question:  testQuestion,
		Condition: evaluation.Scaffolded,
		PrePrompt: "Think step by step.",
	})
	require.NoError(t, err)
	assert.Equal(t, "C", ans.Letter)
	assert.True(t, strings.HasPrefix(client.LastRequest.UserMessage, "Think step by step.\n\n"+testQuestion.Text))
}

func TestInvokeRetriesTransientErrors(t *testing.T) {
	client := &testutil.MockLLMClient{
		DefaultResponse: "B",
		Errors: []error{
			&openai.APIError{HTTPStatusCode: 429, Message: "rate limited"},
			&openai.APIError{HTTPStatusCode: 503, Message: "overloaded"},
		},
	}
	inv := newTestInvoker(client)

	ans, err := inv.Invoke(context.Background(), Request{Question: testQuestion, Condition: evaluation.Baseline})
	require.NoError(t, err)
	assert.Equal(t, "B", ans.Letter)
	assert.Equal(t, 3, client.CallCount())
}

func TestInvokeGivesUpAfterMaxTries(t *testing.T) {
	transient := &openai.APIError{HTTPStatusCode: 500, Message: "boom"}
	client := &testutil.MockLLMClient{Errors: []error{transient, transient, transient, transient}}
	inv := newTestInvoker(client, WithMaxTries(2))

	_, err := inv.Invoke(context.Background(), Request{Question: testQuestion, Condition: evaluation.Baseline})
	require.Error(t, err)
	assert.Equal(t, 2, client.CallCount())

	var apiErr *openai.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestInvokeDoesNotRetryClientErrors(t *testing.T) {
	client := &testutil.MockLLMClient{Errors: []error{&openai.APIError{HTTPStatusCode: 400, Message: "bad"}}}
	inv := newTestInvoker(client)

	_, err := inv.Invoke(context.Background(), Request{Question: testQuestion, Condition: evaluation.Baseline})
	require.Error(t, err)
	assert.Equal(t, 1, client.CallCount())
}

func TestInvokeNoAnswerWithoutFallback(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "I am not sure about this one.", InputTokens: 100, OutputTokens: 10}
	inv := newTestInvoker(client)

	ans, err := inv.Invoke(context.Background(), Request{Question: testQuestion, Condition: evaluation.Baseline})
	require.NoError(t, err)
	assert.Empty(t, ans.Letter)
	assert.Equal(t, evaluation.StatusNoAnswer, ans.Status())
	assert.Equal(t, ExtractionNone, ans.Extraction)
	assert.Greater(t, ans.CostUSD, 0.0)
	assert.Equal(t, 1, client.CallCount())
}

func TestInvokeFallbackExtractionAddsCost(t *testing.T) {
	client := &testutil.MockLLMClient{
		Responses:    map[string]string{"Response to extract from": "D"},
		InputTokens:  100,
		OutputTokens: 10,
	}
	client.DefaultResponse = "I am not sure about this one."
	inv := newTestInvoker(client, WithFallbackExtraction(true))

	ans, err := inv.Invoke(context.Background(), Request{Question: testQuestion, Condition: evaluation.Baseline})
	require.NoError(t, err)
	assert.Equal(t, "D", ans.Letter)
	assert.Equal(t, ExtractionFallback, ans.Extraction)
	assert.Equal(t, 200, ans.InputTokens)
	assert.Equal(t, 20, ans.OutputTokens)
	assert.InDelta(t, testModel.Cost(200, 20), ans.CostUSD, 1e-12)
	assert.Equal(t, 2, client.CallCount())
	assert.Equal(t, 5, client.LastRequest.MaxTokens)
}

func TestInvokeFallbackFailureKeepsBilledAnswer(t *testing.T) {
	client := &testutil.MockLLMClient{InputTokens: 100, OutputTokens: 10}
	client.Respond = func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		if req.MaxTokens == 5 {
			return nil, &openai.APIError{HTTPStatusCode: 400, Message: "no"}
		}
		return &llm.ChatResponse{Content: "unclear", InputTokens: 100, OutputTokens: 10}, nil
	}
	inv := newTestInvoker(client, WithFallbackExtraction(true))

	ans, err := inv.Invoke(context.Background(), Request{Question: testQuestion, Condition: evaluation.Baseline})
	require.NoError(t, err)
	assert.Empty(t, ans.Letter)
	assert.InDelta(t, testModel.Cost(100, 10), ans.CostUSD, 1e-12)
}

func TestInvokeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &testutil.MockLLMClient{DefaultResponse: "A"}
	inv := newTestInvoker(client)
	_, err := inv.Invoke(ctx, Request{Question: testQuestion, Condition: evaluation.Baseline})
	assert.Error(t, err)
}

func TestUserMessageFormat(t *testing.T) {
	msg := UserMessage(testQuestion, evaluation.Baseline, "ignored")
	assert.Equal(t, testQuestion.Text+"\n\nA. 1.5 N\nB. 5 N\nC. 6 N\nD. 9 N", msg)

	msg = UserMessage(testQuestion, evaluation.Scaffolded, "Plan first.")
	assert.Equal(t, "Plan first.\n\n"+testQuestion.Text+"\n\nA. 1.5 N\nB. 5 N\nC. 6 N\nD. 9 N", msg)
}

func TestJoinLetters(t *testing.T) {
	assert.Equal(t, "A or B", joinLetters("AB"))
	assert.Equal(t, "A, B, C, or D", joinLetters("ABCD"))
	assert.Equal(t, "A", joinLetters("A"))
}
