package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIClientDefaults(t *testing.T) {
	client := NewOpenAIClient()
	assert.Empty(t, client.model)
	assert.Nil(t, client.temperature)
	assert.Zero(t, client.maxTokens)
}

func TestNewOpenAIClientWithAllOptions(t *testing.T) {
	client := NewOpenAIClient(
		WithBaseURL("https://api.example.com/v1"),
		WithAPIKey("sk-test"),
		WithModel("claude-haiku-4-5"),
		WithTemperature(0.5),
		WithMaxTokens(1024),
		WithHTTPClient(http.DefaultClient),
	)
	assert.Equal(t, "claude-haiku-4-5", client.model)
	require.NotNil(t, client.temperature)
	assert.Equal(t, 0.5, *client.temperature)
	assert.Equal(t, 1024, client.maxTokens)
}

func TestApplyDefaults(t *testing.T) {
	client := NewOpenAIClient(WithModel("default-model"), WithTemperature(0.8), WithMaxTokens(512))

	req := client.applyDefaults(ChatRequest{UserMessage: "hello"})
	assert.Equal(t, "default-model", req.Model)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.8, *req.Temperature)
	assert.Equal(t, 512, req.MaxTokens)

	req = client.applyDefaults(ChatRequest{
		Model:       "other",
		Temperature: Float64Ptr(0),
		MaxTokens:   16,
	})
	assert.Equal(t, "other", req.Model)
	assert.Equal(t, 0.0, *req.Temperature)
	assert.Equal(t, 16, req.MaxTokens)
}

func TestChatCompletionReportsUsage(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "claude-haiku-4-5",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "The answer is (B)."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
		}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(WithBaseURL(srv.URL+"/v1"), WithAPIKey("sk-test"))
	resp, err := client.ChatCompletion(context.Background(), ChatRequest{
		Model:         "claude-haiku-4-5",
		SystemMessage: "system",
		UserMessage:   "question",
		MaxTokens:     256,
	})
	require.NoError(t, err)

	assert.Equal(t, "The answer is (B).", resp.Content)
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 30, resp.OutputTokens)
	assert.Equal(t, "claude-haiku-4-5", resp.Model)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "question", got.Messages[1].Content)
	assert.Equal(t, 256, got.MaxTokens)
}

func TestChatCompletionNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"x","choices":[],"usage":{}}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(WithBaseURL(srv.URL))
	_, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "m"})
	assert.Error(t, err)
}

func TestChatCompletionServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(WithBaseURL(srv.URL))
	_, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "canceled", err: fmt.Errorf("wrapped: %w", context.Canceled), want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{name: "rate limited", err: &openai.APIError{HTTPStatusCode: 429}, want: true},
		{name: "server error", err: &openai.APIError{HTTPStatusCode: 503}, want: true},
		{name: "bad request", err: &openai.APIError{HTTPStatusCode: 400}, want: false},
		{name: "unauthorized request", err: &openai.RequestError{HTTPStatusCode: 401}, want: false},
		{name: "gateway request", err: &openai.RequestError{HTTPStatusCode: 502}, want: true},
		{name: "transport", err: fmt.Errorf("dial tcp: connection refused"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestSimulatedClientIsDeterministic(t *testing.T) {
	c := &SimulatedClient{}
	req := ChatRequest{
		Model:       "claude-haiku-4-5",
		UserMessage: "Which is largest?\n\nA. 1\nB. 2\nC. 3\nD. 4",
	}

	first, err := c.ChatCompletion(context.Background(), req)
	require.NoError(t, err)
	second, err := c.ChatCompletion(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Content, second.Content)
	assert.Regexp(t, `the answer is \([A-D]\)`, first.Content)
	assert.Equal(t, EstimateTokens(req.UserMessage), first.InputTokens)
	assert.Equal(t, 200, first.OutputTokens)
}

func TestSimulatedClientHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&SimulatedClient{}).ChatCompletion(ctx, ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))
}
