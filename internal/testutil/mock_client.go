// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/giantswarm/scaffold-bench/internal/llm"
)

// MockLLMClient is a configurable mock for llm.Client used across test packages.
type MockLLMClient struct {
	mu sync.Mutex

	// Responses maps a substring of the user message to a canned response.
	Responses map[string]string

	// DefaultResponse is returned when no key of Responses matches.
	DefaultResponse string

	// Errors are returned, in order, by the first calls before any response.
	Errors []error

	// Respond, when set, takes precedence over Responses and DefaultResponse.
	Respond func(req llm.ChatRequest) (*llm.ChatResponse, error)

	// InputTokens and OutputTokens are reported as usage on canned responses.
	InputTokens  int
	OutputTokens int

	// Calls tracks the number of ChatCompletion invocations.
	Calls int

	// Requests records every request in call order.
	Requests []llm.ChatRequest

	// LastRequest stores the most recent ChatRequest for inspection.
	LastRequest llm.ChatRequest
}

func (m *MockLLMClient) ChatCompletion(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	m.LastRequest = req
	m.Requests = append(m.Requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.Errors) > 0 {
		err := m.Errors[0]
		m.Errors = m.Errors[1:]
		if err != nil {
			return nil, err
		}
	}
	if m.Respond != nil {
		return m.Respond(req)
	}

	content := m.DefaultResponse
	if content == "" {
		content = "mock response"
	}
	for key, resp := range m.Responses {
		if strings.Contains(req.UserMessage, key) {
			content = resp
			break
		}
	}
	return &llm.ChatResponse{
		Content:      content,
		Model:        req.Model,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
	}, nil
}

// CallCount returns the number of calls so far.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}
