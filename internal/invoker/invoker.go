// Package invoker turns a (question, condition) pair into one priced model
// answer. It owns prompt formatting, retries, pacing, answer extraction and
// cost computation; callers see a single blocking call.
package invoker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/giantswarm/scaffold-bench/internal/benchmark"
	"github.com/giantswarm/scaffold-bench/internal/catalog"
	"github.com/giantswarm/scaffold-bench/internal/evaluation"
	"github.com/giantswarm/scaffold-bench/internal/llm"
)

const (
	// DefaultMaxTokens leaves room for step-by-step reasoning before the answer.
	DefaultMaxTokens = 1024
	// DefaultMaxTries is the number of attempts per call, including the first.
	DefaultMaxTries = 3
	// DefaultInterval is the minimum spacing between calls.
	DefaultInterval = time.Second

	fallbackMaxTokens = 5
)

// Request is one invocation.
type Request struct {
	Question  benchmark.Question
	Condition evaluation.Condition
	PrePrompt string
}

// Extraction records how the answer letter was obtained.
type Extraction string

const (
	ExtractionRules    Extraction = "rules"
	ExtractionFallback Extraction = "fallback"
	ExtractionNone     Extraction = "none"
)

// Answer is the priced result of a successful invocation.
type Answer struct {
	// Letter is empty when no answer could be extracted.
	Letter       string
	Raw          string
	Extraction   Extraction
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Latency      time.Duration
}

// Status classifies the answer for the outcome record.
func (a Answer) Status() evaluation.Status {
	if a.Letter == "" {
		return evaluation.StatusNoAnswer
	}
	return evaluation.StatusAnswered
}

// Invoker calls a single catalog model.
type Invoker struct {
	client      llm.Client
	model       catalog.Model
	limiter     *rate.Limiter
	maxTries    uint
	maxTokens   int
	temperature *float64
	fallback    bool
	newBackOff  func() backoff.BackOff
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithInterval sets the minimum spacing between calls; zero disables pacing.
func WithInterval(d time.Duration) Option {
	return func(inv *Invoker) {
		if d <= 0 {
			inv.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		inv.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithMaxTries sets the number of attempts per call.
func WithMaxTries(n uint) Option {
	return func(inv *Invoker) {
		if n > 0 {
			inv.maxTries = n
		}
	}
}

// WithMaxTokens caps the completion length of answer calls.
func WithMaxTokens(n int) Option {
	return func(inv *Invoker) {
		inv.maxTokens = n
	}
}

// WithTemperature fixes the sampling temperature of answer calls.
func WithTemperature(t float64) Option {
	return func(inv *Invoker) {
		inv.temperature = &t
	}
}

// WithFallbackExtraction asks the model to name the chosen letter when the
// extraction rules fail. The extra call is billed to the same outcome.
func WithFallbackExtraction(enabled bool) Option {
	return func(inv *Invoker) {
		inv.fallback = enabled
	}
}

// WithBackOff replaces the retry schedule.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(inv *Invoker) {
		inv.newBackOff = f
	}
}

// New creates an Invoker for the given model.
func New(client llm.Client, model catalog.Model, opts ...Option) *Invoker {
	inv := &Invoker{
		client:    client,
		model:     model,
		limiter:   rate.NewLimiter(rate.Every(DefaultInterval), 1),
		maxTries:  DefaultMaxTries,
		maxTokens: DefaultMaxTokens,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Model returns the catalog entry the invoker calls.
func (inv *Invoker) Model() catalog.Model {
	return inv.model
}

// Invoke asks the model one question. An error means no billed answer was
// obtained; callers record it as a zero-cost failed outcome.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (Answer, error) {
	valid := req.Question.OptionLetters()

	resp, latency, err := inv.call(ctx, llm.ChatRequest{
		Model:         inv.model.RequestModel(),
		SystemMessage: SystemPrompt(valid),
		UserMessage:   UserMessage(req.Question, req.Condition, req.PrePrompt),
		Temperature:   inv.temperature,
		MaxTokens:     inv.maxTokens,
	})
	if err != nil {
		return Answer{}, err
	}

	ans := Answer{
		Raw:          resp.Content,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Latency:      latency,
		Extraction:   ExtractionNone,
	}
	if ans.Letter = ExtractAnswer(resp.Content, valid); ans.Letter != "" {
		ans.Extraction = ExtractionRules
	} else if inv.fallback {
		inv.extractWithModel(ctx, req.Question, &ans)
	}
	ans.CostUSD = inv.model.Cost(ans.InputTokens, ans.OutputTokens)
	return ans, nil
}

// extractWithModel runs the fallback extraction. Its failure leaves the
// answer unextracted rather than failing the invocation, since the main
// call has already been billed.
func (inv *Invoker) extractWithModel(ctx context.Context, q benchmark.Question, ans *Answer) {
	zero := 0.0
	resp, _, err := inv.call(ctx, llm.ChatRequest{
		Model:         inv.model.RequestModel(),
		SystemMessage: fallbackSystemPrompt,
		UserMessage:   fallbackUserMessage(q, ans.Raw),
		Temperature:   &zero,
		MaxTokens:     fallbackMaxTokens,
	})
	if err != nil {
		slog.Warn("fallback answer extraction failed", "question_id", q.ID, "error", err)
		return
	}

	ans.InputTokens += resp.InputTokens
	ans.OutputTokens += resp.OutputTokens
	if letter := ExtractAnswer(resp.Content, q.OptionLetters()); letter != "" {
		ans.Letter = letter
		ans.Extraction = ExtractionFallback
	}
}

func (inv *Invoker) call(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, time.Duration, error) {
	var latency time.Duration
	attempt := 0

	resp, err := backoff.Retry(ctx, func() (*llm.ChatResponse, error) {
		attempt++
		if err := inv.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		start := time.Now()
		resp, err := inv.client.ChatCompletion(ctx, req)
		latency = time.Since(start)
		if err != nil {
			if !llm.IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			slog.Warn("model call failed, retrying",
				"model", req.Model,
				"attempt", attempt,
				"max_tries", inv.maxTries,
				"error", err,
			)
			return nil, err
		}
		return resp, nil
	}, backoff.WithBackOff(inv.newBackOff()), backoff.WithMaxTries(inv.maxTries))
	if err != nil {
		return nil, latency, fmt.Errorf("model %s failed after %d attempt(s): %w", req.Model, attempt, err)
	}
	return resp, latency, nil
}
