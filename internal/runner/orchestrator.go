package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/scaffold-bench/internal/benchmark"
	"github.com/giantswarm/scaffold-bench/internal/budget"
	"github.com/giantswarm/scaffold-bench/internal/checkpoint"
	"github.com/giantswarm/scaffold-bench/internal/evaluation"
	"github.com/giantswarm/scaffold-bench/internal/invoker"
	"github.com/giantswarm/scaffold-bench/internal/metrics"
	"github.com/giantswarm/scaffold-bench/internal/stream"
	"github.com/giantswarm/scaffold-bench/internal/telemetry"
)

const (
	// DefaultCallTimeout bounds a single invocation once it has started.
	DefaultCallTimeout = 5 * time.Minute
	// DefaultEventBuffer is the capacity of the event channel.
	DefaultEventBuffer = 16
)

// Invoker is the model invocation capability the orchestrator drives.
type Invoker interface {
	Invoke(ctx context.Context, req invoker.Request) (invoker.Answer, error)
}

// Plan is the immutable input of one run.
type Plan struct {
	RunID      string
	Benchmark  string
	Model      string
	PrePrompt  string
	Questions  []benchmark.Question
	Conditions []evaluation.Condition
	CeilingUSD float64
}

func (p Plan) validate() error {
	if len(p.Questions) == 0 {
		return fmt.Errorf("%w: no questions to evaluate", evaluation.ErrInvalidConfig)
	}
	if len(p.Conditions) == 0 {
		return fmt.Errorf("%w: no conditions to evaluate", evaluation.ErrInvalidConfig)
	}
	for _, c := range p.Conditions {
		if _, err := evaluation.ParseCondition(string(c)); err != nil {
			return fmt.Errorf("%w: %w", evaluation.ErrInvalidConfig, err)
		}
		if c == evaluation.Scaffolded && p.PrePrompt == "" {
			return fmt.Errorf("%w: pre-prompt is required for the scaffolded condition", evaluation.ErrInvalidConfig)
		}
	}
	return nil
}

// FinishFunc runs once a run has ended, before its result event is emitted.
// It may annotate the result.
type FinishFunc func(outcomes []evaluation.Outcome, result *stream.Result)

// Orchestrator drives the questions of a plan through the invoker, one
// (question, condition) pair at a time.
type Orchestrator struct {
	invoker     Invoker
	store       checkpoint.Store
	recorder    telemetry.Recorder
	callTimeout time.Duration
	buffer      int
	onFinish    FinishFunc
	now         func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithRecorder sets the telemetry recorder.
func WithRecorder(r telemetry.Recorder) OrchestratorOption {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithCallTimeout bounds each invocation.
func WithCallTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.callTimeout = d
	}
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.buffer = n
	}
}

// WithFinish registers a hook that sees the run's outcomes before the result is emitted.
func WithFinish(fn FinishFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onFinish = fn
	}
}

// NewOrchestrator creates an orchestrator over the given invoker and checkpoint store.
func NewOrchestrator(inv Invoker, store checkpoint.Store, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		invoker:     inv,
		store:       store,
		recorder:    telemetry.Nop{},
		callTimeout: DefaultCallTimeout,
		buffer:      DefaultEventBuffer,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run starts the plan and returns its event stream. The stream carries zero
// or more progress events followed by exactly one result or error event, and
// is closed afterwards.
//
// Cancelling ctx stops the run before the next pair; an invocation already
// in flight completes and is checkpointed. Events are not delivered to an
// observer that stopped reading after cancellation.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) <-chan stream.Event {
	events := make(chan stream.Event, o.buffer)
	go func() {
		defer close(events)
		r := &run{Orchestrator: o, plan: plan, events: events}
		r.execute(ctx)
	}()
	return events
}

type run struct {
	*Orchestrator
	plan     Plan
	events   chan<- stream.Event
	guard    *budget.Guard
	outcomes []evaluation.Outcome
}

func (r *run) execute(ctx context.Context) {
	if err := r.plan.validate(); err != nil {
		r.emit(ctx, stream.ErrorEvent(err.Error()))
		return
	}
	guard, err := budget.NewGuard(r.plan.CeilingUSD)
	if err != nil {
		r.emit(ctx, stream.ErrorEvent(fmt.Sprintf("%v: %v", evaluation.ErrInvalidConfig, err)))
		return
	}
	r.guard = guard

	conds := evaluation.Ordered(r.plan.Conditions)
	total := len(r.plan.Questions) * len(conds)
	completed := 0
	status := stream.StatusComplete

	slog.Info("evaluation run started",
		"run_id", r.plan.RunID,
		"model", r.plan.Model,
		"questions", len(r.plan.Questions),
		"pairs", total,
		"ceiling_usd", r.plan.CeilingUSD,
	)

loop:
	for qi, q := range r.plan.Questions {
		for _, cond := range conds {
			if ctx.Err() != nil {
				status = stream.StatusCancelled
				slog.Warn("evaluation run cancelled", "run_id", r.plan.RunID, "completed", completed, "total", total)
				break loop
			}
			label := fmt.Sprintf("Question %d/%d (%s) %s", qi+1, len(r.plan.Questions), q.ID, cond)

			if prev, ok := r.store.Get(q.ID, cond); ok {
				if err := r.charge(prev.CostUSD); err != nil {
					r.emit(ctx, stream.ErrorEvent(err.Error()))
					return
				}
				r.outcomes = append(r.outcomes, prev)
				r.recorder.OutcomeReused(r.plan.Model, cond)
				completed++
				r.progress(ctx, completed, total, label+": reused from checkpoint")
				continue
			}

			if r.guard.Exhausted() {
				status = stream.StatusBudgetExhausted
				msg := fmt.Sprintf("Budget ceiling of $%.4f reached (spent $%.4f); halting before %s",
					r.guard.Ceiling(), r.guard.Spent(), label)
				slog.Warn("budget exhausted", "run_id", r.plan.RunID, "spent_usd", r.guard.Spent(), "ceiling_usd", r.guard.Ceiling())
				r.progress(ctx, completed, total, msg)
				break loop
			}

			outcome := r.invoke(ctx, q, cond)
			// Durability precedes use: nothing else sees the outcome until it is on disk.
			if err := r.store.Append(outcome); err != nil {
				slog.Error("checkpoint append failed", "run_id", r.plan.RunID, "pair", outcome.Key(), "error", err)
				r.emit(ctx, stream.ErrorEvent(fmt.Sprintf("failed to checkpoint %s: %v", outcome.Key(), err)))
				return
			}
			if err := r.charge(outcome.CostUSD); err != nil {
				r.emit(ctx, stream.ErrorEvent(err.Error()))
				return
			}
			r.outcomes = append(r.outcomes, outcome)
			completed++
			r.progress(ctx, completed, total, label+": "+describe(outcome))
		}
	}

	result := stream.Result{
		Status:          status,
		Summary:         metrics.Summarize(r.outcomes, conds),
		ModelUsed:       r.plan.Model,
		Benchmark:       r.plan.Benchmark,
		QuestionsTested: len(r.plan.Questions),
		RunID:           r.plan.RunID,
		SpentUSD:        metrics.Round(r.guard.Spent(), metrics.MoneyPlaces),
		CeilingUSD:      r.guard.Ceiling(),
	}
	if r.onFinish != nil {
		r.onFinish(append([]evaluation.Outcome(nil), r.outcomes...), &result)
	}

	slog.Info("evaluation run finished",
		"run_id", r.plan.RunID,
		"status", status,
		"completed", completed,
		"total", total,
		"spent_usd", result.SpentUSD,
	)
	r.emit(ctx, stream.ResultEvent(result))
}

func (r *run) charge(amount float64) error {
	if err := r.guard.Charge(amount); err != nil {
		return fmt.Errorf("failed to charge budget: %w", err)
	}
	r.recorder.BudgetSpent(r.guard.Spent(), r.guard.Ceiling())
	if r.guard.WarningDue() {
		slog.Warn("budget warning: most of the ceiling is consumed",
			"run_id", r.plan.RunID,
			"spent_usd", r.guard.Spent(),
			"ceiling_usd", r.guard.Ceiling(),
		)
	}
	return nil
}

// invoke runs one model call. The call is detached from ctx cancellation so
// that a started, billable call always completes and reaches the checkpoint.
func (r *run) invoke(ctx context.Context, q benchmark.Question, cond evaluation.Condition) evaluation.Outcome {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.callTimeout)
	defer cancel()

	start := r.now()
	ans, err := r.invoker.Invoke(callCtx, invoker.Request{
		Question:  q,
		Condition: cond,
		PrePrompt: r.plan.PrePrompt,
	})

	outcome := evaluation.Outcome{
		QuestionID:    q.ID,
		Subject:       q.Subject,
		Condition:     cond,
		CorrectAnswer: q.CorrectLetter(),
		Timestamp:     start.UTC(),
	}
	if err != nil {
		slog.Error("invocation failed",
			"run_id", r.plan.RunID,
			"question_id", q.ID,
			"condition", cond,
			"error", err,
		)
		outcome.Status = evaluation.StatusError
		outcome.Error = err.Error()
		outcome.LatencySec = r.now().Sub(start).Seconds()
		r.recorder.Invocation(r.plan.Model, cond, outcome.Status, 0, r.now().Sub(start))
		return outcome
	}

	outcome.ModelAnswer = ans.Letter
	outcome.Status = ans.Status()
	outcome.Correct = evaluation.IsCorrectAnswer(outcome.CorrectAnswer, ans.Letter)
	outcome.InputTokens = ans.InputTokens
	outcome.OutputTokens = ans.OutputTokens
	outcome.CostUSD = ans.CostUSD
	outcome.LatencySec = ans.Latency.Seconds()

	slog.Debug("invocation complete",
		"question_id", q.ID,
		"condition", cond,
		"answer", ans.Letter,
		"extraction", ans.Extraction,
		"correct", outcome.Correct,
		"cost_usd", ans.CostUSD,
	)
	r.recorder.Invocation(r.plan.Model, cond, outcome.Status, outcome.CostUSD, ans.Latency)
	return outcome
}

// progress emits a progress event unless the observer has gone away.
func (r *run) progress(ctx context.Context, completed, total int, msg string) {
	r.emit(ctx, stream.ProgressEvent(completed, total, msg))
}

// emit delivers an event. Once ctx is done it only delivers if the buffer
// has room, so an observer that stopped reading never blocks the run.
func (r *run) emit(ctx context.Context, ev stream.Event) {
	select {
	case r.events <- ev:
		return
	case <-ctx.Done():
	}
	select {
	case r.events <- ev:
	default:
		slog.Debug("event dropped, observer not reading", "type", ev.Type)
	}
}

func describe(o evaluation.Outcome) string {
	switch {
	case o.IsError():
		return "error: " + o.Error
	case o.Status == evaluation.StatusNoAnswer:
		return fmt.Sprintf("no parseable answer (expected %s)", o.CorrectAnswer)
	case o.Correct:
		return fmt.Sprintf("correct (%s), $%.4f", o.ModelAnswer, o.CostUSD)
	default:
		return fmt.Sprintf("incorrect (answered %s, expected %s), $%.4f", o.ModelAnswer, o.CorrectAnswer, o.CostUSD)
	}
}
