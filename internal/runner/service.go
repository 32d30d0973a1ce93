package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/scaffold-bench/internal/benchmark"
	"github.com/giantswarm/scaffold-bench/internal/catalog"
	"github.com/giantswarm/scaffold-bench/internal/checkpoint"
	"github.com/giantswarm/scaffold-bench/internal/evaluation"
	"github.com/giantswarm/scaffold-bench/internal/invoker"
	"github.com/giantswarm/scaffold-bench/internal/llm"
	"github.com/giantswarm/scaffold-bench/internal/report"
	"github.com/giantswarm/scaffold-bench/internal/stream"
	"github.com/giantswarm/scaffold-bench/internal/telemetry"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("an evaluation run is already in progress")

// ClientForModelFunc returns an LLM client for the given catalog model.
// It is called once per run, before any invocation.
type ClientForModelFunc func(ctx context.Context, model catalog.Model) (llm.Client, error)

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Catalog        *catalog.Catalog
	ClientForModel ClientForModelFunc

	// BenchmarkDir holds external benchmarks; embedded ones are always available.
	BenchmarkDir  string
	CheckpointDir string
	// OutputDir receives per-run report files; empty disables export.
	OutputDir string

	InvokerOptions []invoker.Option
	CallTimeout    time.Duration
	Recorder       telemetry.Recorder
}

// Service runs one evaluation at a time.
type Service struct {
	cfg     ServiceConfig
	running atomic.Bool
}

// NewService creates a run service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = telemetry.Nop{}
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.ClientForModel == nil {
		cfg.ClientForModel = func(context.Context, catalog.Model) (llm.Client, error) {
			return nil, errors.New("no model client configured")
		}
	}
	return &Service{cfg: cfg}
}

// Catalog returns the model catalog.
func (s *Service) Catalog() *catalog.Catalog {
	return s.cfg.Catalog
}

// OutputDir returns the report directory.
func (s *Service) OutputDir() string {
	return s.cfg.OutputDir
}

// BenchmarkDir returns the external benchmark directory.
func (s *Service) BenchmarkDir() string {
	return s.cfg.BenchmarkDir
}

// Benchmarks lists the selectable benchmarks.
func (s *Service) Benchmarks() ([]string, error) {
	return benchmark.List(s.cfg.BenchmarkDir)
}

// Running reports whether a run is active.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Start validates cfg and starts a run. Configuration problems are reported
// as a stream holding a single error event, so callers consume one shape.
// A concurrent request fails with ErrRunInProgress.
func (s *Service) Start(ctx context.Context, cfg evaluation.RunConfig) (<-chan stream.Event, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	var once sync.Once
	release := func() { once.Do(func() { s.running.Store(false) }) }

	out := make(chan stream.Event, DefaultEventBuffer)
	go func() {
		defer close(out)
		defer release()

		p, err := s.prepare(ctx, cfg)
		if err != nil {
			slog.Error("run rejected", "error", err)
			release()
			out <- stream.ErrorEvent(err.Error())
			return
		}

		s.cfg.Recorder.RunStarted(p.plan.Benchmark, p.plan.Model)
		finished := false
		finish := func(status string) {
			finished = true
			s.cfg.Recorder.RunFinished(p.plan.Benchmark, p.plan.Model, status)
			if err := p.store.Close(); err != nil {
				slog.Warn("failed to close checkpoint", "error", err)
			}
			// The next run may start as soon as the observer sees the terminal event.
			release()
		}

		for ev := range p.orchestrator.Run(ctx, p.plan) {
			if ev.Terminal() {
				status := string(stream.TypeError)
				if ev.Result != nil {
					status = string(ev.Result.Status)
				}
				finish(status)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				select {
				case out <- ev:
				default:
				}
			}
		}
		if !finished {
			finish(string(stream.StatusCancelled))
		}
	}()
	return out, nil
}

type prepared struct {
	plan         Plan
	store        *checkpoint.FileStore
	orchestrator *Orchestrator
}

func (s *Service) prepare(ctx context.Context, cfg evaluation.RunConfig) (*prepared, error) {
	cfg = cfg.WithDefaults()

	benchmarks, err := s.Benchmarks()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(benchmarks, s.cfg.Catalog.Names()); err != nil {
		return nil, err
	}

	model, err := s.cfg.Catalog.Get(cfg.Model)
	if err != nil {
		return nil, err
	}
	bench, err := benchmark.Load(cfg.Benchmark, s.cfg.BenchmarkDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", evaluation.ErrInvalidConfig, err)
	}
	questions := benchmark.StratifiedSample(bench.Questions, cfg.Sample(), cfg.Seed)
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: sample of benchmark %q is empty", evaluation.ErrInvalidConfig, cfg.Benchmark)
	}

	client, err := s.cfg.ClientForModel(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare model %s: %w", model.Name, err)
	}

	store, err := checkpoint.Open(checkpoint.PathFor(s.cfg.CheckpointDir, cfg.Benchmark, cfg.Model, cfg.PrePrompt))
	if err != nil {
		return nil, err
	}
	if cfg.ResetCheckpoint {
		if err := store.Clear(); err != nil {
			_ = store.Close()
			return nil, err
		}
	} else if n := store.Len(); n > 0 {
		slog.Info("resuming from checkpoint", "path", store.Path(), "records", n)
	}

	plan := Plan{
		RunID:      uuid.NewString(),
		Benchmark:  cfg.Benchmark,
		Model:      cfg.Model,
		PrePrompt:  cfg.PrePrompt,
		Questions:  questions,
		Conditions: cfg.Conditions,
		CeilingUSD: cfg.Ceiling(),
	}

	started := time.Now().UTC()
	orch := NewOrchestrator(
		invoker.New(client, model, s.cfg.InvokerOptions...),
		store,
		WithRecorder(s.cfg.Recorder),
		WithCallTimeout(s.cfg.CallTimeout),
		WithFinish(func(outcomes []evaluation.Outcome, result *stream.Result) {
			if s.cfg.OutputDir == "" {
				return
			}
			dir, err := report.Export(s.cfg.OutputDir, report.Run{
				ID:             plan.RunID,
				Benchmark:      plan.Benchmark,
				Model:          plan.Model,
				PrePrompt:      plan.PrePrompt,
				SampleSize:     cfg.Sample(),
				Seed:           cfg.Seed,
				CheckpointPath: store.Path(),
				StartedAt:      started,
				FinishedAt:     time.Now().UTC(),
				Result:         *result,
			}, outcomes)
			if err != nil {
				slog.Error("failed to export run report", "run_id", plan.RunID, "error", err)
				return
			}
			result.OutputDir = dir
		}),
	)

	return &prepared{plan: plan, store: store, orchestrator: orch}, nil
}

// ResetCheckpoint deletes the checkpoint of a benchmark, model and pre-prompt
// combination. It refuses while a run is active.
func (s *Service) ResetCheckpoint(benchmarkName, model, prePrompt string) (string, error) {
	if !s.running.CompareAndSwap(false, true) {
		return "", ErrRunInProgress
	}
	defer s.running.Store(false)

	path := checkpoint.PathFor(s.cfg.CheckpointDir, benchmarkName, model, prePrompt)
	if err := checkpoint.Remove(path); err != nil {
		return "", err
	}
	slog.Info("checkpoint removed", "path", path)
	return path, nil
}
