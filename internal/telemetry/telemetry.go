// Package telemetry exposes run and invocation metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/giantswarm/scaffold-bench/internal/evaluation"
)

const namespace = "scaffold_bench"

// Recorder receives evaluation events worth counting.
type Recorder interface {
	RunStarted(benchmark, model string)
	RunFinished(benchmark, model, status string)
	Invocation(model string, cond evaluation.Condition, status evaluation.Status, costUSD float64, latency time.Duration)
	OutcomeReused(model string, cond evaluation.Condition)
	BudgetSpent(spentUSD, ceilingUSD float64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RunStarted(string, string)                                                         {}
func (Nop) RunFinished(string, string, string)                                               {}
func (Nop) Invocation(string, evaluation.Condition, evaluation.Status, float64, time.Duration) {}
func (Nop) OutcomeReused(string, evaluation.Condition)                                       {}
func (Nop) BudgetSpent(float64, float64)                                                     {}

// Prometheus records into Prometheus collectors.
type Prometheus struct {
	gatherer prometheus.Gatherer

	activeRuns  prometheus.Gauge
	runs        *prometheus.CounterVec
	invocations *prometheus.CounterVec
	reused      *prometheus.CounterVec
	costUSD     *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	spentUSD    prometheus.Gauge
	ceilingUSD  prometheus.Gauge
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus registers the collectors with a fresh registry.
func NewPrometheus() (*Prometheus, error) {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		gatherer: reg,
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of evaluation runs in progress.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished evaluation runs by terminal status.",
		}, []string{"benchmark", "model", "status"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Model invocations by condition and outcome status.",
		}, []string{"model", "condition", "status"}),
		reused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_reused_total",
			Help:      "Outcomes reused from the checkpoint instead of invoking the model.",
		}, []string{"model", "condition"}),
		costUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Spend on model invocations in USD.",
		}, []string{"model", "condition"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock duration of model invocations.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"model", "condition"}),
		spentUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_spent_usd",
			Help:      "Cumulative spend of the current or last run.",
		}),
		ceilingUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_ceiling_usd",
			Help:      "Budget ceiling of the current or last run.",
		}),
	}

	for _, c := range []prometheus.Collector{
		p.activeRuns, p.runs, p.invocations, p.reused, p.costUSD, p.latency, p.spentUSD, p.ceilingUSD,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

func (p *Prometheus) RunStarted(_, _ string) {
	p.activeRuns.Inc()
}

func (p *Prometheus) RunFinished(benchmark, model, status string) {
	p.activeRuns.Dec()
	p.runs.WithLabelValues(benchmark, model, status).Inc()
}

func (p *Prometheus) Invocation(model string, cond evaluation.Condition, status evaluation.Status, costUSD float64, latency time.Duration) {
	p.invocations.WithLabelValues(model, string(cond), string(status)).Inc()
	p.costUSD.WithLabelValues(model, string(cond)).Add(costUSD)
	p.latency.WithLabelValues(model, string(cond)).Observe(latency.Seconds())
}

func (p *Prometheus) OutcomeReused(model string, cond evaluation.Condition) {
	p.reused.WithLabelValues(model, string(cond)).Inc()
}

func (p *Prometheus) BudgetSpent(spentUSD, ceilingUSD float64) {
	p.spentUSD.Set(spentUSD)
	p.ceilingUSD.Set(ceilingUSD)
}
