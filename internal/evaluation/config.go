package evaluation

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	// DefaultSampleSize is the number of questions sampled when none is given.
	DefaultSampleSize = 14
	// DefaultBudgetUSD is the spending ceiling applied when none is given.
	DefaultBudgetUSD = 5.0
	// DefaultSeed makes sampling reproducible across resumed runs.
	DefaultSeed int64 = 42
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid run configuration")

// UnknownSelectorError is returned when a selector names something that does not exist.
type UnknownSelectorError struct {
	Kind  string
	Value string
	Known []string
}

func (e *UnknownSelectorError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown %s %q", e.Kind, e.Value)
	}
	return fmt.Sprintf("unknown %s %q (available: %s)", e.Kind, e.Value, strings.Join(e.Known, ", "))
}

// RunConfig is the operator-supplied configuration of a single run.
// It is immutable for the duration of the run.
type RunConfig struct {
	Benchmark  string      `json:"benchmark"`
	Model      string      `json:"model"`
	PrePrompt  string      `json:"pre_prompt"`
	Seed       int64       `json:"seed"`
	Conditions []Condition `json:"conditions,omitempty"`

	// SampleSize and BudgetUSD are nil when not supplied. An explicit zero
	// is kept and rejected by Validate.
	SampleSize *int     `json:"sample_size,omitempty"`
	BudgetUSD  *float64 `json:"budget_usd,omitempty"`

	// ResetCheckpoint clears previously checkpointed outcomes before the run.
	ResetCheckpoint bool `json:"reset_checkpoint,omitempty"`
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int {
	return &v
}

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 {
	return &v
}

// WithDefaults returns a copy of the config with unset values replaced by defaults.
func (c RunConfig) WithDefaults() RunConfig {
	if c.SampleSize == nil {
		c.SampleSize = IntPtr(DefaultSampleSize)
	}
	if c.BudgetUSD == nil {
		c.BudgetUSD = Float64Ptr(DefaultBudgetUSD)
	}
	if c.Seed == 0 {
		c.Seed = DefaultSeed
	}
	if len(c.Conditions) == 0 {
		c.Conditions = Conditions()
	} else {
		c.Conditions = Ordered(c.Conditions)
	}
	return c
}

// Sample returns the sample size, or zero when unset.
func (c RunConfig) Sample() int {
	if c.SampleSize == nil {
		return 0
	}
	return *c.SampleSize
}

// Ceiling returns the budget ceiling in USD, or zero when unset.
func (c RunConfig) Ceiling() float64 {
	if c.BudgetUSD == nil {
		return 0
	}
	return *c.BudgetUSD
}

// Validate checks the config against the known benchmark and model selectors.
func (c RunConfig) Validate(benchmarks, models []string) error {
	if strings.TrimSpace(c.Benchmark) == "" {
		return fmt.Errorf("%w: benchmark is required", ErrInvalidConfig)
	}
	if !slices.Contains(benchmarks, c.Benchmark) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, &UnknownSelectorError{Kind: "benchmark", Value: c.Benchmark, Known: benchmarks})
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	if !slices.Contains(models, c.Model) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, &UnknownSelectorError{Kind: "model", Value: c.Model, Known: models})
	}
	if c.SampleSize == nil {
		return fmt.Errorf("%w: sample size is required", ErrInvalidConfig)
	}
	if *c.SampleSize <= 0 {
		return fmt.Errorf("%w: sample size must be positive, got %d", ErrInvalidConfig, *c.SampleSize)
	}
	if c.BudgetUSD == nil {
		return fmt.Errorf("%w: budget ceiling is required", ErrInvalidConfig)
	}
	if *c.BudgetUSD <= 0 {
		return fmt.Errorf("%w: budget ceiling must be positive, got %.4f", ErrInvalidConfig, *c.BudgetUSD)
	}
	if len(c.Conditions) == 0 {
		return fmt.Errorf("%w: at least one condition is required", ErrInvalidConfig)
	}
	for _, cond := range c.Conditions {
		if _, err := ParseCondition(string(cond)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if cond == Scaffolded && strings.TrimSpace(c.PrePrompt) == "" {
			return fmt.Errorf("%w: pre-prompt is required for the scaffolded condition", ErrInvalidConfig)
		}
	}
	return nil
}
