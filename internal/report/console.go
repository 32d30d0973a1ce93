package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/giantswarm/scaffold-bench/internal/metrics"
	"github.com/giantswarm/scaffold-bench/internal/stream"
)

// PrintSummary renders a result for a terminal.
func PrintSummary(w io.Writer, r stream.Result) error {
	var view stream.View
	if err := view.Apply(stream.ResultEvent(r)); err != nil {
		return err
	}

	var b strings.Builder
	rule := strings.Repeat("=", 48)
	fmt.Fprintf(&b, "%s\n%s on %s\n%s\n\n", rule, r.ModelUsed, r.Benchmark, rule)
	fmt.Fprintf(&b, "Status: %s (spent $%.4f of $%.2f)\n\n", r.Status, r.SpentUSD, r.CeilingUSD)

	for _, cs := range []metrics.ConditionSummary{r.Baseline, r.Scaffolded} {
		if cs.TotalQuestions == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", titleCase(string(cs.Condition)))
		fmt.Fprintf(&b, "  Accuracy: %.1f%% (%d/%d correct)\n", cs.AccuracyPct, cs.Correct, cs.TotalQuestions)
		fmt.Fprintf(&b, "  Total Cost: $%.4f\n", cs.TotalCostUSD)
		if cs.CostPerCorrectUSD != nil {
			fmt.Fprintf(&b, "  Cost per Correct Answer: $%.4f\n", *cs.CostPerCorrectUSD)
		} else {
			b.WriteString("  Cost per Correct Answer: N/A (no correct answers)\n")
		}
		if cs.Errors > 0 || cs.Unanswered > 0 {
			fmt.Fprintf(&b, "  Errors: %d, Unanswered: %d\n", cs.Errors, cs.Unanswered)
		}
		b.WriteString("\n")
	}

	if r.Baseline.TotalQuestions > 0 && r.Scaffolded.TotalQuestions > 0 {
		b.WriteString("Delta (Scaffolded vs Baseline):\n")
		fmt.Fprintf(&b, "  Accuracy: %s\n", view.AccuracyDeltaLabel())
		fmt.Fprintf(&b, "  Total Cost: %+.4f USD\n", r.Deltas.TotalCostUSD)
		fmt.Fprintf(&b, "  Cost Efficiency: %s\n", view.CostDeltaLabel())
	}
	if r.OutputDir != "" {
		fmt.Fprintf(&b, "\nResults written to %s\n", r.OutputDir)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
