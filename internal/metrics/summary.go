// Package metrics computes run summaries from evaluation outcomes.
//
// Summaries are pure functions of the outcome set; nothing here is persisted.
package metrics

import (
	"math"

	"github.com/giantswarm/scaffold-bench/internal/evaluation"
)

// MoneyPlaces is the precision of every USD amount in a summary.
const MoneyPlaces = 6

// ConditionSummary aggregates the outcomes of one condition.
type ConditionSummary struct {
	Condition      evaluation.Condition `json:"condition"`
	TotalQuestions int                  `json:"total_questions"`
	Correct        int                  `json:"correct"`
	AccuracyPct    float64              `json:"accuracy_pct"`
	TotalCostUSD   float64              `json:"total_cost_usd"`
	// CostPerCorrectUSD is nil when no answer was correct.
	CostPerCorrectUSD *float64 `json:"cost_per_correct_usd"`
	Errors            int      `json:"errors"`
	Unanswered        int      `json:"unanswered"`
}

// Deltas are signed scaffolded minus baseline differences.
// A negative cost delta means scaffolding is cheaper per correct answer.
type Deltas struct {
	AccuracyPct       float64  `json:"accuracy_pct"`
	CostPerCorrectUSD *float64 `json:"cost_per_correct_usd"`
	TotalCostUSD      float64  `json:"total_cost_usd"`
}

// Summary is the run summary for both conditions.
type Summary struct {
	Baseline   ConditionSummary `json:"baseline"`
	Scaffolded ConditionSummary `json:"scaffolded"`
	Deltas     Deltas           `json:"deltas"`
}

// ForCondition returns the summary of the given condition.
func (s Summary) ForCondition(c evaluation.Condition) ConditionSummary {
	if c == evaluation.Scaffolded {
		return s.Scaffolded
	}
	return s.Baseline
}

// Summarize aggregates outcomes for both conditions. Outcomes of conditions
// not listed in conds are ignored, leaving that condition's summary empty.
// When several outcomes share a key the last one wins.
func Summarize(outcomes []evaluation.Outcome, conds []evaluation.Condition) Summary {
	include := make(map[evaluation.Condition]bool, len(conds))
	for _, c := range conds {
		include[c] = true
	}

	latest := make(map[evaluation.Key]evaluation.Outcome, len(outcomes))
	var order []evaluation.Key
	for _, o := range outcomes {
		if !include[o.Condition] {
			continue
		}
		if _, ok := latest[o.Key()]; !ok {
			order = append(order, o.Key())
		}
		latest[o.Key()] = o
	}

	byCond := map[evaluation.Condition][]evaluation.Outcome{}
	for _, k := range order {
		byCond[k.Condition] = append(byCond[k.Condition], latest[k])
	}

	s := Summary{
		Baseline:   SummarizeCondition(evaluation.Baseline, byCond[evaluation.Baseline]),
		Scaffolded: SummarizeCondition(evaluation.Scaffolded, byCond[evaluation.Scaffolded]),
	}
	s.Deltas = Compare(s.Baseline, s.Scaffolded)
	return s
}

// SummarizeCondition aggregates outcomes that all belong to one condition.
func SummarizeCondition(cond evaluation.Condition, outcomes []evaluation.Outcome) ConditionSummary {
	cs := ConditionSummary{Condition: cond, TotalQuestions: len(outcomes)}
	for _, o := range outcomes {
		cs.TotalCostUSD += o.CostUSD
		switch {
		case o.IsError():
			cs.Errors++
		case o.Status == evaluation.StatusNoAnswer:
			cs.Unanswered++
		}
		if o.Correct {
			cs.Correct++
		}
	}
	cs.AccuracyPct = Accuracy(cs.Correct, cs.TotalQuestions)
	cs.CostPerCorrectUSD = CostPerCorrect(cs.TotalCostUSD, cs.Correct)
	cs.TotalCostUSD = Round(cs.TotalCostUSD, MoneyPlaces)
	return cs
}

// Compare computes scaffolded minus baseline deltas.
func Compare(baseline, scaffolded ConditionSummary) Deltas {
	d := Deltas{
		AccuracyPct:  Round(scaffolded.AccuracyPct-baseline.AccuracyPct, 1),
		TotalCostUSD: Round(scaffolded.TotalCostUSD-baseline.TotalCostUSD, MoneyPlaces),
	}
	if baseline.CostPerCorrectUSD != nil && scaffolded.CostPerCorrectUSD != nil {
		v := Round(*scaffolded.CostPerCorrectUSD-*baseline.CostPerCorrectUSD, MoneyPlaces)
		d.CostPerCorrectUSD = &v
	}
	return d
}

// Accuracy returns round(100*correct/attempted, 1), or 0 when nothing was attempted.
func Accuracy(correct, attempted int) float64 {
	if attempted <= 0 {
		return 0
	}
	return Round(100*float64(correct)/float64(attempted), 1)
}

// CostPerCorrect returns total/correct rounded to MoneyPlaces, or nil when
// correct is zero.
func CostPerCorrect(total float64, correct int) *float64 {
	if correct <= 0 {
		return nil
	}
	v := Round(total/float64(correct), MoneyPlaces)
	return &v
}

// Round rounds half away from zero to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
