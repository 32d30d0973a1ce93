// Package evaluation holds the data model shared by the evaluation harness:
// prompting conditions, per-invocation outcomes and the run configuration.
package evaluation

import (
	"fmt"
	"strings"
	"time"
)

// Condition is one of the two prompting strategies evaluated per question.
type Condition string

const (
	// Baseline sends the question without any pre-prompt.
	Baseline Condition = "baseline"
	// Scaffolded prepends the configured pre-prompt to the question.
	Scaffolded Condition = "scaffolded"
)

// Conditions returns both conditions in canonical evaluation order.
// Baseline always runs before scaffolded so that a partially evaluated
// question has baseline data first.
func Conditions() []Condition {
	return []Condition{Baseline, Scaffolded}
}

// ParseCondition converts a string into a Condition, rejecting unknown values.
func ParseCondition(s string) (Condition, error) {
	switch Condition(strings.ToLower(strings.TrimSpace(s))) {
	case Baseline:
		return Baseline, nil
	case Scaffolded:
		return Scaffolded, nil
	default:
		return "", &UnknownSelectorError{Kind: "condition", Value: s}
	}
}

// Ordered returns the given conditions deduplicated and in canonical order.
func Ordered(conds []Condition) []Condition {
	seen := make(map[Condition]bool, len(conds))
	for _, c := range conds {
		seen[c] = true
	}
	out := make([]Condition, 0, len(seen))
	for _, c := range Conditions() {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}

// Status classifies how an invocation ended.
type Status string

const (
	// StatusAnswered means the model returned a parseable answer letter.
	StatusAnswered Status = "answered"
	// StatusNoAnswer means the call succeeded but no answer letter could be extracted.
	StatusNoAnswer Status = "no_answer"
	// StatusError means the invocation failed; the outcome carries zero cost.
	StatusError Status = "error"
)

// Key identifies a (question, condition) pair.
type Key struct {
	QuestionID string
	Condition  Condition
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.QuestionID, k.Condition)
}

// Outcome is the immutable record of one evaluated (question, condition) pair.
type Outcome struct {
	QuestionID    string    `json:"question_id"`
	Subject       string    `json:"subject"`
	Condition     Condition `json:"condition"`
	CorrectAnswer string    `json:"correct_answer"`
	ModelAnswer   string    `json:"model_answer"`
	Status        Status    `json:"status"`
	Correct       bool      `json:"is_correct"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	CostUSD       float64   `json:"cost_usd"`
	LatencySec    float64   `json:"latency_sec"`
	Timestamp     time.Time `json:"timestamp"`
	Error         string    `json:"error,omitempty"`
}

// Key returns the checkpoint key of the outcome.
func (o Outcome) Key() Key {
	return Key{QuestionID: o.QuestionID, Condition: o.Condition}
}

// IsError reports whether the invocation failed, as opposed to answering wrongly.
func (o Outcome) IsError() bool {
	return o.Status == StatusError
}

// IsCorrectAnswer compares a model answer with the expected letter,
// ignoring case and surrounding whitespace. An empty answer is never correct.
func IsCorrectAnswer(expected, actual string) bool {
	a := strings.ToUpper(strings.TrimSpace(actual))
	return a != "" && a == strings.ToUpper(strings.TrimSpace(expected))
}
