// Package stream implements the progress stream protocol: newline-delimited
// JSON records, each self-describing through its "type" field.
//
//	{"type":"progress","completed":3,"total":28,"message":"..."}
//	{"type":"result","data":{...}}
//	{"type":"error","message":"..."}
//
// Every run emits zero or more progress records followed by exactly one
// result or error record.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/giantswarm/scaffold-bench/internal/metrics"
)

// EventType discriminates the three record shapes.
type EventType string

const (
	TypeProgress EventType = "progress"
	TypeResult   EventType = "result"
	TypeError    EventType = "error"
)

// RunStatus describes how a run that produced a result ended.
type RunStatus string

const (
	// StatusComplete means every pair was evaluated or reused.
	StatusComplete RunStatus = "complete"
	// StatusBudgetExhausted means the run halted because the ceiling was reached.
	StatusBudgetExhausted RunStatus = "budget_exhausted"
	// StatusCancelled means the run stopped early because its context ended.
	StatusCancelled RunStatus = "cancelled"
)

// Progress is the payload of a progress record.
type Progress struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

// Result is the payload of a result record.
type Result struct {
	Status RunStatus `json:"status"`
	metrics.Summary
	ModelUsed       string  `json:"model_used"`
	Benchmark       string  `json:"benchmark,omitempty"`
	QuestionsTested int     `json:"questions_tested"`
	RunID           string  `json:"run_id,omitempty"`
	SpentUSD        float64 `json:"spent_usd"`
	CeilingUSD      float64 `json:"ceiling_usd"`
	OutputDir       string  `json:"output_dir,omitempty"`
}

// Event is one immutable record of the stream. Exactly one of the payload
// fields is set, matching Type.
type Event struct {
	Type     EventType
	Progress *Progress
	Result   *Result
	Error    string
}

// ProgressEvent builds a progress record.
func ProgressEvent(completed, total int, message string) Event {
	return Event{Type: TypeProgress, Progress: &Progress{Completed: completed, Total: total, Message: message}}
}

// ResultEvent builds a result record.
func ResultEvent(r Result) Event {
	return Event{Type: TypeResult, Result: &r}
}

// ErrorEvent builds an error record.
func ErrorEvent(message string) Event {
	return Event{Type: TypeError, Error: message}
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	return e.Type == TypeResult || e.Type == TypeError
}

type progressWire struct {
	Type EventType `json:"type"`
	Progress
}

type resultWire struct {
	Type EventType `json:"type"`
	Data *Result   `json:"data"`
}

type errorWire struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

// MarshalJSON encodes the event in its wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeProgress:
		if e.Progress == nil {
			return nil, fmt.Errorf("progress event without payload")
		}
		return json.Marshal(progressWire{Type: e.Type, Progress: *e.Progress})
	case TypeResult:
		if e.Result == nil {
			return nil, fmt.Errorf("result event without payload")
		}
		return json.Marshal(resultWire{Type: e.Type, Data: e.Result})
	case TypeError:
		return json.Marshal(errorWire{Type: e.Type, Message: e.Error})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// UnmarshalJSON decodes a wire record, rejecting unknown types.
func (e *Event) UnmarshalJSON(data []byte) error {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	switch head.Type {
	case TypeProgress:
		var w progressWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{Type: TypeProgress, Progress: &w.Progress}
	case TypeResult:
		var w resultWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		if w.Data == nil {
			return fmt.Errorf("result record without data")
		}
		*e = Event{Type: TypeResult, Result: w.Data}
	case TypeError:
		var w errorWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{Type: TypeError, Error: w.Message}
	default:
		return fmt.Errorf("unknown event type %q", head.Type)
	}
	return nil
}
