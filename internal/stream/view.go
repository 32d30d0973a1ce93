package stream

import (
	"errors"
	"fmt"
	"math"

	"github.com/giantswarm/scaffold-bench/internal/metrics"
)

// ErrStreamFinished is returned when an event arrives after the terminal one.
var ErrStreamFinished = errors.New("event received after terminal event")

// View is the render state of one observed run. It is updated only through
// Apply with decoded records; nothing else writes to it.
type View struct {
	completed int
	total     int
	message   string
	result    *Result
	err       string
	done      bool
}

// Apply folds one event into the view.
func (v *View) Apply(ev Event) error {
	if v.done {
		return ErrStreamFinished
	}
	switch ev.Type {
	case TypeProgress:
		if ev.Progress == nil {
			return fmt.Errorf("progress event without payload")
		}
		if ev.Progress.Completed < v.completed {
			return fmt.Errorf("progress went backwards: %d after %d", ev.Progress.Completed, v.completed)
		}
		v.completed = ev.Progress.Completed
		v.total = ev.Progress.Total
		v.message = ev.Progress.Message
	case TypeResult:
		if ev.Result == nil {
			return fmt.Errorf("result event without payload")
		}
		r := *ev.Result
		v.result = &r
		v.done = true
	case TypeError:
		v.err = ev.Error
		v.done = true
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

func (v *View) Completed() int  { return v.completed }
func (v *View) Total() int      { return v.total }
func (v *View) Message() string { return v.message }
func (v *View) Done() bool      { return v.done }

// Result returns the final summary, or nil if the run has not produced one.
func (v *View) Result() *Result { return v.result }

// Err returns the terminal error message, if the run failed.
func (v *View) Err() string { return v.err }

// Percent returns completion as a whole percentage in [0, 100].
func (v *View) Percent() int {
	if v.total <= 0 {
		if v.done && v.err == "" {
			return 100
		}
		return 0
	}
	p := int(math.Floor(100 * float64(v.completed) / float64(v.total)))
	return min(max(p, 0), 100)
}

// CostDeltaLabel describes the cost-per-correct delta of the result.
// Cheaper scaffolding is the desirable direction.
func (v *View) CostDeltaLabel() string {
	if v.result == nil || v.result.Deltas.CostPerCorrectUSD == nil {
		return "n/a"
	}
	d := metrics.Round(*v.result.Deltas.CostPerCorrectUSD, 4)
	switch {
	case d < 0:
		return fmt.Sprintf("$%.4f cheaper per correct answer (better)", -d)
	case d > 0:
		return fmt.Sprintf("$%.4f more per correct answer (worse)", d)
	default:
		return "no change"
	}
}

// AccuracyDeltaLabel describes the accuracy delta of the result.
func (v *View) AccuracyDeltaLabel() string {
	if v.result == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.1f%%", v.result.Deltas.AccuracyPct)
}
