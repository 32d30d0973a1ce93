// Package report writes per-run result files for offline analysis and reads
// them back.
//
// Each run gets its own directory under the output root:
//
//	<output>/<run-id>/results_detailed.csv   one row per outcome
//	<output>/<run-id>/results_summary.csv    one row per condition
//	<output>/<run-id>/run.json               metadata and the full result
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/giantswarm/scaffold-bench/internal/evaluation"
	"github.com/giantswarm/scaffold-bench/internal/metrics"
	"github.com/giantswarm/scaffold-bench/internal/stream"
)

const (
	DetailFile   = "results_detailed.csv"
	SummaryFile  = "results_summary.csv"
	MetadataFile = "run.json"
)

// Run is the metadata stored in run.json.
type Run struct {
	ID             string        `json:"id"`
	Benchmark      string        `json:"benchmark"`
	Model          string        `json:"model"`
	PrePrompt      string        `json:"pre_prompt"`
	SampleSize     int           `json:"sample_size"`
	Seed           int64         `json:"seed"`
	CheckpointPath string        `json:"checkpoint_path,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Result         stream.Result `json:"result"`
}

// Export writes the run files and returns the run directory.
func Export(outputDir string, run Run, outcomes []evaluation.Outcome) (string, error) {
	dir, err := resolveRunPath(outputDir, run.ID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	if err := writeFile(filepath.Join(dir, DetailFile), func(w io.Writer) error {
		return WriteDetailCSV(w, outcomes)
	}); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(dir, SummaryFile), func(w io.Writer) error {
		return WriteSummaryCSV(w, run.Result.Summary)
	}); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(dir, MetadataFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}); err != nil {
		return "", err
	}

	slog.Info("run report written", "run_id", run.ID, "dir", dir, "outcomes", len(outcomes))
	return dir, nil
}

// writeFile writes through a temporary file and renames it into place, so
// readers never observe a partial file.
func writeFile(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}

var detailHeader = []string{
	"question_id", "subject", "condition", "correct_answer", "model_answer", "status",
	"is_correct", "input_tokens", "output_tokens", "latency_sec", "cost_usd", "timestamp", "error",
}

// WriteDetailCSV writes one row per outcome.
func WriteDetailCSV(w io.Writer, outcomes []evaluation.Outcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(detailHeader); err != nil {
		return err
	}
	for _, o := range outcomes {
		correct := "0"
		if o.Correct {
			correct = "1"
		}
		row := []string{
			o.QuestionID,
			o.Subject,
			string(o.Condition),
			o.CorrectAnswer,
			o.ModelAnswer,
			string(o.Status),
			correct,
			strconv.Itoa(o.InputTokens),
			strconv.Itoa(o.OutputTokens),
			strconv.FormatFloat(o.LatencySec, 'f', 3, 64),
			strconv.FormatFloat(o.CostUSD, 'f', 6, 64),
			o.Timestamp.UTC().Format(time.RFC3339),
			o.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var summaryHeader = []string{
	"condition", "total_questions", "correct_count", "accuracy_pct",
	"total_cost_usd", "cost_per_correct_usd", "errors", "unanswered",
}

// WriteSummaryCSV writes one row per condition that has outcomes.
func WriteSummaryCSV(w io.Writer, s metrics.Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return err
	}
	for _, cs := range []metrics.ConditionSummary{s.Baseline, s.Scaffolded} {
		if cs.TotalQuestions == 0 {
			continue
		}
		row := []string{
			string(cs.Condition),
			strconv.Itoa(cs.TotalQuestions),
			strconv.Itoa(cs.Correct),
			strconv.FormatFloat(cs.AccuracyPct, 'f', 1, 64),
			strconv.FormatFloat(cs.TotalCostUSD, 'f', 4, 64),
			formatMoney(cs.CostPerCorrectUSD),
			strconv.Itoa(cs.Errors),
			strconv.Itoa(cs.Unanswered),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatMoney(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
