// Package benchmark loads multiple-choice question banks and draws the
// deterministic samples that runs evaluate.
package benchmark

import (
	"bufio"
	"bytes"
	"embed"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed all:testdata
var embeddedBenchmarks embed.FS

// Load loads a benchmark by name, searching first in the external directory
// (if provided), then in the embedded benchmarks.
func Load(name string, externalDir string) (*Benchmark, error) {
	if externalDir != "" {
		dir := filepath.Join(externalDir, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return loadFromFS(os.DirFS(dir), name)
		}
	}

	// embed.FS always uses forward slashes.
	subFS, err := fs.Sub(embeddedBenchmarks, path.Join("testdata", name))
	if err != nil {
		return nil, fmt.Errorf("benchmark %q not found: %w", name, err)
	}
	if _, err := fs.Stat(subFS, "config.yaml"); err != nil {
		return nil, fmt.Errorf("benchmark %q not found: %w", name, err)
	}
	return loadFromFS(subFS, name)
}

// List returns the sorted names of all available benchmarks.
func List(externalDir string) ([]string, error) {
	seen := make(map[string]bool)
	var names []string

	entries, err := fs.ReadDir(embeddedBenchmarks, "testdata")
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				seen[e.Name()] = true
				names = append(names, e.Name())
			}
		}
	}

	if externalDir != "" {
		entries, err := os.ReadDir(externalDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to list benchmarks in %s: %w", externalDir, err)
		}
		for _, e := range entries {
			if e.IsDir() && !seen[e.Name()] {
				names = append(names, e.Name())
			}
		}
	}

	sort.Strings(names)
	return names, nil
}

func loadFromFS(fsys fs.FS, name string) (*Benchmark, error) {
	configData, err := fs.ReadFile(fsys, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read config.yaml for benchmark %q: %w", name, err)
	}

	var b Benchmark
	if err := yaml.Unmarshal(configData, &b); err != nil {
		return nil, fmt.Errorf("failed to parse config.yaml for benchmark %q: %w", name, err)
	}
	if b.Name == "" {
		b.Name = name
	}
	if b.QuestionsFile == "" {
		b.QuestionsFile = "questions.jsonl"
	}

	questions, err := loadQuestionsFromFS(fsys, b.QuestionsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions for benchmark %q: %w", name, err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("benchmark %q has no valid questions", name)
	}
	b.Questions = questions

	slog.Debug("benchmark loaded", "benchmark", name, "questions", len(questions))
	return &b, nil
}

func loadQuestionsFromFS(fsys fs.FS, filename string) ([]Question, error) {
	data, err := fs.ReadFile(fsys, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}

	var raws []rawQuestion
	switch strings.ToLower(path.Ext(filename)) {
	case ".jsonl":
		raws, err = parseJSONL(data)
	case ".json":
		raws, err = parseJSON(data)
	case ".csv":
		raws, err = parseCSV(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported questions file %s", filename)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(raws))
	questions := make([]Question, 0, len(raws))
	for i, raw := range raws {
		q, err := raw.question(i)
		if err != nil {
			slog.Warn("skipping invalid question", "file", filename, "index", i, "error", err)
			continue
		}
		if seen[q.ID] {
			return nil, fmt.Errorf("duplicate question id %q in %s", q.ID, filename)
		}
		seen[q.ID] = true
		questions = append(questions, q)
	}
	return questions, nil
}

// rawQuestion accepts the field name variants found in MMLU-Pro exports.
type rawQuestion struct {
	QuestionID   any      `json:"question_id"`
	ID           any      `json:"id"`
	Category     string   `json:"category"`
	Subject      string   `json:"subject"`
	Question     string   `json:"question"`
	QuestionText string   `json:"question_text"`
	Options      []string `json:"options"`
	Answer       any      `json:"answer"`
	AnswerIndex  *int     `json:"answer_index"`
}

func (r rawQuestion) question(index int) (Question, error) {
	q := Question{
		ID:      firstNonEmpty(idString(r.QuestionID), idString(r.ID), strconv.Itoa(index)),
		Subject: firstNonEmpty(r.Category, r.Subject, "unknown"),
		Text:    firstNonEmpty(r.Question, r.QuestionText),
		Options: r.Options,
	}

	idx, err := r.correctIndex()
	if err != nil {
		return Question{}, fmt.Errorf("question %s: %w", q.ID, err)
	}
	q.CorrectIndex = idx
	return q, q.validate()
}

// correctIndex prefers a letter answer, then answer_index, then a numeric answer.
func (r rawQuestion) correctIndex() (int, error) {
	if s, ok := r.Answer.(string); ok {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" && strings.IndexByte(Letters, s[0]) >= 0 {
			return strings.IndexByte(Letters, s[0]), nil
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n, nil
		}
	}
	if r.AnswerIndex != nil {
		return *r.AnswerIndex, nil
	}
	if f, ok := r.Answer.(float64); ok {
		return int(f), nil
	}
	return 0, fmt.Errorf("no usable answer")
}

func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseJSONL(data []byte) ([]rawQuestion, error) {
	var raws []rawQuestion
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var r rawQuestion
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("failed to parse line %d: %w", lineNum, err)
		}
		raws = append(raws, r)
	}
	return raws, scanner.Err()
}

// parseJSON accepts a top-level list or an object with a "data" or "questions" list.
func parseJSON(data []byte) ([]rawQuestion, error) {
	var list []rawQuestion
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Data      []rawQuestion `json:"data"`
		Questions []rawQuestion `json:"questions"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse questions JSON: %w", err)
	}
	if len(wrapped.Data) > 0 {
		return wrapped.Data, nil
	}
	return wrapped.Questions, nil
}

// parseCSV reads columns question_id, category, question, options and answer.
// Options are separated by "|".
func parseCSV(r io.Reader) ([]rawQuestion, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // Allow variable field counts.

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.TrimSpace(col)] = i
	}
	for _, required := range []string{"question_id", "category", "question", "options", "answer"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required CSV column: %s", required)
		}
	}

	var raws []rawQuestion
	for lineNum := 2; ; lineNum++ { // 1-indexed, after header.
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", lineNum, err)
		}
		if len(record) < len(header) {
			return nil, fmt.Errorf("CSV row %d has %d columns, expected %d", lineNum, len(record), len(header))
		}

		var options []string
		for _, opt := range strings.Split(record[colIndex["options"]], "|") {
			options = append(options, strings.TrimSpace(opt))
		}
		raws = append(raws, rawQuestion{
			QuestionID: record[colIndex["question_id"]],
			Category:   record[colIndex["category"]],
			Question:   record[colIndex["question"]],
			Options:    options,
			Answer:     record[colIndex["answer"]],
		})
	}
	return raws, nil
}
