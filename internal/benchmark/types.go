package benchmark

import (
	"fmt"
	"strings"
)

// Letters are the answer labels in option order. Benchmarks have at most ten options.
const Letters = "ABCDEFGHIJ"

// Benchmark is a loaded question bank with its configuration.
type Benchmark struct {
	Name          string     `yaml:"name"`
	Description   string     `yaml:"description"`
	Version       string     `yaml:"version"`
	QuestionsFile string     `yaml:"questions_file"`
	Questions     []Question `yaml:"-"` // loaded separately from the questions file
}

// Question is a single multiple-choice question. It is read-only once loaded.
type Question struct {
	ID           string
	Subject      string
	Text         string
	Options      []string
	CorrectIndex int
}

// CorrectLetter returns the letter of the correct option.
func (q Question) CorrectLetter() string {
	return string(Letters[q.CorrectIndex])
}

// OptionLetters returns the valid answer letters for the question.
func (q Question) OptionLetters() string {
	return Letters[:len(q.Options)]
}

// FormatOptions renders the options as lettered lines ("A. ...").
func (q Question) FormatOptions() string {
	lines := make([]string, len(q.Options))
	for i, opt := range q.Options {
		lines[i] = fmt.Sprintf("%c. %s", Letters[i], opt)
	}
	return strings.Join(lines, "\n")
}

func (q Question) validate() error {
	switch {
	case q.ID == "":
		return fmt.Errorf("missing question id")
	case strings.TrimSpace(q.Text) == "":
		return fmt.Errorf("question %s has no text", q.ID)
	case len(q.Options) < 2:
		return fmt.Errorf("question %s has %d options, need at least 2", q.ID, len(q.Options))
	case len(q.Options) > len(Letters):
		return fmt.Errorf("question %s has %d options, at most %d are supported", q.ID, len(q.Options), len(Letters))
	case q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options):
		return fmt.Errorf("question %s has correct index %d outside its %d options", q.ID, q.CorrectIndex, len(q.Options))
	}
	return nil
}
