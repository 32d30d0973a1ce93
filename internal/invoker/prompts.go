package invoker

import (
	"fmt"
	"strings"

	"github.com/giantswarm/scaffold-bench/internal/benchmark"
	"github.com/giantswarm/scaffold-bench/internal/evaluation"
)

// SystemPrompt instructs the model to answer with a single option letter.
func SystemPrompt(letters string) string {
	return fmt.Sprintf("You are taking a multiple choice exam. Read the question carefully and "+
		"respond with ONLY the letter of the correct answer (%s). Do not include any explanation.",
		joinLetters(letters))
}

// UserMessage renders a question for the given condition. Under the
// scaffolded condition the pre-prompt comes first, separated by a blank line.
func UserMessage(q benchmark.Question, cond evaluation.Condition, prePrompt string) string {
	var b strings.Builder
	if cond == evaluation.Scaffolded && strings.TrimSpace(prePrompt) != "" {
		b.WriteString(prePrompt)
		b.WriteString("\n\n")
	}
	b.WriteString(q.Text)
	b.WriteString("\n\n")
	b.WriteString(q.FormatOptions())
	return b.String()
}

const fallbackSystemPrompt = "You are an answer extraction assistant. Your ONLY job is to output " +
	"a single letter representing the answer choice. Output ONLY the letter, nothing else."

func fallbackUserMessage(q benchmark.Question, response string) string {
	return fmt.Sprintf(`The following is a response to a multiple choice question.
Extract which answer (%s) was chosen or intended.

Question: %s

Options:
%s

Response to extract from: %q

Output ONLY the single letter that best represents the answer.`,
		joinLetters(q.OptionLetters()), truncate(q.Text, 300), truncate(q.FormatOptions(), 500), response)
}

// joinLetters renders "ABCD" as "A, B, C, or D".
func joinLetters(letters string) string {
	parts := strings.Split(letters, "")
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " or " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + ", or " + parts[len(parts)-1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
