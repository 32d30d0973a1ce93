package invoker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractAnswer(t *testing.T) {
	const valid = "ABCDEFGHIJ"

	tests := []struct {
		name     string
		response string
		want     string
	}{
		{name: "bare letter", response: "B", want: "B"},
		{name: "letter with period", response: "d.", want: "D"},
		{name: "letter A with period", response: "A. 1.5 N", want: "A"},
		{name: "letter then space", response: "C because force is mass times acceleration", want: "C"},
		{name: "article A is not an answer", response: "A good question. The answer is E", want: "E"},
		{name: "answer is", response: "After working through it, the answer is F.", want: "F"},
		{name: "answer colon", response: "Answer: G", want: "G"},
		{name: "answer in parentheses", response: "Step 1... Step 2... The answer is (H).", want: "H"},
		{name: "last conclusion wins", response: "The answer is B? No, wait. Rechecking, the answer is C.", want: "C"},
		{name: "x is correct", response: "Option J is the correct one.", want: "J"},
		{name: "correct answer is", response: "So the correct answer is D", want: "D"},
		{name: "parenthesised at start", response: "(A) because of symmetry", want: "A"},
		{name: "letter with paren later", response: "I think it's C) the third one", want: "C"},
		{name: "standalone letter", response: "probably E overall", want: "E"},
		{name: "nothing", response: "I do not know", want: ""},
		{name: "empty", response: "   ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAnswer(tt.response, valid))
		})
	}
}

func TestExtractAnswerRespectsValidLetters(t *testing.T) {
	assert.Equal(t, "", ExtractAnswer("F", "ABCD"))
	assert.Equal(t, "B", ExtractAnswer("The answer is B, not F.", "ABCD"))
	assert.Equal(t, "C", ExtractAnswer("The answer is C. Answer: G", "ABCD"))
}
