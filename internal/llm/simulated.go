package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
)

var optionLine = regexp.MustCompile(`(?m)^([A-J])\. `)

// SimulatedClient answers without calling any API. Answers are derived from
// a hash of the prompt so repeated runs are reproducible, and token counts are
// estimated from the prompt length. It backs dry runs.
type SimulatedClient struct {
	// OutputTokens is the reported completion size; 200 when zero.
	OutputTokens int
}

// ChatCompletion returns a deterministic pseudo-answer for the request.
func (s *SimulatedClient) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	letters := optionLine.FindAllStringSubmatch(req.UserMessage, -1)
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.SystemMessage + req.UserMessage))

	content := "I cannot determine the answer."
	if len(letters) > 0 {
		pick := letters[int(h.Sum32()%uint32(len(letters)))][1]
		content = fmt.Sprintf("Considering each option in turn, the answer is (%s).", pick)
	}

	out := s.OutputTokens
	if out == 0 {
		out = 200
	}
	return &ChatResponse{
		Content:      content,
		Model:        req.Model,
		InputTokens:  EstimateTokens(req.SystemMessage) + EstimateTokens(req.UserMessage),
		OutputTokens: out,
	}, nil
}

// EstimateTokens approximates the token count of text at four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
