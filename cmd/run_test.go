package cmd

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/scaffold-bench/internal/stream"
)

func eventSource(events ...stream.Event) func() (stream.Event, error) {
	return func() (stream.Event, error) {
		if len(events) == 0 {
			return stream.Event{}, io.EOF
		}
		ev := events[0]
		events = events[1:]
		return ev, nil
	}
}

func TestConsumeRendersProgress(t *testing.T) {
	var out, status bytes.Buffer
	result, err := consume(eventSource(
		stream.ProgressEvent(1, 2, "Question 1/1 (q1) baseline: correct (A), $0.0010"),
		stream.ProgressEvent(2, 2, "Question 1/1 (q1) scaffolded: correct (A), $0.0020"),
		stream.ResultEvent(stream.Result{Status: stream.StatusComplete, QuestionsTested: 1}),
	), &out, &status, false)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, stream.StatusComplete, result.Status)
	assert.Empty(t, out.String())
	assert.Contains(t, status.String(), "[ 50%] 1/2 Question 1/1 (q1) baseline")
	assert.Contains(t, status.String(), "[100%] 2/2")
}

func TestConsumeNDJSONCopiesEvents(t *testing.T) {
	var out, status bytes.Buffer
	_, err := consume(eventSource(
		stream.ProgressEvent(1, 1, "done"),
		stream.ResultEvent(stream.Result{Status: stream.StatusComplete}),
	), &out, &status, true)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"type":"progress","completed":1,"total":1,"message":"done"}`, lines[0])
	assert.Contains(t, lines[1], `"type":"result"`)
	assert.Empty(t, status.String())
}

func TestConsumeErrors(t *testing.T) {
	_, err := consume(eventSource(stream.ErrorEvent("invalid run configuration: model is required")), io.Discard, io.Discard, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is required")

	_, err = consume(eventSource(stream.ProgressEvent(1, 2, "x")), io.Discard, io.Discard, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a result")
}
