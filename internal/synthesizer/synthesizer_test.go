package synthesizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-ai/castellan"
)

type mockClient struct {
	reply string
	err   error

	gotUser        string
	gotTemperature float64
	gotMaxTokens   int
}

func (m *mockClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxOutputTokens int) (string, error) {
	m.gotUser = userPrompt
	m.gotTemperature = temperature
	m.gotMaxTokens = maxOutputTokens
	return m.reply, m.err
}

func sampleTrace() ([]castellan.PlanStep, []castellan.TraceEntry) {
	plan := []castellan.PlanStep{{
		StepID:    1,
		Provider:  "SourceControl",
		Operation: "ListCommits",
		Args:      map[string]any{"repo": "acme/api", "branch": "main"},
	}}
	trace := []castellan.TraceEntry{{
		StepID:          1,
		Provider:        "SourceControl",
		Operation:       "ListCommits",
		RequestArgs:     plan[0].Args,
		ResponseSummary: `{"commits":["abc123"]}`,
		DurationMS:      42,
	}}
	return plan, trace
}

func TestSynthesizeTextResult(t *testing.T) {
	client := &mockClient{reply: `{"final_result": {"kind": "text", "content": {"text": "One commit: abc123."}}, "warnings": ["single data point"]}`}
	s := New(client)
	plan, trace := sampleTrace()

	result, err := s.Synthesize(context.Background(), "list commits", plan, trace)
	require.NoError(t, err)
	assert.Equal(t, castellan.FinalResultText, result.FinalResult.Kind)
	assert.Equal(t, "One commit: abc123.", result.FinalResult.Content["text"])
	assert.Equal(t, []string{"single data point"}, result.Warnings)

	assert.Equal(t, 0.1, client.gotTemperature)
	assert.Equal(t, 1200, client.gotMaxTokens)
	assert.Contains(t, client.gotUser, `"task":"list commits"`)
	assert.Contains(t, client.gotUser, "abc123")
}

func TestSynthesizeStructuredResult(t *testing.T) {
	client := &mockClient{reply: "```json\n{\"final_result\": {\"kind\": \"structured\", \"content\": {\"commit_count\": 1}}}\n```"}
	s := New(client)
	plan, trace := sampleTrace()

	result, err := s.Synthesize(context.Background(), "count commits", plan, trace)
	require.NoError(t, err)
	assert.Equal(t, castellan.FinalResultStructured, result.FinalResult.Kind)
	assert.Empty(t, result.Warnings)
}

func TestSynthesizeReboundsOversizedSummaries(t *testing.T) {
	client := &mockClient{reply: `{"final_result": {"kind": "text", "content": {"text": "ok"}}}`}
	s := New(client)
	plan, trace := sampleTrace()
	trace[0].ResponseSummary = strings.Repeat("z", castellan.SummaryLimit+500)

	_, err := s.Synthesize(context.Background(), "list commits", plan, trace)
	require.NoError(t, err)
	assert.Contains(t, client.gotUser, castellan.TruncationMarker)
	assert.NotContains(t, client.gotUser, strings.Repeat("z", castellan.SummaryLimit+1))
}

func TestSynthesizeCompletionFailure(t *testing.T) {
	client := &mockClient{err: errors.New("model unavailable")}
	s := New(client)
	plan, trace := sampleTrace()

	_, err := s.Synthesize(context.Background(), "list commits", plan, trace)
	require.Error(t, err)
	assert.True(t, castellan.IsCode(err, castellan.ErrCodeSynthesis))
}

func TestSynthesizeMissingFinalResult(t *testing.T) {
	client := &mockClient{reply: `{"answer": "yes", "confidence": 0.9}`}
	s := New(client)
	plan, trace := sampleTrace()

	_, err := s.Synthesize(context.Background(), "list commits", plan, trace)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got keys: answer, confidence")
}

func TestSynthesizeRejectsUnknownKind(t *testing.T) {
	client := &mockClient{reply: `{"final_result": {"kind": "markdown", "content": {"text": "x"}}}`}
	s := New(client)
	plan, trace := sampleTrace()

	_, err := s.Synthesize(context.Background(), "list commits", plan, trace)
	require.Error(t, err)
	assert.True(t, castellan.IsCode(err, castellan.ErrCodeSynthesis))
}

func TestSynthesizeTextKindWithoutTextFieldWarns(t *testing.T) {
	client := &mockClient{reply: `{"final_result": {"kind": "text", "content": {"answer": "done"}}}`}
	s := New(client)
	plan, trace := sampleTrace()

	result, err := s.Synthesize(context.Background(), "list commits", plan, trace)
	require.NoError(t, err)
	assert.Equal(t, castellan.FinalResultText, result.FinalResult.Kind)
	assert.Equal(t, "done", result.FinalResult.Content["answer"])
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "no 'text' field")
}
