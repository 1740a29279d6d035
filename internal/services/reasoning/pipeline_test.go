package reasoning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cf-ai-aether-go/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModel records the last call and returns a canned answer.
type fakeModel struct {
	answer   string
	err      error
	calls    int
	messages []models.ChatMessage
	params   models.SamplingParams
}

func (f *fakeModel) Complete(_ context.Context, messages []models.ChatMessage, params models.SamplingParams) (string, error) {
	f.calls++
	f.messages = messages
	f.params = params
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeModel) Model() string { return "fake-model" }

type fakeRecorder struct {
	statuses []string
}

func (r *fakeRecorder) RecordAIRequest(_, status string, _ time.Duration) {
	r.statuses = append(r.statuses, status)
}

func TestComposePrompt(t *testing.T) {
	prompt := "How do I build a web application?"
	d := ComposePrompt(prompt)

	assert.Equal(t, prompt, d.OriginalPrompt)
	for _, section := range []string{"GOALS", "CONSTRAINTS", "OUTPUT", "FORMULA", "PROCESS"} {
		assert.Contains(t, d.Decomposition, section)
	}
	assert.Contains(t, d.Decomposition, `"`+prompt+`"`)
	assert.Equal(t, d, ComposePrompt(prompt))
}

func TestComposePrompt_PercentSignsVerbatim(t *testing.T) {
	d := ComposePrompt("grow 50% in %d days")

	assert.Contains(t, d.Decomposition, `"grow 50% in %d days"`)
}

func TestPipelineRun_Success(t *testing.T) {
	logger, _ := test.NewNullLogger()
	model := &fakeModel{answer: fullResponse}
	recorder := &fakeRecorder{}
	p := NewPipeline(model, recorder, logger)

	params := models.SamplingParams{Temperature: 0.2, MaxTokens: 512}
	resp, err := p.Run(context.Background(), "What is machine learning?", params)

	require.NoError(t, err)
	assert.Len(t, resp.Goals, 3)
	assert.Equal(t, fullResponse, resp.FullText)

	assert.Equal(t, 1, model.calls)
	assert.Equal(t, params, model.params)
	require.Len(t, model.messages, 2)
	assert.Equal(t, models.RoleSystem, model.messages[0].Role)
	assert.Equal(t, SystemInstruction, model.messages[0].Content)
	assert.Equal(t, models.RoleUser, model.messages[1].Role)
	assert.Contains(t, model.messages[1].Content, `"What is machine learning?"`)
	assert.Equal(t, []string{"success"}, recorder.statuses)
}

func TestPipelineRun_FailureIsWrappedAndNotRetried(t *testing.T) {
	logger, hook := test.NewNullLogger()
	cause := errors.New("upstream 503")
	model := &fakeModel{err: cause}
	recorder := &fakeRecorder{}
	p := NewPipeline(model, recorder, logger)

	resp, err := p.Run(context.Background(), "anything", models.SamplingParams{})

	assert.Nil(t, resp)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReasoningFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, model.calls)
	assert.Equal(t, []string{"error"}, recorder.statuses)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Reasoning request failed", hook.LastEntry().Message)
}

func TestPipelineRun_NilRecorder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := NewPipeline(&fakeModel{answer: "plain text"}, nil, logger)

	resp, err := p.Run(context.Background(), "hi", models.SamplingParams{})

	require.NoError(t, err)
	assert.Equal(t, "plain text", resp.Output)
}

func TestPipelineRun_EmptyAnswerFallsBack(t *testing.T) {
	logger, _ := test.NewNullLogger()
	recorder := &fakeRecorder{}
	p := NewPipeline(&fakeModel{answer: ""}, recorder, logger)

	resp, err := p.Run(context.Background(), "hi", models.SamplingParams{})

	require.NoError(t, err)
	assert.Equal(t, []string{models.FallbackGoal}, resp.Goals)
	assert.Equal(t, models.FallbackOutput, resp.Output)
	assert.Equal(t, models.FallbackFormula, resp.Formula)
	assert.Len(t, resp.Process, 3)
	assert.Empty(t, resp.FullText)
	assert.Equal(t, []string{"success"}, recorder.statuses)
}

func TestPipelineRunWithInstructions(t *testing.T) {
	logger, _ := test.NewNullLogger()
	model := &fakeModel{answer: fullResponse}
	p := NewPipeline(model, nil, logger)

	_, err := p.RunWithInstructions(context.Background(), "hi", "  Answer in French.  ", models.SamplingParams{})

	require.NoError(t, err)
	assert.Equal(t, SystemInstruction+"\n\nAnswer in French.", model.messages[0].Content)
	assert.Equal(t, "fake-model", p.Model())
}

func TestThinkingStages(t *testing.T) {
	stages := ThinkingStages()

	require.Len(t, stages, 6)
	assert.Equal(t, ThinkingStatus{Stage: StageOrganizing, Progress: 20}, stages[0])
	assert.Equal(t, ThinkingStatus{Stage: StageReorganizing, Progress: 100}, stages[4])
	assert.Equal(t, ThinkingStatus{Stage: StageComplete, Progress: 100}, stages[5])
}
