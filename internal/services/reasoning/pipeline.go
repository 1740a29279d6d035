package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cf-ai-aether-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrReasoningFailed is returned for any model collaborator failure
var ErrReasoningFailed = errors.New("failed to get response from the reasoning service")

// ModelClient is the external model collaborator
type ModelClient interface {
	// Complete sends the messages once and returns the answer text
	Complete(ctx context.Context, messages []models.ChatMessage, params models.SamplingParams) (string, error)
	// Model names the model used, for logs and metrics
	Model() string
}

// Recorder receives AI request metrics
type Recorder interface {
	RecordAIRequest(model, status string, duration time.Duration)
}

// Pipeline composes a prompt, invokes the model and parses its answer
type Pipeline struct {
	client  ModelClient
	metrics Recorder
	logger  *logrus.Logger
}

// NewPipeline creates a response pipeline. metrics may be nil.
func NewPipeline(client ModelClient, metrics Recorder, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		client:  client,
		metrics: metrics,
		logger:  logger,
	}
}

// Model names the model answering requests
func (p *Pipeline) Model() string {
	return p.client.Model()
}

// Run sends prompt to the model and returns the structured answer.
// Failures are not retried and nothing is persisted here.
func (p *Pipeline) Run(ctx context.Context, prompt string, params models.SamplingParams) (*models.StructuredResponse, error) {
	return p.RunWithInstructions(ctx, prompt, "", params)
}

// RunWithInstructions is Run with extra user-supplied instructions appended
// to the system instruction
func (p *Pipeline) RunWithInstructions(ctx context.Context, prompt, instructions string, params models.SamplingParams) (*models.StructuredResponse, error) {
	system := SystemInstruction
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		system += "\n\n" + instructions
	}

	decomposition := ComposePrompt(prompt)
	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: decomposition.Decomposition},
	}

	start := time.Now()
	content, err := p.client.Complete(ctx, messages, params)
	duration := time.Since(start)

	if err != nil {
		p.record("error", duration)
		p.logger.WithFields(logrus.Fields{
			"model":    p.client.Model(),
			"duration": duration,
		}).WithError(err).Error("Reasoning request failed")
		return nil, fmt.Errorf("%w: %w", ErrReasoningFailed, err)
	}
	p.record("success", duration)

	resp := ParseResponse(content)
	p.logger.WithFields(logrus.Fields{
		"model":       p.client.Model(),
		"duration":    duration,
		"goals":       len(resp.Goals),
		"constraints": len(resp.Constraints),
		"steps":       len(resp.Process),
	}).Debug("Reasoning response parsed")

	return resp, nil
}

func (p *Pipeline) record(status string, duration time.Duration) {
	if p.metrics != nil {
		p.metrics.RecordAIRequest(p.client.Model(), status, duration)
	}
}
