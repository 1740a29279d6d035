package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/cf-ai-aether-go/internal/models"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrEmptyResponse is returned when the provider answers with no choices
var ErrEmptyResponse = errors.New("no response from AI")

// Client talks to an OpenAI-compatible chat completions endpoint.
// Outgoing calls are throttled to the provider's request rate; failures are
// returned as-is without retrying.
type Client struct {
	model   string
	client  *openai.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewClient creates a client for the configured endpoint
func NewClient(cfg *config.ModelConfig, logger *logrus.Logger) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	logger.WithFields(logrus.Fields{
		"model":   cfg.Name,
		"baseURL": clientConfig.BaseURL,
	}).Info("AI client initialized")

	return &Client{
		model:   cfg.Name,
		client:  openai.NewClientWithConfig(clientConfig),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Model returns the model identifier sent with every request
func (c *Client) Model() string {
	return c.model
}

// Complete sends messages and returns the text of the first choice. An
// empty answer is not an error; the parser turns it into fallbacks.
func (c *Client) Complete(ctx context.Context, messages []models.ChatMessage, params models.SamplingParams) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for provider quota: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAI(messages),
		Temperature: samplingValue(params.Temperature),
		TopP:        samplingValue(params.TopP),
		MaxTokens:   params.MaxTokens,
	}

	c.logger.WithFields(logrus.Fields{
		"model":    c.model,
		"messages": len(messages),
	}).Debug("Sending AI request")

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		c.logger.WithField("model", c.model).Warn("AI returned empty content")
	}
	return content, nil
}

// samplingValue keeps an explicit zero on the wire. go-openai omits zero
// floats, which lets the provider substitute its own default.
func samplingValue(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

func toOpenAI(messages []models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return out
}
