package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/cf-ai-aether-go/internal/models"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, content string, captured *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	choices := []openai.ChatCompletionChoice{{
		Index:   0,
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
	}}
	return newChoicesServer(t, choices, captured, nil)
}

func newChoicesServer(t *testing.T, choices []openai.ChatCompletionChoice, captured *openai.ChatCompletionRequest, rawBody *[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if rawBody != nil {
			*rawBody = body
		}
		if captured != nil {
			require.NoError(t, json.Unmarshal(body, captured))
		}

		resp := openai.ChatCompletionResponse{
			ID:      "cmpl-1",
			Object:  "chat.completion",
			Model:   "test-model",
			Choices: choices,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(baseURL string) *Client {
	logger, _ := test.NewNullLogger()
	return NewClient(&config.ModelConfig{
		Name:    "test-model",
		BaseURL: baseURL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	}, logger)
}

func TestClient_Complete(t *testing.T) {
	var captured openai.ChatCompletionRequest
	srv := newTestServer(t, "GOALS:\n- answer", &captured)
	defer srv.Close()

	c := newTestClient(srv.URL)
	out, err := c.Complete(context.Background(), []models.ChatMessage{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "hi"},
	}, models.SamplingParams{Temperature: 0.5, TopP: 0.9, TopK: 40, MaxTokens: 256})

	require.NoError(t, err)
	assert.Equal(t, "GOALS:\n- answer", out)
	assert.Equal(t, "test-model", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "hi", captured.Messages[1].Content)
	assert.InDelta(t, 0.5, captured.Temperature, 0.0001)
	assert.Equal(t, 256, captured.MaxTokens)
	assert.Equal(t, "test-model", c.Model())
}

func TestClient_ZeroSamplingIsSent(t *testing.T) {
	var body []byte
	srv := newChoicesServer(t, []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "ok"},
	}}, nil, &body)
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), []models.ChatMessage{
		{Role: models.RoleUser, Content: "hi"},
	}, models.SamplingParams{Temperature: 0, TopP: 0, MaxTokens: 10})
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.Contains(t, fields, "temperature")
	assert.Contains(t, fields, "top_p")

	var temperature float64
	require.NoError(t, json.Unmarshal(fields["temperature"], &temperature))
	assert.InDelta(t, 0, temperature, 1e-6)
}

func TestClient_EmptyContent(t *testing.T) {
	srv := newTestServer(t, "", nil)
	defer srv.Close()

	out, err := newTestClient(srv.URL).Complete(context.Background(), nil, models.SamplingParams{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestClient_NoChoices(t *testing.T) {
	srv := newChoicesServer(t, nil, nil, nil)
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), nil, models.SamplingParams{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClient_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), nil, models.SamplingParams{})
	assert.Error(t, err)
}

func TestClient_CanceledContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	c := NewClient(&config.ModelConfig{Name: "m", BaseURL: "http://127.0.0.1:1", RequestsPerSecond: 0.001, Burst: 1}, logger)
	c.limiter.Allow() // drain the single token

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, nil, models.SamplingParams{})
	assert.Error(t, err)
}
