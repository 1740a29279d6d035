package models

import (
	"time"
)

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one message sent to the model
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingParams are the caller-supplied generation parameters
type SamplingParams struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	MaxTokens   int     `json:"max_tokens"`
}

// StructuredResponse is the parsed shape of one model answer.
// Every field is always populated, see reasoning.ParseResponse.
type StructuredResponse struct {
	Goals       []string `json:"goals" yaml:"goals"`
	Constraints []string `json:"constraints" yaml:"constraints"`
	Output      string   `json:"output" yaml:"output"`
	Formula     string   `json:"formula" yaml:"formula"`
	Process     []string `json:"process" yaml:"process"`
	FullText    string   `json:"fullText" yaml:"fullText"`
}

// User represents an authenticated account
type User struct {
	ID           int64     `json:"id"`
	OpenID       string    `json:"openId"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	LastSignedIn time.Time `json:"lastSignedIn"`
}

// UserSettings are the per-user model preferences
type UserSettings struct {
	UserID          int64     `json:"userId"`
	Temperature     float64   `json:"temperature"`
	TopP            float64   `json:"topP"`
	TopK            int       `json:"topK"`
	MaxOutputTokens int       `json:"maxOutputTokens"`
	SystemPrompt    string    `json:"systemPrompt,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SamplingParams converts settings into model parameters
func (s *UserSettings) SamplingParams() SamplingParams {
	return SamplingParams{
		Temperature: s.Temperature,
		TopP:        s.TopP,
		TopK:        s.TopK,
		MaxTokens:   s.MaxOutputTokens,
	}
}

// DefaultUserSettings returns the settings used before a user saves any
func DefaultUserSettings(userID int64) *UserSettings {
	return &UserSettings{
		UserID:          userID,
		Temperature:     0.7,
		TopP:            0.9,
		TopK:            40,
		MaxOutputTokens: 2048,
	}
}

// Conversation is a chat thread owned by one user
type Conversation struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ConversationSummary is the cached list view of a conversation
type ConversationSummary struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Export formats
const (
	ExportMarkdown = "markdown"
	ExportHTML     = "html"
)

// Export records a rendered conversation
type Export struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"userId"`
	ConversationID int64     `json:"conversationId"`
	Format         string    `json:"format"`
	FileName       string    `json:"fileName"`
	FileURL        string    `json:"fileUrl"`
	CreatedAt      time.Time `json:"createdAt"`
}
