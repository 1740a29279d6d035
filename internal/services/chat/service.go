package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cf-ai-aether-go/internal/middleware"
	"github.com/cf-ai-aether-go/internal/models"
	"github.com/cf-ai-aether-go/internal/services/cache"
	"github.com/cf-ai-aether-go/internal/services/reasoning"
	"github.com/cf-ai-aether-go/internal/services/storage"
	"github.com/cf-ai-aether-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// DefaultTitle names conversations created without a title
const DefaultTitle = "New Conversation"

const maxTitleRunes = 200

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidSettings      = errors.New("invalid settings")
	ErrInvalidInput         = errors.New("invalid input")
	ErrAIUnavailable        = errors.New("failed to get response from AI")
)

// Gate is the cached, rate-limited view of users used by the service
type Gate interface {
	Allow(limiter string, userID int64, ip string) error
	Settings(ctx context.Context, userID int64) (*models.UserSettings, error)
	Conversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error)
	InvalidateUser(userID int64)
	ForgetIdentity(openID string)
}

// Reasoner produces structured answers
type Reasoner interface {
	RunWithInstructions(ctx context.Context, prompt, instructions string, params models.SamplingParams) (*models.StructuredResponse, error)
	Model() string
}

// Service implements conversations, messages, settings and exports on top
// of storage, the gate and the reasoning pipeline
type Service struct {
	store     storage.Storage
	gate      Gate
	reasoner  Reasoner
	responses *cache.ResponseCache
	security  *middleware.SecurityMiddleware
	logger    *logrus.Logger
}

// NewService creates the chat service. responses may be nil.
func NewService(store storage.Storage, gate Gate, reasoner Reasoner, responses *cache.ResponseCache, security *middleware.SecurityMiddleware, logger *logrus.Logger) *Service {
	return &Service{
		store:     store,
		gate:      gate,
		reasoner:  reasoner,
		responses: responses,
		security:  security,
		logger:    logger,
	}
}

// MessageView is a stored message with its structured answer decoded
type MessageView struct {
	models.MessageRecord
	Structured *models.StructuredResponse `json:"structured,omitempty"`
}

// ConversationDetail is a conversation and its messages in order
type ConversationDetail struct {
	Conversation *models.Conversation `json:"conversation"`
	Messages     []MessageView        `json:"messages"`
}

// SendResult is the outcome of SendMessage
type SendResult struct {
	UserMessage      models.MessageRecord       `json:"userMessage"`
	AssistantMessage models.MessageRecord       `json:"assistantMessage"`
	Response         *models.StructuredResponse `json:"response"`
	Cached           bool                       `json:"cached"`
}

// SettingsUpdate holds the fields to change; nil fields are left as is
type SettingsUpdate struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	SystemPrompt    *string  `json:"systemPrompt,omitempty"`
}

// ExportResult is a rendered conversation and its stored record
type ExportResult struct {
	Export      models.Export `json:"export"`
	ContentType string        `json:"contentType"`
	Content     string        `json:"content"`
}

func newView(rec models.MessageRecord) MessageView {
	view := MessageView{MessageRecord: rec}
	if rec.Role == models.RoleAssistant && rec.HasStructure() {
		view.Structured = rec.Structured()
	}
	return view
}

// RegisterUser creates or refreshes the user behind openID
func (s *Service) RegisterUser(ctx context.Context, openID, name, email string) (*models.User, error) {
	user, err := s.store.UpsertUser(ctx, &models.User{OpenID: openID, Name: name, Email: email})
	if err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	s.gate.ForgetIdentity(openID)
	return user, nil
}

// CreateConversation starts a conversation for userID
func (s *Service) CreateConversation(ctx context.Context, userID int64, title, description string) (*models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	title = models.Preview(title, maxTitleRunes)

	conv := &models.Conversation{UserID: userID, Title: title, Description: description}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.gate.InvalidateUser(userID)

	s.logger.WithFields(logrus.Fields{
		"user_id":         userID,
		"conversation_id": conv.ID,
	}).Debug("Conversation created")
	return conv, nil
}

// ListConversations returns the user's conversations, most recent first
func (s *Service) ListConversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	return s.gate.Conversations(ctx, userID)
}

func (s *Service) conversation(ctx context.Context, userID, conversationID int64) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns a conversation owned by userID with its messages
func (s *Service) GetConversation(ctx context.Context, userID, conversationID int64) (*ConversationDetail, error) {
	conv, err := s.conversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	records, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	views := make([]MessageView, 0, len(records))
	for _, rec := range records {
		views = append(views, newView(rec))
	}
	return &ConversationDetail{Conversation: conv, Messages: views}, nil
}

// RenameConversation changes the title of a conversation
func (s *Service) RenameConversation(ctx context.Context, userID, conversationID int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is empty", ErrInvalidInput)
	}

	err := s.store.UpdateConversationTitle(ctx, conversationID, userID, models.Preview(title, maxTitleRunes))
	if errors.Is(err, storage.ErrNotFound) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	s.gate.InvalidateUser(userID)
	return nil
}

// DeleteConversation removes a conversation and its messages
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID int64) error {
	err := s.store.DeleteConversation(ctx, conversationID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	s.gate.InvalidateUser(userID)
	return nil
}

// SendMessage stores the user's message, asks the model and stores the
// structured answer. When the model fails the user message stays stored
// and ErrAIUnavailable is returned.
func (s *Service) SendMessage(ctx context.Context, user *models.User, conversationID int64, content string) (*SendResult, error) {
	if s.security != nil {
		if err := s.security.ValidateInput(content); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}

	conv, err := s.conversation(ctx, user.ID, conversationID)
	if err != nil {
		return nil, err
	}

	if err := s.gate.Allow(middleware.LimiterModel, user.ID, ""); err != nil {
		return nil, err
	}

	userMsg := models.MessageRecord{
		ConversationID: conv.ID,
		UserID:         user.ID,
		Role:           models.RoleUser,
		Content:        content,
	}
	if err := s.store.CreateMessage(ctx, &userMsg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	// The conversation moved to the top of the list
	s.gate.InvalidateUser(user.ID)

	settings, err := s.gate.Settings(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	params := settings.SamplingParams()

	logger := s.logger.WithFields(logrus.Fields{
		"user_id":         user.ID,
		"conversation_id": conv.ID,
	})

	resp, cached := s.lookupResponse(content, settings)
	if !cached {
		start := time.Now()
		resp, err = s.reasoner.RunWithInstructions(ctx, content, settings.SystemPrompt, params)
		if err != nil {
			logger.WithError(err).Error("Failed to get AI response")
			return nil, fmt.Errorf("%w: %w", ErrAIUnavailable, err)
		}
		logger.WithField("duration", time.Since(start)).Info("AI response received")
		s.storeResponse(content, settings, resp)
	}

	assistantMsg := models.MessageRecord{
		ConversationID: conv.ID,
		UserID:         user.ID,
		Role:           models.RoleAssistant,
		ThinkingStatus: reasoning.StageComplete,
	}
	if err := assistantMsg.EncodeStructured(resp); err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	if err := s.store.CreateMessage(ctx, &assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to save response: %w", err)
	}
	s.gate.InvalidateUser(user.ID)

	return &SendResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Response:         resp,
		Cached:           cached,
	}, nil
}

func (s *Service) lookupResponse(content string, settings *models.UserSettings) (*models.StructuredResponse, bool) {
	if s.responses == nil || settings.SystemPrompt != "" {
		return nil, false
	}
	return s.responses.Get(s.reasoner.Model(), content, settings.SamplingParams())
}

func (s *Service) storeResponse(content string, settings *models.UserSettings, resp *models.StructuredResponse) {
	if s.responses == nil || settings.SystemPrompt != "" {
		return
	}
	s.responses.Set(s.reasoner.Model(), content, settings.SamplingParams(), resp)
}

// GetSettings returns the user's settings or the defaults
func (s *Service) GetSettings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	return s.gate.Settings(ctx, userID)
}

// UpdateSettings validates and applies update to the user's settings
func (s *Service) UpdateSettings(ctx context.Context, userID int64, update SettingsUpdate) (*models.UserSettings, error) {
	current, err := s.gate.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}

	// The cached value is shared; work on a copy
	settings := *current
	settings.UserID = userID
	if update.Temperature != nil {
		settings.Temperature = *update.Temperature
	}
	if update.TopP != nil {
		settings.TopP = *update.TopP
	}
	if update.TopK != nil {
		settings.TopK = *update.TopK
	}
	if update.MaxOutputTokens != nil {
		settings.MaxOutputTokens = *update.MaxOutputTokens
	}
	if update.SystemPrompt != nil {
		settings.SystemPrompt = strings.TrimSpace(*update.SystemPrompt)
	}

	if err := ValidateSettings(&settings); err != nil {
		return nil, err
	}

	if err := s.store.SaveUserSettings(ctx, &settings); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}
	s.gate.InvalidateUser(userID)
	return &settings, nil
}

// ValidateSettings checks every field is within its allowed range
func ValidateSettings(settings *models.UserSettings) error {
	switch {
	case settings.Temperature < 0 || settings.Temperature > 2:
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidSettings)
	case settings.TopP < 0 || settings.TopP > 1:
		return fmt.Errorf("%w: topP must be between 0 and 1", ErrInvalidSettings)
	case settings.TopK < 1:
		return fmt.Errorf("%w: topK must be at least 1", ErrInvalidSettings)
	case settings.MaxOutputTokens < 1 || settings.MaxOutputTokens > 4096:
		return fmt.Errorf("%w: maxOutputTokens must be between 1 and 4096", ErrInvalidSettings)
	}
	return nil
}

// ExportConversation renders a conversation as markdown or html and
// records the export
func (s *Service) ExportConversation(ctx context.Context, userID, conversationID int64, format string, titles markdown.Titles) (*ExportResult, error) {
	var contentType, ext string
	switch format {
	case models.ExportMarkdown:
		contentType, ext = "text/markdown; charset=utf-8", "md"
	case models.ExportHTML:
		contentType, ext = "text/html; charset=utf-8", "html"
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", ErrInvalidInput, format)
	}

	detail, err := s.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	records := make([]models.MessageRecord, 0, len(detail.Messages))
	for _, view := range detail.Messages {
		records = append(records, view.MessageRecord)
	}
	content := markdown.RenderConversation(detail.Conversation, records, titles)
	if format == models.ExportHTML {
		content = markdown.ToHTML(content, detail.Conversation.Title)
	}

	export := models.Export{
		UserID:         userID,
		ConversationID: conversationID,
		Format:         format,
		FileName:       fmt.Sprintf("conversation-%d-%s.%s", conversationID, time.Now().UTC().Format("20060102-150405"), ext),
	}
	if err := s.store.CreateExport(ctx, &export); err != nil {
		return nil, fmt.Errorf("failed to record export: %w", err)
	}

	return &ExportResult{Export: export, ContentType: contentType, Content: content}, nil
}

// ListExports returns the exports of a conversation owned by userID
func (s *Service) ListExports(ctx context.Context, userID, conversationID int64) ([]models.Export, error) {
	if _, err := s.conversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	exports, err := s.store.ListExports(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	return exports, nil
}
