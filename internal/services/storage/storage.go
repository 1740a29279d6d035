package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/cf-ai-aether-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a record does not exist or is not owned by
// the requesting user
var ErrNotFound = errors.New("record not found")

// Storage interface defines storage operations
type Storage interface {
	// User operations
	GetUserByOpenID(ctx context.Context, openID string) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) (*models.User, error)

	// Settings operations
	GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error)
	SaveUserSettings(ctx context.Context, settings *models.UserSettings) error

	// Conversation operations. Every lookup is scoped to the owner.
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id, userID int64) (*models.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, userID int64, title string) error
	DeleteConversation(ctx context.Context, id, userID int64) error

	// Message operations. Creating a message touches its conversation.
	CreateMessage(ctx context.Context, msg *models.MessageRecord) error
	ListMessages(ctx context.Context, conversationID int64) ([]models.MessageRecord, error)

	// Export operations
	CreateExport(ctx context.Context, export *models.Export) error
	ListExports(ctx context.Context, userID, conversationID int64) ([]models.Export, error)

	Close() error
}

// Recorder receives storage operation metrics
type Recorder interface {
	RecordStorageOperation(operation, status string, duration time.Duration)
}

// Manager selects a storage backend and records metrics for every call
type Manager struct {
	storage Storage
	metrics Recorder
	logger  *logrus.Logger
}

// NewManager creates a new storage manager. metrics may be nil.
func NewManager(cfg *config.StorageConfig, metrics Recorder, logger *logrus.Logger) (*Manager, error) {
	var storage Storage

	switch cfg.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(&cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		storage = redisStorage
	case "sqlite":
		sqliteStorage, err := NewSQLiteStorage(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		storage = sqliteStorage
	case "memory":
		storage = NewMemoryStorage()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}

	logger.WithField("type", cfg.Type).Info("Storage initialized")

	return NewManagerWithStorage(storage, metrics, logger), nil
}

// NewManagerWithStorage wraps an existing backend
func NewManagerWithStorage(storage Storage, metrics Recorder, logger *logrus.Logger) *Manager {
	return &Manager{storage: storage, metrics: metrics, logger: logger}
}

func (m *Manager) observe(operation string, start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	m.metrics.RecordStorageOperation(operation, status, time.Since(start))
}

// Delegate methods to underlying storage

func (m *Manager) GetUserByOpenID(ctx context.Context, openID string) (*models.User, error) {
	start := time.Now()
	user, err := m.storage.GetUserByOpenID(ctx, openID)
	m.observe("get_user", start, err)
	return user, err
}

func (m *Manager) UpsertUser(ctx context.Context, user *models.User) (*models.User, error) {
	start := time.Now()
	saved, err := m.storage.UpsertUser(ctx, user)
	m.observe("upsert_user", start, err)
	return saved, err
}

func (m *Manager) GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	start := time.Now()
	settings, err := m.storage.GetUserSettings(ctx, userID)
	m.observe("get_settings", start, err)
	return settings, err
}

func (m *Manager) SaveUserSettings(ctx context.Context, settings *models.UserSettings) error {
	start := time.Now()
	err := m.storage.SaveUserSettings(ctx, settings)
	m.observe("save_settings", start, err)
	return err
}

func (m *Manager) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	start := time.Now()
	err := m.storage.CreateConversation(ctx, conv)
	m.observe("create_conversation", start, err)
	return err
}

func (m *Manager) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	start := time.Now()
	convs, err := m.storage.ListConversations(ctx, userID)
	m.observe("list_conversations", start, err)
	return convs, err
}

func (m *Manager) GetConversation(ctx context.Context, id, userID int64) (*models.Conversation, error) {
	start := time.Now()
	conv, err := m.storage.GetConversation(ctx, id, userID)
	m.observe("get_conversation", start, err)
	return conv, err
}

func (m *Manager) UpdateConversationTitle(ctx context.Context, id, userID int64, title string) error {
	start := time.Now()
	err := m.storage.UpdateConversationTitle(ctx, id, userID, title)
	m.observe("update_conversation", start, err)
	return err
}

func (m *Manager) DeleteConversation(ctx context.Context, id, userID int64) error {
	start := time.Now()
	err := m.storage.DeleteConversation(ctx, id, userID)
	m.observe("delete_conversation", start, err)
	return err
}

func (m *Manager) CreateMessage(ctx context.Context, msg *models.MessageRecord) error {
	start := time.Now()
	err := m.storage.CreateMessage(ctx, msg)
	m.observe("create_message", start, err)
	return err
}

func (m *Manager) ListMessages(ctx context.Context, conversationID int64) ([]models.MessageRecord, error) {
	start := time.Now()
	msgs, err := m.storage.ListMessages(ctx, conversationID)
	m.observe("list_messages", start, err)
	return msgs, err
}

func (m *Manager) CreateExport(ctx context.Context, export *models.Export) error {
	start := time.Now()
	err := m.storage.CreateExport(ctx, export)
	m.observe("create_export", start, err)
	return err
}

func (m *Manager) ListExports(ctx context.Context, userID, conversationID int64) ([]models.Export, error) {
	start := time.Now()
	exports, err := m.storage.ListExports(ctx, userID, conversationID)
	m.observe("list_exports", start, err)
	return exports, err
}

// Close releases the backend
func (m *Manager) Close() error {
	return m.storage.Close()
}
