package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cf-ai-aether-go/internal/models"
	"github.com/patrickmn/go-cache"
)

const (
	seqUsers         = "users"
	seqConversations = "conversations"
	seqMessages      = "messages"
	seqExports       = "exports"
)

// MemoryStorage implements storage using in-memory cache. Records never
// expire; values are copied in and out so callers cannot alias them.
type MemoryStorage struct {
	mu            sync.Mutex
	seq           *cache.Cache
	users         *cache.Cache
	settings      *cache.Cache
	conversations *cache.Cache
	messages      *cache.Cache
	exports       *cache.Cache
}

func NewMemoryStorage() *MemoryStorage {
	seq := cache.New(cache.NoExpiration, 0)
	for _, name := range []string{seqUsers, seqConversations, seqMessages, seqExports} {
		seq.Set(name, int64(0), cache.NoExpiration)
	}
	return &MemoryStorage{
		seq:           seq,
		users:         cache.New(cache.NoExpiration, 0),
		settings:      cache.New(cache.NoExpiration, 0),
		conversations: cache.New(cache.NoExpiration, 0),
		messages:      cache.New(cache.NoExpiration, 0),
		exports:       cache.New(cache.NoExpiration, 0),
	}
}

func (m *MemoryStorage) nextID(name string) (int64, error) {
	return m.seq.IncrementInt64(name, 1)
}

func idKey(id int64) string {
	return fmt.Sprintf("%d", id)
}

func (m *MemoryStorage) GetUserByOpenID(ctx context.Context, openID string) (*models.User, error) {
	if val, found := m.users.Get(openID); found {
		user := val.(models.User)
		return &user, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) UpsertUser(ctx context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	saved := *user
	if val, found := m.users.Get(user.OpenID); found {
		existing := val.(models.User)
		saved.ID = existing.ID
		saved.CreatedAt = existing.CreatedAt
	} else {
		id, err := m.nextID(seqUsers)
		if err != nil {
			return nil, err
		}
		saved.ID = id
		saved.CreatedAt = now
	}
	if saved.Role == "" {
		saved.Role = "user"
	}
	saved.LastSignedIn = now
	m.users.Set(saved.OpenID, saved, cache.NoExpiration)
	return &saved, nil
}

func (m *MemoryStorage) GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	if val, found := m.settings.Get(idKey(userID)); found {
		settings := val.(models.UserSettings)
		return &settings, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) SaveUserSettings(ctx context.Context, settings *models.UserSettings) error {
	saved := *settings
	saved.UpdatedAt = time.Now().UTC()
	m.settings.Set(idKey(saved.UserID), saved, cache.NoExpiration)
	settings.UpdatedAt = saved.UpdatedAt
	return nil
}

func (m *MemoryStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	id, err := m.nextID(seqConversations)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	conv.ID = id
	conv.CreatedAt = now
	conv.UpdatedAt = now
	m.conversations.Set(idKey(id), *conv, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	convs := make([]models.Conversation, 0)
	for _, item := range m.conversations.Items() {
		conv := item.Object.(models.Conversation)
		if conv.UserID == userID {
			convs = append(convs, conv)
		}
	}
	sortConversations(convs)
	return convs, nil
}

func (m *MemoryStorage) GetConversation(ctx context.Context, id, userID int64) (*models.Conversation, error) {
	val, found := m.conversations.Get(idKey(id))
	if !found {
		return nil, ErrNotFound
	}
	conv := val.(models.Conversation)
	if conv.UserID != userID {
		return nil, ErrNotFound
	}
	return &conv, nil
}

func (m *MemoryStorage) UpdateConversationTitle(ctx context.Context, id, userID int64, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, err := m.GetConversation(ctx, id, userID)
	if err != nil {
		return err
	}
	conv.Title = title
	conv.UpdatedAt = time.Now().UTC()
	m.conversations.Set(idKey(id), *conv, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) DeleteConversation(ctx context.Context, id, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.GetConversation(ctx, id, userID); err != nil {
		return err
	}
	m.conversations.Delete(idKey(id))
	for key, item := range m.messages.Items() {
		if item.Object.(models.MessageRecord).ConversationID == id {
			m.messages.Delete(key)
		}
	}
	for key, item := range m.exports.Items() {
		if item.Object.(models.Export).ConversationID == id {
			m.exports.Delete(key)
		}
	}
	return nil
}

func (m *MemoryStorage) CreateMessage(ctx context.Context, msg *models.MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, found := m.conversations.Get(idKey(msg.ConversationID))
	if !found {
		return ErrNotFound
	}
	id, err := m.nextID(seqMessages)
	if err != nil {
		return err
	}
	msg.ID = id
	msg.CreatedAt = time.Now().UTC()
	m.messages.Set(idKey(id), *msg, cache.NoExpiration)

	conv := val.(models.Conversation)
	conv.UpdatedAt = msg.CreatedAt
	m.conversations.Set(idKey(conv.ID), conv, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) ListMessages(ctx context.Context, conversationID int64) ([]models.MessageRecord, error) {
	msgs := make([]models.MessageRecord, 0)
	for _, item := range m.messages.Items() {
		msg := item.Object.(models.MessageRecord)
		if msg.ConversationID == conversationID {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, nil
}

func (m *MemoryStorage) CreateExport(ctx context.Context, export *models.Export) error {
	id, err := m.nextID(seqExports)
	if err != nil {
		return err
	}
	export.ID = id
	export.CreatedAt = time.Now().UTC()
	m.exports.Set(idKey(id), *export, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) ListExports(ctx context.Context, userID, conversationID int64) ([]models.Export, error) {
	exports := make([]models.Export, 0)
	for _, item := range m.exports.Items() {
		export := item.Object.(models.Export)
		if export.UserID == userID && export.ConversationID == conversationID {
			exports = append(exports, export)
		}
	}
	sort.Slice(exports, func(i, j int) bool { return exports[i].ID > exports[j].ID })
	return exports, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// sortConversations orders most recently updated first
func sortConversations(convs []models.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID > convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}
