package cache

import (
	"fmt"
	"sort"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/cf-ai-aether-go/internal/models"
)

// Cache names
const (
	NameUsers         = "users"
	NameSettings      = "settings"
	NameConversations = "conversations"
)

// Store is the untyped view of a named cache
type Store interface {
	Delete(key string) bool
	Clear()
	Len() int
}

// Registry holds the process-wide caches, one per purpose. It is built once
// at startup and passed to whoever needs it.
type Registry struct {
	Users         *Expiring[*models.User]
	Settings      *Expiring[*models.UserSettings]
	Conversations *Expiring[[]models.ConversationSummary]
}

// NewRegistry creates the caches from configuration
func NewRegistry(cfg *config.CacheConfig) *Registry {
	return &Registry{
		Users:         NewExpiring[*models.User](cfg.Users.MaxSize, cfg.Users.TTL),
		Settings:      NewExpiring[*models.UserSettings](cfg.Settings.MaxSize, cfg.Settings.TTL),
		Conversations: NewExpiring[[]models.ConversationSummary](cfg.Conversations.MaxSize, cfg.Conversations.TTL),
	}
}

// Named returns the cache registered under name
func (r *Registry) Named(name string) (Store, error) {
	switch name {
	case NameUsers:
		return r.Users, nil
	case NameSettings:
		return r.Settings, nil
	case NameConversations:
		return r.Conversations, nil
	default:
		return nil, fmt.Errorf("unknown cache: %s", name)
	}
}

// Sizes reports the entry count of every cache
func (r *Registry) Sizes() map[string]int {
	return map[string]int{
		NameUsers:         r.Users.Len(),
		NameSettings:      r.Settings.Len(),
		NameConversations: r.Conversations.Len(),
	}
}

// Names lists the registered caches in order
func (r *Registry) Names() []string {
	names := []string{NameUsers, NameSettings, NameConversations}
	sort.Strings(names)
	return names
}

// InvalidateUser drops the settings and conversation list cached for a
// user. Callers must invoke it after writing either to the store.
func (r *Registry) InvalidateUser(userID int64) {
	r.Settings.Delete(SettingsKey(userID))
	r.Conversations.Delete(ConversationsKey(userID))
}

// UserKey is the identity cache key for an open id
func UserKey(openID string) string {
	return "user:" + openID
}

// SettingsKey is the settings cache key for a user
func SettingsKey(userID int64) string {
	return fmt.Sprintf("settings:%d", userID)
}

// ConversationsKey is the conversation-list cache key for a user
func ConversationsKey(userID int64) string {
	return fmt.Sprintf("conversations:%d", userID)
}
