// Package gate fronts every inbound operation with the identity, settings
// and conversation-list caches and the per-purpose rate limiters.
package gate

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
	"github.com/sirupsen/logrus"
)

// ErrUnauthenticated is returned when no user matches the presented identity
var ErrUnauthenticated = errors.New("unauthenticated")

// RateLimitError reports a denied request
type RateLimitError struct {
	Limiter string
	ResetIn time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Limiter, e.ResetIn.Round(time.Second))
}

// Store is the part of storage the gate reads through
type Store interface {
	GetUserByOpenID(ctx context.Context, openID string) (*models.User, error)
	GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error)
	ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error)
}

// CacheRecorder receives cache hit and miss counts
type CacheRecorder interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
}

// Gate wraps identity lookups in caches and checks limiters before work
// reaches the pipeline or storage
type Gate struct {
	store    Store
	caches   *cache.Registry
	limiters *middleware.Limiters
	metrics  CacheRecorder
	logger   *logrus.Logger
}

// New creates a gate. metrics may be nil.
func New(store Store, caches *cache.Registry, limiters *middleware.Limiters, metrics CacheRecorder, logger *logrus.Logger) *Gate {
	return &Gate{
		store:    store,
		caches:   caches,
		limiters: limiters,
		metrics:  metrics,
		logger:   logger,
	}
}

func (g *Gate) hit(name string) {
	if g.metrics != nil {
		g.metrics.RecordCacheHit(name)
	}
}

func (g *Gate) miss(name string) {
	if g.metrics != nil {
		g.metrics.RecordCacheMiss(name)
	}
}

// Authenticate resolves openID to a user. A cache hit skips the store; a
// miss counts as an auth attempt against the client address.
func (g *Gate) Authenticate(ctx context.Context, openID, ip string) (*models.User, error) {
	openID = strings.TrimSpace(openID)
	if openID == "" {
		return nil, ErrUnauthenticated
	}

	key := cache.UserKey(openID)
	if user, ok := g.caches.Users.Get(key); ok && user != nil {
		g.hit(cache.NameUsers)
		return user, nil
	}
	g.miss(cache.NameUsers)

	if err := g.Allow(middleware.LimiterAuth, 0, ip); err != nil {
		return nil, err
	}

	user, err := g.store.GetUserByOpenID(ctx, openID)
	if errors.Is(err, storage.ErrNotFound) {
		g.logger.WithField("ip", ip).Debug("Unknown identity")
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	g.caches.Users.Set(key, user)
	return user, nil
}

// Allow checks the named limiter for the user, or the address when userID
// is zero
func (g *Gate) Allow(limiter string, userID int64, ip string) error {
	decision, err := g.limiters.IsAllowed(limiter, middleware.RateLimitKey(userID, ip))
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &RateLimitError{Limiter: limiter, ResetIn: decision.ResetIn}
	}
	return nil
}

// Settings returns the user's settings, falling back to defaults when none
// are stored
func (g *Gate) Settings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	key := cache.SettingsKey(userID)
	if settings, ok := g.caches.Settings.Get(key); ok && settings != nil {
		g.hit(cache.NameSettings)
		return settings, nil
	}
	g.miss(cache.NameSettings)

	settings, err := g.store.GetUserSettings(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		settings = models.DefaultUserSettings(userID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	g.caches.Settings.Set(key, settings)
	return settings, nil
}

// Conversations returns the user's conversation list, most recent first
func (g *Gate) Conversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	key := cache.ConversationsKey(userID)
	if list, ok := g.caches.Conversations.Get(key); ok {
		g.hit(cache.NameConversations)
		return list, nil
	}
	g.miss(cache.NameConversations)

	convs, err := g.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	list := make([]models.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		list = append(list, models.ConversationSummary{ID: c.ID, Title: c.Title, UpdatedAt: c.UpdatedAt})
	}
	g.caches.Conversations.Set(key, list)
	return list, nil
}

// InvalidateUser drops cached settings and conversation list after a write
func (g *Gate) InvalidateUser(userID int64) {
	g.caches.InvalidateUser(userID)
}

// ForgetIdentity drops the cached user for openID
func (g *Gate) ForgetIdentity(openID string) {
	g.caches.Users.Delete(cache.UserKey(openID))
}

// ComposePrompt returns the decomposition sent to the model for prompt
func (g *Gate) ComposePrompt(prompt string) reasoning.Decomposition {
	return reasoning.ComposePrompt(prompt)
}

// ParseResponse splits model text into its sections
func (g *Gate) ParseResponse(text string) *models.StructuredResponse {
	return reasoning.ParseResponse(text)
}

// IsAllowed checks key against the named limiter
func (g *Gate) IsAllowed(limiter, key string) (middleware.Decision, error) {
	return g.limiters.IsAllowed(limiter, key)
}

// CacheGet reads key from the named cache
func (g *Gate) CacheGet(name, key string) (interface{}, bool, error) {
	switch name {
	case cache.NameUsers:
		v, ok := g.caches.Users.Get(key)
		return v, ok, nil
	case cache.NameSettings:
		v, ok := g.caches.Settings.Get(key)
		return v, ok, nil
	case cache.NameConversations:
		v, ok := g.caches.Conversations.Get(key)
		return v, ok, nil
	default:
		return nil, false, fmt.Errorf("unknown cache: %s", name)
	}
}

// CacheSet stores value under key in the named cache. The value must have
// the cache's element type; ttl of zero uses the cache default.
func (g *Gate) CacheSet(name, key string, value interface{}, ttl time.Duration) error {
	switch name {
	case cache.NameUsers:
		v, ok := value.(*models.User)
		if !ok {
			return fmt.Errorf("cache %s: unexpected value type %T", name, value)
		}
		setWithTTL(g.caches.Users, key, v, ttl)
	case cache.NameSettings:
		v, ok := value.(*models.UserSettings)
		if !ok {
			return fmt.Errorf("cache %s: unexpected value type %T", name, value)
		}
		setWithTTL(g.caches.Settings, key, v, ttl)
	case cache.NameConversations:
		v, ok := value.([]models.ConversationSummary)
		if !ok {
			return fmt.Errorf("cache %s: unexpected value type %T", name, value)
		}
		setWithTTL(g.caches.Conversations, key, v, ttl)
	default:
		return fmt.Errorf("unknown cache: %s", name)
	}
	return nil
}

// CacheDelete removes key from the named cache
func (g *Gate) CacheDelete(name, key string) (bool, error) {
	store, err := g.caches.Named(name)
	if err != nil {
		return false, err
	}
	return store.Delete(key), nil
}

func setWithTTL[V any](c *cache.Expiring[V], key string, value V, ttl time.Duration) {
	if ttl == 0 {
		c.Set(key, value)
		return
	}
	c.SetWithTTL(key, value, ttl)
}
