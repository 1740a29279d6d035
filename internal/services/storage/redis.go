package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/cf-ai-aether-go/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisStorage implements storage using Redis. Records are JSON strings;
// each user's conversations are indexed in a sorted set scored by update
// time and each conversation's messages are kept in a list.
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{
		client: client,
		logger: logger,
	}, nil
}

func userKey(openID string) string             { return "user:openid:" + openID }
func settingsKey(userID int64) string          { return fmt.Sprintf("settings:%d", userID) }
func conversationKey(id int64) string          { return fmt.Sprintf("conversation:%d", id) }
func userConversationsKey(userID int64) string { return fmt.Sprintf("user:%d:conversations", userID) }
func conversationMessagesKey(id int64) string  { return fmt.Sprintf("conversation:%d:messages", id) }
func conversationExportsKey(id int64) string   { return fmt.Sprintf("conversation:%d:exports", id) }
func sequenceKey(name string) string           { return "seq:" + name }
func updateScore(t time.Time) float64          { return float64(t.UnixMilli()) }

func (r *RedisStorage) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (r *RedisStorage) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, 0).Err()
}

func (r *RedisStorage) GetUserByOpenID(ctx context.Context, openID string) (*models.User, error) {
	var user models.User
	if err := r.getJSON(ctx, userKey(openID), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *RedisStorage) UpsertUser(ctx context.Context, user *models.User) (*models.User, error) {
	now := time.Now().UTC()
	saved := *user

	existing, err := r.GetUserByOpenID(ctx, user.OpenID)
	switch {
	case err == nil:
		saved.ID = existing.ID
		saved.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		id, err := r.client.Incr(ctx, sequenceKey(seqUsers)).Result()
		if err != nil {
			return nil, err
		}
		saved.ID = id
		saved.CreatedAt = now
	default:
		return nil, err
	}
	if saved.Role == "" {
		saved.Role = "user"
	}
	saved.LastSignedIn = now

	if err := r.setJSON(ctx, userKey(saved.OpenID), saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

func (r *RedisStorage) GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	var settings models.UserSettings
	if err := r.getJSON(ctx, settingsKey(userID), &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *RedisStorage) SaveUserSettings(ctx context.Context, settings *models.UserSettings) error {
	settings.UpdatedAt = time.Now().UTC()
	return r.setJSON(ctx, settingsKey(settings.UserID), settings)
}

func (r *RedisStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	id, err := r.client.Incr(ctx, sequenceKey(seqConversations)).Result()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	conv.ID = id
	conv.CreatedAt = now
	conv.UpdatedAt = now
	return r.saveConversation(ctx, conv)
}

func (r *RedisStorage) saveConversation(ctx context.Context, conv *models.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, conversationKey(conv.ID), data, 0)
	pipe.ZAdd(ctx, userConversationsKey(conv.UserID), &redis.Z{
		Score:  updateScore(conv.UpdatedAt),
		Member: strconv.FormatInt(conv.ID, 10),
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStorage) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	ids, err := r.client.ZRevRange(ctx, userConversationsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	convs := make([]models.Conversation, 0, len(ids))
	if len(ids) == 0 {
		return convs, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "conversation:" + id
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, value := range values {
		data, ok := value.(string)
		if !ok {
			continue
		}
		var conv models.Conversation
		if err := json.Unmarshal([]byte(data), &conv); err != nil {
			r.logger.WithError(err).Warn("Skipping undecodable conversation")
			continue
		}
		convs = append(convs, conv)
	}
	sortConversations(convs)
	return convs, nil
}

func (r *RedisStorage) GetConversation(ctx context.Context, id, userID int64) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.getJSON(ctx, conversationKey(id), &conv); err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrNotFound
	}
	return &conv, nil
}

func (r *RedisStorage) UpdateConversationTitle(ctx context.Context, id, userID int64, title string) error {
	conv, err := r.GetConversation(ctx, id, userID)
	if err != nil {
		return err
	}
	conv.Title = title
	conv.UpdatedAt = time.Now().UTC()
	return r.saveConversation(ctx, conv)
}

func (r *RedisStorage) DeleteConversation(ctx context.Context, id, userID int64) error {
	if _, err := r.GetConversation(ctx, id, userID); err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, conversationKey(id), conversationMessagesKey(id), conversationExportsKey(id))
	pipe.ZRem(ctx, userConversationsKey(userID), strconv.FormatInt(id, 10))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStorage) CreateMessage(ctx context.Context, msg *models.MessageRecord) error {
	var conv models.Conversation
	if err := r.getJSON(ctx, conversationKey(msg.ConversationID), &conv); err != nil {
		return err
	}
	id, err := r.client.Incr(ctx, sequenceKey(seqMessages)).Result()
	if err != nil {
		return err
	}
	msg.ID = id
	msg.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.client.RPush(ctx, conversationMessagesKey(msg.ConversationID), data).Err(); err != nil {
		return err
	}

	conv.UpdatedAt = msg.CreatedAt
	return r.saveConversation(ctx, &conv)
}

func (r *RedisStorage) ListMessages(ctx context.Context, conversationID int64) ([]models.MessageRecord, error) {
	values, err := r.client.LRange(ctx, conversationMessagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]models.MessageRecord, 0, len(values))
	for _, value := range values {
		var msg models.MessageRecord
		if err := json.Unmarshal([]byte(value), &msg); err != nil {
			r.logger.WithError(err).Warn("Skipping undecodable message")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (r *RedisStorage) CreateExport(ctx context.Context, export *models.Export) error {
	id, err := r.client.Incr(ctx, sequenceKey(seqExports)).Result()
	if err != nil {
		return err
	}
	export.ID = id
	export.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(export)
	if err != nil {
		return err
	}
	return r.client.LPush(ctx, conversationExportsKey(export.ConversationID), data).Err()
}

func (r *RedisStorage) ListExports(ctx context.Context, userID, conversationID int64) ([]models.Export, error) {
	values, err := r.client.LRange(ctx, conversationExportsKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	exports := make([]models.Export, 0, len(values))
	for _, value := range values {
		var export models.Export
		if err := json.Unmarshal([]byte(value), &export); err != nil {
			continue
		}
		if export.UserID == userID {
			exports = append(exports, export)
		}
	}
	return exports, nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
