package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/cf-ai-aether-go/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()
	sqlite, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"sqlite": sqlite,
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Storage)) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) { fn(t, s) })
	}
}

func strPtr(s string) *string { return &s }

func TestUsers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		_, err := s.GetUserByOpenID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		created, err := s.UpsertUser(ctx, &models.User{OpenID: "u-1", Name: "Ada"})
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.Equal(t, "user", created.Role)

		updated, err := s.UpsertUser(ctx, &models.User{OpenID: "u-1", Name: "Ada L."})
		require.NoError(t, err)
		assert.Equal(t, created.ID, updated.ID)
		assert.Equal(t, "Ada L.", updated.Name)

		found, err := s.GetUserByOpenID(ctx, "u-1")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)

		other, err := s.UpsertUser(ctx, &models.User{OpenID: "u-2"})
		require.NoError(t, err)
		assert.NotEqual(t, created.ID, other.ID)
	})
}

func TestUserSettings(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		_, err := s.GetUserSettings(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)

		settings := models.DefaultUserSettings(1)
		settings.Temperature = 1.2
		require.NoError(t, s.SaveUserSettings(ctx, settings))

		got, err := s.GetUserSettings(ctx, 1)
		require.NoError(t, err)
		assert.InDelta(t, 1.2, got.Temperature, 1e-9)
		assert.Equal(t, 2048, got.MaxOutputTokens)

		settings.TopK = 5
		require.NoError(t, s.SaveUserSettings(ctx, settings))
		got, err = s.GetUserSettings(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 5, got.TopK)
	})
}

func TestConversations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		first := &models.Conversation{UserID: 1, Title: "First"}
		require.NoError(t, s.CreateConversation(ctx, first))
		time.Sleep(5 * time.Millisecond)
		second := &models.Conversation{UserID: 1, Title: "Second"}
		require.NoError(t, s.CreateConversation(ctx, second))
		require.NoError(t, s.CreateConversation(ctx, &models.Conversation{UserID: 2, Title: "Other"}))

		list, err := s.ListConversations(ctx, 1)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)

		// Another user's conversation is invisible
		_, err = s.GetConversation(ctx, first.ID, 2)
		assert.ErrorIs(t, err, ErrNotFound)

		time.Sleep(5 * time.Millisecond)
		require.NoError(t, s.UpdateConversationTitle(ctx, first.ID, 1, "Renamed"))
		got, err := s.GetConversation(ctx, first.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Title)

		list, err = s.ListConversations(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, first.ID, list[0].ID)

		assert.ErrorIs(t, s.UpdateConversationTitle(ctx, first.ID, 2, "x"), ErrNotFound)
		assert.ErrorIs(t, s.DeleteConversation(ctx, first.ID, 2), ErrNotFound)

		require.NoError(t, s.DeleteConversation(ctx, first.ID, 1))
		_, err = s.GetConversation(ctx, first.ID, 1)
		assert.ErrorIs(t, err, ErrNotFound)

		empty, err := s.ListConversations(ctx, 99)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestMessages(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		conv := &models.Conversation{UserID: 1, Title: "Chat"}
		require.NoError(t, s.CreateConversation(ctx, conv))
		createdAt := conv.UpdatedAt

		user := &models.MessageRecord{ConversationID: conv.ID, UserID: 1, Role: models.RoleUser, Content: "hi"}
		require.NoError(t, s.CreateMessage(ctx, user))

		assistant := &models.MessageRecord{ConversationID: conv.ID, UserID: 1, Role: models.RoleAssistant}
		require.NoError(t, assistant.EncodeStructured(&models.StructuredResponse{
			Goals:    []string{"g"},
			Output:   "out",
			FullText: "GOALS:\n- g",
		}))
		assistant.ThinkingStatus = "complete"
		require.NoError(t, s.CreateMessage(ctx, assistant))

		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hi", msgs[0].Content)
		assert.Nil(t, msgs[0].Goals)
		assert.False(t, msgs[0].HasStructure())

		structured := msgs[1].Structured()
		assert.Equal(t, []string{"g"}, structured.Goals)
		assert.Equal(t, "out", structured.Output)
		assert.Equal(t, "complete", msgs[1].ThinkingStatus)

		got, err := s.GetConversation(ctx, conv.ID, 1)
		require.NoError(t, err)
		assert.False(t, got.UpdatedAt.Before(createdAt))

		assert.ErrorIs(t, s.CreateMessage(ctx, &models.MessageRecord{ConversationID: 999, Role: models.RoleUser}), ErrNotFound)

		require.NoError(t, s.DeleteConversation(ctx, conv.ID, 1))
		msgs, err = s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestExports(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		conv := &models.Conversation{UserID: 1, Title: "Chat"}
		require.NoError(t, s.CreateConversation(ctx, conv))

		for _, format := range []string{models.ExportMarkdown, models.ExportHTML} {
			require.NoError(t, s.CreateExport(ctx, &models.Export{
				UserID: 1, ConversationID: conv.ID, Format: format, FileName: "chat." + format,
			}))
		}

		exports, err := s.ListExports(ctx, 1, conv.ID)
		require.NoError(t, err)
		require.Len(t, exports, 2)
		assert.Equal(t, models.ExportHTML, exports[0].Format)

		others, err := s.ListExports(ctx, 2, conv.ID)
		require.NoError(t, err)
		assert.Empty(t, others)
	})
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops map[string]string
}

func (f *fakeRecorder) RecordStorageOperation(operation, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ops == nil {
		f.ops = make(map[string]string)
	}
	f.ops[operation] = status
}

func TestManager_RecordsOperations(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rec := &fakeRecorder{}
	m := NewManagerWithStorage(NewMemoryStorage(), rec, logger)
	ctx := context.Background()

	_, err := m.GetUserByOpenID(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.UpsertUser(ctx, &models.User{OpenID: "a"})
	require.NoError(t, err)

	assert.Equal(t, "not_found", rec.ops["get_user"])
	assert.Equal(t, "success", rec.ops["upsert_user"])
}

func TestNewManager(t *testing.T) {
	logger, _ := test.NewNullLogger()

	m, err := NewManager(&config.StorageConfig{Type: "memory"}, nil, logger)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m, err = NewManager(&config.StorageConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "nested", "aether.db")},
	}, nil, logger)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = NewManager(&config.StorageConfig{Type: "postgres"}, nil, logger)
	assert.Error(t, err)
}

func TestMessageRecord_NullColumnsRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		conv := &models.Conversation{UserID: 1, Title: "Legacy"}
		require.NoError(t, s.CreateConversation(ctx, conv))

		// A row with only some structured columns set
		msg := &models.MessageRecord{
			ConversationID: conv.ID, UserID: 1, Role: models.RoleAssistant,
			Content: "plain answer", Output: strPtr(""), Goals: strPtr("not json"),
		}
		require.NoError(t, s.CreateMessage(ctx, msg))

		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		structured := msgs[0].Structured()
		assert.Equal(t, []string{models.FallbackGoal}, structured.Goals)
		assert.Equal(t, "plain answer", structured.Output)
		assert.Equal(t, models.FallbackFormula, structured.Formula)
	})
}
