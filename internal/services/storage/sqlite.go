package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cf-ai-aether-go/internal/models"
)

// SQLiteStorage implements storage with a SQLite database
type SQLiteStorage struct {
	db *sql.DB
}

const createTables = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	open_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'user',
	created_at DATETIME NOT NULL,
	last_signed_in DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id INTEGER PRIMARY KEY,
	temperature REAL NOT NULL,
	top_p REAL NOT NULL,
	top_k INTEGER NOT NULL,
	max_output_tokens INTEGER NOT NULL,
	system_prompt TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	goals TEXT,
	constraints TEXT,
	output TEXT,
	formula TEXT,
	process TEXT,
	thinking_status TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

CREATE TABLE IF NOT EXISTS exports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	conversation_id INTEGER NOT NULL,
	format TEXT NOT NULL,
	file_name TEXT NOT NULL,
	file_url TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exports_conversation ON exports(conversation_id, user_id);
`

// NewSQLiteStorage opens dbPath and runs auto-migration
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	// modernc serializes writes per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate storage db: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLiteStorage) GetUserByOpenID(ctx context.Context, openID string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, open_id, name, email, role, created_at, last_signed_in FROM users WHERE open_id = ?`,
		openID,
	).Scan(&u.ID, &u.OpenID, &u.Name, &u.Email, &u.Role, &u.CreatedAt, &u.LastSignedIn)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *SQLiteStorage) UpsertUser(ctx context.Context, user *models.User) (*models.User, error) {
	now := time.Now().UTC()
	role := user.Role
	if role == "" {
		role = "user"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (open_id, name, email, role, created_at, last_signed_in)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(open_id) DO UPDATE SET
		   name = excluded.name,
		   email = excluded.email,
		   role = excluded.role,
		   last_signed_in = excluded.last_signed_in`,
		user.OpenID, user.Name, user.Email, role, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUserByOpenID(ctx, user.OpenID)
}

func (s *SQLiteStorage) GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	var st models.UserSettings
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, temperature, top_p, top_k, max_output_tokens, system_prompt, updated_at
		 FROM user_settings WHERE user_id = ?`,
		userID,
	).Scan(&st.UserID, &st.Temperature, &st.TopP, &st.TopK, &st.MaxOutputTokens, &st.SystemPrompt, &st.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (s *SQLiteStorage) SaveUserSettings(ctx context.Context, settings *models.UserSettings) error {
	settings.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, temperature, top_p, top_k, max_output_tokens, system_prompt, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   temperature = excluded.temperature,
		   top_p = excluded.top_p,
		   top_k = excluded.top_k,
		   max_output_tokens = excluded.max_output_tokens,
		   system_prompt = excluded.system_prompt,
		   updated_at = excluded.updated_at`,
		settings.UserID, settings.Temperature, settings.TopP, settings.TopK,
		settings.MaxOutputTokens, settings.SystemPrompt, settings.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, title, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.UserID, conv.Title, conv.Description, now, now,
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	conv.ID = id
	conv.CreatedAt = now
	conv.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, description, created_at, updated_at
		 FROM conversations WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]models.Conversation, 0)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortConversations(convs)
	return convs, nil
}

func (s *SQLiteStorage) GetConversation(ctx context.Context, id, userID int64) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, description, created_at, updated_at
		 FROM conversations WHERE id = ? AND user_id = ?`,
		id, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *SQLiteStorage) UpdateConversationTitle(ctx context.Context, id, userID int64, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		title, time.Now().UTC(), id, userID,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStorage) DeleteConversation(ctx context.Context, id, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM exports WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete exports: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStorage) CreateMessage(ctx context.Context, msg *models.MessageRecord) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, user_id, role, content, goals, constraints, output, formula, process, thinking_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.UserID, msg.Role, msg.Content,
		msg.Goals, msg.Constraints, msg.Output, msg.Formula, msg.Process,
		msg.ThinkingStatus, now,
	)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	msg.ID = id
	msg.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) ListMessages(ctx context.Context, conversationID int64) ([]models.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, goals, constraints, output, formula, process, thinking_status, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]models.MessageRecord, 0)
	for rows.Next() {
		var m models.MessageRecord
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content,
			&m.Goals, &m.Constraints, &m.Output, &m.Formula, &m.Process,
			&m.ThinkingStatus, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStorage) CreateExport(ctx context.Context, export *models.Export) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exports (user_id, conversation_id, format, file_name, file_url, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		export.UserID, export.ConversationID, export.Format, export.FileName, export.FileURL, now,
	)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	export.ID = id
	export.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) ListExports(ctx context.Context, userID, conversationID int64) ([]models.Export, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, format, file_name, file_url, created_at
		 FROM exports WHERE user_id = ? AND conversation_id = ? ORDER BY id DESC`,
		userID, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()

	exports := make([]models.Export, 0)
	for rows.Next() {
		var e models.Export
		if err := rows.Scan(&e.ID, &e.UserID, &e.ConversationID, &e.Format, &e.FileName, &e.FileURL, &e.CreatedAt); err != nil {
			return nil, err
		}
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

// Close releases resources
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
