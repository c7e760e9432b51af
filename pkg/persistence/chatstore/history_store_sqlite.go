package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

type SQLiteHistoryStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ HistoryStore = &SQLiteHistoryStore{}

func NewSQLiteHistoryStore(dsn string) (*SQLiteHistoryStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite history store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteHistoryStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds a DSN for a database file.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite history store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteHistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteHistoryStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite history store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chats (
		  chat_id TEXT PRIMARY KEY,
		  title TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL,
		  last_activity_ms INTEGER NOT NULL,
		  status TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS chats_by_last_activity
		  ON chats(last_activity_ms DESC, chat_id ASC);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
		  chat_id TEXT NOT NULL REFERENCES chats(chat_id) ON DELETE CASCADE,
		  seq INTEGER NOT NULL,
		  role TEXT NOT NULL,
		  content_json TEXT NOT NULL,
		  PRIMARY KEY (chat_id, seq)
		);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite history store: migrate")
		}
	}
	return nil
}

func (s *SQLiteHistoryStore) SaveTranscript(ctx context.Context, chatID string, status string, msgs []chat.ChatMessage) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite history store: db is nil")
	}
	chatID = normalizeChatID(chatID)
	if chatID == "" {
		return errors.New("sqlite history store: chatID is empty")
	}
	now := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite history store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (chat_id, title, created_at_ms, last_activity_ms, status)
		VALUES (?, '', ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			last_activity_ms = excluded.last_activity_ms,
			status = excluded.status
	`, chatID, now, now, status); err != nil {
		return errors.Wrap(err, "sqlite history store: upsert chat")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ?`, chatID); err != nil {
		return errors.Wrap(err, "sqlite history store: clear messages")
	}
	for i, m := range msgs {
		content, err := json.Marshal(m.Content)
		if err != nil {
			return errors.Wrap(err, "sqlite history store: marshal content")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (chat_id, seq, role, content_json) VALUES (?, ?, ?, ?)
		`, chatID, i, string(m.Role), string(content)); err != nil {
			return errors.Wrap(err, "sqlite history store: insert message")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite history store: commit")
	}
	return nil
}

func (s *SQLiteHistoryStore) SetTitle(ctx context.Context, chatID string, title string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite history store: db is nil")
	}
	chatID = normalizeChatID(chatID)
	if chatID == "" {
		return errors.New("sqlite history store: chatID is empty")
	}
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (chat_id, title, created_at_ms, last_activity_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET title = excluded.title
	`, chatID, title, now, now)
	if err != nil {
		return errors.Wrap(err, "sqlite history store: set title")
	}
	return nil
}

func (s *SQLiteHistoryStore) GetTranscript(ctx context.Context, chatID string) ([]chat.ChatMessage, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errors.New("sqlite history store: db is nil")
	}
	chatID = normalizeChatID(chatID)
	if _, ok, err := s.GetChat(ctx, chatID); err != nil || !ok {
		return nil, false, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content_json FROM chat_messages WHERE chat_id = ? ORDER BY seq ASC
	`, chatID)
	if err != nil {
		return nil, false, errors.Wrap(err, "sqlite history store: query messages")
	}
	defer func() { _ = rows.Close() }()

	msgs := []chat.ChatMessage{}
	for rows.Next() {
		var role, raw string
		if err := rows.Scan(&role, &raw); err != nil {
			return nil, false, errors.Wrap(err, "sqlite history store: scan message")
		}
		m := chat.ChatMessage{Role: chat.Role(role)}
		if err := json.Unmarshal([]byte(raw), &m.Content); err != nil {
			return nil, false, errors.Wrap(err, "sqlite history store: decode content")
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, errors.Wrap(err, "sqlite history store: iterate messages")
	}
	return msgs, true, nil
}

func (s *SQLiteHistoryStore) GetChat(ctx context.Context, chatID string) (ChatRecord, bool, error) {
	if s == nil || s.db == nil {
		return ChatRecord{}, false, errors.New("sqlite history store: db is nil")
	}
	chatID = normalizeChatID(chatID)
	if chatID == "" {
		return ChatRecord{}, false, errors.New("sqlite history store: chatID is empty")
	}
	var r ChatRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT c.chat_id, c.title, c.created_at_ms, c.last_activity_ms, c.status,
		       (SELECT COUNT(*) FROM chat_messages m WHERE m.chat_id = c.chat_id)
		FROM chats c WHERE c.chat_id = ?
	`, chatID).Scan(&r.ChatID, &r.Title, &r.CreatedAtMs, &r.LastActivityMs, &r.Status, &r.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatRecord{}, false, nil
	}
	if err != nil {
		return ChatRecord{}, false, errors.Wrap(err, "sqlite history store: get chat")
	}
	return r, true, nil
}

func (s *SQLiteHistoryStore) ListChats(ctx context.Context, limit int) ([]ChatRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite history store: db is nil")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chat_id, c.title, c.created_at_ms, c.last_activity_ms, c.status,
		       (SELECT COUNT(*) FROM chat_messages m WHERE m.chat_id = c.chat_id)
		FROM chats c
		ORDER BY c.last_activity_ms DESC, c.chat_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite history store: list chats")
	}
	defer func() { _ = rows.Close() }()

	records := make([]ChatRecord, 0)
	for rows.Next() {
		var r ChatRecord
		if err := rows.Scan(&r.ChatID, &r.Title, &r.CreatedAtMs, &r.LastActivityMs, &r.Status, &r.MessageCount); err != nil {
			return nil, errors.Wrap(err, "sqlite history store: scan chat")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite history store: iterate chats")
	}
	return records, nil
}

func (s *SQLiteHistoryStore) DeleteChat(ctx context.Context, chatID string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite history store: db is nil")
	}
	chatID = normalizeChatID(chatID)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite history store: begin")
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ?`, chatID); err != nil {
		return errors.Wrap(err, "sqlite history store: delete messages")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID); err != nil {
		return errors.Wrap(err, "sqlite history store: delete chat")
	}
	return errors.Wrap(tx.Commit(), "sqlite history store: commit")
}
