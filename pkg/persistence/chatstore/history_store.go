package chatstore

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

// ChatRecord captures conversation-level metadata kept next to a locally
// persisted transcript.
type ChatRecord struct {
	ChatID         string `json:"chat_id"`
	Title          string `json:"title"`
	CreatedAtMs    int64  `json:"created_at_ms"`
	LastActivityMs int64  `json:"last_activity_ms"`
	MessageCount   int    `json:"message_count"`
	Status         string `json:"status"`
}

// Preview converts the record into the shape used by the conversation list.
func (r ChatRecord) Preview() chat.ChatPreview {
	return chat.ChatPreview{
		ChatID:    r.ChatID,
		Title:     r.Title,
		CreatedAt: time.UnixMilli(r.CreatedAtMs).UTC(),
		UpdatedAt: time.UnixMilli(r.LastActivityMs).UTC(),
	}
}

// HistoryStore keeps a local copy of every conversation the client has seen,
// so that transcripts can be browsed without the backend.
type HistoryStore interface {
	// SaveTranscript replaces the stored transcript of chatID and bumps its
	// activity timestamp.
	SaveTranscript(ctx context.Context, chatID string, status string, msgs []chat.ChatMessage) error
	// SetTitle upserts the title of chatID.
	SetTitle(ctx context.Context, chatID string, title string) error
	GetTranscript(ctx context.Context, chatID string) ([]chat.ChatMessage, bool, error)
	GetChat(ctx context.Context, chatID string) (ChatRecord, bool, error)
	// ListChats returns chats ordered by most recent activity.
	ListChats(ctx context.Context, limit int) ([]ChatRecord, error)
	DeleteChat(ctx context.Context, chatID string) error
	Close() error
}

const defaultListLimit = 200

func normalizeChatID(chatID string) string {
	return strings.TrimSpace(chatID)
}
