package chatstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

// InMemoryHistoryStore is a HistoryStore used when no database file is
// configured. It mirrors the ordering semantics of the SQLite store.
type InMemoryHistoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	chats       map[string]ChatRecord
	transcripts map[string][]chat.ChatMessage
}

var _ HistoryStore = &InMemoryHistoryStore{}

func NewInMemoryHistoryStore() *InMemoryHistoryStore {
	return &InMemoryHistoryStore{
		now:         time.Now,
		chats:       map[string]ChatRecord{},
		transcripts: map[string][]chat.ChatMessage{},
	}
}

func (s *InMemoryHistoryStore) Close() error { return nil }

func (s *InMemoryHistoryStore) SaveTranscript(_ context.Context, chatID string, status string, msgs []chat.ChatMessage) error {
	chatID = normalizeChatID(chatID)
	if chatID == "" {
		return errors.New("in-memory history store: chatID is empty")
	}
	now := s.now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.chats[chatID]
	if !ok {
		r = ChatRecord{ChatID: chatID, CreatedAtMs: now}
	}
	r.LastActivityMs = now
	r.Status = status
	r.MessageCount = len(msgs)
	s.chats[chatID] = r
	s.transcripts[chatID] = chat.CloneMessages(msgs)
	return nil
}

func (s *InMemoryHistoryStore) SetTitle(_ context.Context, chatID string, title string) error {
	chatID = normalizeChatID(chatID)
	if chatID == "" {
		return errors.New("in-memory history store: chatID is empty")
	}
	now := s.now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.chats[chatID]
	if !ok {
		r = ChatRecord{ChatID: chatID, CreatedAtMs: now, LastActivityMs: now}
	}
	r.Title = title
	s.chats[chatID] = r
	return nil
}

func (s *InMemoryHistoryStore) GetTranscript(_ context.Context, chatID string) ([]chat.ChatMessage, bool, error) {
	chatID = normalizeChatID(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return nil, false, nil
	}
	msgs := chat.CloneMessages(s.transcripts[chatID])
	if msgs == nil {
		msgs = []chat.ChatMessage{}
	}
	return msgs, true, nil
}

func (s *InMemoryHistoryStore) GetChat(_ context.Context, chatID string) (ChatRecord, bool, error) {
	chatID = normalizeChatID(chatID)
	if chatID == "" {
		return ChatRecord{}, false, errors.New("in-memory history store: chatID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.chats[chatID]
	return r, ok, nil
}

func (s *InMemoryHistoryStore) ListChats(_ context.Context, limit int) ([]ChatRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]ChatRecord, 0, len(s.chats))
	for _, r := range s.chats {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastActivityMs == records[j].LastActivityMs {
			return records[i].ChatID < records[j].ChatID
		}
		return records[i].LastActivityMs > records[j].LastActivityMs
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *InMemoryHistoryStore) DeleteChat(_ context.Context, chatID string) error {
	chatID = normalizeChatID(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	delete(s.transcripts, chatID)
	return nil
}
