package chatlist

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

// Store is the in-process conversation list, most recent first. Titles
// arrive from the stream as side-channel updates and are upserted here.
type Store struct {
	mu       sync.RWMutex
	items    []chat.ChatPreview
	now      func() time.Time
	onChange []func([]chat.ChatPreview)
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithChangeHook is called with a copy of the list after every mutation.
func WithChangeHook(f func([]chat.ChatPreview)) Option {
	return func(s *Store) {
		if f != nil {
			s.onChange = append(s.onChange, f)
		}
	}
}

func NewStore(options ...Option) *Store {
	s := &Store{now: time.Now}
	for _, o := range options {
		o(s)
	}
	return s
}

// SetItems replaces the list, typically with the server's chat list.
func (s *Store) SetItems(items []chat.ChatPreview) {
	s.mu.Lock()
	s.items = append([]chat.ChatPreview(nil), items...)
	snapshot := s.itemsLocked()
	s.mu.Unlock()
	s.changed(snapshot)
}

func (s *Store) Items() []chat.ChatPreview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemsLocked()
}

func (s *Store) itemsLocked() []chat.ChatPreview {
	out := make([]chat.ChatPreview, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Get(chatID string) (chat.ChatPreview, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.ChatID == chatID {
			return it, true
		}
	}
	return chat.ChatPreview{}, false
}

// UpdateTitle retitles an existing entry in place, or inserts a new entry at
// the front stamped with the current time.
func (s *Store) UpdateTitle(chatID string, title string) {
	s.UpdateTitleAt(chatID, title, time.Time{})
}

// UpdateTitleAt is UpdateTitle with an explicit timestamp for new entries. A
// zero updatedAt means now.
func (s *Store) UpdateTitleAt(chatID string, title string, updatedAt time.Time) {
	if chatID == "" {
		log.Warn().Str("component", "chatlist").Str("title", title).Msg("ignoring title update without chat id")
		return
	}

	s.mu.Lock()
	idx := -1
	for i, it := range s.items {
		if it.ChatID == chatID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		s.items[idx].Title = title
	} else {
		if updatedAt.IsZero() {
			updatedAt = s.now()
		}
		entry := chat.ChatPreview{ChatID: chatID, Title: title, CreatedAt: updatedAt, UpdatedAt: updatedAt}
		s.items = append([]chat.ChatPreview{entry}, s.items...)
	}
	snapshot := s.itemsLocked()
	s.mu.Unlock()

	log.Debug().Str("component", "chatlist").Str("chat_id", chatID).Bool("inserted", idx < 0).Msg("chat title updated")
	s.changed(snapshot)
}

func (s *Store) changed(items []chat.ChatPreview) {
	for _, f := range s.onChange {
		f(items)
	}
}
