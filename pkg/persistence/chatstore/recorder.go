package chatstore

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/engine"
)

// Recorder persists session output into a HistoryStore. UpdateTitle serves
// as the session's title collaborator and StreamFinished as its completion
// hook. Store errors are logged; local history never fails a chat.
type Recorder struct {
	store   HistoryStore
	timeout time.Duration
}

func NewRecorder(store HistoryStore) *Recorder {
	return &Recorder{store: store, timeout: 5 * time.Second}
}

func (r *Recorder) UpdateTitle(chatID string, title string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.SetTitle(ctx, chatID, title); err != nil {
		log.Warn().Err(err).Str("component", "chatstore").Str("chat_id", chatID).Msg("failed to persist chat title")
	}
}

// StreamFinished saves the transcript of a finalized stream. Conversations
// that never got a server id are not saved.
func (r *Recorder) StreamFinished(snap engine.Snapshot) {
	if snap.ChatID == "" {
		log.Debug().Str("component", "chatstore").Int("messages", len(snap.Messages)).Msg("not persisting conversation without chat id")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.SaveTranscript(ctx, snap.ChatID, snap.State.String(), snap.Messages); err != nil {
		log.Warn().Err(err).Str("component", "chatstore").Str("chat_id", snap.ChatID).Msg("failed to persist transcript")
		return
	}
	log.Debug().Str("component", "chatstore").Str("chat_id", snap.ChatID).Int("messages", len(snap.Messages)).Msg("transcript persisted")
}
