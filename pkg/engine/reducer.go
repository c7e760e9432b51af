package engine

import (
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

// FailureMessage replaces the trailing assistant turn when a stream fails.
const FailureMessage = "답변 생성 중 오류가 발생하였습니다."

// Effect is a side-channel notification produced by the reducer. Effects are
// returned to the caller instead of being delivered from inside the reducer,
// so collaborators never run while session state is locked.
type Effect interface {
	isEffect()
}

// ChatBound is emitted once, when a new conversation learns its server
// assigned id from the first event of its first stream.
type ChatBound struct {
	ChatID string
}

// TitleChanged asks the conversation list to (re)label a chat.
type TitleChanged struct {
	ChatID string
	Title  string
}

// ProductsChanged publishes the current candidate product set of a pending
// turn. A nil Products clears the preview.
type ProductsChanged struct {
	ChatID   string
	Products []chat.Product
}

func (ChatBound) isEffect()       {}
func (TitleChanged) isEffect()    {}
func (ProductsChanged) isEffect() {}

// Reducer folds events of one conversation into its transcript. It is not
// safe for concurrent use; Session serializes all calls.
type Reducer struct {
	transcript  *Transcript
	state       State
	pending     string
	chatID      string
	failureText string
}

type ReducerOption func(*Reducer)

func WithFailureMessage(msg string) ReducerOption {
	return func(r *Reducer) {
		if msg != "" {
			r.failureText = msg
		}
	}
}

func NewReducer(options ...ReducerOption) *Reducer {
	r := &Reducer{
		transcript:  NewTranscript(),
		failureText: FailureMessage,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

func (r *Reducer) State() State {
	return r.state
}

// Pending returns the transient status line shown while waiting for the
// first response frame.
func (r *Reducer) Pending() string {
	return r.pending
}

func (r *Reducer) ChatID() string {
	return r.chatID
}

func (r *Reducer) Messages() []chat.ChatMessage {
	return r.transcript.Messages()
}

// Load replaces the conversation with an existing one.
func (r *Reducer) Load(chatID string, msgs []chat.ChatMessage) {
	r.transcript.reset(msgs)
	r.chatID = chatID
	r.state = StateIdle
	r.pending = ""
}

// Reset starts a new conversation whose id will be assigned by the server.
func (r *Reducer) Reset() {
	r.Load("", nil)
}

// Begin records the user's message and opens the stream state.
func (r *Reducer) Begin(text string) {
	r.transcript.Append(chat.UserMessage(text))
	r.state = StatePending
	r.pending = ""
}

// Apply folds one event. Events that arrive while no stream is open, or after
// the stream reached a terminal state, are ignored.
func (r *Reducer) Apply(ev chat.SSEEvent) []Effect {
	if !r.state.Active() {
		log.Debug().
			Str("component", "engine").
			Str("chat_id", ev.ChatID).
			Str("status", string(ev.Status)).
			Str("state", r.state.String()).
			Msg("ignoring event outside of an open stream")
		return nil
	}

	var effects []Effect
	if ev.ChatID != "" {
		switch {
		case r.chatID == "":
			r.chatID = ev.ChatID
			effects = append(effects, ChatBound{ChatID: ev.ChatID})
		case r.chatID != ev.ChatID:
			log.Warn().
				Str("component", "engine").
				Str("chat_id", r.chatID).
				Str("event_chat_id", ev.ChatID).
				Msg("event chat id does not match the bound conversation")
		}
	}

	switch ev.Status {
	case chat.StatusPending:
		effects = append(effects, r.onPending(ev.Content))
	case chat.StatusTitle:
		if ev.Content.HasMessage() {
			effects = append(effects, TitleChanged{ChatID: r.titleChatID(ev), Title: ev.Content.Text()})
		}
	case chat.StatusResponse:
		r.onResponse(ev.Content)
	case chat.StatusStop:
		r.Finish()
	case chat.StatusFailed:
		r.fail()
	default:
		log.Warn().
			Str("component", "engine").
			Str("chat_id", ev.ChatID).
			Str("status", string(ev.Status)).
			Msg("ignoring event with unknown status")
	}
	return effects
}

func (r *Reducer) titleChatID(ev chat.SSEEvent) string {
	if ev.ChatID != "" {
		return ev.ChatID
	}
	return r.chatID
}

func (r *Reducer) onPending(content *chat.MessageContent) Effect {
	if content.HasMessage() {
		r.pending = content.Text()
	}
	r.state = StatePending
	var products []chat.Product
	if content.HasProducts() {
		products = chat.CloneProducts(content.Products)
	}
	return ProductsChanged{ChatID: r.chatID, Products: products}
}

func (r *Reducer) onResponse(content *chat.MessageContent) {
	r.pending = ""
	r.state = StateStreaming

	switch t := r.transcript.tail().(type) {
	case openTurn:
		merged := chat.MessageContent{
			Message:  chat.String(t.text + content.Text()),
			Products: t.products,
		}
		if content.HasProducts() {
			merged.Products = chat.CloneProducts(content.Products)
		}
		r.transcript.replaceLast(chat.ChatMessage{Role: chat.RoleAssistant, Content: merged})
	case noOpenTurn:
		var products []chat.Product
		if content.HasProducts() {
			products = chat.CloneProducts(content.Products)
		}
		r.transcript.Append(chat.ChatMessage{
			Role: chat.RoleAssistant,
			Content: chat.MessageContent{
				Message:  chat.String(content.Text()),
				Products: products,
			},
		})
	}
}

// Finish finalizes the stream, keeping whatever was accumulated. It is used
// for stop frames, the natural end of the stream and user cancellation, and
// is a no-op once the stream is no longer open.
func (r *Reducer) Finish() {
	if !r.state.Active() {
		return
	}
	r.pending = ""
	r.state = StateStopped
}

// Fail records a transport failure. The trailing assistant turn, if any, is
// replaced with the failure message; otherwise the message is appended.
// Failures after the stream already finished are ignored.
func (r *Reducer) Fail(err error) {
	if !r.state.Active() {
		return
	}
	log.Warn().Err(err).Str("component", "engine").Str("chat_id", r.chatID).Msg("chat stream failed")
	r.fail()
}

func (r *Reducer) fail() {
	r.pending = ""
	r.state = StateFailed
	msg := chat.ChatMessage{
		Role:    chat.RoleAssistant,
		Content: chat.MessageContent{Message: chat.String(r.failureText)},
	}
	if last, ok := r.transcript.Last(); ok && last.Role == chat.RoleAssistant {
		r.transcript.replaceLast(msg)
		return
	}
	r.transcript.Append(msg)
}
