package engine

import (
	"github.com/go-go-golems/streamchat/pkg/chat"
)

// turn describes the tail of the transcript: either there is no open
// assistant turn, or the trailing message is one that later response frames
// extend.
type turn interface {
	isTurn()
}

type noOpenTurn struct{}

type openTurn struct {
	text     string
	products []chat.Product
}

func (noOpenTurn) isTurn() {}
func (openTurn) isTurn()   {}

// Transcript is the ordered message list of one open conversation. It is
// append-only except for the in-place update of the trailing message.
type Transcript struct {
	messages []chat.ChatMessage
}

func NewTranscript(msgs ...chat.ChatMessage) *Transcript {
	return &Transcript{messages: chat.CloneMessages(msgs)}
}

func (t *Transcript) Len() int {
	return len(t.messages)
}

func (t *Transcript) Append(m chat.ChatMessage) {
	t.messages = append(t.messages, m)
}

// Messages returns a deep copy safe to hand to rendering code.
func (t *Transcript) Messages() []chat.ChatMessage {
	out := chat.CloneMessages(t.messages)
	if out == nil {
		return []chat.ChatMessage{}
	}
	return out
}

// Last returns the trailing message.
func (t *Transcript) Last() (chat.ChatMessage, bool) {
	if len(t.messages) == 0 {
		return chat.ChatMessage{}, false
	}
	return t.messages[len(t.messages)-1], true
}

func (t *Transcript) replaceLast(m chat.ChatMessage) {
	t.messages[len(t.messages)-1] = m
}

func (t *Transcript) reset(msgs []chat.ChatMessage) {
	t.messages = chat.CloneMessages(msgs)
}

// tail classifies the trailing message. An assistant message whose content
// carries a message field is an open turn; a product-only assistant message
// or a user message is not.
func (t *Transcript) tail() turn {
	last, ok := t.Last()
	if !ok || last.Role != chat.RoleAssistant || last.Content.Message == nil {
		return noOpenTurn{}
	}
	return openTurn{text: *last.Content.Message, products: last.Content.Products}
}
