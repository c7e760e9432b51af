package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the per-frame status tag carried by every streamed event.
type Status string

const (
	StatusPending  Status = "pending"
	StatusTitle    Status = "title"
	StatusResponse Status = "response"
	StatusStop     Status = "stop"
	StatusFailed   Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTitle, StatusResponse, StatusStop, StatusFailed:
		return true
	default:
		return false
	}
}

type ProductOption struct {
	Category *string `json:"category"`
	Value    *string `json:"value"`
}

// Product is an opaque structured result attached to an assistant turn.
// Every field is nullable on the wire and is passed through as received.
type Product struct {
	Name        *string         `json:"name"`
	ProductType *string         `json:"product_type"`
	Description *string         `json:"description"`
	Institution *string         `json:"institution"`
	Details     *string         `json:"details"`
	Tags        []string        `json:"tags"`
	Options     []ProductOption `json:"options"`
}

// MessageContent is a textual fragment and/or a product list.
//
// A nil Message means the field was absent. A nil Products slice means absent,
// while a non-nil empty slice is an explicit (empty) product list.
type MessageContent struct {
	Message  *string   `json:"message,omitempty"`
	Products []Product `json:"products,omitempty"`
}

func (c *MessageContent) HasMessage() bool {
	return c != nil && c.Message != nil
}

func (c *MessageContent) HasProducts() bool {
	return c != nil && c.Products != nil
}

// Text returns the message text or "" when absent.
func (c *MessageContent) Text() string {
	if c == nil || c.Message == nil {
		return ""
	}
	return *c.Message
}

func (c *MessageContent) Clone() *MessageContent {
	if c == nil {
		return nil
	}
	out := &MessageContent{Products: CloneProducts(c.Products)}
	if c.Message != nil {
		out.Message = String(*c.Message)
	}
	return out
}

type ChatMessage struct {
	Role    Role           `json:"role"`
	Content MessageContent `json:"content"`
}

func (m ChatMessage) Clone() ChatMessage {
	return ChatMessage{Role: m.Role, Content: *m.Content.Clone()}
}

func CloneMessages(msgs []ChatMessage) []ChatMessage {
	if msgs == nil {
		return nil
	}
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// CloneProducts copies a product list, keeping nil distinct from empty.
func CloneProducts(ps []Product) []Product {
	if ps == nil {
		return nil
	}
	out := make([]Product, len(ps))
	for i, p := range ps {
		cp := p
		if p.Tags != nil {
			cp.Tags = append([]string{}, p.Tags...)
		}
		if p.Options != nil {
			cp.Options = append([]ProductOption{}, p.Options...)
		}
		out[i] = cp
	}
	return out
}

// SSEEvent is the JSON payload of a single `data:` frame.
type SSEEvent struct {
	ChatID  string          `json:"chat_id"`
	Status  Status          `json:"status"`
	Content *MessageContent `json:"content"`
}

// ChatRequest is the body of the streaming POST. A nil ChatID is sent as null
// and asks the server to start a new conversation.
type ChatRequest struct {
	ChatID  *string `json:"chat_id"`
	Message string  `json:"message"`
}

type ChatPreview struct {
	ChatID    string    `json:"chat_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ChatList struct {
	Size   int           `json:"size"`
	Offset int           `json:"offset"`
	Items  []ChatPreview `json:"items"`
}

type ChatDetail struct {
	Size   int           `json:"size"`
	Offset int           `json:"offset"`
	Items  []ChatMessage `json:"items"`
}

// Memory is a fact the backend extracted about the user from past chats.
type Memory struct {
	MemoryID  string    `json:"memory_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MemoryList struct {
	Size   int      `json:"size"`
	Offset int      `json:"offset"`
	Items  []Memory `json:"items"`
}

func String(s string) *string {
	return &s
}

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: MessageContent{Message: String(text)}}
}
