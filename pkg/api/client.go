// Package api talks to the REST side of the chat backend: the paged chat
// list, the transcript of a single chat and the user's stored memories.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/transport"
)

const (
	ChatsPath       = "/api/v1/chats"
	DefaultPageSize = 20
)

var ErrChatNotFound = errors.New("chat not found")

// Page selects a window of a paged listing. A zero Size means DefaultPageSize.
type Page struct {
	Offset int
	Size   int
}

func (p Page) query() url.Values {
	size := p.Size
	if size <= 0 {
		size = DefaultPageSize
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("size", strconv.Itoa(size))
	return q
}

// Client shares base URL, HTTP client and credentials with the stream
// transport.
type Client struct {
	transport *transport.Client
}

func NewClient(t *transport.Client) *Client {
	return &Client{transport: t}
}

func (c *Client) ListChats(ctx context.Context, page Page) (*chat.ChatList, error) {
	var wire struct {
		Size   int           `json:"size"`
		Offset int           `json:"offset"`
		Items  []wirePreview `json:"items"`
	}
	if err := c.get(ctx, ChatsPath, page, &wire); err != nil {
		return nil, errors.Wrap(err, "list chats")
	}

	out := &chat.ChatList{Size: wire.Size, Offset: wire.Offset, Items: make([]chat.ChatPreview, 0, len(wire.Items))}
	for _, it := range wire.Items {
		p, err := it.decode()
		if err != nil {
			return nil, errors.Wrapf(err, "list chats: item %s", it.ChatID)
		}
		out.Items = append(out.Items, p)
	}
	return out, nil
}

// GetChat returns the stored transcript of chatID. ErrChatNotFound is
// returned for unknown ids.
func (c *Client) GetChat(ctx context.Context, chatID string, page Page) (*chat.ChatDetail, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, errors.New("get chat: empty chat id")
	}
	var detail chat.ChatDetail
	if err := c.get(ctx, ChatsPath+"/"+url.PathEscape(chatID), page, &detail); err != nil {
		return nil, errors.Wrapf(err, "get chat %s", chatID)
	}
	if detail.Items == nil {
		detail.Items = []chat.ChatMessage{}
	}
	return &detail, nil
}

func (c *Client) get(ctx context.Context, path string, page Page, into interface{}) error {
	return c.do(ctx, http.MethodGet, path+"?"+page.query().Encode(), ErrChatNotFound, into)
}

// do sends a request and decodes a JSON body into into, when into is set.
// A 404 is reported as notFound.
func (c *Client) do(ctx context.Context, method, path string, notFound error, into interface{}) error {
	u := c.transport.BaseURL() + path
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	c.transport.Authorize(ctx, req)

	log.Debug().Str("component", "api").Str("method", method).Str("url", u).Msg("request")
	resp, err := c.transport.HTTPClient().Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return notFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &transport.StatusError{StatusCode: resp.StatusCode, Body: errorDetail(body)}
	}
	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// errorDetail extracts the "detail" field of an error body when present.
func errorDetail(body []byte) string {
	var e struct {
		Detail interface{} `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Detail != nil {
		if s, ok := e.Detail.(string); ok {
			return s
		}
		return fmt.Sprint(e.Detail)
	}
	return strings.TrimSpace(string(body))
}

type wirePreview struct {
	ChatID    string `json:"chat_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (w wirePreview) decode() (chat.ChatPreview, error) {
	created, err := parseTime(w.CreatedAt)
	if err != nil {
		return chat.ChatPreview{}, err
	}
	updated, err := parseTime(w.UpdatedAt)
	if err != nil {
		return chat.ChatPreview{}, err
	}
	return chat.ChatPreview{ChatID: w.ChatID, Title: w.Title, CreatedAt: created, UpdatedAt: updated}, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTime accepts RFC 3339 timestamps and naive ISO timestamps, which are
// read as UTC.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognized timestamp %q", s)
}
