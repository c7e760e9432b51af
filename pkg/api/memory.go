package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

const MemoriesPath = "/api/v1/users/me/memories"

var ErrMemoryNotFound = errors.New("memory not found")

type wireMemory struct {
	MemoryID  string `json:"memory_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (w wireMemory) decode() (chat.Memory, error) {
	created, err := parseTime(w.CreatedAt)
	if err != nil {
		return chat.Memory{}, err
	}
	updated, err := parseTime(w.UpdatedAt)
	if err != nil {
		return chat.Memory{}, err
	}
	return chat.Memory{MemoryID: w.MemoryID, Content: w.Content, CreatedAt: created, UpdatedAt: updated}, nil
}

// ListMemories returns the memories the backend keeps about the current user.
func (c *Client) ListMemories(ctx context.Context, page Page) (*chat.MemoryList, error) {
	var wire struct {
		Size   int          `json:"size"`
		Offset int          `json:"offset"`
		Items  []wireMemory `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, MemoriesPath+"?"+page.query().Encode(), ErrMemoryNotFound, &wire); err != nil {
		return nil, errors.Wrap(err, "list memories")
	}

	out := &chat.MemoryList{Size: wire.Size, Offset: wire.Offset, Items: make([]chat.Memory, 0, len(wire.Items))}
	for _, it := range wire.Items {
		m, err := it.decode()
		if err != nil {
			return nil, errors.Wrapf(err, "list memories: item %s", it.MemoryID)
		}
		out.Items = append(out.Items, m)
	}
	return out, nil
}

// DeleteMemory removes one memory. Unknown ids yield ErrMemoryNotFound.
func (c *Client) DeleteMemory(ctx context.Context, memoryID string) error {
	memoryID = strings.TrimSpace(memoryID)
	if memoryID == "" {
		return errors.New("delete memory: empty memory id")
	}
	if err := c.do(ctx, http.MethodDelete, MemoriesPath+"/"+url.PathEscape(memoryID), ErrMemoryNotFound, nil); err != nil {
		return errors.Wrapf(err, "delete memory %s", memoryID)
	}
	return nil
}
