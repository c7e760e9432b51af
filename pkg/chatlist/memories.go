package chatlist

import (
	"context"
	"sync"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

// MemoryDeleter removes a memory on the backend.
type MemoryDeleter interface {
	DeleteMemory(ctx context.Context, memoryID string) error
}

// Memories is the local list of user memories. Entries leave the list only
// once the backend confirmed the delete.
type Memories struct {
	mu    sync.RWMutex
	items []chat.Memory
}

func NewMemories() *Memories {
	return &Memories{}
}

func (m *Memories) SetItems(items []chat.Memory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append([]chat.Memory(nil), items...)
}

func (m *Memories) Items() []chat.Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]chat.Memory(nil), m.items...)
}

func (m *Memories) Delete(ctx context.Context, d MemoryDeleter, memoryID string) error {
	if err := d.DeleteMemory(ctx, memoryID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	for _, it := range m.items {
		if it.MemoryID != memoryID {
			kept = append(kept, it)
		}
	}
	m.items = kept
	return nil
}
