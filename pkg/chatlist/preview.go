package chatlist

import (
	"sync"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

// Preview holds the candidate products published while a turn is pending.
// A nil product list means nothing to show.
type Preview struct {
	mu       sync.RWMutex
	products []chat.Product
}

func NewPreview() *Preview {
	return &Preview{}
}

func (p *Preview) SetProducts(products []chat.Product) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.products = chat.CloneProducts(products)
}

func (p *Preview) Reset() {
	p.SetProducts(nil)
}

func (p *Preview) Products() []chat.Product {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return chat.CloneProducts(p.products)
}
