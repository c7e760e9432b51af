package engine

import "sync"

// CancellationController holds the cancel function of the single open
// stream. Starting a session overwrites whatever was held before.
type CancellationController struct {
	mu     sync.Mutex
	cancel func()
	gen    uint64
}

// StartSession stores cancel and returns a token identifying this session
// for Release.
func (c *CancellationController) StartSession(cancel func()) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cancel = cancel
	return c.gen
}

// CancelActive invokes and clears the held function. It reports whether
// there was anything to cancel; with nothing held it is a no-op.
func (c *CancellationController) CancelActive() bool {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Release forgets the cancel function without invoking it, provided it still
// belongs to the session identified by token.
func (c *CancellationController) Release(token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == token {
		c.cancel = nil
	}
}

func (c *CancellationController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}
