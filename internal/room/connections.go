package room

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Connections maps client IDs to their live transport.
type Connections struct {
	logger *slog.Logger

	mu   sync.Mutex
	byID map[string]Handle
}

func NewConnections(logger *slog.Logger) *Connections {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connections{
		logger: logger,
		byID:   make(map[string]Handle),
	}
}

// Add stores h under id, overwriting any previous handle. Callers replacing
// a live connection must close the old handle first.
func (c *Connections) Add(id string, h Handle) {
	c.mu.Lock()
	_, replaced := c.byID[id]
	c.byID[id] = h
	total := len(c.byID)
	c.mu.Unlock()

	if replaced {
		c.logger.Info("connection replaced", "client_id", id, "total", total)
	} else {
		c.logger.Info("connection added", "client_id", id, "total", total)
	}
}

func (c *Connections) Get(id string) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.byID[id]
	return h, ok
}

func (c *Connections) Remove(id string) {
	c.mu.Lock()
	delete(c.byID, id)
	c.mu.Unlock()
}

// RemoveIf deletes id only while it still maps to h, and reports whether it
// did. A connection that was replaced uses this so its late cleanup cannot
// evict its replacement.
func (c *Connections) RemoveIf(id string, h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.byID[id]
	if !ok || cur != h {
		return false
	}
	delete(c.byID, id)
	return true
}

// IsCurrent reports whether h is the handle registered for id.
func (c *Connections) IsCurrent(id string, h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.byID[id]
	return ok && cur == h
}

func (c *Connections) AllExcept(id string) []Entry {
	return lo.Filter(c.All(), func(e Entry, _ int) bool { return e.ID != id })
}

func (c *Connections) All() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.MapToSlice(c.byID, func(id string, h Handle) Entry {
		return Entry{ID: id, Handle: h}
	})
}

func (c *Connections) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}
