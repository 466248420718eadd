package schedule

import (
	"context"
	"sync"
)

// MemoryCatalog is an in-memory Catalog for tests and local runs.
type MemoryCatalog struct {
	mu        sync.RWMutex
	schedules map[int64]Schedule
}

var _ Catalog = (*MemoryCatalog)(nil)

// NewMemoryCatalog creates a catalog seeded with the given schedules.
func NewMemoryCatalog(seed ...Schedule) *MemoryCatalog {
	c := &MemoryCatalog{schedules: make(map[int64]Schedule)}
	for _, s := range seed {
		c.schedules[s.ID] = s
	}
	return c
}

func (c *MemoryCatalog) Get(_ context.Context, id int64) (*Schedule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schedules[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
