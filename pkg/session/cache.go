// Package session holds the per-conversation state of the analytics agent:
// the single-slot result cache that charting and report export read from,
// the conversation memory, and a registry that expires idle sessions.
package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/omixlabs/seqdesk/pkg/store"
)

// DefaultFreshnessWindow is how long a cached result set may be consumed
// by charting and report export before a fresh query is required.
const DefaultFreshnessWindow = 120 * time.Second

// CachedResultSet is the snapshot held by the result cache: the last
// successful non-empty query result plus the statement that produced it.
type CachedResultSet struct {
	Columns   []string
	Rows      []store.Row
	Query     string
	CreatedAt time.Time
}

// ResultCache is a single-slot cache. Storing a new result replaces the
// previous one; charts and reports always describe the latest data.
type ResultCache struct {
	clock  clockwork.Clock
	window time.Duration

	mu   sync.Mutex
	slot *CachedResultSet
}

func NewResultCache(clock clockwork.Clock, window time.Duration) *ResultCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &ResultCache{clock: clock, window: window}
}

// Store replaces the slot with a new result set stamped at the current time.
func (c *ResultCache) Store(columns []string, rows []store.Row, query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot = &CachedResultSet{
		Columns:   columns,
		Rows:      rows,
		Query:     query,
		CreatedAt: c.clock.Now(),
	}
}

// Read returns the cached result set regardless of age. The second return
// is false when the slot is empty.
func (c *ResultCache) Read() (CachedResultSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil {
		return CachedResultSet{}, false
	}
	return *c.slot, true
}

// IsFresh reports whether the slot holds a result younger than the
// freshness window. An empty slot is never fresh.
func (c *ResultCache) IsFresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil {
		return false
	}
	return c.clock.Since(c.slot.CreatedAt) <= c.window
}

// Clear empties the slot.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot = nil
}

// Window returns the freshness window, for messages that tell the model
// how recent a result must be.
func (c *ResultCache) Window() time.Duration {
	return c.window
}
