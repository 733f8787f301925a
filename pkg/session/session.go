package session

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Session bundles the state of one conversation: its result cache and its
// memory. Sessions are cheap; servers create one per caller and the CLI
// uses a single session for its lifetime.
type Session struct {
	ID        string
	Cache     *ResultCache
	Memory    *Memory
	CreatedAt time.Time
}

func New(id string, clock clockwork.Clock, freshnessWindow time.Duration) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{
		ID:        id,
		Cache:     NewResultCache(clock, freshnessWindow),
		Memory:    NewMemory(),
		CreatedAt: clock.Now(),
	}
}

// Reset clears the conversation memory and the result cache. The caller
// is responsible for invalidating store-level caches alongside.
func (s *Session) Reset() {
	s.Memory.Clear()
	s.Cache.Clear()
}
