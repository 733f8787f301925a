package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
)

// DefaultIdleTTL is how long a session survives without being touched.
const DefaultIdleTTL = 30 * time.Minute

type RegistryConfig struct {
	Logger *slog.Logger

	// Clock stamps new sessions and drives cache freshness. Defaults to
	// the real clock.
	Clock clockwork.Clock

	// FreshnessWindow is applied to each session's result cache.
	FreshnessWindow time.Duration

	// IdleTTL evicts sessions that have not been touched. Defaults to
	// DefaultIdleTTL.
	IdleTTL time.Duration

	// OnEvict, if set, is called when an idle session is dropped.
	OnEvict func(*Session)
}

func (c *RegistryConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = DefaultFreshnessWindow
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = DefaultIdleTTL
	}
	return nil
}

// Registry tracks live sessions by ID and expires the idle ones. Reads
// extend a session's lease.
type Registry struct {
	log      *slog.Logger
	cfg      RegistryConfig
	sessions *ttlcache.Cache[string, *Session]
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sessions := ttlcache.New[string, *Session](
		ttlcache.WithTTL[string, *Session](cfg.IdleTTL),
	)
	r := &Registry{
		log:      cfg.Logger,
		cfg:      cfg,
		sessions: sessions,
	}
	sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Session]) {
		r.log.Debug("session evicted", "session_id", item.Key(), "reason", int(reason))
		if cfg.OnEvict != nil {
			cfg.OnEvict(item.Value())
		}
	})
	return r, nil
}

// Start runs the expiry loop until ctx is done.
func (r *Registry) Start(ctx context.Context) {
	go r.sessions.Start()
	go func() {
		<-ctx.Done()
		r.sessions.Stop()
	}()
}

// Get returns the session with the given ID, extending its lease.
func (r *Registry) Get(id string) (*Session, bool) {
	item := r.sessions.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// GetOrCreate returns the session with the given ID, creating it if
// needed. An empty ID allocates a fresh session with a generated ID.
func (r *Registry) GetOrCreate(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if sess, ok := r.Get(id); ok {
		return sess
	}

	sess := New(id, r.cfg.Clock, r.cfg.FreshnessWindow)
	r.sessions.Set(id, sess, ttlcache.DefaultTTL)
	r.log.Debug("session created", "session_id", id)
	return sess
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}
