// Package responsecache keeps raw fetch payloads in an in-process LRU
// backed by an optional Redis tier. Cache failures are never fatal: they
// are logged and reported as misses.
package responsecache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Jinksi/heatmap-example/internal/core/observability"
	"github.com/Jinksi/heatmap-example/internal/logger"
)

type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type Cache struct {
	local     *lru.Cache[string, []byte]
	remote    Remote
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

type Options struct {
	LocalSize int
	TTL       time.Duration
	OpTimeout time.Duration
	Logger    *slog.Logger
}

func New(remote Remote, o Options) (*Cache, error) {
	if o.LocalSize <= 0 {
		o.LocalSize = 256
	}
	if o.TTL <= 0 {
		o.TTL = 10 * time.Minute
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 250 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	local, err := lru.New[string, []byte](o.LocalSize)
	if err != nil {
		return nil, fmt.Errorf("responsecache: lru: %w", err)
	}
	return &Cache{
		local:     local,
		remote:    remote,
		ttl:       o.TTL,
		opTimeout: o.OpTimeout,
		logger:    o.Logger,
	}, nil
}

// Get looks up key locally, then remotely; a remote hit warms the LRU.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.local.Get(key); ok {
		observability.IncResponseCache("local", "hit")
		return v, true
	}
	observability.IncResponseCache("local", "miss")
	if c.remote == nil {
		return nil, false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	v, ok, err := c.remote.Get(opCtx, key)
	if err != nil {
		observability.IncResponseCache("remote", "error")
		c.logger.WarnContext(ctx, "response cache get failed", "key", key, "err", err)
		return nil, false
	}
	if !ok {
		observability.IncResponseCache("remote", "miss")
		return nil, false
	}
	observability.IncResponseCache("remote", "hit")
	c.local.Add(key, v)
	return v, true
}

// Put stores val in both tiers.
func (c *Cache) Put(ctx context.Context, key string, val []byte) {
	c.local.Add(key, val)
	if c.remote == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.remote.Set(opCtx, key, val, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "response cache set failed", "key", key, "err", err)
	}
}

// Len reports the number of entries in the local tier.
func (c *Cache) Len() int { return c.local.Len() }
