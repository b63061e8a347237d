// Package memory provides an in-memory cache implementation with TTL
// support. Suitable for single-process deployments and tests; claims
// stored here are not visible to other gateway processes.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/vitrin-io/vitrin-go/internal/platform/cache"
)

func init() {
	cache.RegisterDriver("memory", func(options map[string]any) (cache.Cache, error) {
		var opts Options
		if options != nil {
			if err := mapstructure.Decode(options, &opts); err != nil {
				return nil, fmt.Errorf("memory cache options: %w", err)
			}
		}

		defaultTTL := 15 * time.Minute
		cleanupInterval := 5 * time.Minute
		if opts.DefaultTTLSeconds > 0 {
			defaultTTL = time.Duration(opts.DefaultTTLSeconds) * time.Second
		}
		if opts.CleanupIntervalSeconds > 0 {
			cleanupInterval = time.Duration(opts.CleanupIntervalSeconds) * time.Second
		}

		return New(defaultTTL, cleanupInterval), nil
	})
}

// Options is the [cache.options] shape for the memory driver.
type Options struct {
	DefaultTTLSeconds      int `mapstructure:"default_ttl_seconds"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

// item represents a cached value with expiration.
type item struct {
	value     []byte
	expiresAt time.Time
}

func (i *item) isExpired() bool {
	return time.Now().After(i.expiresAt)
}

// Cache is an in-memory TTL cache.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]*item
	defaultTTL time.Duration
	closed     bool
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a memory cache with the given default TTL. A janitor
// goroutine removes expired entries every cleanupInterval; a
// non-positive interval disables the janitor (expired entries are
// still invisible to Get/Exists).
func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	c := &Cache{
		items:      make(map[string]*item),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	}

	return c
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, it := range c.items {
		if it.isExpired() {
			delete(c.items, key)
		}
	}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, cache.ErrClosed
	}

	it, ok := c.items[key]
	if !ok || it.isExpired() {
		return nil, cache.ErrNotFound
	}

	// Copy so callers can't mutate the stored value.
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return cache.ErrClosed
	}

	c.items[key] = &item{
		value:     stored,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return cache.ErrClosed
	}

	delete(c.items, key)
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false, cache.ErrClosed
	}

	it, ok := c.items[key]
	return ok && !it.isExpired(), nil
}

func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.items = nil
	return nil
}

var _ cache.Cache = (*Cache)(nil)
