// Package redis provides a Redis/Valkey cache driver backed by
// valkey-go. Every gateway process pointed at the same server sees the
// same keys, which is what makes device claims resumable across
// load-balanced processes.
package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/valkey-io/valkey-go"

	"github.com/vitrin-io/vitrin-go/internal/platform/cache"
)

func init() {
	cache.RegisterDriver("redis", func(options map[string]any) (cache.Cache, error) {
		cfg := DefaultConfig()
		if options != nil {
			if err := mapstructure.Decode(options, cfg); err != nil {
				return nil, fmt.Errorf("redis cache options: %w", err)
			}
		}
		return New(cfg)
	})
}

// Config holds Redis connection configuration.
type Config struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"-"`
	DefaultTTL  time.Duration `mapstructure:"-"`
}

// DefaultConfig returns sensible defaults for the Redis connection.
func DefaultConfig() *Config {
	return &Config{
		Addr:        "localhost:6379",
		Password:    "",
		DB:          0,
		DialTimeout: 5 * time.Second,
		DefaultTTL:  15 * time.Minute,
	}
}

// Cache wraps a valkey client. The zero TTL on Set falls back to the
// configured default so claim entries always expire.
type Cache struct {
	client     valkey.Client
	defaultTTL time.Duration
}

// New connects to the configured server and verifies it with a PING.
// Fails fast when the server is unreachable; the claim store must not
// start against a dead backend.
func New(cfg *Config) (*Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.Addr},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
		Dialer:      net.Dialer{Timeout: cfg.DialTimeout},
		// Claim entries are short-lived and mutated by other processes;
		// server-assisted client-side caching buys nothing here.
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis health check: %w", err)
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultConfig().DefaultTTL
	}

	return &Cache{client: client, defaultTTL: ttl}, nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, cache.ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	cmd := c.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Ex(ttl).Build()
	return c.client.Do(ctx, cmd).Error()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error()
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

var _ cache.Cache = (*Cache)(nil)
