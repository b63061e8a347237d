package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vitrin-io/vitrin-go/internal/platform/cache"
	"github.com/vitrin-io/vitrin-go/internal/platform/cache/redis"
)

func TestNew_FailFastUnreachable(t *testing.T) {
	cfg := &redis.Config{
		Addr:        "localhost:59999", // Unlikely to have Redis running here
		DialTimeout: 100 * time.Millisecond,
	}

	_, err := redis.New(cfg)
	if err == nil {
		t.Fatal("expected error when connecting to unreachable Redis, got nil")
	}
	t.Logf("Got expected error: %v", err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := redis.DefaultConfig()

	if cfg.Addr != "localhost:6379" {
		t.Errorf("expected default addr localhost:6379, got %s", cfg.Addr)
	}
	if cfg.DB != 0 {
		t.Errorf("expected default DB 0, got %d", cfg.DB)
	}
	if cfg.Password != "" {
		t.Errorf("expected empty default password, got %s", cfg.Password)
	}
}

func TestSetGetDelete(t *testing.T) {
	s := miniredis.RunT(t)

	c, err := redis.New(&redis.Config{Addr: s.Addr(), DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("expected 'value1', got %q", string(val))
	}

	exists, err := c.Exists(ctx, "key1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected key to exist")
	}

	if err := c.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err = c.Exists(ctx, "key1")
	if err != nil {
		t.Fatalf("Exists after delete failed: %v", err)
	}
	if exists {
		t.Error("expected key to not exist after delete")
	}
}

func TestGet_Missing(t *testing.T) {
	s := miniredis.RunT(t)

	c, err := redis.New(&redis.Config{Addr: s.Addr(), DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	defer c.Close()

	_, err = c.Get(context.Background(), "nope")
	if err != cache.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSet_TTLExpiry(t *testing.T) {
	s := miniredis.RunT(t)

	c, err := redis.New(&redis.Config{Addr: s.Addr(), DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	if err := c.Set(ctx, "claim", []byte("payload"), 10*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// miniredis advances TTLs manually
	s.FastForward(11 * time.Second)

	_, err = c.Get(ctx, "claim")
	if err != cache.ErrNotFound {
		t.Fatalf("expected ErrNotFound after TTL expiry, got %v", err)
	}
}

func TestDriverRegistration(t *testing.T) {
	s := miniredis.RunT(t)

	c, err := cache.New("redis", map[string]any{"addr": s.Addr()})
	if err != nil {
		t.Fatalf("cache.New(redis) failed: %v", err)
	}
	defer c.Close()

	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set through registry-built cache failed: %v", err)
	}
}
