package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maithanhduyan/bibank/internal/domain"
)

func TestCacheSetAndGet(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	cache := NewCache(client)
	ctx := context.Background()

	if err := cache.Set(ctx, "watchlist:MALLORY", []byte{1}, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	val, err := cache.Get(ctx, "watchlist:MALLORY")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if len(val) != 1 || val[0] != 1 {
		t.Fatalf("expected [1], got %v", val)
	}

	if !mr.Exists("bibank:cache:watchlist:MALLORY") {
		t.Fatalf("expected prefixed key in redis")
	}
}

func TestCacheMiss(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	_, err := NewCache(client).Get(context.Background(), "absent")
	if !errors.Is(err, domain.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestCacheTTL(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	cache := NewCache(client)
	ctx := context.Background()

	if err := cache.Set(ctx, "short", []byte{0}, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := cache.Get(ctx, "short"); !errors.Is(err, domain.ErrCacheMiss) {
		t.Fatalf("expected expired key to miss, got %v", err)
	}
}

func TestCacheNamespacesKeys(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	if err := NewCache(client).Set(context.Background(), "watchlist:MALLORY", []byte{0}, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if !mr.Exists("bibank:cache:watchlist:MALLORY") {
		t.Fatalf("expected namespaced key, have %v", mr.Keys())
	}
}

func TestCacheDelete(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	cache := NewCache(client)
	ctx := context.Background()

	if err := cache.Set(ctx, "foo", []byte("bar"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if err := cache.Delete(ctx, "foo"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := cache.Get(ctx, "foo"); !errors.Is(err, domain.ErrCacheMiss) {
		t.Fatalf("expected cache miss after delete, got %v", err)
	}
}
