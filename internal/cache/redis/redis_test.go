package redis_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/evetabi/contract/internal/cache/redis"
	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// These tests need a live server: TEST_REDIS_ADDR=localhost:6379 go test ./...
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := redis.New(ctx, config.RedisConfig{Addr: addr, PoolSize: 4})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManagerExclusive(t *testing.T) {
	c := testClient(t)
	lm := redis.NewLockManager(c)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, key, 5*time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second acquire = %v, want ErrLockHeld", err)
	}

	unlock()
	unlock() // idempotent

	again, err := lm.Acquire(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("acquire after unlock: %v", err)
	}
	again()
}

func TestPriceCacheRoundTrip(t *testing.T) {
	c := testClient(t)
	pc := redis.NewPriceCache(c, time.Minute)
	ctx := context.Background()
	symbol := "TEST" + uuid.NewString()[:8]

	if _, _, err := pc.GetPrice(ctx, symbol); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("missing symbol = %v, want ErrPriceUnavailable", err)
	}

	want := decimal.RequireFromString("50123.45")
	ts := time.Now()
	if err := pc.SetPrice(ctx, symbol, want, ts); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	got, gotTS, err := pc.GetPrice(ctx, symbol)
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("price = %s, want %s", got, want)
	}
	if gotTS.UnixNano() != ts.UnixNano() {
		t.Errorf("ts = %v, want %v", gotTS, ts)
	}
}
