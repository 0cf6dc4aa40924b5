package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"flowerbelle/backend/internal/domain"
)

func newIntegrationCache(t *testing.T) *RedisTransactionCache {
	t.Helper()
	addr := os.Getenv("FLOWERBELLE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set FLOWERBELLE_TEST_REDIS_ADDR to run redis integration test")
	}

	c := NewRedisTransactionCache(addr, "", 0, time.Minute)
	t.Cleanup(func() {
		_ = c.Close()
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return c
}

func TestRedisCacheTombstoneBlocksStaleWrite(t *testing.T) {
	c := newIntegrationCache(t)
	ctx := context.Background()
	id := time.Now().UnixNano()
	t.Cleanup(func() {
		_ = c.client.Del(context.Background(), transactionKey(id)).Err()
	})

	completed := domain.TransactionDetail{
		SalesTransaction: domain.SalesTransaction{ID: id, TransactionNumber: "TXN-20260214-0001", Status: domain.TxStatusCompleted},
		Profit:           decimal.NewFromInt(550),
	}
	if err := c.Set(ctx, completed); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, id)
	if err != nil || !ok {
		t.Fatalf("expected a hit, got ok=%v err=%v", ok, err)
	}
	if got.Status != domain.TxStatusCompleted || !got.Profit.Equal(decimal.NewFromInt(550)) {
		t.Fatalf("unexpected cached detail %+v", got)
	}

	if err := c.Invalidate(ctx, id); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, err := c.Get(ctx, id); err != nil || ok {
		t.Fatalf("expected tombstone to read as a miss, got ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, completed); err != nil {
		t.Fatalf("stale set: %v", err)
	}
	if _, ok, err := c.Get(ctx, id); err != nil || ok {
		t.Fatalf("expected stale write to be dropped, got ok=%v err=%v", ok, err)
	}
}
