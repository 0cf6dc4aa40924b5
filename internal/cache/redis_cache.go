package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"flowerbelle/backend/internal/domain"
)

const (
	transactionKeyPrefix = "flowerbelle:txn:"
	tombstone            = "-"
)

type RedisTransactionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTransactionCache(addr string, password string, db int, ttl time.Duration) *RedisTransactionCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisTransactionCache{client: client, ttl: ttl}
}

func (c *RedisTransactionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisTransactionCache) Close() error {
	return c.client.Close()
}

func (c *RedisTransactionCache) Get(ctx context.Context, id int64) (*domain.TransactionDetail, bool, error) {
	val, err := c.client.Get(ctx, transactionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if string(val) == tombstone {
		return nil, false, nil
	}

	var detail domain.TransactionDetail
	if err := json.Unmarshal(val, &detail); err != nil {
		return nil, false, err
	}
	return &detail, true, nil
}

func (c *RedisTransactionCache) Set(ctx context.Context, detail domain.TransactionDetail) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, transactionKey(detail.ID), payload, c.ttl).Err()
}

// Invalidate keeps the tombstone for a full TTL, longer than any read that
// could still be carrying the pre-void row.
func (c *RedisTransactionCache) Invalidate(ctx context.Context, id int64) error {
	return c.client.Set(ctx, transactionKey(id), tombstone, c.ttl).Err()
}

func transactionKey(id int64) string {
	return transactionKeyPrefix + strconv.FormatInt(id, 10)
}
