package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrExhausted is returned when the daily call allowance is used up.
// Callers should stop issuing backend calls until the next day.
var ErrExhausted = fmt.Errorf("daily call quota exhausted")

// Counter enforces a per-day ceiling on backend calls.
type Counter interface {
	// Take consumes one call from today's allowance. Returns ErrExhausted
	// when the ceiling is reached.
	Take(ctx context.Context) error
	// Used reports how many calls were consumed today.
	Used(ctx context.Context) (int64, error)
}

// RedisCounter counts calls in Redis so multiple processes share one daily
// allowance. Keys roll over at midnight and expire after 48h.
type RedisCounter struct {
	client *redis.Client
	limit  int64
	prefix string
}

// NewRedisCounter builds a shared counter. limit <= 0 means unlimited.
func NewRedisCounter(client *redis.Client, limit int64) *RedisCounter {
	return &RedisCounter{client: client, limit: limit, prefix: "bestgoods:calls:"}
}

func (c *RedisCounter) key() string {
	return c.prefix + time.Now().Format("2006-01-02")
}

func (c *RedisCounter) Take(ctx context.Context) error {
	if c.limit <= 0 {
		return nil
	}
	key := c.key()
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("quota incr: %w", err)
	}
	if n == 1 {
		c.client.Expire(ctx, key, 48*time.Hour)
	}
	if n > c.limit {
		return ErrExhausted
	}
	return nil
}

func (c *RedisCounter) Used(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, c.key()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// LocalCounter is the in-process fallback used when Redis is not
// configured. It resets when the calendar day changes.
type LocalCounter struct {
	mu    sync.Mutex
	limit int64
	day   string
	used  int64
}

// NewLocalCounter builds a process-local counter. limit <= 0 means unlimited.
func NewLocalCounter(limit int64) *LocalCounter {
	return &LocalCounter{limit: limit}
}

func (c *LocalCounter) Take(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll()
	if c.limit > 0 && c.used >= c.limit {
		return ErrExhausted
	}
	c.used++
	return nil
}

func (c *LocalCounter) Used(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll()
	return c.used, nil
}

func (c *LocalCounter) roll() {
	day := time.Now().Format("2006-01-02")
	if day != c.day {
		c.day = day
		c.used = 0
	}
}
