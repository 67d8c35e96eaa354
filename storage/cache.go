package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasklist/domain"
)

// Cache fronts a durable slot with a Redis copy of the last saved payload.
// A save drops the cached copy before writing the base slot and refreshes it
// only after the base accepted the write, so the cache never holds a
// collection older or newer than the base. A save whose invalidation fails is
// rejected before the base is touched.
type Cache struct {
	base   domain.Slot
	redis  *redis.Client
	key    string
	ttl    time.Duration
	logger *log.Logger
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base domain.Slot, client *redis.Client, key string, ttl time.Duration, logger *log.Logger) *Cache {
	if base == nil {
		panic("storage.NewCache: base slot is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if key == "" {
		key = DefaultSlotKey
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{base: base, redis: client, key: key, ttl: ttl, logger: logger}
}

func (c *Cache) Load(ctx context.Context) ([]domain.Task, error) {
	if tasks, ok := c.loadFromCache(ctx); ok {
		return tasks, nil
	}
	tasks, err := c.base.Load(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tasks)
	return tasks, nil
}

func (c *Cache) Save(ctx context.Context, tasks []domain.Task) error {
	if c.redis != nil {
		if err := c.redis.Del(ctx, cacheKey(c.key)).Err(); err != nil {
			c.logger.WithError(err).Error("failed to invalidate task cache; rejecting save")
			return domain.NewPersistenceError("save", unavailable(err))
		}
	}
	if err := c.base.Save(ctx, tasks); err != nil {
		return err
	}
	c.store(ctx, tasks)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, cacheKey(c.key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Warn("task cache read failed; falling back to base slot")
			c.evict(ctx)
		}
		return nil, false
	}
	tasks, err := decodeTasks(data)
	if err != nil {
		c.logger.WithError(err).Warn("discarding unreadable task cache entry")
		c.evict(ctx)
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := encodeTasks(tasks)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, cacheKey(c.key), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("failed to refresh task cache; evicting")
		c.evict(ctx)
	}
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, cacheKey(c.key)).Err()
}

func cacheKey(key string) string {
	return "cache:" + key
}
