package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"tasklist/domain"
)

// RedisSlot keeps the collection in a single Redis string key. SET replaces
// the value atomically so readers never see a partial write.
type RedisSlot struct {
	client *redis.Client
	key    string
}

// NewRedisSlot creates a slot stored under key.
func NewRedisSlot(client *redis.Client, key string) *RedisSlot {
	if client == nil {
		panic("storage.NewRedisSlot: client is nil")
	}
	if key == "" {
		key = DefaultSlotKey
	}
	return &RedisSlot{client: client, key: key}
}

func (r *RedisSlot) Save(ctx context.Context, tasks []domain.Task) error {
	data, err := encodeTasks(tasks)
	if err != nil {
		return domain.NewPersistenceError("save", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return domain.NewPersistenceError("save", unavailable(err))
	}
	return nil
}

func (r *RedisSlot) Load(ctx context.Context) ([]domain.Task, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []domain.Task{}, nil
		}
		return nil, domain.NewPersistenceError("load", unavailable(err))
	}
	tasks, err := decodeTasks(data)
	if err != nil {
		return nil, domain.NewPersistenceError("load", err)
	}
	return tasks, nil
}
