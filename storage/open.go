package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasklist/config"
	"tasklist/domain"
)

// Backend is the slot selected by configuration together with the resources
// it holds open.
type Backend struct {
	Slot    domain.Slot
	closers []func() error
}

// Close releases the backend's resources.
func (b *Backend) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Open builds the slot for cfg.Backend and fronts it with a Redis cache when
// cfg asks for one. client may be nil unless Redis is configured.
func Open(ctx context.Context, cfg config.Config, client *redis.Client, logger *log.Logger) (*Backend, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	b := &Backend{}
	var base domain.Slot
	switch cfg.Backend {
	case config.BackendRedis:
		if client == nil {
			return nil, errors.New("redis backend requires a redis client")
		}
		base = NewRedisSlot(client, cfg.SlotKey)
	case config.BackendSQLite:
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slot, err := NewSQLiteSlot(ctx, db, cfg.SlotKey)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		base = slot
	case config.BackendTable:
		slot, err := NewTableSlot(cfg.StorageConn, cfg.TasksTable, cfg.SlotKey)
		if err != nil {
			return nil, err
		}
		base = slot
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	cached := false
	if cfg.UseCache() && client != nil {
		base = NewCache(base, client, cfg.SlotKey, cfg.CacheTTL, logger)
		cached = true
	}
	b.Slot = base
	logger.WithFields(log.Fields{
		"backend": cfg.Backend,
		"slot":    cfg.SlotKey,
		"cached":  cached,
	}).Info("task storage opened")
	return b, nil
}

// Prepare creates whatever the configured backend needs before first use:
// the Azure table, the SQLite schema, or a reachable Redis server.
func Prepare(ctx context.Context, cfg config.Config, client *redis.Client) error {
	switch cfg.Backend {
	case config.BackendRedis:
		if client == nil {
			return errors.New("redis backend requires a redis client")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return unavailable(err)
		}
		return nil
	case config.BackendSQLite:
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		_, err = NewSQLiteSlot(ctx, db, cfg.SlotKey)
		return err
	case config.BackendTable:
		slot, err := NewTableSlot(cfg.StorageConn, cfg.TasksTable, cfg.SlotKey)
		if err != nil {
			return err
		}
		return slot.EnsureTable(ctx)
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
