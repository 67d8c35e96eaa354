package main

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasklist/api"
	"tasklist/config"
	"tasklist/domain"
	"tasklist/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rc *redis.Client
	if cfg.UseRedis() {
		rc = redis.NewClient(config.RedisOptions(cfg.RedisConn))
		defer rc.Close()

		lease, err := storage.AcquireLease(ctx, rc, cfg.SlotKey, 0, logger)
		if err != nil {
			log.Fatalf("writer lease: %v", err)
		}
		defer lease.Release(context.Background())
		go func() {
			select {
			case <-lease.Lost():
				log.Fatal("writer lease lost; stopping to avoid overwriting another writer")
			case <-ctx.Done():
			}
		}()
	}

	backend, err := storage.Open(ctx, cfg, rc, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer backend.Close()

	hub := api.NewHub(logger)
	var deduper api.Deduper
	var notifier domain.Notifier = hub
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		publisher := api.NewRedisPublisher(rc, cfg.ChangesChannel, 0, 0, logger)
		defer publisher.Close()
		notifier = domain.Notifiers{hub, publisher}
	}

	store := domain.NewStore(backend.Slot, domain.WithNotifier(notifier), domain.WithLogger(logger))
	if err := store.Hydrate(ctx); err != nil {
		log.Fatalf("hydrate tasks: %v", err)
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "Idempotency-Key"},
	}))

	api.Register(e, store, deduper, hub, logger)

	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}
