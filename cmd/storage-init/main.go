package main

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasklist/config"
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
	log.WithField("backend", cfg.Backend).Info("storage init starting")

	var rc *redis.Client
	if cfg.UseRedis() {
		rc = redis.NewClient(config.RedisOptions(cfg.RedisConn))
		defer rc.Close()
	}

	if err := storage.Prepare(context.Background(), cfg, rc); err != nil {
		log.Fatalf("prepare storage: %v", err)
	}
	log.Info("storage init complete")
}
