package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendTable  = "table"
)

const (
	defaultBackend        = BackendSQLite
	defaultSQLitePath     = "tasks.db"
	defaultSlotKey        = "tasks"
	defaultChangesChannel = "task-changes"
	defaultCacheTTL       = 10 * time.Minute
	defaultDeduperTTL     = 24 * time.Hour
	defaultListenPort     = "8080"
)

// Config holds process settings read from the environment.
type Config struct {
	Debug bool

	Backend        string
	SlotKey        string
	SQLitePath     string
	StorageConn    string
	TasksTable     string
	RedisConn      string
	CacheTTL       time.Duration
	DeduperTTL     time.Duration
	ChangesChannel string
	ListenAddr     string
}

// Load reads the configuration using getenv, typically os.Getenv.
func Load(getenv func(string) string) (Config, error) {
	cfg := Config{
		Backend:        strings.ToLower(strings.TrimSpace(getenv("STORAGE_BACKEND"))),
		SlotKey:        getenv("TASKS_SLOT_KEY"),
		SQLitePath:     getenv("SQLITE_PATH"),
		StorageConn:    getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:     getenv("TASKS_TABLE"),
		RedisConn:      getenv("REDIS_CONNECTION_STRING"),
		ChangesChannel: getenv("CHANGES_CHANNEL"),
		CacheTTL:       defaultCacheTTL,
		DeduperTTL:     defaultDeduperTTL,
	}
	if dbg, err := strconv.ParseBool(getenv("DEBUG")); err == nil && dbg {
		cfg.Debug = true
	}
	if cfg.Backend == "" {
		cfg.Backend = defaultBackend
	}
	if cfg.SlotKey == "" {
		cfg.SlotKey = defaultSlotKey
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = defaultSQLitePath
	}
	if cfg.ChangesChannel == "" {
		cfg.ChangesChannel = defaultChangesChannel
	}

	var err error
	if cfg.CacheTTL, err = parseTTL(getenv, "CACHE_TTL", defaultCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.DeduperTTL, err = parseTTL(getenv, "DEDUPER_TTL", defaultDeduperTTL); err != nil {
		return Config{}, err
	}

	port := getenv("LISTEN_PORT")
	if port == "" {
		port = getenv("FUNCTIONS_CUSTOMHANDLER_PORT")
	}
	if port == "" {
		port = defaultListenPort
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return Config{}, fmt.Errorf("invalid LISTEN_PORT %q", port)
	}
	cfg.ListenAddr = ":" + port

	switch cfg.Backend {
	case BackendRedis:
		if cfg.RedisConn == "" {
			return Config{}, errors.New("missing redis config")
		}
	case BackendTable:
		if cfg.StorageConn == "" || cfg.TasksTable == "" {
			return Config{}, errors.New("missing storage config")
		}
	case BackendSQLite:
	default:
		return Config{}, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.Backend)
	}
	return cfg, nil
}

// UseRedis reports whether a Redis server is configured.
func (c Config) UseRedis() bool { return c.RedisConn != "" }

// UseCache reports whether the durable slot should be fronted by Redis.
func (c Config) UseCache() bool {
	return c.UseRedis() && c.Backend != BackendRedis && c.CacheTTL > 0
}

func parseTTL(getenv func(string) string, name string, def time.Duration) (time.Duration, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", name)
	}
	return d, nil
}

// RedisOptions accepts either a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
