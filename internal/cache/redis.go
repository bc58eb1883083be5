package cache

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultAddr = "localhost:6379"
	pingTimeout = 5 * time.Second
)

// Client backs the ingest idempotency window and the market-sample cache.
// The validator degrades to Postgres-only dedup when calls against it fail,
// but startup without a reachable Redis is a configuration error.
var Client *redis.Client

var (
	openClient = redis.NewClient
	pingClient = func(ctx context.Context, client *redis.Client) error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}
)

// InitRedis connects the package-level client. REDIS_URL may be a bare
// host:port or a redis:// / rediss:// URL; REDIS_PASSWORD applies to the
// bare form only (the URL form carries its own credentials).
func InitRedis(ctx context.Context) {
	opts, err := optionsFromEnv()
	if err != nil {
		log.Fatalf("failed to parse REDIS_URL: %v", err)
	}

	Client = openClient(opts)
	if err := pingClient(ctx, Client); err != nil {
		log.Fatalf("failed to connect to Redis at %s: %v", opts.Addr, err)
	}
	log.Printf("Connected to Redis at %s", opts.Addr)
}

func optionsFromEnv() (*redis.Options, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_URL"))
	switch {
	case addr == "":
		addr = defaultAddr
	case strings.Contains(addr, "://"):
		return redis.ParseURL(addr)
	}

	opts := &redis.Options{Addr: addr}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		opts.Password = password
	}
	return opts, nil
}
