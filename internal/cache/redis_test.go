package cache

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

func stubConnection(t *testing.T) *string {
	t.Helper()

	origOpen := openClient
	origPing := pingClient
	t.Cleanup(func() {
		openClient = origOpen
		pingClient = origPing
		Client = nil
	})

	var capturedAddr string
	openClient = func(opts *redis.Options) *redis.Client {
		capturedAddr = opts.Addr
		return redis.NewClient(opts)
	}
	pingClient = func(context.Context, *redis.Client) error {
		return nil
	}
	return &capturedAddr
}

func TestInitRedisWithCustomAddr(t *testing.T) {
	t.Setenv("REDIS_URL", "redis:9999")
	t.Setenv("REDIS_PASSWORD", "")

	addr := stubConnection(t)
	InitRedis(context.Background())
	if *addr != "redis:9999" {
		t.Fatalf("expected custom addr, got %s", *addr)
	}
}

func TestInitRedisDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("REDIS_PASSWORD", "")

	addr := stubConnection(t)
	InitRedis(context.Background())
	if *addr != defaultAddr {
		t.Fatalf("expected default addr, got %s", *addr)
	}
}

func TestOptionsFromEnvParsesURL(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://:hunter2@cachehost:6380/2")
	t.Setenv("REDIS_PASSWORD", "")

	opts, err := optionsFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Addr != "cachehost:6380" || opts.Password != "hunter2" || opts.DB != 2 {
		t.Fatalf("unexpected options: addr=%s password=%s db=%d", opts.Addr, opts.Password, opts.DB)
	}
}

func TestOptionsFromEnvBareAddrWithPassword(t *testing.T) {
	t.Setenv("REDIS_URL", "cachehost:6379")
	t.Setenv("REDIS_PASSWORD", "hunter2")

	opts, err := optionsFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Addr != "cachehost:6379" || opts.Password != "hunter2" {
		t.Fatalf("unexpected options: addr=%s password=%s", opts.Addr, opts.Password)
	}
}

func TestOptionsFromEnvRejectsBadURL(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cachehost:notaport")

	if _, err := optionsFromEnv(); err == nil {
		t.Fatal("expected a parse error")
	}
}
