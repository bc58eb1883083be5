package main

import (
	"context"
	"log"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"tradewire/internal/alert"
	"tradewire/internal/cache"
	"tradewire/internal/config"
	"tradewire/internal/db"
	"tradewire/internal/dispatch"
	"tradewire/internal/ledger"
	"tradewire/internal/tui"
	"tradewire/pkg/tracing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/joho/godotenv"
	gossh "golang.org/x/crypto/ssh"
)

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	initPostgresFunc  = db.InitPostgres
	initRedisFunc     = cache.InitRedis
	initTracerFunc    = tracing.InitTracer
	newWishServerFunc = wish.NewServer
	setupSignalNotify = ossignal.Notify
	waitForSignalFunc = func(quit <-chan os.Signal) { <-quit }
)

func main() {
	loadEnvFunc()
	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	tradeRepo := ledger.NewRepository(db.Pool, tracer)
	conditionRepo := alert.NewRepository(db.Pool, tracer)
	deliveryRepo := dispatch.NewRepository(db.Pool, tracer, cfg.DeliveryMaxAttempts)

	allowedKeys := loadAuthorizedKeys(os.Getenv("SSH_AUTHORIZED_KEYS_PATH"))

	srv, err := newWishServerFunc(
		wish.WithAddress(cfg.SSHListenAddr),
		wish.WithHostKeyPath(cfg.SSHHostKey),
		wish.WithPublicKeyAuth(func(ctx ssh.Context, key ssh.PublicKey) bool {
			if len(allowedKeys) == 0 {
				// No key list configured: open access for local use.
				return true
			}
			fingerprint := gossh.FingerprintSHA256(key)
			if _, ok := allowedKeys[fingerprint]; !ok {
				log.Printf("SSH auth denied: fingerprint=%s", fingerprint)
				return false
			}
			return true
		}),
		wish.WithMiddleware(
			bubbletea.Middleware(func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
				model := tui.NewAppModel(tui.Services{
					Trades:     tradeRepo,
					Delivery:   deliveryRepo,
					Conditions: conditionRepo,
					Username:   s.User(),
				})
				pty, _, _ := s.Pty()
				model.SetSize(pty.Window.Width, pty.Window.Height)

				return model, []tea.ProgramOption{tea.WithAltScreen()}
			}),
			logging.Middleware(),
		),
	)
	if err != nil {
		log.Fatalf("failed to create SSH server: %v", err)
	}

	if srv != nil {
		go func() {
			log.Printf("SSH dashboard listening on %s", cfg.SSHListenAddr)
			if err := srv.ListenAndServe(); err != nil {
				log.Printf("SSH server stopped: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down SSH server...")

	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("SSH server shutdown error: %v", err)
		}
	}

	log.Println("SSH server exited")
}

// loadAuthorizedKeys reads an authorized_keys file into a fingerprint set.
// A missing or empty path yields an empty set.
func loadAuthorizedKeys(path string) map[string]struct{} {
	keys := map[string]struct{}{}
	if path == "" {
		return keys
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("could not read authorized keys at %s: %v", path, err)
		return keys
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			continue
		}
		keys[gossh.FingerprintSHA256(key)] = struct{}{}
	}
	return keys
}
