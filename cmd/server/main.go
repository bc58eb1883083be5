package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradewire/internal/alert"
	"tradewire/internal/bot"
	"tradewire/internal/cache"
	"tradewire/internal/config"
	"tradewire/internal/db"
	"tradewire/internal/dispatch"
	"tradewire/internal/domain"
	"tradewire/internal/event"
	"tradewire/internal/handler"
	"tradewire/internal/ingest"
	"tradewire/internal/job"
	"tradewire/internal/ledger"
	"tradewire/internal/notify"
	"tradewire/internal/provider"
	"tradewire/internal/service"
	"tradewire/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "tradewire/docs"
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	initPostgresFunc       = db.InitPostgres
	initRedisFunc          = cache.InitRedis
	initTracerFunc         = tracing.InitTracer
	newBotFunc             = bot.New
	startSchedulerFunc     = func(s *job.Scheduler, ctx context.Context) { go s.Start(ctx) }
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// logSender stands in for Telegram when no bot token is configured, so the
// delivery queue still drains in local development.
type logSender struct{}

func (logSender) Send(_ context.Context, task *domain.DeliveryTask) error {
	log.Printf("delivery (no bot configured) chat=%d kind=%s: %s", task.ChatID, task.EventKind, task.Body)
	return nil
}

// @title           Tradewire API
// @version         1.0
// @description     Trading signal pipeline: webhook ingestion, trade ledger, alert conditions and Telegram delivery.

// @host      localhost:8080
// @BasePath  /
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

	// Repositories and migrations.
	signalRepo := ingest.NewRepository(db.Pool, tracer)
	tradeRepo := ledger.NewRepository(db.Pool, tracer)
	conditionRepo := alert.NewRepository(db.Pool, tracer)
	subscriptionRepo := notify.NewRepository(db.Pool, tracer)
	deliveryRepo := dispatch.NewRepository(db.Pool, tracer, cfg.DeliveryMaxAttempts)
	if db.Pool != nil {
		for name, migrate := range map[string]func(context.Context) error{
			"signals":       signalRepo.RunMigrations,
			"trades":        tradeRepo.RunMigrations,
			"conditions":    conditionRepo.RunMigrations,
			"subscriptions": subscriptionRepo.RunMigrations,
			"deliveries":    deliveryRepo.RunMigrations,
		} {
			if err := migrate(ctx); err != nil {
				log.Fatalf("failed to run %s migrations: %v", name, err)
			}
		}
	}

	// Pipeline stages.
	validator := ingest.NewValidator(tracer, cfg.WebhookSecret, cfg.DedupWindow, cache.Client, signalRepo)
	ledgerService := ledger.NewService(tracer, tradeRepo, cfg.MaxOpenTrades)
	marketProvider := provider.NewMarketDataProvider(tracer, cache.Client)
	sentimentProvider := provider.NewSentimentProvider(tracer, cache.Client, cfg.OpenAIAPIKey, cfg.OpenAIModel)
	alertService := alert.NewService(tracer, conditionRepo, marketProvider, sentimentProvider)
	resolver := notify.NewResolver(tracer, subscriptionRepo, time.Minute)
	publisher := event.NewPublisher(tracer, cfg.KafkaBrokers, "")
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Printf("error closing event publisher: %v", err)
		}
	}()

	pipeline := service.NewPipelineService(
		tracer, validator, ledgerService, alertService,
		resolver, deliveryRepo, publisher, signalRepo,
		cfg.IngestDeadline,
	)

	// Telegram bot and the outbound sender.
	var sender dispatch.Sender = logSender{}
	if cfg.TelegramBotToken != "" {
		b, err := newBotFunc(cfg.TelegramBotToken, tracer, subscriptionRepo)
		if err != nil {
			log.Fatalf("failed to start Telegram bot: %v", err)
		}
		b.Start()
		defer b.Stop()
		sender = b.Sender()
	} else {
		log.Println("TELEGRAM_BOT_TOKEN not set, deliveries will be logged only")
	}

	dispatcher := dispatch.NewDispatcher(tracer, deliveryRepo, sender, subscriptionRepo, dispatch.DispatcherOptions{
		BatchSize:     cfg.DispatchBatchSize,
		Lease:         cfg.DeliveryLease,
		MaxAttempts:   cfg.DeliveryMaxAttempts,
		BackoffCap:    cfg.DeliveryBackoffCap,
		RatePerMinute: cfg.ChannelRatePerMinute,
	})

	// Background sweeps.
	scheduler := job.NewScheduler(tracer, alertService, resolver, deliveryRepo, publisher, dispatcher, deliveryRepo,
		job.SchedulerOptions{
			ConditionIntervalSecs: cfg.ConditionSweepSecs,
			DeliveryIntervalSecs:  cfg.DeliverySweepSecs,
			Retention:             time.Duration(cfg.DeliveryRetentionDays) * 24 * time.Hour,
		})
	startSchedulerFunc(scheduler, ctx)

	// HTTP surface.
	h := handler.New(tracer, pipeline, ledgerService, deliveryRepo, conditionRepo, cfg.APIKey)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("tradewire"))

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
