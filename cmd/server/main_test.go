package main

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"tradewire/internal/alert"
	"tradewire/internal/config"
	"tradewire/internal/dispatch"
	"tradewire/internal/handler"
	"tradewire/internal/ingest"
	"tradewire/internal/job"
	"tradewire/internal/ledger"
	"tradewire/internal/service"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// The wiring in main hands concrete types to consumer-side interfaces; these
// assertions catch a drifting method set before the binary does.
var (
	_ service.SignalValidator   = (*ingest.Validator)(nil)
	_ service.TradeLedger       = (*ledger.Service)(nil)
	_ service.ConditionChecker  = (*alert.Service)(nil)
	_ handler.SignalIngestor    = (*service.PipelineService)(nil)
	_ handler.LedgerReader      = (*ledger.Service)(nil)
	_ handler.ConditionAdmin    = (*alert.Repository)(nil)
	_ dispatch.Queue            = (*dispatch.Repository)(nil)
	_ alert.ConditionRepository = (*alert.Repository)(nil)
)

func TestMainBootstrap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	restore := stubServerDeps()
	defer restore()

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not exit")
	}
}

func stubServerDeps() func() {
	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origInitPostgres := initPostgresFunc
	origInitRedis := initRedisFunc
	origInitTracer := initTracerFunc
	origStartScheduler := startSchedulerFunc
	origNewRouter := newRouterFunc
	origSetupSignal := setupSignalNotify
	origWait := waitForSignalFunc
	origStartHTTP := startHTTPServerFunc
	origShutdownHTTP := shutdownHTTPServerFunc

	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config {
		// No bot token, no brokers, no database: every external surface
		// falls back to its log-only mode.
		return &config.Config{IngestDeadline: 100 * time.Millisecond}
	}
	initPostgresFunc = func(context.Context) {}
	initRedisFunc = func(context.Context) {}
	initTracerFunc = func(ctx context.Context) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	startSchedulerFunc = func(*job.Scheduler, context.Context) {}
	newRouterFunc = func(...gin.OptionFunc) *gin.Engine { return gin.New() }
	setupSignalNotify = func(c chan<- os.Signal, sig ...os.Signal) {}
	waitForSignalFunc = func(<-chan os.Signal) {}
	startHTTPServerFunc = func(*http.Server) error { return http.ErrServerClosed }
	shutdownHTTPServerFunc = func(*http.Server, context.Context) error { return nil }

	return func() {
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		initPostgresFunc = origInitPostgres
		initRedisFunc = origInitRedis
		initTracerFunc = origInitTracer
		startSchedulerFunc = origStartScheduler
		newRouterFunc = origNewRouter
		setupSignalNotify = origSetupSignal
		waitForSignalFunc = origWait
		startHTTPServerFunc = origStartHTTP
		shutdownHTTPServerFunc = origShutdownHTTP
	}
}
