package handler

import (
	"context"
	"time"

	"tradewire/internal/dispatch"
	"tradewire/internal/domain"
	"tradewire/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// SignalIngestor is the webhook's entry into the pipeline.
type SignalIngestor interface {
	IngestSignal(ctx context.Context, body []byte, signature, source string) (*service.IngestResult, error)
}

// LedgerReader serves trade snapshots.
type LedgerReader interface {
	Snapshot(ctx context.Context, config domain.Configuration, limit int) ([]*domain.Trade, error)
}

// DeliveryStatsReader serves delivery queue statistics.
type DeliveryStatsReader interface {
	GetStats(ctx context.Context, window time.Duration) (*dispatch.Stats, error)
}

// ConditionAdmin manages alert conditions.
type ConditionAdmin interface {
	List(ctx context.Context) ([]*domain.AlertCondition, error)
	Insert(ctx context.Context, c *domain.AlertCondition) (*domain.AlertCondition, error)
	SetPaused(ctx context.Context, id int64, paused bool) error
}

type Handler struct {
	tracer     trace.Tracer
	ingestor   SignalIngestor
	ledger     LedgerReader
	delivery   DeliveryStatsReader
	conditions ConditionAdmin
	apiKey     string
}

func New(tracer trace.Tracer, ingestor SignalIngestor, ledger LedgerReader, delivery DeliveryStatsReader, conditions ConditionAdmin, apiKey string) *Handler {
	return &Handler{
		tracer:     tracer,
		ingestor:   ingestor,
		ledger:     ledger,
		delivery:   delivery,
		conditions: conditions,
		apiKey:     apiKey,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	// The webhook authenticates with its HMAC signature, not the API key.
	r.POST("/webhook/signal", h.IngestSignal)

	api := r.Group("/api", APIKeyAuth(h.apiKey))
	api.GET("/trades", h.GetTrades)
	api.GET("/delivery/stats", h.GetDeliveryStats)
	api.GET("/conditions", h.ListConditions)
	api.POST("/conditions", h.CreateCondition)
	api.POST("/conditions/:id/pause", h.PauseCondition)
	api.POST("/conditions/:id/resume", h.ResumeCondition)
}
