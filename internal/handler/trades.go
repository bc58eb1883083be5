package handler

import (
	"net/http"
	"strconv"
	"strings"

	"tradewire/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetTrades godoc
// @Summary      Get the trade ledger snapshot for one configuration
// @Description  Returns open and recently closed trades, newest first
// @Tags         trades
// @Produce      json
// @Param        symbol     query  string  true   "Symbol (e.g., BTCUSDT)"
// @Param        timeframe  query  string  true   "Timeframe (e.g., 4h)"
// @Param        strategy   query  string  true   "Strategy name"
// @Param        limit      query  int     false  "Max trades (default 50, max 200)"  default(50)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/trades [get]
func (h *Handler) GetTrades(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-trades")
	defer span.End()

	// Signals store symbols uppercased, so match that here.
	config := domain.Configuration{
		Symbol:    strings.ToUpper(c.Query("symbol")),
		Timeframe: c.Query("timeframe"),
		Strategy:  c.Query("strategy"),
	}
	if config.Symbol == "" || config.Timeframe == "" || config.Strategy == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol, timeframe and strategy are required"})
		return
	}
	span.SetAttributes(attribute.String("config", config.Key()))

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	trades, err := h.ledger.Snapshot(ctx, config, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	open := 0
	for _, t := range trades {
		if t.Status == domain.TradeOpen {
			open++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"config": config,
		"open":   open,
		"trades": trades,
	})
}
