package handler

import (
	"errors"
	"net/http"

	"tradewire/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// defaultSignalSource tags webhook deliveries that do not name their feed.
// TradingView alerts cannot set custom headers, so the tag rides the URL as
// a query parameter instead.
const defaultSignalSource = "tradingview"

// IngestSignal godoc
// @Summary      Ingest a trading signal
// @Description  Accepts one HMAC-signed signal webhook and acknowledges receipt. Processing continues asynchronously.
// @Tags         signals
// @Accept       json
// @Produce      json
// @Param        X-Signature  header  string  true   "Hex HMAC-SHA256 of the raw body"
// @Param        source       query   string  false  "Signal feed tag (default tradingview)"
// @Success      200  {object}  service.IngestResult
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /webhook/signal [post]
func (h *Handler) IngestSignal(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.ingest-signal")
	defer span.End()

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	source := c.Query("source")
	if source == "" {
		source = defaultSignalSource
	}
	span.SetAttributes(attribute.String("source", source))

	result, err := h.ingestor.IngestSignal(ctx, body, c.GetHeader("X-Signature"), source)
	if err != nil {
		var vErr *domain.ValidationError
		switch {
		case errors.As(err, &vErr):
			status := http.StatusBadRequest
			if vErr.Field == "signature" {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": vErr.Error(), "field": vErr.Field})
		case errors.Is(err, domain.ErrCapacityExceeded):
			// The ledger settled the rejection before the ack deadline, so
			// the caller learns it now instead of from the audit trail.
			resp := gin.H{"error": err.Error()}
			if result != nil {
				resp["tracking_id"] = result.TrackingID
			}
			c.JSON(http.StatusConflict, resp)
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	span.SetAttributes(
		attribute.String("tracking_id", result.TrackingID),
		attribute.Bool("duplicate", result.Duplicate),
	)
	c.JSON(http.StatusOK, result)
}
