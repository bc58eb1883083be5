package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GetDeliveryStats godoc
// @Summary      Get delivery queue statistics
// @Description  Returns per-status counts over the window plus the oldest pending age
// @Tags         delivery
// @Produce      json
// @Param        window_secs  query  int  false  "Window in seconds (default 3600)"  default(3600)
// @Success      200  {object}  dispatch.Stats
// @Router       /api/delivery/stats [get]
func (h *Handler) GetDeliveryStats(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-delivery-stats")
	defer span.End()

	windowSecs, _ := strconv.Atoi(c.DefaultQuery("window_secs", "3600"))
	if windowSecs <= 0 {
		windowSecs = 3600
	}

	stats, err := h.delivery.GetStats(ctx, time.Duration(windowSecs)*time.Second)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
