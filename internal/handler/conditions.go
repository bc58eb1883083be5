package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"tradewire/internal/alert"
	"tradewire/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// conditionRequest is the admin payload for creating an alert condition.
// Durations come in as seconds to keep the JSON flat.
type conditionRequest struct {
	Name   string               `json:"name" binding:"required"`
	Config domain.Configuration `json:"config" binding:"required"`
	Type   domain.ConditionType `json:"type" binding:"required"`

	Operator      domain.Operator `json:"operator,omitempty"`
	Threshold     float64         `json:"threshold,omitempty"`
	ThresholdHigh *float64        `json:"threshold_high,omitempty"`
	Indicator     string          `json:"indicator,omitempty"`
	Keywords      []string        `json:"keywords,omitempty"`
	Sentiment     string          `json:"sentiment,omitempty"`
	Expression    string          `json:"expression,omitempty"`

	CheckIntervalSecs int            `json:"check_interval_secs,omitempty"`
	CooldownSecs      int            `json:"cooldown_secs,omitempty"`
	MaxTriggersDay    int            `json:"max_triggers_day,omitempty"`
	ActiveFrom        string         `json:"active_from,omitempty"`
	ActiveTo          string         `json:"active_to,omitempty"`
	ActiveDays        []time.Weekday `json:"active_days,omitempty"`
	AutoDisableAfter  int            `json:"auto_disable_after,omitempty"`
}

// ListConditions godoc
// @Summary      List alert conditions
// @Tags         conditions
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/conditions [get]
func (h *Handler) ListConditions(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-conditions")
	defer span.End()

	conditions, err := h.conditions.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conditions": conditions, "count": len(conditions)})
}

// CreateCondition godoc
// @Summary      Create an alert condition
// @Tags         conditions
// @Accept       json
// @Produce      json
// @Param        condition  body  conditionRequest  true  "Condition definition"
// @Success      201  {object}  domain.AlertCondition
// @Failure      400  {object}  map[string]string
// @Router       /api/conditions [post]
func (h *Handler) CreateCondition(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.create-condition")
	defer span.End()

	var req conditionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cond := &domain.AlertCondition{
		Name:             req.Name,
		Config:           req.Config,
		Type:             req.Type,
		Operator:         req.Operator,
		Threshold:        req.Threshold,
		ThresholdHigh:    req.ThresholdHigh,
		Indicator:        req.Indicator,
		Keywords:         req.Keywords,
		Sentiment:        req.Sentiment,
		Expression:       req.Expression,
		CheckInterval:    time.Duration(req.CheckIntervalSecs) * time.Second,
		Cooldown:         time.Duration(req.CooldownSecs) * time.Second,
		MaxTriggersDay:   req.MaxTriggersDay,
		ActiveFrom:       req.ActiveFrom,
		ActiveTo:         req.ActiveTo,
		ActiveDays:       req.ActiveDays,
		AutoDisableAfter: req.AutoDisableAfter,
		Active:           true,
	}
	if err := validateCondition(cond); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.conditions.Insert(ctx, cond)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Int64("condition_id", created.ID))
	c.JSON(http.StatusCreated, created)
}

// PauseCondition godoc
// @Summary      Pause an alert condition
// @Tags         conditions
// @Produce      json
// @Param        id  path  int  true  "Condition ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/conditions/{id}/pause [post]
func (h *Handler) PauseCondition(c *gin.Context) {
	h.setConditionPaused(c, true)
}

// ResumeCondition godoc
// @Summary      Resume a paused alert condition
// @Tags         conditions
// @Produce      json
// @Param        id  path  int  true  "Condition ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/conditions/{id}/resume [post]
func (h *Handler) ResumeCondition(c *gin.Context) {
	h.setConditionPaused(c, false)
}

func (h *Handler) setConditionPaused(c *gin.Context, paused bool) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.set-condition-paused")
	defer span.End()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid condition id"})
		return
	}
	span.SetAttributes(attribute.Int64("condition_id", id), attribute.Bool("paused", paused))

	if err := h.conditions.SetPaused(ctx, id, paused); err != nil {
		if errors.Is(err, domain.ErrConditionDisabled) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "paused": paused})
}

func validateCondition(cond *domain.AlertCondition) error {
	switch cond.Type {
	case domain.ConditionPrice, domain.ConditionVolume, domain.ConditionTechnical:
		if !cond.Operator.IsValid() {
			return domain.NewValidationError("operator", "unknown operator")
		}
		if cond.Type == domain.ConditionTechnical && cond.Indicator == "" {
			return domain.NewValidationError("indicator", "required for technical conditions")
		}
	case domain.ConditionNews:
		if cond.Sentiment == "" && len(cond.Keywords) == 0 {
			return domain.NewValidationError("sentiment", "news condition needs a sentiment or keywords")
		}
	case domain.ConditionCustom:
		if cond.Expression == "" {
			return domain.NewValidationError("expression", "required for custom conditions")
		}
		if _, err := alert.ParseExpr(cond.Expression); err != nil {
			return domain.NewValidationError("expression", err.Error())
		}
	default:
		return domain.NewValidationError("type", "unknown condition type")
	}
	return nil
}
