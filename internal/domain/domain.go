package domain

import (
	"fmt"
	"strings"
	"time"
)

// Configuration is the (symbol, timeframe, strategy) triple that scopes trade
// numbering and condition bindings.
type Configuration struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Strategy  string `json:"strategy"`
}

func (c Configuration) Key() string {
	return strings.ToUpper(c.Symbol) + ":" + c.Timeframe + ":" + c.Strategy
}

func (c Configuration) String() string {
	return fmt.Sprintf("%s %s %s", c.Symbol, c.Timeframe, c.Strategy)
}

type SignalKind string

const (
	SignalEntryLong     SignalKind = "entry-long"
	SignalEntryShort    SignalKind = "entry-short"
	SignalTakeProfitHit SignalKind = "take-profit-hit"
	SignalStopLossHit   SignalKind = "stop-loss-hit"
)

func (k SignalKind) IsValid() bool {
	switch k {
	case SignalEntryLong, SignalEntryShort, SignalTakeProfitHit, SignalStopLossHit:
		return true
	}
	return false
}

func (k SignalKind) IsEntry() bool {
	return k == SignalEntryLong || k == SignalEntryShort
}

// EntryDirection returns the direction an entry signal opens. Exit signals
// carry no implied direction; it comes from the payload when present.
func (k SignalKind) EntryDirection() TradeDirection {
	switch k {
	case SignalEntryLong:
		return DirectionLong
	case SignalEntryShort:
		return DirectionShort
	}
	return ""
}

type TradeDirection string

const (
	DirectionLong  TradeDirection = "long"
	DirectionShort TradeDirection = "short"
)

func (d TradeDirection) IsValid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Signal is one immutable inbound trading event. Created on ingestion, never
// mutated afterwards except for the processing-error audit column.
type Signal struct {
	ID             int64          `json:"id"`
	TrackingID     string         `json:"tracking_id"`
	Config         Configuration  `json:"config"`
	Kind           SignalKind     `json:"kind"`
	Direction      TradeDirection `json:"direction,omitempty"`
	Price          float64        `json:"price"`
	TakeProfit     *float64       `json:"take_profit,omitempty"`
	StopLoss       *float64       `json:"stop_loss,omitempty"`
	BarTime        *time.Time     `json:"bar_time,omitempty"`
	Source         string         `json:"source"`
	IdempotencyKey string         `json:"idempotency_key"`
	Duplicate      bool           `json:"duplicate"`
	ReceivedAt     time.Time      `json:"received_at"`
}

type TradeStatus string

const (
	TradeOpen     TradeStatus = "open"
	TradeClosed   TradeStatus = "closed"
	TradeReplaced TradeStatus = "replaced"
)

// Trade is one open or closed position derived from entry signals. Trades are
// soft-closed, never deleted.
type Trade struct {
	ID          int64          `json:"id"`
	Config      Configuration  `json:"config"`
	TradeNumber int            `json:"trade_number"`
	Direction   TradeDirection `json:"direction"`
	EntryPrice  float64        `json:"entry_price"`
	ExitPrice   *float64       `json:"exit_price,omitempty"`
	Status      TradeStatus    `json:"status"`
	OpenedAt    time.Time      `json:"opened_at"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"`
	PnLAmount   *float64       `json:"pnl_amount,omitempty"`
	PnLPercent  *float64       `json:"pnl_percent,omitempty"`
}

// PnL computes the signed realized P&L for an exit at the given price.
// Percent is relative to the entry price.
func (t *Trade) PnL(exitPrice float64) (amount, percent float64) {
	amount = exitPrice - t.EntryPrice
	if t.Direction == DirectionShort {
		amount = -amount
	}
	if t.EntryPrice != 0 {
		percent = amount / t.EntryPrice * 100
	}
	return amount, percent
}

type ConditionType string

const (
	ConditionPrice     ConditionType = "price"
	ConditionVolume    ConditionType = "volume"
	ConditionTechnical ConditionType = "technical"
	ConditionNews      ConditionType = "news"
	ConditionCustom    ConditionType = "custom"
)

type Operator string

const (
	OpGT      Operator = "gt"
	OpLT      Operator = "lt"
	OpGTE     Operator = "gte"
	OpLTE     Operator = "lte"
	OpEQ      Operator = "eq"
	OpBetween Operator = "between"
	OpOutside Operator = "outside"
	OpSpike   Operator = "spike"
)

func (o Operator) IsValid() bool {
	switch o {
	case OpGT, OpLT, OpGTE, OpLTE, OpEQ, OpBetween, OpOutside, OpSpike:
		return true
	}
	return false
}

// AlertCondition is a rule bound to a configuration. Definition fields are
// written by the admin surface; the trigger bookkeeping fields (LastTriggeredAt,
// TriggersToday, NextCheckAt) are owned by the evaluator and scheduler.
type AlertCondition struct {
	ID     int64         `json:"id"`
	Name   string        `json:"name"`
	Config Configuration `json:"config"`
	Type   ConditionType `json:"type"`

	Operator      Operator `json:"operator,omitempty"`
	Threshold     float64  `json:"threshold,omitempty"`
	ThresholdHigh *float64 `json:"threshold_high,omitempty"`
	Indicator     string   `json:"indicator,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	Sentiment     string   `json:"sentiment,omitempty"`
	Expression    string   `json:"expression,omitempty"`

	CheckInterval    time.Duration `json:"check_interval"`
	Cooldown         time.Duration `json:"cooldown"`
	MaxTriggersDay   int           `json:"max_triggers_day"`
	ActiveFrom       string        `json:"active_from,omitempty"` // "HH:MM", empty = always
	ActiveTo         string        `json:"active_to,omitempty"`
	ActiveDays       []time.Weekday `json:"active_days,omitempty"` // empty = all days
	AutoDisableAfter int           `json:"auto_disable_after,omitempty"`

	Active          bool       `json:"active"`
	Paused          bool       `json:"paused"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TriggersToday   int        `json:"triggers_today"`
	TriggerDay      string     `json:"trigger_day,omitempty"` // "2006-01-02" of TriggersToday
	TotalTriggers   int        `json:"total_triggers"`
	NextCheckAt     time.Time  `json:"next_check_at"`
}

type EventKind string

const (
	EventTradeOpened        EventKind = "trade-opened"
	EventTradeClosed        EventKind = "trade-closed"
	EventTradeReplaced      EventKind = "trade-replaced"
	EventConditionTriggered EventKind = "condition-triggered"
)

// TriggerEvent is one notification-worthy pipeline event. It is what flows to
// the subscriber resolver and the external event stream.
type TriggerEvent struct {
	Kind       EventKind       `json:"kind"`
	Config     Configuration   `json:"config"`
	Trade      *Trade          `json:"trade,omitempty"`
	Replaced   *Trade          `json:"replaced,omitempty"` // the trade closed by a same-direction replacement
	Condition  *AlertCondition `json:"condition,omitempty"`
	Signal     *Signal         `json:"signal,omitempty"`
	Urgent     bool            `json:"urgent"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Subscription links a Telegram recipient to a configuration (nil = all
// configurations within the plan).
type Subscription struct {
	ID               int64          `json:"id"`
	ChatID           int64          `json:"chat_id"`
	Config           *Configuration `json:"config,omitempty"`
	Plan             string         `json:"plan"`
	Active           bool           `json:"active"`
	Paused           bool           `json:"paused"`
	EnabledKinds     []EventKind    `json:"enabled_kinds,omitempty"` // empty = all kinds
	QuietStart       string         `json:"quiet_start,omitempty"`   // "HH:MM"
	QuietEnd         string         `json:"quiet_end,omitempty"`
	CooldownOverride *time.Duration `json:"cooldown_override,omitempty"`
	LastNotifiedAt   *time.Time     `json:"last_notified_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// WantsKind reports whether the subscription opted in to an event kind.
func (s *Subscription) WantsKind(kind EventKind) bool {
	if len(s.EnabledKinds) == 0 {
		return true
	}
	for _, k := range s.EnabledKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Matches reports whether the subscription covers the given configuration.
func (s *Subscription) Matches(config Configuration) bool {
	if s.Config == nil {
		return true
	}
	return s.Config.Key() == config.Key()
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySending   DeliveryStatus = "sending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

const (
	PriorityHigh   = 0
	PriorityNormal = 1
	PriorityLow    = 2
)

// DeliveryTask is one queued outbound notification. Created by the subscriber
// resolver fan-out, mutated only by the dispatcher.
type DeliveryTask struct {
	ID             int64          `json:"id"`
	SubscriptionID int64          `json:"subscription_id"`
	ChatID         int64          `json:"chat_id"`
	Body           string         `json:"body"`
	ParseMode      string         `json:"parse_mode,omitempty"`
	EventKind      EventKind      `json:"event_kind"`
	Priority       int            `json:"priority"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	NextAttemptAt  time.Time      `json:"next_attempt_at"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	EnqueuedAt     time.Time      `json:"enqueued_at"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
}

// Sample is one market-data observation used by condition evaluation.
type Sample struct {
	Symbol     string             `json:"symbol"`
	Timeframe  string             `json:"timeframe"`
	Price      float64            `json:"price"`
	Volume     float64            `json:"volume"`
	AvgVolume  float64            `json:"avg_volume"` // rolling average, for spike tests
	Indicators map[string]float64 `json:"indicators,omitempty"`
	At         time.Time          `json:"at"`
}

// SentimentSample is one observation from the news/sentiment feed.
type SentimentSample struct {
	Symbol    string   `json:"symbol"`
	Score     float64  `json:"score"` // -1..1
	Label     string   `json:"label"` // bullish | neutral | bearish
	Headlines []string `json:"headlines,omitempty"`
	Sources   []string `json:"sources,omitempty"`
	At        time.Time `json:"at"`
}

type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}
