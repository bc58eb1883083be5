package alert

import (
	"fmt"
	"strings"
	"time"

	"tradewire/internal/domain"
)

// Gate reasons reported when a condition is skipped without being evaluated.
const (
	SkipInactive      = "inactive"
	SkipPaused        = "paused"
	SkipCooldown      = "cooldown"
	SkipDailyCap      = "daily-cap"
	SkipOutsideWindow = "outside-window"
)

// Verdict is the outcome of running one condition against fresh data. When
// the condition was gated off, Met is false and Reason carries the skip
// reason; when it was evaluated, Reason is empty and Observed holds the value
// the rule was tested against.
type Verdict struct {
	Met      bool
	Reason   string
	Observed float64
}

// Evaluator applies condition rules to market and sentiment samples. It is
// stateless; trigger bookkeeping lives in the repository so that both the
// scheduler sweep and the signal-bound path share one record of truth.
type Evaluator struct {
	now func() time.Time
}

func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// Gate checks the condition's activity policy without touching market data.
// Order matters: a paused condition reports paused even when it would also be
// in cooldown.
func (e *Evaluator) Gate(cond *domain.AlertCondition) (ok bool, reason string) {
	now := e.now().UTC()

	if !cond.Active {
		return false, SkipInactive
	}
	if cond.Paused {
		return false, SkipPaused
	}
	if cond.Cooldown > 0 && cond.LastTriggeredAt != nil {
		if now.Sub(*cond.LastTriggeredAt) < cond.Cooldown {
			return false, SkipCooldown
		}
	}
	if cond.MaxTriggersDay > 0 &&
		cond.TriggerDay == now.Format("2006-01-02") &&
		cond.TriggersToday >= cond.MaxTriggersDay {
		return false, SkipDailyCap
	}
	if !e.inWindow(cond, now) {
		return false, SkipOutsideWindow
	}
	return true, ""
}

func (e *Evaluator) inWindow(cond *domain.AlertCondition, now time.Time) bool {
	if len(cond.ActiveDays) > 0 {
		found := false
		for _, d := range cond.ActiveDays {
			if d == now.Weekday() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if cond.ActiveFrom == "" || cond.ActiveTo == "" {
		return true
	}
	clock := now.Format("15:04")
	if cond.ActiveFrom <= cond.ActiveTo {
		return clock >= cond.ActiveFrom && clock <= cond.ActiveTo
	}
	// Window crosses midnight, e.g. 22:00 to 06:00.
	return clock >= cond.ActiveFrom || clock <= cond.ActiveTo
}

// Evaluate runs the condition's rule. The caller is expected to have passed
// Gate already; Evaluate does not re-check the activity policy.
func (e *Evaluator) Evaluate(cond *domain.AlertCondition, sample *domain.Sample, sentiment *domain.SentimentSample) (Verdict, error) {
	switch cond.Type {
	case domain.ConditionPrice:
		if sample == nil {
			return Verdict{}, fmt.Errorf("price condition %q has no market sample", cond.Name)
		}
		return Verdict{Met: compare(cond.Operator, sample.Price, cond.Threshold, cond.ThresholdHigh), Observed: sample.Price}, nil

	case domain.ConditionVolume:
		if sample == nil {
			return Verdict{}, fmt.Errorf("volume condition %q has no market sample", cond.Name)
		}
		if cond.Operator == domain.OpSpike {
			// Threshold is a multiplier over the rolling average. No baseline
			// yet means no spike, not an error.
			if sample.AvgVolume <= 0 {
				return Verdict{Observed: sample.Volume}, nil
			}
			return Verdict{Met: sample.Volume >= cond.Threshold*sample.AvgVolume, Observed: sample.Volume}, nil
		}
		return Verdict{Met: compare(cond.Operator, sample.Volume, cond.Threshold, cond.ThresholdHigh), Observed: sample.Volume}, nil

	case domain.ConditionTechnical:
		if sample == nil {
			return Verdict{}, fmt.Errorf("technical condition %q has no market sample", cond.Name)
		}
		v, ok := sample.Indicators[strings.ToLower(cond.Indicator)]
		if !ok {
			return Verdict{}, fmt.Errorf("indicator %q not present in sample for %s", cond.Indicator, cond.Config.Key())
		}
		return Verdict{Met: compare(cond.Operator, v, cond.Threshold, cond.ThresholdHigh), Observed: v}, nil

	case domain.ConditionNews:
		return e.evaluateNews(cond, sentiment)

	case domain.ConditionCustom:
		if sample == nil {
			return Verdict{}, fmt.Errorf("custom condition %q has no market sample", cond.Name)
		}
		expr, err := ParseExpr(cond.Expression)
		if err != nil {
			return Verdict{}, fmt.Errorf("condition %q expression: %w", cond.Name, err)
		}
		vars := map[string]float64{
			"price":      sample.Price,
			"volume":     sample.Volume,
			"avg_volume": sample.AvgVolume,
		}
		for name, v := range sample.Indicators {
			vars[strings.ToLower(name)] = v
		}
		met, err := expr.Eval(vars)
		if err != nil {
			return Verdict{}, fmt.Errorf("condition %q expression: %w", cond.Name, err)
		}
		return Verdict{Met: met, Observed: sample.Price}, nil
	}
	return Verdict{}, fmt.Errorf("unknown condition type %q", cond.Type)
}

func (e *Evaluator) evaluateNews(cond *domain.AlertCondition, sentiment *domain.SentimentSample) (Verdict, error) {
	if sentiment == nil {
		return Verdict{}, fmt.Errorf("news condition %q has no sentiment sample", cond.Name)
	}

	if cond.Sentiment != "" && !strings.EqualFold(cond.Sentiment, sentiment.Label) {
		return Verdict{Observed: sentiment.Score}, nil
	}
	if cond.Operator != "" && !compare(cond.Operator, sentiment.Score, cond.Threshold, cond.ThresholdHigh) {
		return Verdict{Observed: sentiment.Score}, nil
	}
	if len(cond.Keywords) > 0 && !anyKeyword(cond.Keywords, sentiment.Headlines) {
		return Verdict{Observed: sentiment.Score}, nil
	}
	return Verdict{Met: true, Observed: sentiment.Score}, nil
}

func anyKeyword(keywords, headlines []string) bool {
	for _, h := range headlines {
		lower := strings.ToLower(h)
		for _, k := range keywords {
			if k != "" && strings.Contains(lower, strings.ToLower(k)) {
				return true
			}
		}
	}
	return false
}

func compare(op domain.Operator, v, threshold float64, high *float64) bool {
	switch op {
	case domain.OpGT:
		return v > threshold
	case domain.OpLT:
		return v < threshold
	case domain.OpGTE:
		return v >= threshold
	case domain.OpLTE:
		return v <= threshold
	case domain.OpEQ:
		return v == threshold
	case domain.OpBetween:
		if high == nil {
			return false
		}
		return v >= threshold && v <= *high
	case domain.OpOutside:
		if high == nil {
			return false
		}
		return v < threshold || v > *high
	}
	return false
}
