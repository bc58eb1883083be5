package ta

import (
	"math"
	"testing"
)

func TestSMASeries(t *testing.T) {
	t.Parallel()

	values := []float64{1, 2, 3, 4, 5}
	out := SMASeries(values, 3)
	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Error("sma warm-up values should be NaN")
	}
	if out[2] != 2 || out[3] != 3 || out[4] != 4 {
		t.Errorf("sma = %v", out[2:])
	}
}

func TestRSISeriesFlatAndTrending(t *testing.T) {
	t.Parallel()

	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	series := RSISeries(rising, 14)
	if v, ok := lastValid(series); !ok || v != 100 {
		t.Errorf("pure uptrend rsi = %v, want 100", v)
	}

	falling := make([]float64, 20)
	for i := range falling {
		falling[i] = 100 - float64(i)
	}
	series = RSISeries(falling, 14)
	if v, ok := lastValid(series); !ok || v != 0 {
		t.Errorf("pure downtrend rsi = %v, want 0", v)
	}

	if RSISeries([]float64{1, 2, 3}, 14) != nil {
		t.Error("rsi on a too-short series should be nil")
	}
}

func TestSnapshotKeys(t *testing.T) {
	t.Parallel()

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + 5*math.Sin(float64(i)/4)
	}
	snap := Snapshot(closes)

	for _, key := range []string{"rsi", "macd", "macd_signal", "macd_hist", "sma_20", "sma_50", "ema_12", "ema_26", "bb_middle", "bb_upper", "bb_lower"} {
		v, ok := snap[key]
		if !ok {
			t.Errorf("snapshot missing %q", key)
			continue
		}
		if math.IsNaN(v) {
			t.Errorf("snapshot %q is NaN", key)
		}
	}
	if snap["bb_upper"] <= snap["bb_middle"] || snap["bb_lower"] >= snap["bb_middle"] {
		t.Error("bollinger bands out of order")
	}
}

func TestSnapshotShortSeries(t *testing.T) {
	t.Parallel()

	// Too short for RSI(14) and SMA(50), long enough for EMA.
	snap := Snapshot([]float64{1, 2, 3, 4, 5})
	if _, ok := snap["rsi"]; ok {
		t.Error("rsi should be absent on a short series")
	}
	if _, ok := snap["sma_50"]; ok {
		t.Error("sma_50 should be absent on a short series")
	}
	if _, ok := snap["ema_12"]; !ok {
		t.Error("ema_12 should be present")
	}
}
