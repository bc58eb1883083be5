package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"tradewire/internal/domain"
	"tradewire/internal/ta"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const binanceBaseURL = "https://api.binance.com/api/v3"

// candleHistory is how many bars back a sample reaches: enough for RSI(14),
// SMA(50) and the Bollinger window to all be warm.
const candleHistory = 60

// volumeBaseline is the rolling window for the spike test's average volume.
const volumeBaseline = 20

// RedisClient is the slice of the redis API the provider uses for sample
// caching.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// MarketDataProvider builds evaluation samples from Binance public klines:
// latest price, volume with its rolling baseline, and the indicator snapshot.
type MarketDataProvider struct {
	client   *http.Client
	baseURL  string
	tracer   trace.Tracer
	limiter  *RateLimiter
	cache    RedisClient
	cacheTTL time.Duration
}

// NewMarketDataProvider creates a provider with built-in rate limiting.
// Binance allows 1200 request weight per minute; 60 calls per minute stays
// far inside it.
func NewMarketDataProvider(tracer trace.Tracer, cache RedisClient) *MarketDataProvider {
	return &MarketDataProvider{
		client:   &http.Client{Timeout: 15 * time.Second},
		baseURL:  binanceBaseURL,
		tracer:   tracer,
		limiter:  NewRateLimiter(60, time.Second),
		cache:    cache,
		cacheTTL: 30 * time.Second,
	}
}

// CurrentSample returns the freshest sample for the symbol and timeframe,
// served from the short-lived cache when one evaluation sweep already paid
// for the fetch.
func (p *MarketDataProvider) CurrentSample(ctx context.Context, symbol, timeframe string) (*domain.Sample, error) {
	ctx, span := p.tracer.Start(ctx, "marketdata.current-sample")
	defer span.End()

	cacheKey := "sample:" + symbol + ":" + timeframe
	if p.cache != nil {
		if raw, err := p.cache.Get(ctx, cacheKey).Result(); err == nil {
			var sample domain.Sample
			if err := json.Unmarshal([]byte(raw), &sample); err == nil {
				return &sample, nil
			}
		}
	}

	candles, err := p.FetchCandles(ctx, symbol, timeframe, candleHistory)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles for %s %s", symbol, timeframe)
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	latest := candles[len(candles)-1]

	sample := &domain.Sample{
		Symbol:     symbol,
		Timeframe:  timeframe,
		Price:      latest.Close,
		Volume:     latest.Volume,
		AvgVolume:  baselineVolume(volumes),
		Indicators: ta.Snapshot(closes),
		At:         time.Now().UTC(),
	}

	if p.cache != nil {
		if raw, err := json.Marshal(sample); err == nil {
			if err := p.cache.Set(ctx, cacheKey, raw, p.cacheTTL).Err(); err != nil {
				log.Printf("marketdata: cache sample for %s %s: %v", symbol, timeframe, err)
			}
		}
	}
	return sample, nil
}

// FetchCandles fetches up to limit klines for the symbol, oldest first.
// Binance interval names match the pipeline's timeframes directly.
func (p *MarketDataProvider) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	_, span := p.tracer.Start(ctx, "marketdata.fetch-candles")
	defer span.End()

	if limit <= 0 {
		limit = candleHistory
	}
	url := fmt.Sprintf("%s/klines?symbol=%s&interval=%s&limit=%d", p.baseURL, symbol, interval, limit)
	body, err := p.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch candles for %s %s: %w", symbol, interval, err)
	}

	// Response shape: [[openTime, "open", "high", "low", "close", "volume", closeTime, ...], ...]
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse candles for %s: %w", symbol, err)
	}

	candles := make([]*domain.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		var openTimeMs int64
		if err := json.Unmarshal(row[0], &openTimeMs); err != nil {
			continue
		}
		fields := make([]float64, 5)
		ok := true
		for i := 1; i <= 5; i++ {
			var s string
			if err := json.Unmarshal(row[i], &s); err != nil {
				ok = false
				break
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				ok = false
				break
			}
			fields[i-1] = v
		}
		if !ok {
			continue
		}
		candles = append(candles, &domain.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: time.UnixMilli(openTimeMs).UTC(),
			Open:     fields[0],
			High:     fields[1],
			Low:      fields[2],
			Close:    fields[3],
			Volume:   fields[4],
		})
	}
	return candles, nil
}

func (p *MarketDataProvider) doRequest(ctx context.Context, url string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("market data API error %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// baselineVolume averages the bars before the current one, capped at the
// rolling window, so a spike compares against history rather than itself.
func baselineVolume(volumes []float64) float64 {
	if len(volumes) < 2 {
		return 0
	}
	history := volumes[:len(volumes)-1]
	if len(history) > volumeBaseline {
		history = history[len(history)-volumeBaseline:]
	}
	var sum float64
	for _, v := range history {
		sum += v
	}
	return sum / float64(len(history))
}
