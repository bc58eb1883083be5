package provider

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradewire/internal/domain"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/trace"
)

const fearGreedBaseURL = "https://api.alternative.me"

var defaultFeeds = []string{
	"https://www.coindesk.com/arc/outboundfeeds/rss/",
	"https://cointelegraph.com/rss",
}

// assetNames maps ticker prefixes to the names headlines actually use.
var assetNames = map[string][]string{
	"BTC": {"bitcoin", "btc"},
	"ETH": {"ethereum", "eth"},
	"SOL": {"solana", "sol"},
	"ADA": {"cardano", "ada"},
	"XRP": {"xrp", "ripple"},
}

// SentimentProvider produces one sentiment sample per symbol from news
// headlines, scored by a keyword heuristic, optionally refined by an LLM,
// and blended with the market-wide Fear & Greed index.
type SentimentProvider struct {
	client   *http.Client
	tracer   trace.Tracer
	feeds    []string
	fngURL   string
	llm      openAIChatClient
	model    string
	cache    RedisClient
	cacheTTL time.Duration
}

func NewSentimentProvider(tracer trace.Tracer, cache RedisClient, openAIKey, model string) *SentimentProvider {
	p := &SentimentProvider{
		client:   &http.Client{Timeout: 20 * time.Second},
		tracer:   tracer,
		feeds:    defaultFeeds,
		fngURL:   fearGreedBaseURL,
		cache:    cache,
		cacheTTL: 10 * time.Minute,
	}
	if openAIKey = strings.TrimSpace(openAIKey); openAIKey != "" {
		if strings.TrimSpace(model) == "" {
			model = "gpt-4o-mini"
		}
		client := openai.NewClient(option.WithAPIKey(openAIKey))
		p.llm = &openAIClient{client: client}
		p.model = model
	}
	return p
}

// CurrentSentiment returns the symbol's sentiment sample, cached for the
// feed's practical refresh rate.
func (p *SentimentProvider) CurrentSentiment(ctx context.Context, symbol string) (*domain.SentimentSample, error) {
	ctx, span := p.tracer.Start(ctx, "sentiment.current")
	defer span.End()

	cacheKey := "sentiment:" + strings.ToUpper(symbol)
	if p.cache != nil {
		if raw, err := p.cache.Get(ctx, cacheKey).Result(); err == nil {
			var sample domain.SentimentSample
			if err := json.Unmarshal([]byte(raw), &sample); err == nil {
				return &sample, nil
			}
		}
	}

	headlines, sources := p.fetchHeadlines(ctx, symbol)
	if len(headlines) == 0 {
		return nil, fmt.Errorf("no headlines for %s", symbol)
	}

	score := p.scoreHeadlines(ctx, headlines)

	// Fear & Greed is market-wide; blend it in at reduced weight so asset
	// news dominates.
	if fng, err := p.fetchFearGreed(ctx); err == nil {
		score = 0.75*score + 0.25*fng
	} else {
		log.Printf("sentiment: fear & greed unavailable: %v", err)
	}

	sample := &domain.SentimentSample{
		Symbol:    strings.ToUpper(symbol),
		Score:     clamp(score, -1, 1),
		Label:     labelFor(score),
		Headlines: headlines,
		Sources:   sources,
		At:        time.Now().UTC(),
	}

	if p.cache != nil {
		if raw, err := json.Marshal(sample); err == nil {
			if err := p.cache.Set(ctx, cacheKey, raw, p.cacheTTL).Err(); err != nil {
				log.Printf("sentiment: cache sample for %s: %v", symbol, err)
			}
		}
	}
	return sample, nil
}

// fetchHeadlines pulls the configured feeds and keeps the titles mentioning
// the asset; when nothing matches, the general market headlines stand in.
func (p *SentimentProvider) fetchHeadlines(ctx context.Context, symbol string) (matched, sources []string) {
	keywords := assetKeywords(symbol)

	var all []string
	for _, feed := range p.feeds {
		titles, err := p.fetchFeedTitles(ctx, feed)
		if err != nil {
			log.Printf("sentiment: feed %s: %v", feed, err)
			continue
		}
		sources = append(sources, feed)
		all = append(all, titles...)
	}

	for _, title := range all {
		lower := strings.ToLower(title)
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				matched = append(matched, title)
				break
			}
		}
	}
	if len(matched) == 0 {
		matched = all
	}
	if len(matched) > 12 {
		matched = matched[:12]
	}
	return matched, sources
}

func (p *SentimentProvider) fetchFeedTitles(ctx context.Context, feedURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss fetch error %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var rss struct {
		Channel struct {
			Items []struct {
				Title string `xml:"title"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal(body, &rss); err != nil {
		return nil, fmt.Errorf("decode rss payload: %w", err)
	}

	titles := make([]string, 0, len(rss.Channel.Items))
	for _, item := range rss.Channel.Items {
		if title := strings.TrimSpace(item.Title); title != "" {
			titles = append(titles, title)
		}
	}
	return titles, nil
}

// scoreHeadlines averages the heuristic over the headlines, replaced by the
// LLM's judgement when one is configured and answers.
func (p *SentimentProvider) scoreHeadlines(ctx context.Context, headlines []string) float64 {
	var sum float64
	for _, h := range headlines {
		sum += HeuristicSentiment(h)
	}
	score := sum / float64(len(headlines))

	if p.llm != nil {
		if llmScore, err := p.scoreWithLLM(ctx, headlines); err == nil {
			score = llmScore
		} else {
			log.Printf("sentiment: llm scorer failed, keeping heuristic: %v", err)
		}
	}
	return score
}

func (p *SentimentProvider) scoreWithLLM(ctx context.Context, headlines []string) (float64, error) {
	systemPrompt := "You score crypto news sentiment. Return ONLY a JSON object: {\"score\": number in -1..1, \"label\": \"bullish\"|\"neutral\"|\"bearish\"}. No markdown."
	userPrompt := "Headlines:\n- " + strings.Join(headlines, "\n- ")

	completion, err := p.llm.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return 0, err
	}
	if len(completion.Choices) == 0 {
		return 0, fmt.Errorf("empty scorer completion")
	}

	raw := trimCodeFence(completion.Choices[0].Message.Content)
	var parsed struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return 0, fmt.Errorf("parse scorer json: %w", err)
	}
	return clamp(parsed.Score, -1, 1), nil
}

// fetchFearGreed normalizes the 0-100 index to -1..1.
func (p *SentimentProvider) fetchFearGreed(ctx context.Context) (float64, error) {
	url := strings.TrimRight(p.fngURL, "/") + "/fng/?limit=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fear & greed API error %d", resp.StatusCode)
	}

	var payload struct {
		Data []struct {
			Value string `json:"value"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode fear & greed response: %w", err)
	}
	if len(payload.Data) == 0 {
		return 0, fmt.Errorf("fear & greed response has no rows")
	}
	value, err := strconv.Atoi(strings.TrimSpace(payload.Data[0].Value))
	if err != nil {
		return 0, fmt.Errorf("parse fear & greed value: %w", err)
	}
	return float64(value-50) / 50, nil
}

// HeuristicSentiment scores one headline by keyword polarity.
func HeuristicSentiment(text string) float64 {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return 0
	}

	bullish := []string{"bull", "breakout", "surge", "rally", "adoption", "growth", "buy", "uptrend", "recover", "approval", "inflow"}
	bearish := []string{"bear", "dump", "sell-off", "crash", "hack", "lawsuit", "ban", "decline", "downtrend", "liquidation", "outflow"}

	bullCount := countMatches(text, bullish)
	bearCount := countMatches(text, bearish)
	if bullCount == 0 && bearCount == 0 {
		return 0
	}
	return clamp(float64(bullCount-bearCount)/float64(bullCount+bearCount), -1, 1)
}

func labelFor(score float64) string {
	switch {
	case score > 0.2:
		return "bullish"
	case score < -0.2:
		return "bearish"
	}
	return "neutral"
}

func assetKeywords(symbol string) []string {
	upper := strings.ToUpper(symbol)
	for prefix, names := range assetNames {
		if strings.HasPrefix(upper, prefix) {
			return names
		}
	}
	return []string{strings.ToLower(strings.TrimSuffix(upper, "USDT"))}
}

func countMatches(text string, tokens []string) int {
	count := 0
	for _, token := range tokens {
		if strings.Contains(text, token) {
			count++
		}
	}
	return count
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func trimCodeFence(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "```") {
		v = strings.TrimPrefix(v, "```")
		v = strings.TrimSpace(v)
		if strings.HasPrefix(strings.ToLower(v), "json") {
			v = strings.TrimSpace(v[4:])
		}
		v = strings.TrimSuffix(v, "```")
		v = strings.TrimSpace(v)
	}
	return v
}

type openAIChatClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

type openAIClient struct {
	client openai.Client
}

func (c *openAIClient) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
