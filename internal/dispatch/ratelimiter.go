package dispatch

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding the outbound channel. Telegram cuts
// bots off around 30 messages per second globally and much lower per chat;
// the per-minute budget here keeps well under both.
type RateLimiter struct {
	mu        sync.Mutex
	capacity  float64
	tokens    float64
	perSecond float64
	last      time.Time
	now       func() time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 20
	}
	l := &RateLimiter{
		capacity:  float64(perMinute),
		tokens:    float64(perMinute),
		perSecond: float64(perMinute) / 60,
		now:       time.Now,
	}
	l.last = l.now()
	return l
}

// Allow consumes a token when one is available.
func (l *RateLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// NextIn reports how long until a token becomes available.
func (l *RateLimiter) NextIn() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - l.tokens) / l.perSecond * float64(time.Second))
}

func (l *RateLimiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.perSecond
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.last = now
}

// maxTrackedChannels bounds the limiter table; past it the longest-idle
// bucket is dropped, which at worst refills one quiet chat's budget early.
const maxTrackedChannels = 4096

// ChannelLimiters hands out one token bucket per chat, so a chatty channel
// exhausts its own budget without starving the rest of the queue.
type ChannelLimiters struct {
	mu        sync.Mutex
	perMinute int
	maxSize   int
	buckets   map[int64]*RateLimiter
	lastUse   map[int64]time.Time
	now       func() time.Time
}

func NewChannelLimiters(perMinute int) *ChannelLimiters {
	return &ChannelLimiters{
		perMinute: perMinute,
		maxSize:   maxTrackedChannels,
		buckets:   make(map[int64]*RateLimiter),
		lastUse:   make(map[int64]time.Time),
		now:       time.Now,
	}
}

// For returns the chat's bucket, creating it on first use.
func (c *ChannelLimiters) For(chatID int64) *RateLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, ok := c.buckets[chatID]
	if !ok {
		if len(c.buckets) >= c.maxSize {
			c.evictIdlest()
		}
		limiter = NewRateLimiter(c.perMinute)
		c.buckets[chatID] = limiter
	}
	c.lastUse[chatID] = c.now()
	return limiter
}

func (c *ChannelLimiters) evictIdlest() {
	var victim int64
	var oldest time.Time
	for id, at := range c.lastUse {
		if oldest.IsZero() || at.Before(oldest) {
			victim, oldest = id, at
		}
	}
	delete(c.buckets, victim)
	delete(c.lastUse, victim)
}
