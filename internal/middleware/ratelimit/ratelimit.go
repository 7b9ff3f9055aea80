package ratelimit

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type bucket struct {
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// RateLimiter is a per-caller token bucket. Callers are identified by the
// X-User-ID header, falling back to the client IP.
type RateLimiter struct {
	buckets       map[string]*bucket
	mu            sync.RWMutex
	capacity      float64
	perSecond     float64
	skipPrefixes  []string
	logger        *zap.Logger
	now           func() time.Time
	cleanupTicker *time.Ticker
	done          chan struct{}
}

type Config struct {
	RequestsPerMinute int
	// Burst is the bucket size; zero means RequestsPerMinute.
	Burst int
	// SkipPrefixes are path prefixes that are never limited.
	SkipPrefixes []string
	Logger       *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rl := &RateLimiter{
		buckets:       make(map[string]*bucket),
		capacity:      float64(cfg.Burst),
		perSecond:     float64(cfg.RequestsPerMinute) / 60,
		skipPrefixes:  cfg.SkipPrefixes,
		logger:        cfg.Logger,
		now:           time.Now,
		cleanupTicker: time.NewTicker(5 * time.Minute),
		done:          make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, prefix := range rl.skipPrefixes {
			if strings.HasPrefix(c.Path(), prefix) {
				return c.Next()
			}
		}

		key := c.IP()
		if userID := c.Get("X-User-ID"); userID != "" {
			key = "user:" + userID
		}

		allowed, remaining, retryAfter := rl.allow(key)
		c.Set("X-RateLimit-Limit", strconv.Itoa(int(rl.capacity)))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

// allow takes one token for key. It reports the tokens left and, when
// refused, how long until the next token.
func (rl *RateLimiter) allow(key string) (bool, int, time.Duration) {
	now := rl.now()

	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		if b, exists = rl.buckets[key]; !exists {
			b = &bucket{tokens: rl.capacity, lastRefill: now}
			rl.buckets[key] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.tokens = math.Min(rl.capacity, b.tokens+elapsed.Seconds()*rl.perSecond)
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}

	wait := time.Duration((1 - b.tokens) / rl.perSecond * float64(time.Second))
	return false, 0, wait
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.cleanupTicker.C:
			rl.evictIdle(10 * time.Minute)
		}
	}
}

func (rl *RateLimiter) evictIdle(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastRefill) > idle {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

func (rl *RateLimiter) Stop() {
	rl.cleanupTicker.Stop()
	close(rl.done)
}
