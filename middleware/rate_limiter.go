package middleware

import (
	"sync"
	"time"

	"carelink/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// A bucket idle this long has refilled completely and can be dropped.
const limiterIdleTTL = 2 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore holds a map of client keys to their rate limiters.
type rateLimiterStore struct {
	limiters  map[string]*limiterEntry
	perMin    int
	lastPrune time.Time
	now       func() time.Time
	mu        sync.Mutex
}

func newRateLimiterStore(perMin int) *rateLimiterStore {
	if perMin <= 0 {
		perMin = 100
	}
	return &rateLimiterStore{limiters: make(map[string]*limiterEntry), perMin: perMin, now: time.Now}
}

// getLimiter returns the rate limiter for a given key, creating one if it doesn't exist.
func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastPrune) > limiterIdleTTL {
		s.pruneLocked(now)
	}
	entry, exists := s.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.perMin)), s.perMin)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (s *rateLimiterStore) pruneLocked(now time.Time) {
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(s.limiters, key)
		}
	}
	s.lastPrune = now
}

// RateLimitMiddleware limits requests per client address to perMin a minute.
func RateLimitMiddleware(perMin int) gin.HandlerFunc {
	store := newRateLimiterStore(perMin)
	return func(c *gin.Context) {
		ip := getClientIP(c)
		if !store.getLimiter(limiterKey(ip)).Allow() {
			utils.GetLogger().Warn("Rate limit exceeded", zap.String("ip", ip))
			utils.RespondError(c, utils.ErrRateLimited)
			return
		}
		c.Next()
	}
}
