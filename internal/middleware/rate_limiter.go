package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"bloodsos/internal/utils"
	"bloodsos/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

type RateLimiterConfig struct {
	Rate          string            // e.g. "600-M"
	PerRouteRates map[string]string // route template -> rate
	SkipPaths     []string          // prefix match
}

// RateLimiter keys requests by authenticated user, falling back to client IP,
// and keeps one limiter per distinct rate.
type RateLimiter struct {
	cfg            RateLimiterConfig
	store          limiter.Store
	log            *logger.Logger
	mu             sync.RWMutex
	limitersByRate map[string]*limiter.Limiter
}

// NewRateLimiter uses an in-process store when store is nil. A redis store
// shares limits across instances.
func NewRateLimiter(cfg RateLimiterConfig, store limiter.Store, log *logger.Logger) *RateLimiter {
	if store == nil {
		store = memory.NewStore()
	}
	return &RateLimiter{
		cfg:            cfg,
		store:          store,
		log:            log,
		limitersByRate: make(map[string]*limiter.Limiter),
	}
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if l.skipped(route) {
			c.Next()
			return
		}

		rate := l.cfg.Rate
		if r, ok := l.cfg.PerRouteRates[route]; ok && r != "" {
			rate = r
		}
		lim := l.getLimiter(rate)

		key := limitKey(c, route)
		result, err := lim.Get(c.Request.Context(), key)
		if err != nil {
			// A broken store must not take the SOS path down with it.
			l.log.WithError(err).Warn("Rate limit store unavailable")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		if result.Reached {
			retry := int(time.Until(time.Unix(result.Reset, 0)).Seconds())
			if retry < 0 {
				retry = 0
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			utils.ErrorResponse(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			c.Abort()
			return
		}

		c.Next()
	}
}

func (l *RateLimiter) skipped(route string) bool {
	for _, prefix := range l.cfg.SkipPaths {
		if prefix != "" && strings.HasPrefix(route, prefix) {
			return true
		}
	}
	return false
}

func (l *RateLimiter) getLimiter(rateStr string) *limiter.Limiter {
	l.mu.RLock()
	lim, ok := l.limitersByRate[rateStr]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limitersByRate[rateStr]; ok {
		return lim
	}
	rate, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		l.log.WithField("rate", rateStr).Warn("Invalid rate, using 10-S")
		rate = limiter.Rate{Period: time.Second, Limit: 10}
	}
	lim = limiter.New(l.store, rate)
	l.limitersByRate[rateStr] = lim
	return lim
}

// Each route gets its own bucket so a chatty location stream never eats into
// a hospital's alert budget.
func limitKey(c *gin.Context, route string) string {
	if userID, ok := c.Get(ContextUserID); ok {
		if s, ok := userID.(string); ok && s != "" {
			return "user:" + s + ":" + route
		}
	}
	return "ip:" + c.ClientIP() + ":" + route
}
