// Package middleware contains telebot middlewares for request processing.
package middleware

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v3"

	"github.com/alem-hub/study-buddy/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER MIDDLEWARE
// Per-user token buckets. A user over the limit gets one warning, then
// silence until a command is allowed again.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// PerSecond is the sustained number of commands per user per second.
	PerSecond float64

	// Burst is the bucket size.
	Burst int

	// IdleTTL is how long an unused bucket is kept.
	IdleTTL time.Duration

	// Whitelisted users are never limited (admins).
	Whitelisted []int64

	// Message is sent once when a user starts being limited.
	Message string

	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PerSecond: 1,
		Burst:     5,
		IdleTTL:   10 * time.Minute,
		Message:   "Too many commands. Give it a few seconds and try again.",
	}
}

// RateLimiter implements per-user rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[int64]*visitor

	limit       rate.Limit
	burst       int
	idleTTL     time.Duration
	whitelisted map[int64]bool
	message     string
	logger      *slog.Logger
	now         func() time.Time
	lastSweep   time.Time
	metrics     *Metrics
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	warned   bool
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.PerSecond <= 0 {
		config.PerSecond = defaults.PerSecond
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	if config.Message == "" {
		config.Message = defaults.Message
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	whitelisted := make(map[int64]bool, len(config.Whitelisted))
	for _, id := range config.Whitelisted {
		whitelisted[id] = true
	}

	return &RateLimiter{
		visitors:    make(map[int64]*visitor),
		limit:       rate.Limit(config.PerSecond),
		burst:       config.Burst,
		idleTTL:     config.IdleTTL,
		whitelisted: whitelisted,
		message:     config.Message,
		logger:      config.Logger.With(logger.Component("rate_limiter")),
		now:         config.Now,
		lastSweep:   config.Now(),
	}
}

// WithMetrics counts limited commands in m.
func (rl *RateLimiter) WithMetrics(m *Metrics) *RateLimiter {
	rl.metrics = m
	return rl
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool

	// Warn is true for the first rejected command of a limited streak.
	Warn bool
}

// Check consumes a token for the user.
func (rl *RateLimiter) Check(userID int64) Decision {
	if rl.whitelisted[userID] {
		return Decision{Allowed: true}
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweepLocked(now)

	v, ok := rl.visitors[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[userID] = v
	}
	v.lastSeen = now

	if v.limiter.AllowN(now, 1) {
		v.warned = false
		return Decision{Allowed: true}
	}

	warn := !v.warned
	v.warned = true
	return Decision{Allowed: false, Warn: warn}
}

// Tracked returns the number of buckets currently held.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// sweepLocked drops idle buckets at most once per IdleTTL.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.idleTTL {
		return
	}
	rl.lastSweep = now
	for id, v := range rl.visitors {
		if now.Sub(v.lastSeen) >= rl.idleTTL {
			delete(rl.visitors, id)
		}
	}
}

// Middleware returns the telebot middleware.
func (rl *RateLimiter) Middleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return next(c)
			}

			d := rl.Check(sender.ID)
			if d.Allowed {
				return next(c)
			}

			if rl.metrics != nil {
				rl.metrics.recordLimited()
			}
			rl.logger.Debug("command rate limited", logger.TelegramID(sender.ID))
			if d.Warn {
				return c.Send(rl.message)
			}
			return nil
		}
	}
}
