package engine

import (
	"time"

	"golang.org/x/time/rate"
)

// SubmitLimiter enforces the submission budget with two token buckets, one
// per minute and one per hour. Buckets refill continuously, which keeps the
// window monotonic, and admission ignores priority so low-priority sends are
// never starved behind higher ones.
type SubmitLimiter struct {
	perMinute *rate.Limiter
	perHour   *rate.Limiter
}

// NewSubmitLimiter returns nil when rate limiting is disabled; a nil limiter
// admits everything.
func NewSubmitLimiter(cfg RateLimitConfig) *SubmitLimiter {
	if !cfg.Enabled {
		return nil
	}
	l := &SubmitLimiter{}
	if cfg.MaxPerMinute > 0 {
		l.perMinute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.MaxPerMinute)), cfg.MaxPerMinute)
	}
	if cfg.MaxPerHour > 0 {
		l.perHour = rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.MaxPerHour)), cfg.MaxPerHour)
	}
	return l
}

// Allow consumes one token from each configured bucket.
func (l *SubmitLimiter) Allow() bool {
	if l == nil {
		return true
	}
	if l.perMinute != nil && !l.perMinute.Allow() {
		return false
	}
	if l.perHour != nil && !l.perHour.Allow() {
		return false
	}
	return true
}
