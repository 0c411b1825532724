package engine

import "time"

// Config tunes the processing loop. Zero values are replaced by defaults
// when applied, so a partially filled config is usable.
type Config struct {
	// MaxRetries is the attempt budget per record (>= 1). A record that
	// still has failing deliveries after this many attempts becomes failed.
	MaxRetries int
	// RetryDelay is the fixed interval before a failed record becomes
	// claimable again. The backoff is deliberately flat, not exponential.
	RetryDelay time.Duration
	// BatchSize bounds how many records one tick claims.
	BatchSize int
	// Interval is the tick cadence of the automatic processing loop.
	Interval time.Duration

	RateLimit RateLimitConfig
}

// RateLimitConfig bounds submissions at the composer boundary.
type RateLimitConfig struct {
	Enabled      bool
	MaxPerMinute int
	MaxPerHour   int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	return c
}
