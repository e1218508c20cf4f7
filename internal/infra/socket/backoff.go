package socket

import (
	"math/rand/v2"
	"time"
)

// BackoffConfig controls reconnect pacing
type BackoffConfig struct {
	// Delay is the wait before the first retry; it doubles per attempt
	Delay time.Duration `yaml:"delay"`
	// MaxDelay caps the per-attempt wait
	MaxDelay time.Duration `yaml:"max_delay"`
	// MaxAttempts consecutive failures are followed by one Cooldown pause
	MaxAttempts int `yaml:"max_attempts"`
	// Cooldown is the longer pause taken after MaxAttempts failures
	Cooldown time.Duration `yaml:"cooldown"`
	// JitterRatio spreads each wait by up to +/- ratio of itself
	JitterRatio float64 `yaml:"jitter_ratio"`
}

// DefaultBackoffConfig returns the reconnect policy used when none is configured
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Delay:       time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
		Cooldown:    2 * time.Minute,
		JitterRatio: 0.2,
	}
}

// Backoff computes successive reconnect waits. It is not safe for concurrent use.
type Backoff struct {
	cfg      BackoffConfig
	attempts int
	rand     func() float64
}

// NewBackoff creates a backoff with zero attempts
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if cfg.MaxDelay < cfg.Delay {
		cfg.MaxDelay = cfg.Delay
	}
	if cfg.Cooldown < cfg.MaxDelay {
		cfg.Cooldown = cfg.MaxDelay
	}
	return &Backoff{cfg: cfg, rand: rand.Float64}
}

// Next records a failed attempt and returns how long to wait before the next
// one. Attempts 1..MaxAttempts wait Delay*2^(n-1) capped at MaxDelay; the
// attempt after that waits Cooldown and the cycle starts over.
func (b *Backoff) Next() time.Duration {
	b.attempts++

	n := b.attempts
	if b.cfg.MaxAttempts > 0 {
		n = b.attempts % (b.cfg.MaxAttempts + 1)
		if n == 0 {
			return b.jitter(b.cfg.Cooldown)
		}
	}

	d := b.cfg.Delay
	for i := 1; i < n && d < b.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > b.cfg.MaxDelay {
		d = b.cfg.MaxDelay
	}
	return b.jitter(d)
}

// Attempts returns the failures recorded since the last Reset
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset clears the failure count after a successful authentication
func (b *Backoff) Reset() {
	b.attempts = 0
}

func (b *Backoff) jitter(d time.Duration) time.Duration {
	if b.cfg.JitterRatio <= 0 {
		return d
	}
	spread := float64(d) * b.cfg.JitterRatio
	return d + time.Duration((b.rand()*2-1)*spread)
}
