package notus

import (
	"context"
	"time"

	csync "github.com/sasha-s/go-csync"
)

// RateLimiter throttles outbound gateway frames. Discord allows a
// limited number of commands per minute per connection; every frame the
// gateway sends passes through Wait before hitting the socket and
// Unlock after. Wait also serializes senders, so outbound frames never
// interleave.
type RateLimiter interface {
	Close(ctx context.Context)
	Reset()
	Wait(ctx context.Context) error
	Unlock()
}

// NewRateLimiter creates the default rate limiter, allowing 120
// commands per minute unless configured otherwise.
func NewRateLimiter(opts ...RateLimiterConfigOpt) RateLimiter {
	config := DefaultRateLimiterConfig()
	config.Apply(opts)

	return &rateLimiterImpl{
		config: *config,
	}
}

type rateLimiterImpl struct {
	mu csync.Mutex

	reset     time.Time
	remaining int

	config RateLimiterConfig
}

func (l *rateLimiterImpl) Close(ctx context.Context) {
	_ = l.mu.CLock(ctx)
}

func (l *rateLimiterImpl) Reset() {
	l.reset = time.Time{}
	l.remaining = 0
	l.mu = csync.Mutex{}
}

func (l *rateLimiterImpl) Wait(ctx context.Context) error {
	if err := l.mu.CLock(ctx); err != nil {
		return err
	}

	now := time.Now()

	var until time.Time

	if l.remaining == 0 && l.reset.After(now) {
		until = l.reset
	}

	if until.After(now) {
		select {
		case <-ctx.Done():
			l.mu.Unlock()
			return ctx.Err()
		case <-time.After(until.Sub(now)):
		}
	}
	return nil
}

func (l *rateLimiterImpl) Unlock() {
	now := time.Now()
	if l.reset.Before(now) {
		l.reset = now.Add(time.Minute)
		l.remaining = l.config.CommandsPerMinute
	}
	l.remaining--
	l.mu.Unlock()
}

// DefaultRateLimiterConfig returns the stock limiter configuration.
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		CommandsPerMinute: 120,
	}
}

// RateLimiterConfig holds the tunables of the default rate limiter.
type RateLimiterConfig struct {
	CommandsPerMinute int
}

// RateLimiterConfigOpt mutates a RateLimiterConfig.
type RateLimiterConfigOpt func(config *RateLimiterConfig)

// Apply applies the given options to the config.
func (c *RateLimiterConfig) Apply(opts []RateLimiterConfigOpt) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithCommandsPerMinute overrides how many outbound frames are allowed
// per minute.
func WithCommandsPerMinute(commandsPerMinute int) RateLimiterConfigOpt {
	return func(config *RateLimiterConfig) {
		config.CommandsPerMinute = commandsPerMinute
	}
}
