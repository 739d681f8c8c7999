package dispatch

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/rbaliyan/dispatch/history"
)

// config holds dispatcher configuration (unexported).
type config struct {
	logger          *slog.Logger
	tracingEnabled  bool
	metricsEnabled  bool
	recoveryEnabled bool
	clock           func() time.Time
	ids             IDSource
	limiter         *rate.Limiter
	history         history.Store
}

// Option is a dispatcher configuration function.
type Option func(*config)

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracing enables/disables OpenTelemetry spans around dispatch. Default
// is true.
func WithTracing(enabled bool) Option {
	return func(c *config) {
		c.tracingEnabled = enabled
	}
}

// WithMetrics enables/disables OpenTelemetry counters. Default is true.
func WithMetrics(enabled bool) Option {
	return func(c *config) {
		c.metricsEnabled = enabled
	}
}

// WithRecovery enables/disables handler panic recovery. Recovery should
// always be enabled, can be disabled for testing. Default is true.
func WithRecovery(enabled bool) Option {
	return func(c *config) {
		c.recoveryEnabled = enabled
	}
}

// WithClock sets the clock used to stamp notification and event timestamps.
// Inject a fixed clock for deterministic tests. Default is time.Now.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithIDSource sets the identifier source for notifications built by this
// dispatcher. Default is the package-level notification sequence.
func WithIDSource(ids IDSource) Option {
	return func(c *config) {
		if ids != nil {
			c.ids = ids
		}
	}
}

// WithRateLimiter throttles dispatch passes. Dispatch waits on the limiter
// before running, honoring context cancellation. Default is no limit.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *config) {
		c.limiter = l
	}
}

// WithHistory records every completed notification to the store. Recording is
// best effort: a store failure is logged and never fails the dispatch.
func WithHistory(store history.Store) Option {
	return func(c *config) {
		c.history = store
	}
}

// newConfig creates a config with defaults and applies provided options.
func newConfig(opts ...Option) *config {
	c := &config{
		logger:          slog.Default(),
		tracingEnabled:  true,
		metricsEnabled:  true,
		recoveryEnabled: true,
		clock:           time.Now,
		ids:             defaultNotificationIDs,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
