package syncer

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffConfig gates how often a retry pass may run.
type BackoffConfig struct {
	// Base is the delay after the first failed pass.
	Base time.Duration
	// Max caps every delay, jitter included.
	Max time.Duration
	// MaxAttempts bounds the failed-pass counter.
	MaxAttempts int
	// Jitter is the randomization factor in [0, 1). Zero disables jitter.
	Jitter float64
}

// DefaultBackoff is 1s doubling to 30s with 50% jitter and at most 10
// counted attempts.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Base:        time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 10,
		Jitter:      backoff.DefaultRandomizationFactor,
	}
}

// retryGate tracks consecutive failed retry passes and the earliest time
// the next pass may run.
type retryGate struct {
	mu        sync.Mutex
	cfg       BackoffConfig
	policy    *backoff.ExponentialBackOff
	attempts  int
	notBefore time.Time
}

func newRetryGate(cfg BackoffConfig) *retryGate {
	def := DefaultBackoff()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Max < cfg.Base {
		cfg.Max = cfg.Base
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = def.Jitter
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.Base
	policy.MaxInterval = cfg.Max
	policy.Multiplier = 2
	policy.RandomizationFactor = cfg.Jitter
	policy.Reset()

	return &retryGate{cfg: cfg, policy: policy}
}

// Allow reports whether a retry pass may run at now.
func (g *retryGate) Allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !now.Before(g.notBefore)
}

// Failure records a pass in which nothing succeeded and pushes the gate out.
func (g *retryGate) Failure(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.attempts < g.cfg.MaxAttempts {
		g.attempts++
	}
	d := g.policy.NextBackOff()
	if d > g.cfg.Max {
		d = g.cfg.Max
	}
	g.notBefore = now.Add(d)
	return d
}

// Reset clears the counter and opens the gate. Called the moment any event
// in a pass succeeds.
func (g *retryGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts = 0
	g.notBefore = time.Time{}
	g.policy.Reset()
}

// State returns the attempt counter and the next allowed time.
func (g *retryGate) State() (attempts int, notBefore time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts, g.notBefore
}
