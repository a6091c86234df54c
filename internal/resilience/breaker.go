// Package resilience provides failover wrappers for the three pipeline
// capabilities.
//
// Each wrapper ([STT], [Chat], [TTS]) holds a primary provider and zero or
// more fallbacks, every one guarded by its own [Breaker]. A call goes to the
// first entry whose breaker admits it; a failing primary is bypassed until
// its cooldown elapses. Context cancellation aborts the whole chain without
// counting against any breaker.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// the cooldown has not yet elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker is open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards all calls.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrBreakerOpen] until the cooldown
	// elapses.
	BreakerOpen

	// BreakerProbing admits a bounded number of probe calls after the
	// cooldown. All probes succeeding closes the breaker; any probe failing
	// re-opens it.
	BreakerProbing
)

// String returns the lowercase name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero-valued fields get defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before probing resumes.
	// Default: 30s.
	Cooldown time.Duration

	// Probes is how many consecutive probe calls must succeed before an open
	// breaker closes again. Default: 3.
	Probes int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 3
	}
	return c
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig
	log *slog.Logger

	mu        sync.Mutex
	state     BreakerState
	failures  int // consecutive failures while closed
	successes int // consecutive probe successes while probing
	inflight  int // probes currently running
	openedAt  time.Time
}

// NewBreaker creates a closed [Breaker] with the given configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg: cfg.withDefaults(),
		log: slog.Default().With(slog.String("breaker", cfg.Name)),
	}
}

// Do runs fn if the breaker admits the call. While open it returns
// [ErrBreakerOpen] without invoking fn. The error returned by fn is passed
// through unchanged.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.settle(err == nil)
	return err
}

// admit decides whether a call may proceed, performing the open-to-probing
// transition when the cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerProbing
		b.successes = 0
		b.inflight = 0
		b.log.Info("breaker probing after cooldown")
		fallthrough
	case BreakerProbing:
		if b.inflight >= b.cfg.Probes {
			return ErrBreakerOpen
		}
		b.inflight++
	}
	return nil
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		if ok {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}

	case BreakerProbing:
		b.inflight--
		if !ok {
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.state = BreakerClosed
			b.failures = 0
			b.log.Info("breaker closed after successful probes")
		}
	}
}

// trip moves the breaker to the open state. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = time.Now()
	b.successes = 0
	b.log.Warn("breaker opened", slog.Int("failures", b.failures))
}

// State reports the effective state. An open breaker whose cooldown has
// elapsed reports [BreakerProbing]; the transition itself happens on the
// next [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cfg.Cooldown {
		return BreakerProbing
	}
	return b.state
}

// Reset forces the breaker back to closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
	b.inflight = 0
}
