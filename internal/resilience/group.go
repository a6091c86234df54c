package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoHealthyProvider is returned when every entry in a chain fails or is
// rejected by its breaker.
var ErrNoHealthyProvider = errors.New("resilience: no healthy provider")

// entry pairs a named provider with its breaker.
type entry[T any] struct {
	name     string
	provider T
	breaker  *Breaker
}

// chain tries a list of same-typed providers in order. The first entry is
// the primary; the rest are fallbacks.
type chain[T any] struct {
	entries []entry[T]
	breaker BreakerConfig
}

func newChain[T any](primary T, primaryName string, breaker BreakerConfig) *chain[T] {
	c := &chain[T]{breaker: breaker}
	c.add(primaryName, primary)
	return c
}

func (c *chain[T]) add(name string, provider T) {
	cfg := c.breaker
	cfg.Name = name
	c.entries = append(c.entries, entry[T]{
		name:     name,
		provider: provider,
		breaker:  NewBreaker(cfg),
	})
}

// run invokes fn against each entry in order until one succeeds. Entries
// with an open breaker are skipped. When ctx is cancelled the chain stops
// immediately and the cancellation does not count against any breaker that
// has not been tried yet.
func run[T, R any](ctx context.Context, c *chain[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range c.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		e := &c.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(e.provider)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrBreakerOpen):
			slog.Debug("provider skipped, breaker open", "provider", e.name)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// The caller gave up; trying a fallback would be wasted work.
			return zero, err
		default:
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrNoHealthyProvider, lastErr)
}
