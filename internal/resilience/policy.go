// Package resilience wraps calls to unreliable external services with a
// retry budget and a circuit breaker. The policy object is independent of
// any particular dependency so it can be tested without one.
package resilience

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/agenthands/cobalt/internal/config"
)

// ErrOpen is returned without touching the dependency while the breaker is
// open. Callers are expected to degrade rather than stall.
var ErrOpen = errors.New("circuit breaker open")

// Policy combines exponential-backoff retries with a consecutive-failure
// circuit breaker. Each raw attempt counts against the breaker, so a
// sustained outage opens it even when individual lookups keep retrying.
type Policy struct {
	cfg     config.ResilienceConfig
	breaker *gobreaker.CircuitBreaker
}

func NewPolicy(name string, cfg config.ResilienceConfig, logger *zap.Logger) *Policy {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
	}
	if logger != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		}
	}
	return &Policy{
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (p *Policy) Open() bool {
	return p.breaker.State() == gobreaker.StateOpen
}

// Do runs op under the policy. An open breaker short-circuits to ErrOpen
// immediately; otherwise op is retried with exponential backoff up to the
// configured attempt budget, and the last error is returned.
func Do[T any](ctx context.Context, p *Policy, op func(context.Context) (T, error)) (T, error) {
	operation := func() (T, error) {
		var zero T
		res, err := p.breaker.Execute(func() (interface{}, error) {
			return op(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return zero, backoff.Permanent(ErrOpen)
			}
			return zero, err
		}
		return res.(T), nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.BackoffBase
	b.MaxInterval = p.cfg.BackoffCap

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.MaxAttempts)))
}
