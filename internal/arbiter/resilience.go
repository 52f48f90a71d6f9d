package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"

	"github.com/starsorty/starsorty-api/internal/domain"
)

// ResilienceConfig tunes the retry and circuit-breaker behavior applied on
// top of a raw provider client.
type ResilienceConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// failure. Only transient failures are retried.
	MaxRetries int

	// BaseDelay is the initial backoff delay; subsequent delays grow
	// exponentially.
	BaseDelay time.Duration

	// BreakerFailureThreshold is the number of consecutive failures after
	// which the breaker opens.
	BreakerFailureThreshold uint32

	// BreakerOpenTimeout is how long the breaker stays open before probing
	// the provider again.
	BreakerOpenTimeout time.Duration
}

// DefaultResilienceConfig returns the production retry/breaker settings.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:              2,
		BaseDelay:               time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}
}

// ResilientArbitrator wraps a provider client with bounded exponential
// backoff retries and a circuit breaker. Misconfiguration is returned
// immediately; transient failures, including unparseable responses (a
// fresh model call may well produce valid JSON), are retried up to the
// configured cap and then surfaced to the caller, which owns the
// rule-fallback policy.
type ResilientArbitrator struct {
	inner   Arbitrator
	breaker *gobreaker.CircuitBreaker[arbitration]
	config  ResilienceConfig
	logger  *slog.Logger
}

// arbitration bundles the two values a provider call yields so a single
// breaker execution can carry both.
type arbitration struct {
	result  *domain.Classification
	dropped []string
}

// NewResilientArbitrator wraps inner with the configured retry and breaker.
func NewResilientArbitrator(inner Arbitrator, config ResilienceConfig, logger *slog.Logger) *ResilientArbitrator {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	threshold := config.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	breaker := gobreaker.NewCircuitBreaker[arbitration](gobreaker.Settings{
		Name:    "ai-arbitrator",
		Timeout: config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	return &ResilientArbitrator{
		inner:   inner,
		breaker: breaker,
		config:  config,
		logger:  logger,
	}
}

// Arbitrate implements the Arbitrator interface.
func (r *ResilientArbitrator) Arbitrate(
	ctx context.Context,
	repo *domain.Repo,
	candidates []domain.RuleCandidate,
) (*domain.Classification, []string, error) {
	backoff := retry.WithMaxRetries(uint64(r.config.MaxRetries), retry.NewExponential(r.config.BaseDelay))

	var result arbitration
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		res, err := r.breaker.Execute(func() (arbitration, error) {
			cls, dropped, err := r.inner.Arbitrate(ctx, repo, candidates)
			return arbitration{result: cls, dropped: dropped}, err
		})
		if err != nil {
			if !isTransient(err) {
				return err
			}
			r.logger.WarnContext(ctx, "arbitration attempt failed",
				"repo", repo.FullName,
				"attempt", attempt,
				"max_attempts", r.config.MaxRetries+1,
				"error", err)
			return retry.RetryableError(err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("arbitration failed after %d attempt(s): %w", attempt, err)
	}
	return result.result, result.dropped, nil
}

// isTransient reports whether the error is worth retrying. Unparseable
// responses are retried: the model is nondeterministic and the next reply
// may parse. Breaker-open errors are transient at the call site (a later
// attempt may find the breaker half-open) but the backoff cap keeps them
// bounded. Only misconfiguration is permanent.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrNotConfigured):
		return false
	case errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return true
	default:
		return true
	}
}
