package arbiter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starsorty/starsorty-api/internal/domain"
)

type flakyArbitrator struct {
	failures int
	err      error
	dropped  []string
	calls    int
}

func (f *flakyArbitrator) Arbitrate(
	context.Context, *domain.Repo, []domain.RuleCandidate,
) (*domain.Classification, []string, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, nil, f.err
	}
	return &domain.Classification{Category: "infrastructure"}, f.dropped, nil
}

func fastResilience(maxRetries int) ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:              maxRetries,
		BaseDelay:               time.Millisecond,
		BreakerFailureThreshold: 100,
		BreakerOpenTimeout:      time.Minute,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResilientArbitratorRetriesTransient(t *testing.T) {
	inner := &flakyArbitrator{failures: 2, err: ErrTransientFailure}
	r := NewResilientArbitrator(inner, fastResilience(3), discardLogger())

	result, _, err := r.Arbitrate(context.Background(), &domain.Repo{FullName: "a/b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "infrastructure", result.Category)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientArbitratorExhaustsRetries(t *testing.T) {
	inner := &flakyArbitrator{failures: 100, err: ErrTransientFailure}
	r := NewResilientArbitrator(inner, fastResilience(2), discardLogger())

	_, _, err := r.Arbitrate(context.Background(), &domain.Repo{FullName: "a/b"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransientFailure)
	// First attempt plus two retries.
	assert.Equal(t, 3, inner.calls)
}

func TestResilientArbitratorPermanentErrorsNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "invalid config", err: ErrInvalidConfig},
		{name: "not configured", err: ErrNotConfigured},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inner := &flakyArbitrator{failures: 100, err: tc.err}
			r := NewResilientArbitrator(inner, fastResilience(5), discardLogger())

			_, _, err := r.Arbitrate(context.Background(), &domain.Repo{FullName: "a/b"}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, 1, inner.calls)
		})
	}
}

func TestResilientArbitratorRetriesUnparseableReplies(t *testing.T) {
	// A malformed reply is a property of one model call, not of the
	// provider; the next attempt may produce valid JSON.
	inner := &flakyArbitrator{failures: 100, err: ErrInvalidResponse}
	r := NewResilientArbitrator(inner, fastResilience(2), discardLogger())

	_, _, err := r.Arbitrate(context.Background(), &domain.Repo{FullName: "a/b"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientArbitratorForwardsDroppedTags(t *testing.T) {
	inner := &flakyArbitrator{dropped: []string{"ghost-tag"}}
	r := NewResilientArbitrator(inner, fastResilience(1), discardLogger())

	_, dropped, err := r.Arbitrate(context.Background(), &domain.Repo{FullName: "a/b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost-tag"}, dropped)
}

func TestResilientArbitratorBreakerOpens(t *testing.T) {
	inner := &flakyArbitrator{failures: 1000, err: ErrTransientFailure}
	config := fastResilience(0)
	config.BreakerFailureThreshold = 3
	r := NewResilientArbitrator(inner, config, discardLogger())

	repo := &domain.Repo{FullName: "a/b"}
	for i := 0; i < 3; i++ {
		_, _, err := r.Arbitrate(context.Background(), repo, nil)
		require.Error(t, err)
	}

	callsBefore := inner.calls
	_, _, err := r.Arbitrate(context.Background(), repo, nil)
	require.Error(t, err)
	// The open breaker short-circuits; the inner arbitrator is not called.
	assert.Equal(t, callsBefore, inner.calls)
}

func TestResilientArbitratorWrappedTransientDetected(t *testing.T) {
	inner := &flakyArbitrator{
		failures: 1,
		err:      errors.Join(errors.New("POST failed"), ErrTransientFailure),
	}
	r := NewResilientArbitrator(inner, fastResilience(2), discardLogger())

	_, _, err := r.Arbitrate(context.Background(), &domain.Repo{FullName: "a/b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}
