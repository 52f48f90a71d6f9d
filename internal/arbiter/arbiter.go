// Package arbiter defines the boundary between the classification engine
// and external language-model providers. Implementations live under
// internal/platform; the engine only sees this interface.
package arbiter

import (
	"context"

	"github.com/starsorty/starsorty-api/internal/domain"
)

// Arbitrator performs one AI arbitration call for a single record. The rule
// candidates are passed as context so the model can confirm, refine, or
// override them instead of deciding from nothing.
//
// Implementations must validate the provider output against the taxonomy
// (dropping unknown tags, never failing on them) and return the dropped tag
// ids so the caller can observe them. Transport, timeout, and parse
// failures propagate with the root cause preserved; the caller owns the
// fallback policy.
type Arbitrator interface {
	Arbitrate(
		ctx context.Context,
		repo *domain.Repo,
		candidates []domain.RuleCandidate,
	) (*domain.Classification, []string, error)
}
