package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/metrics"
	"github.com/starsorty/starsorty-api/internal/store"
)

// ReadmeFetcher is the content-fetching collaborator. Fetching and caching
// README content is outside this core; the engine only consumes the summary
// when the collaborator can provide one.
type ReadmeFetcher interface {
	FetchSummary(ctx context.Context, fullName string) (string, error)
}

// BatchOptions controls one foreground classification batch.
type BatchOptions struct {
	Limit         int
	Force         bool
	IncludeReadme bool
}

// BatchResult reports the outcome of one foreground classification batch.
type BatchResult struct {
	Total                 int `json:"total"`
	Classified            int `json:"classified"`
	Failed                int `json:"failed"`
	RemainingUnclassified int `json:"remaining_unclassified"`
}

// Service executes classification decisions against storage: it loads
// eligible records, runs the engine, persists decisions, and maintains the
// per-record fail counters. The engine stays pure; all I/O lives here.
type Service struct {
	engine  *Engine
	repos   store.RepoStore
	readme  ReadmeFetcher
	quality *metrics.Quality
	logger  *slog.Logger
}

// NewService creates a classification Service. readme may be nil when the
// content collaborator is not wired.
func NewService(
	engine *Engine,
	repos store.RepoStore,
	readme ReadmeFetcher,
	quality *metrics.Quality,
	logger *slog.Logger,
) *Service {
	return &Service{
		engine:  engine,
		repos:   repos,
		readme:  readme,
		quality: quality,
		logger:  logger,
	}
}

// ClassifyRecord classifies one record and persists the decision. An error
// return means the attempt failed; the record's fail counter has already
// been incremented exactly once.
func (s *Service) ClassifyRecord(ctx context.Context, repo domain.Repo, includeReadme bool) error {
	if includeReadme && s.readme != nil && shouldFetchReadme(&repo) {
		summary, err := s.readme.FetchSummary(ctx, repo.FullName)
		if err != nil {
			// README enrichment is best-effort; classification proceeds
			// on the fields already present.
			s.logger.DebugContext(ctx, "readme fetch failed",
				"repo", repo.FullName,
				"error", err)
		} else if summary != "" {
			repo.ReadmeSummary = summary
		}
	}

	started := time.Now()
	decision, err := s.engine.Decide(ctx, &repo)
	if err != nil {
		s.recordFailure(ctx, repo.FullName, err)
		return err
	}

	if err := s.repos.UpdateClassification(ctx, repo.FullName, decision); err != nil {
		s.recordFailure(ctx, repo.FullName, err)
		return fmt.Errorf("failed to persist decision for %s: %w", repo.FullName, err)
	}

	s.logDecision(ctx, &repo, decision, time.Since(started))
	return nil
}

// ClassifyBatch classifies up to Limit eligible records sequentially and
// reports the aggregate outcome. This is the foreground path; background
// runs go through the orchestrator.
func (s *Service) ClassifyBatch(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	selected, err := s.repos.SelectForClassification(ctx, opts.Limit, opts.Force)
	if err != nil {
		return nil, fmt.Errorf("failed to select records for classification: %w", err)
	}

	result := &BatchResult{Total: len(selected)}
	for _, repo := range selected {
		if err := s.ClassifyRecord(ctx, repo, opts.IncludeReadme); err != nil {
			result.Failed++
			continue
		}
		result.Classified++
	}

	remaining, err := s.repos.CountUnclassified(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count unclassified records: %w", err)
	}
	result.RemainingUnclassified = remaining
	return result, nil
}

// recordFailure increments the fail counter for one record. Counter errors
// are logged, not propagated; the classification failure is the primary
// error.
func (s *Service) recordFailure(ctx context.Context, fullName string, cause error) {
	if s.quality != nil {
		s.quality.FailedTotal.Inc()
	}
	s.logger.WarnContext(ctx, "classification failed",
		"repo", fullName,
		"error", cause)
	if err := s.repos.IncrementFailCount(ctx, []string{fullName}); err != nil {
		s.logger.ErrorContext(ctx, "failed to increment classify fail count",
			"repo", fullName,
			"error", err)
	}
}

// logDecision emits one structured classification event per decision, the
// audit trail consumed by the evaluation tooling.
func (s *Service) logDecision(ctx context.Context, repo *domain.Repo, d *domain.Decision, latency time.Duration) {
	topCandidates := d.Candidates
	if len(topCandidates) > 5 {
		topCandidates = topCandidates[:5]
	}
	candidatesJSON, _ := json.Marshal(topCandidates)
	s.logger.InfoContext(ctx, "classification_event",
		"repo", repo.FullName,
		"source", d.Source,
		"category", d.Result.Category,
		"subcategory", d.Result.Subcategory,
		"confidence", d.Result.Confidence,
		"rule_candidates", string(candidatesJSON),
		"latency_ms", latency.Milliseconds())
}

// shouldFetchReadme reports whether README enrichment would add signal:
// records with a substantial description or an existing summary are already
// well covered.
func shouldFetchReadme(repo *domain.Repo) bool {
	if len(repo.Description) >= 20 {
		return false
	}
	return repo.ReadmeSummary == ""
}
