package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starsorty/starsorty-api/internal/arbiter"
	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/metrics"
	"github.com/starsorty/starsorty-api/internal/taxonomy"
)

// Common errors returned by the engine
var (
	// ErrSkipped is returned when the configured mode cannot classify the
	// record at all (e.g. ai_only with AI disabled). The attempt counts as
	// a per-record failure.
	ErrSkipped = errors.New("classification skipped")
)

// maxCandidatesForArbitration caps how many rule candidates are sent to the
// arbitrator as priors.
const maxCandidatesForArbitration = 3

// Engine performs per-record classification: it consults the rule matcher,
// routes between direct rule acceptance and AI arbitration, and applies the
// fallback policy when arbitration fails. The engine itself never touches
// storage; callers persist the returned Decision.
type Engine struct {
	schema  *taxonomy.Schema
	rules   []domain.Rule
	mode    Mode
	policy  Policy
	arb     arbiter.Arbitrator
	quality *metrics.Quality
	logger  *slog.Logger
}

// NewEngine creates an Engine. arb may be nil, in which case every AI route
// degrades according to the fallback policy (rules_then_ai falls back to
// rules, ai_only skips).
func NewEngine(
	schema *taxonomy.Schema,
	ruleSet []domain.Rule,
	mode Mode,
	policy Policy,
	arb arbiter.Arbitrator,
	quality *metrics.Quality,
	logger *slog.Logger,
) *Engine {
	if mode == "" {
		mode = ModeRulesThenAI
	}
	return &Engine{
		schema:  schema,
		rules:   ruleSet,
		mode:    mode,
		policy:  policy,
		arb:     arb,
		quality: quality,
		logger:  logger,
	}
}

// Candidates returns the ordered rule candidates for the record without
// executing a decision. Exposed for audit/preview endpoints and tests.
func (e *Engine) Candidates(repo *domain.Repo) []domain.RuleCandidate {
	if e.mode == ModeAIOnly {
		// ai_only never consults the matcher.
		return nil
	}
	return Match(repo, e.rules, e.schema)
}

// Decide classifies one record and returns the final Decision. An error
// return means the attempt failed and the caller must count it against the
// record's fail counter; a Decision with SourceNone is a successful
// manual-review outcome, not a failure.
func (e *Engine) Decide(ctx context.Context, repo *domain.Repo) (*domain.Decision, error) {
	candidates := e.Candidates(repo)
	var top *domain.RuleCandidate
	if len(candidates) > 0 {
		top = &candidates[0]
	}

	r := decideRoute(e.mode, e.arb != nil, top, e.policy)

	switch r.route {
	case RouteDirectRule, RouteRuleFallback:
		if r.candidate == nil {
			return nil, fmt.Errorf("rule route selected without candidate")
		}
		result, dropped := e.candidateResult(r.candidate)
		e.recordDrop(repo, dropped)
		source := domain.SourceRule
		if r.route == RouteRuleFallback {
			source = domain.SourceFallbackRule
		}
		return e.observed(&domain.Decision{
			Result:     result,
			Source:     source,
			Reason:     r.reason,
			Candidates: candidates,
		}, len(dropped)), nil

	case RouteSkip:
		return nil, fmt.Errorf("%w: %s", ErrSkipped, r.reason)

	case RouteManual:
		result, _ := e.schema.ValidateClassification(domain.Classification{
			Category:    taxonomy.FallbackCategory,
			Subcategory: taxonomy.FallbackSubcategory,
			Reason:      "manual-review",
		})
		return e.observed(&domain.Decision{
			Result:     result,
			Source:     domain.SourceNone,
			Reason:     r.reason,
			Candidates: candidates,
		}, 0), nil
	}

	// AI arbitration path. Candidates are passed as priors so the model can
	// confirm, refine, or override them.
	priors := candidates
	if len(priors) > maxCandidatesForArbitration {
		priors = priors[:maxCandidatesForArbitration]
	}
	aiResult, droppedAI, err := e.arb.Arbitrate(ctx, repo, priors)
	if err != nil {
		if top == nil {
			return nil, fmt.Errorf("arbitration failed with no rule fallback: %w", err)
		}
		e.logger.WarnContext(ctx, "arbitration failed, falling back to top rule candidate",
			"repo", repo.FullName,
			"rule_id", top.RuleID,
			"error", err)
		result, dropped := e.candidateResult(top)
		e.recordDrop(repo, dropped)
		return e.observed(&domain.Decision{
			Result:     result,
			Source:     domain.SourceFallbackRule,
			Reason:     "AI failed; fallback to top rule candidate",
			Candidates: candidates,
		}, len(dropped)), nil
	}

	e.recordDrop(repo, droppedAI)
	return e.observed(&domain.Decision{
		Result:     *aiResult,
		Source:     domain.SourceAI,
		Reason:     r.reason,
		Candidates: candidates,
	}, len(droppedAI)), nil
}

// candidateResult converts a rule candidate into a validated classification.
func (e *Engine) candidateResult(c *domain.RuleCandidate) (domain.Classification, []string) {
	return e.schema.ValidateClassification(domain.Classification{
		Category:    c.Category,
		Subcategory: c.Subcategory,
		TagIDs:      c.TagIDs,
		Confidence:  c.Score,
		Reason:      fmt.Sprintf("rule:%s", c.RuleID),
	})
}

func (e *Engine) recordDrop(repo *domain.Repo, dropped []string) {
	if len(dropped) == 0 {
		return
	}
	e.logger.Warn("dropped tags outside taxonomy pool",
		"repo", repo.FullName,
		"dropped", dropped)
}

func (e *Engine) observed(d *domain.Decision, droppedTags int) *domain.Decision {
	if e.quality != nil {
		e.quality.ObserveDecision(string(d.Source), d.Result.Category, len(d.Result.TagIDs), droppedTags)
	}
	return d
}
