package classify

import (
	"fmt"

	"github.com/starsorty/starsorty-api/internal/domain"
)

// Mode selects which classification paths the engine may use.
type Mode string

// Possible classification modes
const (
	// ModeRulesOnly accepts the top rule candidate verbatim and never
	// invokes the arbitrator.
	ModeRulesOnly Mode = "rules_only"

	// ModeAIOnly skips rule matching entirely; every record goes to the
	// arbitrator.
	ModeAIOnly Mode = "ai_only"

	// ModeRulesThenAI accepts high-confidence rule candidates directly and
	// escalates the rest to the arbitrator. This is the default.
	ModeRulesThenAI Mode = "rules_then_ai"
)

// Route identifies the path chosen for one record before it is executed.
type Route string

// Possible routing outcomes
const (
	RouteDirectRule   Route = "direct_rule"
	RouteAI           Route = "ai"
	RouteRuleFallback Route = "rule_fallback"
	RouteManual       Route = "manual"
	RouteSkip         Route = "skip"
)

// Policy holds the score thresholds that steer routing. Both are
// configuration; the engine never hardcodes them.
type Policy struct {
	// DirectThreshold is the minimum top-candidate score for accepting a
	// rule candidate without arbitration (cost control).
	DirectThreshold float64

	// AIBandThreshold is the score above which rule candidates are treated
	// as meaningful priors for the arbitrator.
	AIBandThreshold float64
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		DirectThreshold: 0.88,
		AIBandThreshold: 0.45,
	}
}

// routing is the pre-execution decision for one record.
type routing struct {
	route     Route
	reason    string
	candidate *domain.RuleCandidate
}

// decideRoute chooses the execution path from the mode, AI availability and
// the top rule candidate. It is pure; the engine executes the chosen route.
func decideRoute(mode Mode, useAI bool, top *domain.RuleCandidate, policy Policy) routing {
	switch mode {
	case ModeAIOnly:
		if useAI {
			return routing{route: RouteAI, reason: "classify_mode=ai_only"}
		}
		return routing{route: RouteSkip, reason: "AI disabled"}

	case ModeRulesOnly:
		if top != nil {
			return routing{route: RouteDirectRule, reason: "classify_mode=rules_only", candidate: top}
		}
		return routing{route: RouteSkip, reason: "No matched rule"}
	}

	if top == nil {
		if useAI {
			return routing{route: RouteAI, reason: "No rule candidate"}
		}
		return routing{route: RouteManual, reason: "No rule and AI unavailable"}
	}

	if top.Score >= policy.DirectThreshold {
		return routing{
			route:     RouteDirectRule,
			reason:    fmt.Sprintf("Rule score %.2f >= %.2f", top.Score, policy.DirectThreshold),
			candidate: top,
		}
	}

	if useAI {
		if top.Score >= policy.AIBandThreshold {
			return routing{
				route:     RouteAI,
				reason:    fmt.Sprintf("Rule score %.2f in AI arbitration band", top.Score),
				candidate: top,
			}
		}
		return routing{
			route:     RouteAI,
			reason:    fmt.Sprintf("Rule score %.2f below threshold; still try AI", top.Score),
			candidate: top,
		}
	}

	return routing{
		route:     RouteRuleFallback,
		reason:    "AI unavailable; fallback to top rule candidate",
		candidate: top,
	}
}
