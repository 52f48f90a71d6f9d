// Package classify implements the classification decision engine: rule
// candidate generation, routing between direct rule acceptance and AI
// arbitration, and the fallback policy when arbitration fails.
package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/taxonomy"
)

// Match scores the configured rules against one record and returns the
// matching candidates ordered by (score desc, priority desc, declaration
// order). It is pure and deterministic: identical inputs always produce the
// identical ordered slice. Zero matches yields an empty slice, not an error.
func Match(repo *domain.Repo, ruleSet []domain.Rule, schema *taxonomy.Schema) []domain.RuleCandidate {
	if len(ruleSet) == 0 {
		return nil
	}
	haystack := buildHaystack(repo)
	candidates := make([]domain.RuleCandidate, 0, 4)

	for _, rule := range ruleSet {
		if anyKeywordMatches(rule.ExcludeKeywords, haystack) {
			// Exclusion disqualifies the rule outright, even when the
			// must/should keywords are satisfied.
			continue
		}

		mustHits := matchingKeywords(rule.MustKeywords, haystack)
		if len(mustHits) != countNonEmpty(rule.MustKeywords) {
			continue
		}
		shouldHits := matchingKeywords(rule.ShouldKeywords, haystack)
		if len(mustHits) == 0 && len(shouldHits) == 0 {
			continue
		}

		score := scoreRule(rule, mustHits, shouldHits)
		tagIDs, _ := schema.NormalizeTagIDs(rule.TagIDs)

		var evidence []string
		if len(mustHits) > 0 {
			evidence = append(evidence, fmt.Sprintf("must=%s", strings.Join(truncate(mustHits, 4), ",")))
		}
		if len(shouldHits) > 0 {
			evidence = append(evidence, fmt.Sprintf("should=%s", strings.Join(truncate(shouldHits, 4), ",")))
		}

		candidates = append(candidates, domain.RuleCandidate{
			RuleID:      rule.RuleID,
			Category:    rule.Category,
			Subcategory: rule.Subcategory,
			Score:       score,
			Priority:    rule.Priority,
			TagIDs:      tagIDs,
			MustHits:    mustHits,
			ShouldHits:  shouldHits,
			Evidence:    evidence,
		})
	}

	// Stable sort keeps declaration order as the final tie-break.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Priority > candidates[j].Priority
	})
	return candidates
}

// scoreRule computes a normalized [0,1] score: a full must-keyword hit
// contributes 0.55, should-keyword coverage up to 0.35 (a flat 0.2 when the
// rule declares no should keywords), and priority up to 0.1.
func scoreRule(rule domain.Rule, mustHits, shouldHits []string) float64 {
	score := 0.0
	if countNonEmpty(rule.MustKeywords) > 0 {
		score += 0.55
	}
	shouldTotal := countNonEmpty(rule.ShouldKeywords)
	if shouldTotal > 0 {
		coverage := 0.35 * float64(len(shouldHits)) / float64(shouldTotal)
		if coverage > 0.35 {
			coverage = 0.35
		}
		score += coverage
	} else {
		score += 0.2
	}
	if rule.Priority > 0 {
		bonus := float64(rule.Priority) * 0.02
		if bonus > 0.1 {
			bonus = 0.1
		}
		score += bonus
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// buildHaystack joins the record's free-text fields into a single
// case-folded string for keyword matching.
func buildHaystack(repo *domain.Repo) string {
	parts := []string{
		repo.Name,
		repo.FullName,
		repo.Description,
		repo.Language,
		strings.Join(repo.Topics, " "),
		repo.ReadmeSummary,
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// keywordMatches reports whether the keyword occurs in the haystack. Simple
// tokens (letters, digits, and a few joiners) match on token boundaries so
// that e.g. "go" does not hit "django"; anything else falls back to a plain
// substring check.
func keywordMatches(keyword, haystack string) bool {
	token := strings.ToLower(strings.TrimSpace(keyword))
	if token == "" {
		return false
	}
	if !isSimpleToken(token) {
		return strings.Contains(haystack, token)
	}
	for start := 0; ; {
		idx := strings.Index(haystack[start:], token)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(token)
		if !isWordChar(byteBefore(haystack, idx)) && !isWordChar(byteAt(haystack, end)) {
			return true
		}
		start = idx + 1
	}
}

func isSimpleToken(token string) bool {
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == ' ' || r == '.' || r == '/' || r == '+':
		default:
			return false
		}
	}
	return true
}

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func byteBefore(s string, idx int) byte {
	if idx <= 0 {
		return 0
	}
	return s[idx-1]
}

func byteAt(s string, idx int) byte {
	if idx >= len(s) {
		return 0
	}
	return s[idx]
}

func anyKeywordMatches(keywords []string, haystack string) bool {
	for _, k := range keywords {
		if keywordMatches(k, haystack) {
			return true
		}
	}
	return false
}

func matchingKeywords(keywords []string, haystack string) []string {
	var hits []string
	for _, k := range keywords {
		if strings.TrimSpace(k) == "" {
			continue
		}
		if keywordMatches(k, haystack) {
			hits = append(hits, strings.TrimSpace(k))
		}
	}
	return hits
}

func countNonEmpty(keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.TrimSpace(k) != "" {
			n++
		}
	}
	return n
}

func truncate(list []string, max int) []string {
	if len(list) > max {
		return list[:max]
	}
	return list
}
