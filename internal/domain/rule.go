package domain

// Rule is a single deterministic classification rule loaded from
// configuration. Rules are immutable during a classification run.
//
// A rule matches a record when all MustKeywords are present in the record's
// text and none of the ExcludeKeywords are. ShouldKeywords contribute to the
// match score; Priority breaks ties between rules with equal scores.
type Rule struct {
	RuleID          string   `json:"rule_id"`
	MustKeywords    []string `json:"must_keywords"`
	ShouldKeywords  []string `json:"should_keywords"`
	ExcludeKeywords []string `json:"exclude_keywords"`
	Category        string   `json:"category"`
	Subcategory     string   `json:"subcategory"`
	TagIDs          []string `json:"tag_ids"`
	Priority        int      `json:"priority"`
}

// RuleCandidate is an ephemeral, rule-derived classification proposal.
// Candidates are produced by the matcher, consumed within a single decision,
// and discarded. They are also passed to the AI arbitrator as priors and
// persisted (top few only) as decision audit data.
type RuleCandidate struct {
	RuleID      string   `json:"rule_id"`
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	Score       float64  `json:"score"`
	Priority    int      `json:"priority"`
	TagIDs      []string `json:"tag_ids"`
	MustHits    []string `json:"must_hits,omitempty"`
	ShouldHits  []string `json:"should_hits,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
}
