package domain

// DecisionSource identifies which path produced a classification decision.
type DecisionSource string

// Possible decision source values
const (
	// SourceRule means the top rule candidate was accepted directly.
	SourceRule DecisionSource = "rule"

	// SourceAI means the AI arbitrator produced the decision.
	SourceAI DecisionSource = "ai"

	// SourceFallbackRule means arbitration failed and the top rule
	// candidate was used as a fallback.
	SourceFallbackRule DecisionSource = "fallback-rule"

	// SourceNone means no decision could be made; the record is routed
	// to manual review.
	SourceNone DecisionSource = "none"
)

// Classification is the validated classification payload for one record.
// Category, Subcategory and TagIDs are guaranteed to belong to the taxonomy
// after validation; unknown tags have been dropped.
type Classification struct {
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	TagIDs      []string `json:"tag_ids"`
	Confidence  float64  `json:"confidence"`
	Reason      string   `json:"reason,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// Decision is the final classification output for one record in one attempt.
type Decision struct {
	Result     Classification  `json:"result"`
	Source     DecisionSource  `json:"source"`
	Reason     string          `json:"reason"`
	Candidates []RuleCandidate `json:"candidates,omitempty"`
}
