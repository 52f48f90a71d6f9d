package arbiter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starsorty/starsorty-api/internal/domain"
)

// Prompt is a provider-agnostic prompt pair. Providers map System and User
// onto their own message shapes.
type Prompt struct {
	System string
	User   string
}

// repoContext is the record payload presented to the model.
type repoContext struct {
	Name          string   `json:"name"`
	FullName      string   `json:"full_name"`
	Description   string   `json:"description"`
	Topics        []string `json:"topics"`
	ReadmeSummary string   `json:"readme_summary,omitempty"`
}

// candidatePrior is a rule candidate presented to the model as a prior it
// may confirm, refine, or override.
type candidatePrior struct {
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Score       float64 `json:"score"`
	RuleID      string  `json:"rule_id"`
}

// BuildPrompt assembles the arbitration prompt for one record. taxonomyText
// is the rendered category/subcategory listing and allowedTags the full tag
// pool; candidates may be empty.
func BuildPrompt(repo *domain.Repo, candidates []domain.RuleCandidate, taxonomyText string, allowedTags []string) (Prompt, error) {
	tagsLine := "free-form"
	if len(allowedTags) > 0 {
		tagsLine = strings.Join(allowedTags, ", ")
	}

	var system strings.Builder
	system.WriteString("You classify GitHub repositories into a fixed taxonomy.\n")
	system.WriteString("Return ONLY valid JSON with this schema:\n")
	system.WriteString(`{"category":"...","subcategory":"...","tags":["..."],"confidence":0.0}` + "\n")
	system.WriteString("Rules:\n")
	system.WriteString("- category and subcategory must be from the taxonomy list.\n")
	system.WriteString("- Ignore programming language; classify by product functionality or use case.\n")
	system.WriteString("- If unsure, use category 'uncategorized' and subcategory 'other'.\n")
	system.WriteString("- tags must be chosen from the allowed tags list if provided; otherwise return [] or reasonable tags.\n")
	system.WriteString("- confidence is between 0 and 1.\n\n")
	system.WriteString("Taxonomy:\n")
	system.WriteString(taxonomyText)
	system.WriteString("\n\nAllowed tags: ")
	system.WriteString(tagsLine)
	system.WriteString("\n")

	if len(candidates) > 0 {
		priors := make([]candidatePrior, 0, len(candidates))
		for _, c := range candidates {
			priors = append(priors, candidatePrior{
				Category:    c.Category,
				Subcategory: c.Subcategory,
				Score:       c.Score,
				RuleID:      c.RuleID,
			})
		}
		priorsJSON, err := json.Marshal(priors)
		if err != nil {
			return Prompt{}, fmt.Errorf("failed to marshal candidate priors: %w", err)
		}
		system.WriteString("\nRule-based candidate classifications, ordered best first. ")
		system.WriteString("Confirm, refine, or override them:\n")
		system.Write(priorsJSON)
		system.WriteString("\n")
	}

	topics := repo.Topics
	if topics == nil {
		topics = []string{}
	}
	user, err := json.Marshal(repoContext{
		Name:          repo.Name,
		FullName:      repo.FullName,
		Description:   repo.Description,
		Topics:        topics,
		ReadmeSummary: repo.ReadmeSummary,
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to marshal record context: %w", err)
	}

	return Prompt{System: system.String(), User: string(user)}, nil
}
