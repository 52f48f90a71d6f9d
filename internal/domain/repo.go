package domain

import (
	"errors"
	"time"
)

// Common validation errors for Repo
var (
	ErrEmptyRepoFullName = errors.New("repo full name cannot be empty")
)

// Repo represents a starred repository record as ingested from the external
// catalog. The sync collaborator creates these records; this service only
// mutates the classification fields (and the fail counter). The manual
// override fields belong to the override collaborator and are read-only here.
type Repo struct {
	FullName      string    `json:"full_name"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Language      string    `json:"language"`
	Topics        []string  `json:"topics"`
	ReadmeSummary string    `json:"readme_summary,omitempty"`
	StarredAt     time.Time `json:"starred_at,omitempty"`

	// Classification output, written by the decision engine.
	Category       string   `json:"category,omitempty"`
	Subcategory    string   `json:"subcategory,omitempty"`
	TagIDs         []string `json:"tag_ids,omitempty"`
	AIConfidence   float64  `json:"ai_confidence,omitempty"`
	AIProvider     string   `json:"ai_provider,omitempty"`
	AIModel        string   `json:"ai_model,omitempty"`
	DecisionSource string   `json:"decision_source,omitempty"`
	DecisionReason string   `json:"decision_reason,omitempty"`

	// Manual override fields, owned by the override collaborator.
	ManualCategory    string   `json:"manual_category,omitempty"`
	ManualSubcategory string   `json:"manual_subcategory,omitempty"`
	ManualTagIDs      []string `json:"manual_tag_ids,omitempty"`

	// ClassifyFailCount counts consecutive failed classification attempts.
	// It is monotonic; only the explicit reset operation zeroes it.
	ClassifyFailCount int `json:"classify_fail_count"`

	ClassifiedAt *time.Time `json:"classified_at,omitempty"`
}

// Validate checks if the Repo has valid data.
func (r *Repo) Validate() error {
	if r.FullName == "" {
		return ErrEmptyRepoFullName
	}
	return nil
}

// IsClassified reports whether the repo already carries a classification.
func (r *Repo) IsClassified() bool {
	return r.Category != ""
}
