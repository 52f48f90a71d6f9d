package arbiter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/taxonomy"
)

// rawClassification is the decoded-but-untrusted model output. Everything
// in it is validated against the taxonomy before it becomes a
// Classification.
type rawClassification struct {
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	Tags        []string `json:"tags"`
	Confidence  float64  `json:"confidence"`
	Reason      string   `json:"reason"`
}

// ExtractJSON pulls a single JSON object out of a model reply. It strips a
// surrounding ``` fence if present, then falls back to the outermost
// {...} span when the whole text is not valid JSON. Returns
// ErrInvalidResponse when no object can be decoded.
func ExtractJSON(text string) (json.RawMessage, error) {
	candidate := strings.TrimSpace(text)
	if candidate == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrInvalidResponse)
	}

	if strings.HasPrefix(candidate, "```") {
		parts := strings.Split(candidate, "```")
		if len(parts) >= 3 {
			candidate = strings.TrimSpace(parts[1])
			// Fenced blocks often carry a language tag on the first line.
			if rest, ok := strings.CutPrefix(candidate, "json"); ok {
				candidate = strings.TrimSpace(rest)
			}
		}
	}

	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start != -1 && end > start {
		snippet := candidate[start : end+1]
		if json.Valid([]byte(snippet)) {
			return json.RawMessage(snippet), nil
		}
	}

	return nil, fmt.Errorf("%w: no JSON object found in reply", ErrInvalidResponse)
}

// DecodeClassification parses a model reply into a taxonomy-validated
// Classification. Unknown tags are dropped, not fatal; the dropped ids are
// returned for observability. Provider and model identify the source call.
func DecodeClassification(text string, schema *taxonomy.Schema, provider, model string) (*domain.Classification, []string, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, nil, err
	}

	var parsed rawClassification
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	validated, dropped := schema.ValidateClassification(domain.Classification{
		Category:    parsed.Category,
		Subcategory: parsed.Subcategory,
		TagIDs:      parsed.Tags,
		Confidence:  parsed.Confidence,
		Reason:      parsed.Reason,
		Provider:    provider,
		Model:       model,
	})
	return &validated, dropped, nil
}
