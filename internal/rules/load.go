// Package rules loads the deterministic classification rule set from
// configuration. Rules can be supplied inline (a JSON string, typically via
// environment) or from a fallback file; inline rules win when both parse.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/starsorty/starsorty-api/internal/domain"
)

type ruleFile struct {
	Rules []domain.Rule `json:"rules"`
}

// Load parses the rule set from the inline JSON document, falling back to
// the file at fallbackPath when the inline document is empty or yields no
// rules. A missing fallback file is not an error; it yields an empty set.
func Load(inline string, fallbackPath string) ([]domain.Rule, error) {
	if strings.TrimSpace(inline) != "" {
		parsed, err := parse([]byte(inline))
		if err == nil && len(parsed) > 0 {
			return parsed, nil
		}
	}

	if fallbackPath == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rules file %s: %w", fallbackPath, err)
	}
	parsed, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", fallbackPath, err)
	}
	return parsed, nil
}

func parse(raw []byte) ([]domain.Rule, error) {
	var file ruleFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	out := make([]domain.Rule, 0, len(file.Rules))
	for _, r := range file.Rules {
		r.RuleID = strings.TrimSpace(r.RuleID)
		if r.RuleID == "" {
			r.RuleID = "rule"
		}
		if strings.TrimSpace(r.Category) == "" {
			r.Category = "uncategorized"
		}
		if strings.TrimSpace(r.Subcategory) == "" {
			r.Subcategory = "other"
		}
		out = append(out, r)
	}
	return out, nil
}
