// Package taxonomy loads the controlled category/subcategory/tag vocabulary
// and validates classification payloads against it. AI output is treated as
// structured-but-untrusted: unknown categories collapse to "uncategorized",
// unknown subcategories to "other", and unknown tags are dropped (never a
// hard failure) with the drop surfaced to the caller.
package taxonomy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starsorty/starsorty-api/internal/domain"
)

// Fallback values used when AI or rule output falls outside the taxonomy.
const (
	FallbackCategory    = "uncategorized"
	FallbackSubcategory = "other"
)

// Category is one top-level taxonomy entry with its allowed subcategories.
type Category struct {
	Name          string   `yaml:"name"`
	Subcategories []string `yaml:"subcategories"`
}

// TagDef is one entry of the allowed tag pool. Aliases map legacy or
// display names onto the canonical tag id.
type TagDef struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

type schemaFile struct {
	Categories []Category `yaml:"categories"`
	Tags       []TagDef   `yaml:"tags"`
}

// Schema is the loaded taxonomy: category map plus the canonical tag pool.
type Schema struct {
	Categories []Category

	categoryMap map[string][]string
	tagIDs      []string
	tagSet      map[string]struct{}
	aliasToID   map[string]string
}

// Load reads and parses the taxonomy YAML file at path.
func Load(path string) (*Schema, error) {
	if path == "" {
		return nil, fmt.Errorf("taxonomy path is not set")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file %s: %w", path, err)
	}
	var file schemaFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy file %s: %w", path, err)
	}
	return New(file.Categories, file.Tags), nil
}

// New builds a Schema from already-parsed categories and tag definitions.
func New(categories []Category, tags []TagDef) *Schema {
	s := &Schema{
		categoryMap: make(map[string][]string),
		tagSet:      make(map[string]struct{}),
		aliasToID:   make(map[string]string),
	}
	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		subs := make([]string, 0, len(c.Subcategories))
		for _, sub := range c.Subcategories {
			if trimmed := strings.TrimSpace(sub); trimmed != "" {
				subs = append(subs, trimmed)
			}
		}
		s.Categories = append(s.Categories, Category{Name: name, Subcategories: subs})
		s.categoryMap[name] = subs
	}
	for _, t := range tags {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			continue
		}
		if _, dup := s.tagSet[id]; dup {
			continue
		}
		s.tagIDs = append(s.tagIDs, id)
		s.tagSet[id] = struct{}{}
		s.aliasToID[normalizeToken(id)] = id
		if t.Name != "" {
			s.aliasToID[normalizeToken(t.Name)] = id
		}
		for _, alias := range t.Aliases {
			if alias != "" {
				s.aliasToID[normalizeToken(alias)] = id
			}
		}
	}
	return s
}

// TagIDs returns the canonical tag pool in declaration order.
func (s *Schema) TagIDs() []string {
	return s.tagIDs
}

// KnownTag reports whether id belongs to the canonical tag pool.
func (s *Schema) KnownTag(id string) bool {
	_, ok := s.tagSet[id]
	return ok
}

// NormalizeTagIDs maps raw tag values (ids, display names, legacy aliases)
// onto canonical tag ids, deduplicated and in input order. Values that do
// not resolve to any known tag are returned in dropped.
func (s *Schema) NormalizeTagIDs(values []string) (normalized, dropped []string) {
	seen := make(map[string]struct{})
	for _, v := range values {
		token := normalizeToken(v)
		if token == "" {
			continue
		}
		id, ok := s.aliasToID[token]
		if !ok {
			dropped = append(dropped, strings.TrimSpace(v))
			continue
		}
		if _, already := seen[id]; already {
			continue
		}
		seen[id] = struct{}{}
		normalized = append(normalized, id)
	}
	return normalized, dropped
}

// ValidateClassification sanitizes a classification against the taxonomy.
// Unknown categories fall back to "uncategorized", subcategories to "other"
// (or the category's first subcategory), out-of-range confidence to zero,
// and unknown tags are dropped. Dropped tag values are returned so the
// caller can record the drop as an observable event.
func (s *Schema) ValidateClassification(c domain.Classification) (domain.Classification, []string) {
	subs, ok := s.categoryMap[c.Category]
	if !ok {
		c.Category = FallbackCategory
		subs = s.categoryMap[c.Category]
	}
	if !contains(subs, c.Subcategory) {
		switch {
		case contains(subs, FallbackSubcategory):
			c.Subcategory = FallbackSubcategory
		case len(subs) > 0:
			c.Subcategory = subs[0]
		default:
			c.Subcategory = FallbackSubcategory
		}
	}
	normalized, dropped := s.NormalizeTagIDs(c.TagIDs)
	c.TagIDs = normalized
	if c.Confidence < 0 || c.Confidence > 1 {
		c.Confidence = 0
	}
	return c, dropped
}

// FormatForPrompt renders the taxonomy as a compact listing suitable for
// inclusion in an arbitration prompt.
func (s *Schema) FormatForPrompt() string {
	var b strings.Builder
	for _, c := range s.Categories {
		if len(c.Subcategories) > 0 {
			fmt.Fprintf(&b, "- %s: %s\n", c.Name, strings.Join(c.Subcategories, ", "))
		} else {
			fmt.Fprintf(&b, "- %s: (no subcategories)\n", c.Name)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func normalizeToken(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
