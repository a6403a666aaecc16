// Package category maps raw merchant/product text to a canonical spending
// category using an ordered keyword rule table. The table is loaded once at
// startup and read-only for the process lifetime.
package category

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DefaultCategory is assigned when no rule matches.
const DefaultCategory = "Other"

//go:embed rules.json
var embeddedRules []byte

// Rule pairs a set of lowercase keywords with the category assigned when
// any keyword occurs in the input. Order matters: the first matching rule
// wins.
type Rule struct {
	Keywords []string `json:"keywords"`
	Category string   `json:"category"`
}

// Normalizer holds the ordered rule table and the fallback category.
type Normalizer struct {
	rules    []Rule
	fallback string
}

// New builds a normalizer from the embedded rule table.
func New() *Normalizer {
	n, err := fromJSON(embeddedRules)
	if err != nil {
		// The embedded table is validated by tests; an error here is a
		// build defect, not a runtime condition.
		panic(fmt.Sprintf("category: embedded rules invalid: %v", err))
	}
	return n
}

// NewFromFile loads rules from path, falling back to the embedded table
// when the file is missing or malformed.
func NewFromFile(path string) (*Normalizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return New(), fmt.Errorf("read rules file: %w", err)
	}
	n, err := fromJSON(data)
	if err != nil {
		return New(), fmt.Errorf("parse rules file: %w", err)
	}
	return n, nil
}

func fromJSON(data []byte) (*Normalizer, error) {
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	valid := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if len(r.Keywords) == 0 || strings.TrimSpace(r.Category) == "" {
			return nil, fmt.Errorf("rule %d: keywords and category are required", i)
		}
		for j, kw := range r.Keywords {
			r.Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
		valid = append(valid, r)
	}
	return &Normalizer{rules: valid, fallback: DefaultCategory}, nil
}

// Normalize returns the category of the first rule with a keyword contained
// in raw (case-insensitive), or the fallback category. Total and
// deterministic: it never fails.
func (n *Normalizer) Normalize(raw string) string {
	name := strings.ToLower(raw)
	for _, rule := range n.rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(name, kw) {
				return rule.Category
			}
		}
	}
	return n.fallback
}

// Rules returns a copy of the active rule table, for diagnostics.
func (n *Normalizer) Rules() []Rule {
	out := make([]Rule, len(n.rules))
	copy(out, n.rules)
	return out
}
