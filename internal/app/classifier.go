package app

import (
	"sort"
	"strings"
)

// Classifier labels a text segment. The batch pipeline treats it as an
// injected collaborator so tests and deployments can swap implementations.
type Classifier interface {
	Label(text string) string
}

// KeywordClassifier assigns the first label whose keyword list matches the
// segment, falling back to a default label. Matching is case-insensitive and
// ordered, so results are deterministic for identical input.
type KeywordClassifier struct {
	labels       []string
	keywords     map[string][]string
	defaultLabel string
}

func NewKeywordClassifier(rules map[string][]string, defaultLabel string) *KeywordClassifier {
	labels := make([]string, 0, len(rules))
	for label := range rules {
		labels = append(labels, label)
	}
	// map iteration order is random; sort for stable precedence
	sort.Strings(labels)
	return &KeywordClassifier{
		labels:       labels,
		keywords:     rules,
		defaultLabel: defaultLabel,
	}
}

// DefaultClassifier covers the common document classes of the ingestion
// corpus.
func DefaultClassifier() *KeywordClassifier {
	return NewKeywordClassifier(map[string][]string{
		"invoice":  {"invoice", "amount due", "billing"},
		"contract": {"agreement", "hereinafter", "parties agree"},
		"report":   {"summary", "findings", "conclusion"},
	}, "general")
}

func (c *KeywordClassifier) Label(text string) string {
	lowered := strings.ToLower(text)
	for _, label := range c.labels {
		for _, kw := range c.keywords[label] {
			if strings.Contains(lowered, kw) {
				return label
			}
		}
	}
	return c.defaultLabel
}
