package domain

import "strings"

// Category is a CTI task class produced by the query classifier.
type Category string

const (
	CategoryMemorization   Category = "memorization"
	CategoryUnderstanding  Category = "understanding"
	CategoryProblemSolving Category = "problem_solving"
	CategoryReasoningTAA   Category = "reasoning_taa"
	CategoryReasoningATE   Category = "reasoning_ate"
)

// DefaultCategory is assigned when the classifier returns an unrecognised label.
const DefaultCategory = CategoryUnderstanding

var knownCategories = []Category{
	CategoryMemorization,
	CategoryUnderstanding,
	CategoryProblemSolving,
	CategoryReasoningTAA,
	CategoryReasoningATE,
}

// Categories returns the known categories in their canonical order.
func Categories() []Category {
	out := make([]Category, len(knownCategories))
	copy(out, knownCategories)
	return out
}

// ParseCategory normalises a raw label and reports whether it is a known category.
func ParseCategory(raw string) (Category, bool) {
	label := Category(strings.ToLower(strings.TrimSpace(raw)))
	for _, c := range knownCategories {
		if c == label {
			return c, true
		}
	}
	return label, false
}

type Classification struct {
	Category Category `json:"category"`
	Raw      string   `json:"raw"`
	Fallback bool     `json:"fallback"`
}

type RoutedAnswer struct {
	Category Category `json:"category"`
	Fallback bool     `json:"fallback"`
	Answer   string   `json:"answer"`
}
