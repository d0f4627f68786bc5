// Package allergy maps allergy labels to the foods that trigger them and
// decides whether an ingredient text is safe for a set of allergies.
package allergy

import (
	"sort"
	"strings"

	"safeplate/internal/recipe"
)

// Index maps an allergy label to its trigger foods. It is immutable after
// construction and safe for concurrent use.
type Index struct {
	foods map[string][]string
}

// NewIndex builds an Index from (allergy, food) pairs. Foods are stored
// lowercased and deduplicated; blank foods are ignored.
func NewIndex(pairs []recipe.AllergyFood) *Index {
	seen := make(map[string]map[string]struct{})
	for _, p := range pairs {
		food := strings.ToLower(strings.TrimSpace(p.Food))
		if food == "" {
			continue
		}
		if seen[p.Allergy] == nil {
			seen[p.Allergy] = make(map[string]struct{})
		}
		seen[p.Allergy][food] = struct{}{}
	}

	foods := make(map[string][]string, len(seen))
	for label, set := range seen {
		list := make([]string, 0, len(set))
		for f := range set {
			list = append(list, f)
		}
		sort.Strings(list)
		foods[label] = list
	}
	return &Index{foods: foods}
}

// FoodsFor returns the lowercased trigger foods of label.
func (x *Index) FoodsFor(label string) ([]string, bool) {
	foods, ok := x.foods[label]
	if !ok {
		return nil, false
	}
	out := make([]string, len(foods))
	copy(out, foods)
	return out, true
}

// Labels returns the known allergy labels in ascending order.
func (x *Index) Labels() []string {
	labels := make([]string, 0, len(x.foods))
	for l := range x.foods {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// IsSafe reports whether ingredients contains none of the trigger foods of
// the given allergy labels. Matching is a case-insensitive substring test and
// stops at the first hit. Labels missing from the index are ignored.
func (x *Index) IsSafe(ingredients string, labels []string) bool {
	if len(labels) == 0 || ingredients == "" {
		return true
	}
	text := strings.ToLower(ingredients)
	for _, label := range labels {
		for _, food := range x.foods[label] {
			if strings.Contains(text, food) {
				return false
			}
		}
	}
	return true
}

// Triggers returns the trigger foods found in ingredients for the given
// labels, in label order. It is the non-short-circuiting form of IsSafe and
// is used to explain why a recipe was rejected.
func (x *Index) Triggers(ingredients string, labels []string) []string {
	text := strings.ToLower(ingredients)
	var hits []string
	for _, label := range labels {
		for _, food := range x.foods[label] {
			if strings.Contains(text, food) {
				hits = append(hits, food)
			}
		}
	}
	return hits
}
