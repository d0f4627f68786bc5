package recipe

import (
	"fmt"
	"strings"
)

// SummaryPrompt builds the LLM prompt asking for a short, friendly summary
// of recommended recipes for a user with the given allergies.
func SummaryPrompt(recipes []Recipe, allergies []string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful cooking assistant. In at most four sentences, tell the user why these recipes are a good next pick. ")
	sb.WriteString("Do not invent ingredients and do not suggest changes that would add allergens.")
	if len(allergies) > 0 {
		fmt.Fprintf(&sb, " The user has the following allergies, and every recipe below has already been checked against them: %s.", strings.Join(allergies, ", "))
	}
	sb.WriteString("\n\nRecipes:\n")
	for i, r := range recipes {
		fmt.Fprintf(&sb, "%d. %s (ingredients: %s)\n", i+1, r.Title, r.Ingredients)
	}
	return sb.String()
}
