package recipe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Recipe represents a catalog recipe with its normalized ingredient text.
type Recipe struct {
	ID          int    `json:"id" db:"id"`
	Title       string `json:"title" db:"title"`
	Ingredients string `json:"ingredients" db:"ingredients"`
	ImageName   string `json:"image_name,omitempty" db:"image_name"`
}

// UnmarshalJSON implements the json.Unmarshaler interface for Recipe.
// Ingredients may be sent either as a single string or as a list of strings.
func (r *Recipe) UnmarshalJSON(data []byte) error {
	type Alias Recipe // Create an alias to avoid infinite recursion
	aux := &struct {
		Ingredients json.RawMessage `json:"ingredients"`
		*Alias
	}{
		Alias: (*Alias)(r),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.Ingredients) == 0 || string(aux.Ingredients) == "null" {
		r.Ingredients = ""
		return nil
	}

	var list []string
	if err := json.Unmarshal(aux.Ingredients, &list); err == nil {
		r.Ingredients = strings.Join(list, " ")
		return nil
	}

	var text string
	if err := json.Unmarshal(aux.Ingredients, &text); err != nil {
		return fmt.Errorf("ingredients must be a string or a list of strings: %w", err)
	}
	r.Ingredients = NormalizeIngredients(text)

	return nil
}

// NormalizeIngredients turns a serialized ingredient list such as
// "['1 cup milk', '2 tbsp sugar']" into space-joined text. Anything that is
// not a well-formed list literal is returned trimmed but otherwise unchanged.
func NormalizeIngredients(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return s
	}
	items, ok := parseListLiteral(s[1 : len(s)-1])
	if !ok {
		return s
	}
	return strings.Join(items, " ")
}

// parseListLiteral splits the body of a bracketed list of quoted strings.
func parseListLiteral(body string) ([]string, bool) {
	var items []string
	i := 0
	for {
		for i < len(body) && body[i] == ' ' {
			i++
		}
		if i == len(body) {
			return items, true
		}

		quote := body[i]
		if quote != '\'' && quote != '"' {
			return nil, false
		}
		i++

		var sb strings.Builder
		closed := false
		for i < len(body) {
			c := body[i]
			if c == '\\' && i+1 < len(body) {
				sb.WriteByte(body[i+1])
				i += 2
				continue
			}
			if c == quote {
				closed = true
				i++
				break
			}
			sb.WriteByte(c)
			i++
		}
		if !closed {
			return nil, false
		}
		items = append(items, sb.String())

		for i < len(body) && body[i] == ' ' {
			i++
		}
		if i == len(body) {
			return items, true
		}
		if body[i] != ',' {
			return nil, false
		}
		i++
	}
}

// Preference records that a user interacted with a recipe. Weight is 1 for a
// plain like.
type Preference struct {
	UserID   int     `json:"user_id" db:"user_id"`
	RecipeID int     `json:"recipe_id" db:"recipe_id"`
	Weight   float64 `json:"weight" db:"weight"`
}

// AllergyFood links an allergy label to one food that triggers it.
type AllergyFood struct {
	Allergy string `json:"allergy" db:"allergy"`
	Food    string `json:"food" db:"food"`
}
