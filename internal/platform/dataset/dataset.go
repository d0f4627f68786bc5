// Package dataset reads the recipe, allergy and preference CSV exports and
// turns them into normalized records ready for the store.
package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"safeplate/internal/recipe"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("missing required column")

// Report counts how many data rows were read and how many were skipped as malformed.
type Report struct {
	Read    int
	Skipped int
}

type header map[string]int

func readHeader(r *csv.Reader) (header, error) {
	row, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	h := make(header, len(row))
	for i, name := range row {
		name = strings.TrimPrefix(name, "\ufeff")
		h[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return h, nil
}

// col returns the index of the first present name.
func (h header) col(names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := h[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}

func newReader(in io.Reader) *csv.Reader {
	r := csv.NewReader(bufio.NewReader(in))
	r.FieldsPerRecord = -1
	return r
}

// ReadAllergyFoods reads a food/allergy CSV with at least the columns Food
// and Allergy. Rows missing either value are skipped.
func ReadAllergyFoods(in io.Reader) ([]recipe.AllergyFood, Report, error) {
	var rep Report
	r := newReader(in)
	h, err := readHeader(r)
	if err != nil {
		return nil, rep, err
	}
	foodCol, ok := h.col("food")
	if !ok {
		return nil, rep, fmt.Errorf("%w: Food", ErrMissingColumn)
	}
	allergyCol, ok := h.col("allergy")
	if !ok {
		return nil, rep, fmt.Errorf("%w: Allergy", ErrMissingColumn)
	}

	var out []recipe.AllergyFood
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		rep.Read++
		if err != nil {
			rep.Skipped++
			continue
		}
		food, label := field(rec, foodCol), field(rec, allergyCol)
		if food == "" || label == "" {
			rep.Skipped++
			continue
		}
		out = append(out, recipe.AllergyFood{Allergy: label, Food: food})
	}
	return out, rep, nil
}

// ReadRecipes reads a recipe CSV. The id comes from an Id column or, when
// the export has an unnamed leading index column, from that column.
// Cleaned_Ingredients is preferred over Ingredients and is normalized from
// its list-literal form to plain text.
func ReadRecipes(in io.Reader) ([]recipe.Recipe, Report, error) {
	var rep Report
	r := newReader(in)
	h, err := readHeader(r)
	if err != nil {
		return nil, rep, err
	}
	idCol, ok := h.col("id", "")
	if !ok {
		return nil, rep, fmt.Errorf("%w: Id", ErrMissingColumn)
	}
	ingCol, ok := h.col("cleaned_ingredients", "ingredients")
	if !ok {
		return nil, rep, fmt.Errorf("%w: Cleaned_Ingredients", ErrMissingColumn)
	}
	titleCol, hasTitle := h.col("title")
	imageCol, hasImage := h.col("image_name")

	var out []recipe.Recipe
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		rep.Read++
		if err != nil {
			rep.Skipped++
			continue
		}
		id, err := strconv.Atoi(field(rec, idCol))
		if err != nil {
			rep.Skipped++
			continue
		}
		rcp := recipe.Recipe{
			ID:          id,
			Ingredients: recipe.NormalizeIngredients(field(rec, ingCol)),
		}
		if hasTitle {
			rcp.Title = field(rec, titleCol)
		}
		if hasImage {
			rcp.ImageName = field(rec, imageCol)
		}
		out = append(out, rcp)
	}
	return out, rep, nil
}

// ReadPreferences reads user_id,recipe_id and an optional like (or weight)
// column. A missing weight means a plain like of 1.
func ReadPreferences(in io.Reader) ([]recipe.Preference, Report, error) {
	var rep Report
	r := newReader(in)
	h, err := readHeader(r)
	if err != nil {
		return nil, rep, err
	}
	userCol, ok := h.col("user_id")
	if !ok {
		return nil, rep, fmt.Errorf("%w: user_id", ErrMissingColumn)
	}
	recipeCol, ok := h.col("recipe_id")
	if !ok {
		return nil, rep, fmt.Errorf("%w: recipe_id", ErrMissingColumn)
	}
	weightCol, hasWeight := h.col("like", "weight")

	var out []recipe.Preference
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		rep.Read++
		if err != nil {
			rep.Skipped++
			continue
		}
		uid, err1 := strconv.Atoi(field(rec, userCol))
		rid, err2 := strconv.Atoi(field(rec, recipeCol))
		if err1 != nil || err2 != nil {
			rep.Skipped++
			continue
		}
		p := recipe.Preference{UserID: uid, RecipeID: rid, Weight: 1}
		if hasWeight {
			if raw := field(rec, weightCol); raw != "" {
				w, err := strconv.ParseFloat(raw, 64)
				if err != nil || math.IsNaN(w) || math.IsInf(w, 0) {
					rep.Skipped++
					continue
				}
				p.Weight = w
			}
		}
		out = append(out, p)
	}
	return out, rep, nil
}

// DemoPreferences returns a small like-only preference set for four users,
// useful to exercise a freshly seeded catalog.
func DemoPreferences() []recipe.Preference {
	likes := map[int][]int{
		1: {0, 1, 2},
		2: {1, 3, 5},
		3: {0, 3, 6},
		4: {2, 3, 8, 9},
	}
	var out []recipe.Preference
	for user := 1; user <= 4; user++ {
		for _, rid := range likes[user] {
			out = append(out, recipe.Preference{UserID: user, RecipeID: rid, Weight: 1})
		}
	}
	return out
}
