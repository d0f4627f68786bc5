package recommend

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"safeplate/internal/recipe"
)

// Matrix is a dense user × recipe interaction matrix. Rows are the distinct
// users of the input in ascending order, columns are the recipe universe in
// ascending order. A Matrix is never mutated after BuildMatrix returns.
type Matrix struct {
	users     []int
	recipes   []int
	userIdx   map[int]int
	recipeIdx map[int]int

	// data is nil when there are no users or no recipes; gonum does not
	// allow zero-sized dense matrices.
	data *mat.Dense

	dropped int
}

// BuildMatrix builds the interaction matrix for prefs over the given recipe
// universe. Duplicate (user, recipe) pairs keep the maximum weight, so the
// result does not depend on input order. Preferences for recipes outside the
// universe or with a non-finite weight are dropped, but their user still
// gets a (possibly all-zero) row.
func BuildMatrix(prefs []recipe.Preference, universe []int) *Matrix {
	m := &Matrix{
		userIdx:   make(map[int]int),
		recipeIdx: make(map[int]int, len(universe)),
	}

	for _, id := range universe {
		if _, ok := m.recipeIdx[id]; ok {
			continue
		}
		m.recipeIdx[id] = 0
		m.recipes = append(m.recipes, id)
	}
	sort.Ints(m.recipes)
	for col, id := range m.recipes {
		m.recipeIdx[id] = col
	}

	cells := make(map[int]map[int]float64)
	for _, p := range prefs {
		if _, ok := cells[p.UserID]; !ok {
			cells[p.UserID] = make(map[int]float64)
		}
		col, ok := m.recipeIdx[p.RecipeID]
		if !ok || math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) {
			m.dropped++
			continue
		}
		if w, seen := cells[p.UserID][col]; !seen || p.Weight > w {
			cells[p.UserID][col] = p.Weight
		}
	}

	m.users = make([]int, 0, len(cells))
	for uid := range cells {
		m.users = append(m.users, uid)
	}
	sort.Ints(m.users)
	for row, uid := range m.users {
		m.userIdx[uid] = row
	}

	if len(m.users) == 0 || len(m.recipes) == 0 {
		return m
	}

	m.data = mat.NewDense(len(m.users), len(m.recipes), nil)
	for uid, row := range cells {
		r := m.userIdx[uid]
		for col, w := range row {
			m.data.Set(r, col, w)
		}
	}
	return m
}

// Users returns the row user ids in ascending order.
func (m *Matrix) Users() []int {
	return append([]int(nil), m.users...)
}

// Recipes returns the column recipe ids in ascending order.
func (m *Matrix) Recipes() []int {
	return append([]int(nil), m.recipes...)
}

// Dims returns the number of users and recipes.
func (m *Matrix) Dims() (users, recipes int) {
	return len(m.users), len(m.recipes)
}

// Dropped returns how many input preferences were discarded as malformed.
func (m *Matrix) Dropped() int {
	return m.dropped
}

// HasUser reports whether userID has a row.
func (m *Matrix) HasUser(userID int) bool {
	_, ok := m.userIdx[userID]
	return ok
}

// Weight returns the cell for (userID, recipeID), or 0 when either is unknown.
func (m *Matrix) Weight(userID, recipeID int) float64 {
	r, ok := m.userIdx[userID]
	if !ok || m.data == nil {
		return 0
	}
	c, ok := m.recipeIdx[recipeID]
	if !ok {
		return 0
	}
	return m.data.At(r, c)
}

// Row returns a copy of userID's interaction row in column order.
func (m *Matrix) Row(userID int) ([]float64, bool) {
	r, ok := m.userIdx[userID]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(m.recipes))
	if m.data != nil {
		copy(out, m.data.RawRowView(r))
	}
	return out, true
}

// rowView returns row r as a gonum vector sharing the matrix storage.
func (m *Matrix) rowView(r int) mat.Vector {
	return m.data.RowView(r)
}
