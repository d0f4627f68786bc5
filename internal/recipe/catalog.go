package recipe

import "sort"

// Catalog is an immutable, id-keyed set of recipes.
type Catalog struct {
	byID map[int]Recipe
	ids  []int
}

// NewCatalog creates a Catalog. When the same id appears more than once the
// last record wins.
func NewCatalog(recipes []Recipe) *Catalog {
	byID := make(map[int]Recipe, len(recipes))
	for _, r := range recipes {
		byID[r.ID] = r
	}

	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return &Catalog{byID: byID, ids: ids}
}

// Get returns the recipe with the given id.
func (c *Catalog) Get(id int) (Recipe, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// IDs returns every recipe id in ascending order. The slice is a copy.
func (c *Catalog) IDs() []int {
	out := make([]int, len(c.ids))
	copy(out, c.ids)
	return out
}

// Len returns the number of recipes in the catalog.
func (c *Catalog) Len() int {
	return len(c.ids)
}
