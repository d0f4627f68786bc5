// Package recommend implements allergy-aware user-based collaborative
// filtering over a recipe catalog.
//
// For a target user u and an unseen recipe r:
//
//	score(u, r) = sum over neighbors v of sim(u, v) * M[v][r]
//
// where the neighbors are every other user with cosine similarity > 0. The
// score is a similarity-weighted sum, not an average, so recipes liked by
// more (or closer) neighbors rank higher.
package recommend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"safeplate/internal/platform/logger"
	"safeplate/internal/recipe"
)

var (
	// ErrUnknownUser is returned when the target user has no preference row.
	ErrUnknownUser = errors.New("unknown user")
	// ErrInvalidTopN is returned when fewer than one result is requested.
	ErrInvalidTopN = errors.New("top_n must be at least 1")
)

// Reason explains the outcome of a recommendation request.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonNoSimilarUsers   Reason = "no_similar_users"
	ReasonNoSafeCandidates Reason = "no_safe_candidates"
)

// Catalog resolves recipe ids to records.
type Catalog interface {
	Get(id int) (recipe.Recipe, bool)
	IDs() []int
}

// SafetyFilter decides whether an ingredient text is safe for a set of allergies.
type SafetyFilter interface {
	IsSafe(ingredients string, allergies []string) bool
}

// Recommendation is one ranked recipe.
type Recommendation struct {
	Recipe recipe.Recipe `json:"recipe"`
	Score  float64       `json:"score"`
}

// Result is the outcome of Recommend. Recommendations is empty, never nil,
// when Reason is not ReasonOK.
type Result struct {
	UserID          int              `json:"user_id"`
	Reason          Reason           `json:"reason"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Stats describes the currently loaded snapshot.
type Stats struct {
	Users       int       `json:"users"`
	Recipes     int       `json:"recipes"`
	Preferences int       `json:"preferences"`
	Dropped     int       `json:"dropped"`
	BuiltAt     time.Time `json:"built_at"`
}

type snapshot struct {
	matrix *Matrix
	sim    *Similarity
	stats  Stats
}

// Engine serves recommendations from an immutable snapshot of the preference
// and similarity matrices. Load swaps in a new snapshot; in-flight calls keep
// using the one they started with.
type Engine struct {
	catalog Catalog
	filter  SafetyFilter
	workers int
	log     *logger.Logger

	mu   sync.RWMutex
	snap *snapshot
}

// NewEngine creates an Engine with no preferences loaded. Every user is
// unknown until Load is called.
func NewEngine(catalog Catalog, filter SafetyFilter, workers int, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	e := &Engine{
		catalog: catalog,
		filter:  filter,
		workers: workers,
		log:     log,
	}
	e.snap = e.build(nil)
	return e
}

// Load rebuilds both matrices from prefs over the catalog's full recipe
// universe and makes them current.
func (e *Engine) Load(prefs []recipe.Preference) Stats {
	snap := e.build(prefs)

	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()

	e.log.Info("preference matrix rebuilt",
		"users", snap.stats.Users,
		"recipes", snap.stats.Recipes,
		"preferences", snap.stats.Preferences,
		"dropped", snap.stats.Dropped,
	)
	return snap.stats
}

func (e *Engine) build(prefs []recipe.Preference) *snapshot {
	m := BuildMatrix(prefs, e.catalog.IDs())
	users, recipes := m.Dims()
	return &snapshot{
		matrix: m,
		sim:    ComputeSimilarity(m, e.workers),
		stats: Stats{
			Users:       users,
			Recipes:     recipes,
			Preferences: len(prefs),
			Dropped:     m.Dropped(),
			BuiltAt:     time.Now().UTC(),
		},
	}
}

// Stats returns statistics about the current snapshot.
func (e *Engine) Stats() Stats {
	return e.current().stats
}

// Similarity returns sim(u, v) from the current snapshot.
func (e *Engine) Similarity(u, v int) (float64, bool) {
	return e.current().sim.At(u, v)
}

func (e *Engine) current() *snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// Recommend returns up to topN unseen recipes for userID that are safe for
// the given allergies, ordered by score descending and then by recipe id.
// An empty result is not an error; Result.Reason tells why it is empty.
func (e *Engine) Recommend(userID int, allergies []string, topN int) (*Result, error) {
	if topN < 1 {
		return nil, ErrInvalidTopN
	}

	snap := e.current()
	m := snap.matrix
	if !m.HasUser(userID) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUser, userID)
	}

	res := &Result{UserID: userID, Recommendations: []Recommendation{}}

	neighbors := snap.sim.neighbors(userID)
	if len(neighbors) == 0 {
		res.Reason = ReasonNoSimilarUsers
		return res, nil
	}

	ranked := e.rank(m, userID, neighbors, allergies)
	if len(ranked) == 0 {
		res.Reason = ReasonNoSafeCandidates
		return res, nil
	}
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	res.Reason = ReasonOK
	res.Recommendations = ranked
	return res, nil
}

// rank scores every recipe the user has not interacted with, drops stale and
// unsafe ones, and sorts the rest.
func (e *Engine) rank(m *Matrix, userID int, neighbors []neighbor, allergies []string) []Recommendation {
	_, cols := m.Dims()
	if cols == 0 {
		return nil
	}

	scores := mat.NewVecDense(cols, nil)
	for _, n := range neighbors {
		scores.AddScaledVec(scores, n.similarity, m.rowView(n.row))
	}

	seen := m.rowView(m.userIdx[userID])
	var stale, unsafe int
	out := make([]Recommendation, 0, cols)
	for col, recipeID := range m.recipes {
		if seen.AtVec(col) > 0 {
			continue
		}
		r, ok := e.catalog.Get(recipeID)
		if !ok {
			stale++
			continue
		}
		if !e.filter.IsSafe(r.Ingredients, allergies) {
			unsafe++
			continue
		}
		out = append(out, Recommendation{Recipe: r, Score: scores.AtVec(col)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Recipe.ID < out[j].Recipe.ID
	})

	e.log.Debug("candidates ranked",
		"user_id", userID,
		"neighbors", len(neighbors),
		"candidates", len(out),
		"stale", stale,
		"unsafe", unsafe,
	)
	return out
}
