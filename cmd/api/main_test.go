package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeplate/internal/allergy"
	"safeplate/internal/api"
	"safeplate/internal/platform/logger"
	"safeplate/internal/recipe"
	"safeplate/internal/recommend"
)

// mockSummarizer is a mock of the Gemini and local LLM clients.
type mockSummarizer struct {
	returnError       error
	receivedRecipes   []recipe.Recipe
	receivedAllergies []string
}

// Summarize mocks the Summarize method.
func (m *mockSummarizer) Summarize(ctx context.Context, recipes []recipe.Recipe, allergies []string) (string, error) {
	m.receivedRecipes = recipes
	m.receivedAllergies = allergies
	if m.returnError != nil {
		return "", m.returnError
	}
	return "mock summary", nil
}

// mockRecipeStore is a mock of the RecipeStore.
type mockRecipeStore struct {
	recipes   map[int]*recipe.Recipe
	prefs     []recipe.Preference
	getError  error
	saveError error
	saveHook  func(p recipe.Preference) error
}

// NewMockRecipeStore creates a new mockRecipeStore.
func NewMockRecipeStore(recipes []recipe.Recipe, prefs []recipe.Preference) *mockRecipeStore {
	m := &mockRecipeStore{recipes: make(map[int]*recipe.Recipe), prefs: prefs}
	for i := range recipes {
		m.recipes[recipes[i].ID] = &recipes[i]
	}
	return m
}

// GetRecipe mocks the GetRecipe method.
func (m *mockRecipeStore) GetRecipe(ctx context.Context, id int) (*recipe.Recipe, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	return m.recipes[id], nil
}

// SavePreference mocks the SavePreference method.
func (m *mockRecipeStore) SavePreference(ctx context.Context, p recipe.Preference) error {
	if m.saveError != nil {
		return m.saveError
	}
	if m.saveHook != nil {
		if err := m.saveHook(p); err != nil {
			return err
		}
	}
	m.prefs = append(m.prefs, p)
	return nil
}

// ListPreferences mocks the ListPreferences method.
func (m *mockRecipeStore) ListPreferences(ctx context.Context) ([]recipe.Preference, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	return m.prefs, nil
}

var testRecipes = []recipe.Recipe{
	{ID: 1, Title: "Sweet milk", Ingredients: "milk sugar"},
	{ID: 2, Title: "Peanut bread", Ingredients: "peanut flour"},
	{ID: 3, Title: "Rice and beans", Ingredients: "rice beans", ImageName: "rice-and-beans"},
}

func testPrefs() []recipe.Preference {
	return []recipe.Preference{
		{UserID: 1, RecipeID: 1, Weight: 1},
		{UserID: 2, RecipeID: 1, Weight: 1},
		{UserID: 2, RecipeID: 2, Weight: 1},
		{UserID: 3, RecipeID: 2, Weight: 1},
		{UserID: 3, RecipeID: 3, Weight: 1},
	}
}

type testEnv struct {
	router *gin.Engine
	store  *mockRecipeStore
	gemini *mockSummarizer
	local  *mockSummarizer
	engine *recommend.Engine
}

func setup(t *testing.T, opts api.Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recipes := append([]recipe.Recipe(nil), testRecipes...)
	store := NewMockRecipeStore(recipes, testPrefs())
	index := allergy.NewIndex([]recipe.AllergyFood{
		{Allergy: "Nut Allergy", Food: "peanut"},
		{Allergy: "Lactose Intolerance", Food: "milk"},
	})
	engine := recommend.NewEngine(recipe.NewCatalog(recipes), index, 2, nil)
	engine.Load(store.prefs)

	env := &testEnv{store: store, gemini: &mockSummarizer{}, local: &mockSummarizer{}, engine: engine}
	handler := api.NewHandler(engine, store, index, env.gemini, env.local, opts, logger.NewNop())
	env.router = newRouter(handler, []string{"http://localhost:8081"}, logger.NewNop())
	return env
}

func (e *testEnv) do(method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func recipeIDs(t *testing.T, res recommend.Result) []int {
	t.Helper()
	out := []int{}
	for _, r := range res.Recommendations {
		out = append(out, r.Recipe.ID)
	}
	return out
}

func TestGetRecommendations(t *testing.T) {
	env := setup(t, api.Options{})

	rr := env.do(http.MethodGet, "/users/1/recommendations?allergy=Nut+Allergy&top_n=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(api.RequestIDHeader))

	var res recommend.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, 1, res.UserID)
	assert.Equal(t, recommend.ReasonOK, res.Reason)
	assert.Equal(t, []int{3}, recipeIDs(t, res))

	rr = env.do(http.MethodGet, "/users/1/recommendations", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, []int{2, 3}, recipeIDs(t, res))
}

func TestGetRecommendations_Errors(t *testing.T) {
	env := setup(t, api.Options{DefaultTopN: 5, MaxTopN: 10})

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"unknown user", "/users/99/recommendations", http.StatusNotFound},
		{"bad user id", "/users/abc/recommendations", http.StatusBadRequest},
		{"zero top_n", "/users/1/recommendations?top_n=0", http.StatusBadRequest},
		{"top_n above max", "/users/1/recommendations?top_n=11", http.StatusBadRequest},
		{"non-numeric top_n", "/users/1/recommendations?top_n=many", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestGetRecommendations_NoSafeCandidates(t *testing.T) {
	env := setup(t, api.Options{})

	rr := env.do(http.MethodGet, "/users/1/recommendations?allergy=Nut+Allergy&allergy=Lactose+Intolerance", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var res recommend.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	// recipe 3 has no trigger foods, so only the peanut recipe is removed
	assert.Equal(t, []int{3}, recipeIDs(t, res))

	env.store.prefs = []recipe.Preference{
		{UserID: 1, RecipeID: 1, Weight: 1},
		{UserID: 1, RecipeID: 3, Weight: 1},
		{UserID: 2, RecipeID: 1, Weight: 1},
		{UserID: 2, RecipeID: 2, Weight: 1},
	}
	rr = env.do(http.MethodPost, "/preferences/reload", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodGet, "/users/1/recommendations?allergy=Nut+Allergy", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, recommend.ReasonNoSafeCandidates, res.Reason)
	assert.Empty(t, res.Recommendations)
}

func TestGetSummary(t *testing.T) {
	env := setup(t, api.Options{})

	rr := env.do(http.MethodGet, "/users/1/recommendations/summary?allergy=Nut+Allergy", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "mock summary", body["summary"])
	assert.Equal(t, "ok", body["reason"])
	require.Len(t, env.gemini.receivedRecipes, 1)
	assert.Equal(t, "Rice and beans", env.gemini.receivedRecipes[0].Title)
	assert.Equal(t, []string{"Nut Allergy"}, env.gemini.receivedAllergies)
	assert.Nil(t, env.local.receivedRecipes)
}

func TestGetSummaryV2(t *testing.T) {
	env := setup(t, api.Options{})
	env.local.returnError = errors.New("model offline")

	rr := env.do(http.MethodGet, "/v2/users/1/recommendations/summary", nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "model offline")

	env.local.returnError = context.DeadlineExceeded
	rr = env.do(http.MethodGet, "/v2/users/1/recommendations/summary", nil)
	assert.Equal(t, http.StatusRequestTimeout, rr.Code)
}

func TestGetSummary_NotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := NewMockRecipeStore(nil, nil)
	index := allergy.NewIndex(nil)
	engine := recommend.NewEngine(recipe.NewCatalog(nil), index, 1, nil)
	handler := api.NewHandler(engine, store, index, nil, nil, api.Options{}, nil)
	r := newRouter(handler, nil, logger.NewNop())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/1/recommendations/summary", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAddPreferences(t *testing.T) {
	env := setup(t, api.Options{})

	body := []byte(`[{"user_id":4,"recipe_id":3}]`)

	rr := env.do(http.MethodPost, "/preferences", body)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, env.store.prefs, 6)
	assert.Equal(t, 1.0, env.store.prefs[5].Weight)

	var resp struct {
		Saved int             `json:"saved"`
		Stats recommend.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Saved)
	assert.Equal(t, 4, resp.Stats.Users)

	rr = env.do(http.MethodGet, "/users/4/recommendations", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodPost, "/preferences", []byte(`{"user_id":`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	env.store.saveError = errors.New("disk full")
	rr = env.do(http.MethodPost, "/preferences", body)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestAddPreferences_ExplicitZeroWeight(t *testing.T) {
	env := setup(t, api.Options{})

	rr := env.do(http.MethodPost, "/preferences", []byte(`[{"user_id":5,"recipe_id":1,"weight":0},{"user_id":5,"recipe_id":2,"weight":-1}]`))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, env.store.prefs, 7)
	assert.Equal(t, 0.0, env.store.prefs[5].Weight)
	assert.Equal(t, -1.0, env.store.prefs[6].Weight)
}

func TestAddPreferences_PartialSaveReloads(t *testing.T) {
	env := setup(t, api.Options{})
	env.store.saveHook = func(p recipe.Preference) error {
		if p.RecipeID == 2 {
			return errors.New("disk full")
		}
		return nil
	}

	rr := env.do(http.MethodPost, "/preferences", []byte(`[{"user_id":4,"recipe_id":3},{"user_id":4,"recipe_id":2}]`))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Len(t, env.store.prefs, 6)

	// the row stored before the failure is already served
	assert.Equal(t, 4, env.engine.Stats().Users)
	rr = env.do(http.MethodGet, "/users/4/recommendations", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGetStats(t *testing.T) {
	env := setup(t, api.Options{})

	rr := env.do(http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var stats recommend.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Users)
	assert.Equal(t, 3, stats.Recipes)
}

func TestGetRecipe(t *testing.T) {
	env := setup(t, api.Options{})

	rr := env.do(http.MethodGet, "/recipes/2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var r recipe.Recipe
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &r))
	assert.Equal(t, "Peanut bread", r.Title)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/recipes/42", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/recipes/x", nil).Code)

	env.store.getError = context.DeadlineExceeded
	assert.Equal(t, http.StatusRequestTimeout, env.do(http.MethodGet, "/recipes/2", nil).Code)
}

func TestCheckRecipeSafety(t *testing.T) {
	env := setup(t, api.Options{})

	rr := env.do(http.MethodGet, "/recipes/2/safety?allergy=Nut+Allergy&allergy=Lactose+Intolerance", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Safe     bool     `json:"safe"`
		Triggers []string `json:"triggers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Safe)
	assert.Equal(t, []string{"peanut"}, body.Triggers)

	rr = env.do(http.MethodGet, "/recipes/3/safety?allergy=Nut+Allergy", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Safe)
	assert.Empty(t, body.Triggers)
}

func TestGetAllergies(t *testing.T) {
	env := setup(t, api.Options{})

	rr := env.do(http.MethodGet, "/allergies", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string][]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, map[string][]string{
		"Lactose Intolerance": {"milk"},
		"Nut Allergy":         {"peanut"},
	}, body)
}

func TestGetThumbnail(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		for y := 0; y < 20; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	f, err := os.Create(filepath.Join(dir, "rice-and-beans.jpg"))
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())

	env := setup(t, api.Options{ImagesDir: dir, ThumbnailWidth: 20})

	rr := env.do(http.MethodGet, "/recipes/3/thumbnail", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/jpeg", rr.Header().Get("Content-Type"))

	thumb, err := jpeg.Decode(rr.Body)
	require.NoError(t, err)
	assert.Equal(t, 20, thumb.Bounds().Dx())
	assert.Equal(t, 10, thumb.Bounds().Dy())

	// no image name recorded
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/recipes/1/thumbnail", nil).Code)

	require.NoError(t, os.Remove(filepath.Join(dir, "rice-and-beans.jpg")))
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/recipes/3/thumbnail", nil).Code)
}

func TestCORS(t *testing.T) {
	env := setup(t, api.Options{})

	req := httptest.NewRequest(http.MethodOptions, "/users/1/recommendations", nil)
	req.Header.Set("Origin", "http://localhost:8081")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:8081", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID_Reused(t *testing.T) {
	env := setup(t, api.Options{})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set(api.RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	assert.Equal(t, "abc-123", rr.Header().Get(api.RequestIDHeader))
}

func TestReload_ConcurrentRequests(t *testing.T) {
	env := setup(t, api.Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			env.do(http.MethodPost, "/preferences/reload", nil)
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("reload did not finish")
		default:
			rr := env.do(http.MethodGet, "/users/1/recommendations", nil)
			require.Equal(t, http.StatusOK, rr.Code)
			assert.True(t, strings.Contains(rr.Body.String(), `"reason":"ok"`))
		}
	}
}
