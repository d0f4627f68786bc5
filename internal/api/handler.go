package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nfnt/resize"

	"safeplate/internal/platform/logger"
	"safeplate/internal/recipe"
	"safeplate/internal/recommend"
)

// Recommender defines the recommendation engine operations used by the API.
type Recommender interface {
	Recommend(userID int, allergies []string, topN int) (*recommend.Result, error)
	Load(prefs []recipe.Preference) recommend.Stats
	Stats() recommend.Stats
}

// Summarizer turns a list of recommended recipes into a short explanation.
type Summarizer interface {
	Summarize(ctx context.Context, recipes []recipe.Recipe, allergies []string) (string, error)
}

// RecipeStore defines the store operations used by the API.
type RecipeStore interface {
	GetRecipe(ctx context.Context, id int) (*recipe.Recipe, error)
	SavePreference(ctx context.Context, p recipe.Preference) error
	ListPreferences(ctx context.Context) ([]recipe.Preference, error)
}

// AllergyIndex defines the allergy lookups used by the API.
type AllergyIndex interface {
	IsSafe(ingredients string, labels []string) bool
	Triggers(ingredients string, labels []string) []string
	Labels() []string
	FoodsFor(label string) ([]string, bool)
}

// Options tunes request handling.
type Options struct {
	DefaultTopN    int
	MaxTopN        int
	RequestTimeout time.Duration
	LLMTimeout     time.Duration
	ImagesDir      string
	ThumbnailWidth int
}

// Handler handles HTTP requests.
type Handler struct {
	Recommender    Recommender
	RecipeStore    RecipeStore
	Allergies      AllergyIndex
	GeminiClient   Summarizer
	LocalLLMClient Summarizer
	Options        Options

	log      *logger.Logger
	reloadMu sync.Mutex
}

// NewHandler creates a new Handler. Either summarizer may be nil, in which
// case its endpoint answers 503.
func NewHandler(rec Recommender, store RecipeStore, allergies AllergyIndex, geminiClient, localLLMClient Summarizer, opts Options, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.DefaultTopN < 1 {
		opts.DefaultTopN = 5
	}
	if opts.MaxTopN < opts.DefaultTopN {
		opts.MaxTopN = opts.DefaultTopN
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 45 * time.Second
	}
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = 400
	}
	return &Handler{
		Recommender:    rec,
		RecipeStore:    store,
		Allergies:      allergies,
		GeminiClient:   geminiClient,
		LocalLLMClient: localLLMClient,
		Options:        opts,
		log:            log,
	}
}

// SummaryResponse is a recommendation result with a natural-language summary.
type SummaryResponse struct {
	*recommend.Result
	Summary string `json:"summary"`
}

// recommend parses the request and runs the engine. On failure it writes
// the response and returns nil.
func (h *Handler) recommend(c *gin.Context) (*recommend.Result, []string) {
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.String(http.StatusBadRequest, "user_id must be an integer")
		return nil, nil
	}

	topN := h.Options.DefaultTopN
	if raw := c.Query("top_n"); raw != "" {
		topN, err = strconv.Atoi(raw)
		if err != nil || topN < 1 || topN > h.Options.MaxTopN {
			c.String(http.StatusBadRequest, fmt.Sprintf("top_n must be an integer between 1 and %d", h.Options.MaxTopN))
			return nil, nil
		}
	}

	allergies := c.QueryArray("allergy")

	res, err := h.Recommender.Recommend(userID, allergies, topN)
	if err != nil {
		switch {
		case errors.Is(err, recommend.ErrUnknownUser):
			c.String(http.StatusNotFound, fmt.Sprintf("no preferences recorded for user %d", userID))
		case errors.Is(err, recommend.ErrInvalidTopN):
			c.String(http.StatusBadRequest, err.Error())
		default:
			h.logFor(c).Error("recommendation failed", "user_id", userID, "error", err)
			c.String(http.StatusInternalServerError, fmt.Sprintf("recommendation err: %s", err.Error()))
		}
		return nil, nil
	}

	h.logFor(c).Debug("recommendations served",
		"user_id", userID,
		"allergies", allergies,
		"top_n", topN,
		"reason", res.Reason,
		"count", len(res.Recommendations),
	)
	return res, allergies
}

// GetRecommendations handles requests for a user's ranked recommendations.
func (h *Handler) GetRecommendations(c *gin.Context) {
	res, _ := h.recommend(c)
	if res == nil {
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetSummary returns recommendations with a Gemini-written summary.
func (h *Handler) GetSummary(c *gin.Context) {
	h.summarize(c, h.GeminiClient, "gemini")
}

// GetSummaryV2 returns recommendations with a summary from the local LLM.
func (h *Handler) GetSummaryV2(c *gin.Context) {
	h.summarize(c, h.LocalLLMClient, "local llm")
}

func (h *Handler) summarize(c *gin.Context, s Summarizer, name string) {
	if s == nil {
		c.String(http.StatusServiceUnavailable, fmt.Sprintf("%s summaries are not configured", name))
		return
	}

	res, allergies := h.recommend(c)
	if res == nil {
		return
	}
	if len(res.Recommendations) == 0 {
		c.JSON(http.StatusOK, SummaryResponse{Result: res})
		return
	}

	recipes := make([]recipe.Recipe, 0, len(res.Recommendations))
	for _, r := range res.Recommendations {
		recipes = append(recipes, r.Recipe)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Options.LLMTimeout)
	defer cancel()

	summary, err := s.Summarize(ctx, recipes, allergies)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.String(http.StatusRequestTimeout, fmt.Sprintf("%s call timed out after %s", name, h.Options.LLMTimeout))
			return
		}
		h.logFor(c).Error("summary failed", "summarizer", name, "error", err)
		c.String(http.StatusBadGateway, fmt.Sprintf("%s err: %s", name, err.Error()))
		return
	}

	c.JSON(http.StatusOK, SummaryResponse{Result: res, Summary: summary})
}

// PreferenceRequest is one entry of an AddPreferences body. A missing
// weight records a plain like.
type PreferenceRequest struct {
	UserID   int      `json:"user_id"`
	RecipeID int      `json:"recipe_id"`
	Weight   *float64 `json:"weight"`
}

// AddPreferences stores new preferences and rebuilds the engine.
func (h *Handler) AddPreferences(c *gin.Context) {
	var reqs []PreferenceRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("invalid preferences: %s", err.Error()))
		return
	}
	prefs := make([]recipe.Preference, 0, len(reqs))
	for _, r := range reqs {
		p := recipe.Preference{UserID: r.UserID, RecipeID: r.RecipeID, Weight: 1}
		if r.Weight != nil {
			p.Weight = *r.Weight
		}
		prefs = append(prefs, p)
	}

	log := h.logFor(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Options.RequestTimeout)
	defer cancel()

	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	for i, p := range prefs {
		if err := h.RecipeStore.SavePreference(ctx, p); err != nil {
			log.Error("preference save failed", "saved", i, "total", len(prefs), "error", err)
			// rows before i are already stored
			if i > 0 && ctx.Err() == nil {
				if _, rerr := h.reload(ctx); rerr != nil {
					log.Error("reload after partial save failed", "error", rerr)
				}
			}
			h.storeError(c, err)
			return
		}
	}

	stats, err := h.reload(ctx)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": len(prefs), "stats": stats})
}

// ReloadPreferences rebuilds the engine from the stored preferences.
func (h *Handler) ReloadPreferences(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Options.RequestTimeout)
	defer cancel()

	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	stats, err := h.reload(ctx)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (h *Handler) reload(ctx context.Context) (recommend.Stats, error) {
	prefs, err := h.RecipeStore.ListPreferences(ctx)
	if err != nil {
		return recommend.Stats{}, err
	}
	return h.Recommender.Load(prefs), nil
}

// GetStats returns statistics about the loaded preference snapshot.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Recommender.Stats())
}

// GetRecipe handles requests to retrieve a single recipe by id.
func (h *Handler) GetRecipe(c *gin.Context) {
	r, ok := h.lookupRecipe(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r)
}

// CheckRecipeSafety reports whether a recipe is safe for the given allergies
// and which trigger foods it contains.
func (h *Handler) CheckRecipeSafety(c *gin.Context) {
	r, ok := h.lookupRecipe(c)
	if !ok {
		return
	}
	allergies := c.QueryArray("allergy")
	triggers := h.Allergies.Triggers(r.Ingredients, allergies)
	if triggers == nil {
		triggers = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"recipe_id": r.ID,
		"allergies": allergies,
		"safe":      h.Allergies.IsSafe(r.Ingredients, allergies),
		"triggers":  triggers,
	})
}

// GetAllergies lists the known allergy labels and their trigger foods.
func (h *Handler) GetAllergies(c *gin.Context) {
	out := make(map[string][]string)
	for _, label := range h.Allergies.Labels() {
		foods, _ := h.Allergies.FoodsFor(label)
		out[label] = foods
	}
	c.JSON(http.StatusOK, out)
}

// GetThumbnail serves a resized JPEG of the recipe image.
func (h *Handler) GetThumbnail(c *gin.Context) {
	r, ok := h.lookupRecipe(c)
	if !ok {
		return
	}
	if r.ImageName == "" {
		c.String(http.StatusNotFound, "Recipe has no image")
		return
	}

	data, err := thumbnail(filepath.Join(h.Options.ImagesDir, filepath.Base(r.ImageName)+".jpg"), h.Options.ThumbnailWidth)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.String(http.StatusNotFound, "Image not found")
			return
		}
		c.String(http.StatusInternalServerError, fmt.Sprintf("thumbnail err: %s", err.Error()))
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *Handler) lookupRecipe(c *gin.Context) (*recipe.Recipe, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.String(http.StatusBadRequest, "id must be an integer")
		return nil, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Options.RequestTimeout)
	defer cancel()

	r, err := h.RecipeStore.GetRecipe(ctx, id)
	if err != nil {
		h.storeError(c, err)
		return nil, false
	}
	if r == nil {
		c.String(http.StatusNotFound, "Recipe not found")
		return nil, false
	}
	return r, true
}

// logFor returns the request-scoped logger set by RequestLogger, if any.
func (h *Handler) logFor(c *gin.Context) *logger.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return h.log
}

func (h *Handler) storeError(c *gin.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		c.String(http.StatusRequestTimeout, fmt.Sprintf("Database query timed out after %s", h.Options.RequestTimeout))
		return
	}
	h.logFor(c).Error("database error", "error", err)
	c.String(http.StatusInternalServerError, fmt.Sprintf("database error: %s", err.Error()))
}

func thumbnail(path string, width int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	img = resize.Resize(uint(width), 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
