package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"safeplate/internal/allergy"
	"safeplate/internal/api"
	"safeplate/internal/config"
	"safeplate/internal/platform/gemini"
	"safeplate/internal/platform/localllm"
	"safeplate/internal/platform/logger"
	"safeplate/internal/recipe"
	"safeplate/internal/recommend"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", "error", err)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx := context.Background()

	dbStore, err := recipe.NewSQLStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("error creating store: %w", err)
	}
	defer dbStore.Close()

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	catalog, err := recipe.LoadCatalog(loadCtx, dbStore)
	if err != nil {
		return err
	}
	pairs, err := dbStore.ListAllergyFoods(loadCtx)
	if err != nil {
		return fmt.Errorf("error loading allergy foods: %w", err)
	}
	index := allergy.NewIndex(pairs)

	prefs, err := dbStore.ListPreferences(loadCtx)
	if err != nil {
		return fmt.Errorf("error loading preferences: %w", err)
	}

	engine := recommend.NewEngine(catalog, index, cfg.Recommend.Workers, log)
	engine.Load(prefs)
	log.Info("catalog loaded", "recipes", catalog.Len(), "allergies", len(index.Labels()))

	var geminiClient api.Summarizer
	if cfg.LLM.GeminiAPIKey != "" {
		gc, err := gemini.NewClient(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.GeminiModel)
		if err != nil {
			return fmt.Errorf("error creating gemini client: %w", err)
		}
		defer gc.Close()
		geminiClient = gc
	} else {
		log.Warn("gemini api key not set, /users/:user_id/recommendations/summary disabled")
	}

	var localLLMClient api.Summarizer
	if cfg.LLM.LocalURL != "" {
		localLLMClient = localllm.NewClient(cfg.LLM.LocalURL, cfg.LLM.LocalModel)
	}

	handler := api.NewHandler(engine, dbStore, index, geminiClient, localLLMClient, api.Options{
		DefaultTopN:    cfg.Recommend.DefaultTopN,
		MaxTopN:        cfg.Recommend.MaxTopN,
		RequestTimeout: cfg.Server.RequestTimeout,
		LLMTimeout:     cfg.LLM.Timeout,
		ImagesDir:      cfg.Images.Dir,
		ThumbnailWidth: cfg.Images.ThumbnailWidth,
	}, log)

	if cfg.Logging.Mode == "production" || cfg.Logging.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := newRouter(handler, cfg.Server.CORSOrigins, log)

	log.Info("listening", "addr", cfg.Server.Addr)
	return r.Run(cfg.Server.Addr)
}

func newRouter(handler *api.Handler, origins []string, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestID(), api.RequestLogger(log))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", api.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", api.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/users/:user_id/recommendations", handler.GetRecommendations)
	r.GET("/users/:user_id/recommendations/summary", handler.GetSummary)
	r.GET("/v2/users/:user_id/recommendations/summary", handler.GetSummaryV2)
	r.POST("/preferences", handler.AddPreferences)
	r.POST("/preferences/reload", handler.ReloadPreferences)
	r.GET("/stats", handler.GetStats)
	r.GET("/recipes/:id", handler.GetRecipe)
	r.GET("/recipes/:id/safety", handler.CheckRecipeSafety)
	r.GET("/recipes/:id/thumbnail", handler.GetThumbnail)
	r.GET("/allergies", handler.GetAllergies)
	return r
}
