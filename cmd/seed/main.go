// Command seed loads allergy, recipe and preference CSV exports into the
// configured database.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"safeplate/internal/config"
	"safeplate/internal/platform/dataset"
	"safeplate/internal/platform/logger"
	"safeplate/internal/recipe"
)

type sources struct {
	foods       string
	recipes     string
	preferences string
	demo        bool
}

func main() {
	var src sources
	flag.StringVar(&src.foods, "foods", "", "path to the food/allergy CSV")
	flag.StringVar(&src.recipes, "recipes", "", "path to the recipe CSV")
	flag.StringVar(&src.preferences, "preferences", "", "path to a user_id,recipe_id,like CSV")
	flag.BoolVar(&src.demo, "demo", false, "also seed the built-in demo preferences")
	flag.Parse()

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

	dbStore, err := recipe.NewSQLStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatal("error creating store", "error", err)
	}
	defer dbStore.Close()

	if err := seed(context.Background(), dbStore, src, log); err != nil {
		log.Fatal("seed failed", "error", err)
	}
}

func seed(ctx context.Context, s recipe.Store, src sources, log *logger.Logger) error {
	if src.foods != "" {
		pairs, rep, err := readFile(src.foods, dataset.ReadAllergyFoods)
		if err != nil {
			return err
		}
		for _, p := range pairs {
			if err := s.SaveAllergyFood(ctx, p.Allergy, p.Food); err != nil {
				return fmt.Errorf("failed to save allergy food: %w", err)
			}
		}
		log.Info("allergy foods seeded", "file", src.foods, "saved", len(pairs), "skipped", rep.Skipped)
	}

	if src.recipes != "" {
		recipes, rep, err := readFile(src.recipes, dataset.ReadRecipes)
		if err != nil {
			return err
		}
		for i := range recipes {
			if err := s.SaveRecipe(ctx, &recipes[i]); err != nil {
				return fmt.Errorf("failed to save recipe %d: %w", recipes[i].ID, err)
			}
		}
		log.Info("recipes seeded", "file", src.recipes, "saved", len(recipes), "skipped", rep.Skipped)
	}

	var prefs []recipe.Preference
	if src.preferences != "" {
		read, rep, err := readFile(src.preferences, dataset.ReadPreferences)
		if err != nil {
			return err
		}
		prefs = append(prefs, read...)
		log.Info("preferences read", "file", src.preferences, "read", len(read), "skipped", rep.Skipped)
	}
	if src.demo {
		prefs = append(prefs, dataset.DemoPreferences()...)
	}
	for _, p := range prefs {
		if err := s.SavePreference(ctx, p); err != nil {
			return fmt.Errorf("user %d recipe %d: %w", p.UserID, p.RecipeID, err)
		}
	}
	if len(prefs) > 0 {
		log.Info("preferences seeded", "saved", len(prefs))
	}
	return nil
}

func readFile[T any](path string, read func(io.Reader) ([]T, dataset.Report, error)) ([]T, dataset.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dataset.Report{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	out, rep, err := read(f)
	if err != nil {
		return nil, rep, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return out, rep, nil
}
