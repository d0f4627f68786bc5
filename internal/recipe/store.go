package recipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store defines the interface for recipe, allergy and preference data operations.
type Store interface {
	SaveRecipe(ctx context.Context, recipe *Recipe) error
	GetRecipe(ctx context.Context, id int) (*Recipe, error)
	ListRecipes(ctx context.Context) ([]Recipe, error)
	SaveAllergyFood(ctx context.Context, allergy, food string) error
	ListAllergyFoods(ctx context.Context) ([]AllergyFood, error)
	SavePreference(ctx context.Context, p Preference) error
	ListPreferences(ctx context.Context) ([]Preference, error)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS recipes (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		ingredients TEXT NOT NULL DEFAULT '',
		image_name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS allergy_foods (
		allergy TEXT NOT NULL,
		food TEXT NOT NULL,
		PRIMARY KEY (allergy, food)
	)`,
	`CREATE TABLE IF NOT EXISTS preferences (
		user_id INTEGER NOT NULL,
		recipe_id INTEGER NOT NULL,
		weight DOUBLE PRECISION NOT NULL DEFAULT 1,
		PRIMARY KEY (user_id, recipe_id)
	)`,
}

// SQLStore implements Store on top of PostgreSQL or SQLite.
type SQLStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new SQLStore backed by PostgreSQL.
func NewPostgresStore(dataSourceName string) (*SQLStore, error) {
	return NewSQLStore("postgres", dataSourceName)
}

// NewSQLStore connects with the given driver ("postgres" or "sqlite") and
// creates the tables if they do not exist.
func NewSQLStore(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sqlx.Connect(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driverName == "sqlite" {
		// a second connection to ":memory:" would see an empty database
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// SaveRecipe inserts or replaces a recipe.
func (s *SQLStore) SaveRecipe(ctx context.Context, recipe *Recipe) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO recipes (id, title, ingredients, image_name) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT (id) DO UPDATE SET title = excluded.title, ingredients = excluded.ingredients, image_name = excluded.image_name"),
		recipe.ID,
		recipe.Title,
		recipe.Ingredients,
		recipe.ImageName,
	)
	if err != nil {
		return fmt.Errorf("failed to save recipe: %w", err)
	}
	return nil
}

// GetRecipe retrieves a recipe by id. It returns nil, nil when the recipe does not exist.
func (s *SQLStore) GetRecipe(ctx context.Context, id int) (*Recipe, error) {
	var r Recipe
	err := s.db.GetContext(ctx, &r, s.db.Rebind("SELECT id, title, ingredients, image_name FROM recipes WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Recipe not found
		}
		return nil, fmt.Errorf("failed to get recipe by id: %w", err)
	}
	return &r, nil
}

// ListRecipes returns every recipe ordered by id.
func (s *SQLStore) ListRecipes(ctx context.Context) ([]Recipe, error) {
	var recipes []Recipe
	if err := s.db.SelectContext(ctx, &recipes, "SELECT id, title, ingredients, image_name FROM recipes ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	return recipes, nil
}

// SaveAllergyFood records that food triggers allergy. Saving an existing pair is a no-op.
func (s *SQLStore) SaveAllergyFood(ctx context.Context, allergy, food string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO allergy_foods (allergy, food) VALUES (?, ?) ON CONFLICT (allergy, food) DO NOTHING"),
		allergy,
		food,
	)
	if err != nil {
		return fmt.Errorf("failed to save allergy food: %w", err)
	}
	return nil
}

// ListAllergyFoods returns every (allergy, food) pair.
func (s *SQLStore) ListAllergyFoods(ctx context.Context) ([]AllergyFood, error) {
	var pairs []AllergyFood
	if err := s.db.SelectContext(ctx, &pairs, "SELECT allergy, food FROM allergy_foods ORDER BY allergy, food"); err != nil {
		return nil, fmt.Errorf("failed to list allergy foods: %w", err)
	}
	return pairs, nil
}

// SavePreference upserts a preference. When the pair already exists the
// larger weight is kept, matching how the preference matrix collapses duplicates.
func (s *SQLStore) SavePreference(ctx context.Context, p Preference) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO preferences (user_id, recipe_id, weight) VALUES (?, ?, ?) "+
			"ON CONFLICT (user_id, recipe_id) DO UPDATE SET weight = "+
			"CASE WHEN excluded.weight > preferences.weight THEN excluded.weight ELSE preferences.weight END"),
		p.UserID,
		p.RecipeID,
		p.Weight,
	)
	if err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}

// ListPreferences returns every stored preference.
func (s *SQLStore) ListPreferences(ctx context.Context) ([]Preference, error) {
	var prefs []Preference
	if err := s.db.SelectContext(ctx, &prefs, "SELECT user_id, recipe_id, weight FROM preferences ORDER BY user_id, recipe_id"); err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	return prefs, nil
}

// LoadCatalog reads every recipe from the store into an immutable Catalog.
func LoadCatalog(ctx context.Context, s Store) (*Catalog, error) {
	recipes, err := s.ListRecipes(ctx)
	if err != nil {
		return nil, err
	}
	return NewCatalog(recipes), nil
}
