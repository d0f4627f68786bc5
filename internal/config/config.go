// Package config loads service configuration from built-in defaults, an
// optional YAML file and environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/safeplate/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Recommend RecommendConfig `koanf:"recommend"`
	LLM       LLMConfig       `koanf:"llm"`
	Images    ImagesConfig    `koanf:"images"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr           string        `koanf:"addr"`
	CORSOrigins    []string      `koanf:"cors_origins"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `koanf:"driver"`
	URL    string `koanf:"url"`
}

// RecommendConfig tunes the recommendation engine and request limits.
type RecommendConfig struct {
	// Workers bounds the goroutines computing similarity rows; 0 means GOMAXPROCS.
	Workers     int `koanf:"workers"`
	DefaultTopN int `koanf:"default_top_n"`
	MaxTopN     int `koanf:"max_top_n"`
}

// LLMConfig configures the summary models.
type LLMConfig struct {
	GeminiAPIKey string        `koanf:"gemini_api_key"`
	GeminiModel  string        `koanf:"gemini_model"`
	LocalURL     string        `koanf:"local_url"`
	LocalModel   string        `koanf:"local_model"`
	Timeout      time.Duration `koanf:"timeout"`
}

// ImagesConfig locates recipe images and sizes thumbnails.
type ImagesConfig struct {
	Dir            string `koanf:"dir"`
	ThumbnailWidth int    `koanf:"thumbnail_width"`
}

// LoggingConfig selects the logger mode.
type LoggingConfig struct {
	// Mode is "development" or "production".
	Mode string `koanf:"mode"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			CORSOrigins:    []string{"http://localhost:8081"},
			RequestTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
			URL:    "",
		},
		Recommend: RecommendConfig{
			Workers:     0,
			DefaultTopN: 5,
			MaxTopN:     100,
		},
		LLM: LLMConfig{
			GeminiModel: "gemini-1.5-flash",
			Timeout:     45 * time.Second,
		},
		Images: ImagesConfig{
			Dir:            "images",
			ThumbnailWidth: 400,
		},
		Logging: LoggingConfig{
			Mode: "development",
		},
	}
}

// Load builds the configuration: defaults, then the config file if one is
// found, then environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var envMappings = map[string]string{
	"http_addr":          "server.addr",
	"cors_origins":       "server.cors_origins",
	"request_timeout":    "server.request_timeout",
	"database_driver":    "database.driver",
	"database_url":       "database.url",
	"similarity_workers": "recommend.workers",
	"default_top_n":      "recommend.default_top_n",
	"max_top_n":          "recommend.max_top_n",
	"gemini_api_key":     "llm.gemini_api_key",
	"gemini_model":       "llm.gemini_model",
	"local_llm_url":      "llm.local_url",
	"local_llm_model":    "llm.local_model",
	"llm_timeout":        "llm.timeout",
	"images_dir":         "images.dir",
	"thumbnail_width":    "images.thumbnail_width",
	"log_mode":           "logging.mode",
}

// envTransformFunc maps known environment variables to config paths, e.g.
// DATABASE_URL -> database.url. Unknown variables are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated strings coming from the
// environment into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var trimmed []string
		for _, p := range strings.Split(strVal, ",") {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if len(c.Server.CORSOrigins) == 0 {
		errs = append(errs, errors.New("server.cors_origins must list at least one origin"))
	}
	if c.Recommend.Workers < 0 {
		errs = append(errs, errors.New("recommend.workers must not be negative"))
	}
	if c.Recommend.DefaultTopN < 1 {
		errs = append(errs, errors.New("recommend.default_top_n must be at least 1"))
	}
	if c.Recommend.MaxTopN < c.Recommend.DefaultTopN {
		errs = append(errs, errors.New("recommend.max_top_n must be at least recommend.default_top_n"))
	}
	if c.Images.ThumbnailWidth < 1 {
		errs = append(errs, errors.New("images.thumbnail_width must be positive"))
	}
	return errors.Join(errs...)
}
