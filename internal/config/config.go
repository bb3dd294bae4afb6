// Package config loads runtime settings from an optional YAML file, a .env
// file and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	HTTPAddress string   `yaml:"httpAddress"`
	LogLevel    string   `yaml:"logLevel"`
	Store       string   `yaml:"store"`
	Map         Map      `yaml:"map"`
	Sessions    Sessions `yaml:"sessions"`
}

// Map describes the tile layer handed to the browser.
type Map struct {
	TileURL    string   `yaml:"tileURL"`
	Subdomains []string `yaml:"subdomains"`
	MaxZoom    int      `yaml:"maxZoom"`
	Zoom       int      `yaml:"zoom"`
}

type Sessions struct {
	TTL             time.Duration `yaml:"ttl"`
	ReapInterval    time.Duration `yaml:"reapInterval"`
	EventsPerSecond float64       `yaml:"eventsPerSecond"`
	EventBurst      int           `yaml:"eventBurst"`
}

func Default() Config {
	return Config{
		HTTPAddress: ":8222",
		LogLevel:    "info",
		Store:       StoreSQLite,
		Map: Map{
			TileURL:    "http://{s}.google.com/vt/lyrs=m&x={x}&y={y}&z={z}",
			Subdomains: []string{"mt0", "mt1", "mt2", "mt3"},
			MaxZoom:    20,
			Zoom:       13,
		},
		Sessions: Sessions{
			TTL:             30 * time.Minute,
			ReapInterval:    time.Minute,
			EventsPerSecond: 20,
			EventBurst:      40,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), a .env file in the working directory if present, and
// MAPTY_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg.HTTPAddress = getEnv("MAPTY_HTTP_ADDRESS", cfg.HTTPAddress)
	cfg.LogLevel = getEnv("MAPTY_LOG_LEVEL", cfg.LogLevel)
	cfg.Store = getEnv("MAPTY_STORE", cfg.Store)
	cfg.Map.TileURL = getEnv("MAPTY_TILE_URL", cfg.Map.TileURL)
	if subdomains := getEnv("MAPTY_TILE_SUBDOMAINS", ""); subdomains != "" {
		cfg.Map.Subdomains = splitAndTrim(subdomains)
	}
	cfg.Map.MaxZoom = getIntEnv("MAPTY_MAX_ZOOM", cfg.Map.MaxZoom)
	cfg.Map.Zoom = getIntEnv("MAPTY_ZOOM", cfg.Map.Zoom)
	cfg.Sessions.TTL = getDurationEnv("MAPTY_SESSION_TTL", cfg.Sessions.TTL)
	cfg.Sessions.ReapInterval = getDurationEnv("MAPTY_SESSION_REAP_INTERVAL", cfg.Sessions.ReapInterval)
	cfg.Sessions.EventsPerSecond = getFloatEnv("MAPTY_EVENTS_PER_SECOND", cfg.Sessions.EventsPerSecond)
	cfg.Sessions.EventBurst = getIntEnv("MAPTY_EVENT_BURST", cfg.Sessions.EventBurst)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Store != StoreSQLite && c.Store != StoreMemory {
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Map.Zoom <= 0 || c.Map.MaxZoom < c.Map.Zoom {
		return fmt.Errorf("invalid zoom %d (max %d)", c.Map.Zoom, c.Map.MaxZoom)
	}
	if c.Sessions.TTL <= 0 || c.Sessions.ReapInterval <= 0 {
		return fmt.Errorf("session ttl and reap interval must be positive")
	}
	return nil
}

// Level maps LogLevel onto slog, defaulting to info.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
