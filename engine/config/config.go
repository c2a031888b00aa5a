// Package config resolves the engine's runtime configuration from the
// environment, with a .env file in the state directory applied first.
// Secrets for adapters and providers stay in the environment; components
// read them through Config and report domain.ErrConfigMissing when a
// required key is absent at the point of use.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for the engine.
type Config struct {
	Home       string
	DBPath     string
	LogLevel   string
	StatusAddr string

	SemanticDedup bool
	EmbedBackend  string
	OllamaAddr    string
	QdrantAddr    string

	NATSURL      string
	ReviewPoll   time.Duration
	GeminiKey    string
	AnthropicKey string
	SearchKey    string
	SearchCX     string
	OTLPEndpoint string

	XAPIKey            string
	XAPISecret         string
	XAccessToken       string
	XAccessTokenSecret string
}

// Load resolves the configuration. The state directory is created if absent
// and its .env file, when present, is loaded without overriding variables
// already set in the environment.
func Load() (Config, error) {
	home := envOr("SCOUTD_HOME", defaultHome())
	if err := os.MkdirAll(home, 0o755); err != nil {
		return Config{}, fmt.Errorf("config: create state dir: %w", err)
	}

	// Ignore a missing .env; it is optional.
	_ = godotenv.Load(filepath.Join(home, ".env"))

	cfg := Config{
		Home:       home,
		DBPath:     envOr("SCOUTD_DB_PATH", filepath.Join(home, "scoutd.db")),
		LogLevel:   envOr("SCOUTD_LOG_LEVEL", "info"),
		StatusAddr: envOr("SCOUTD_STATUS_ADDR", ":8390"),

		SemanticDedup: envBool("SCOUTD_SEMANTIC_DEDUP", true),
		EmbedBackend:  envOr("SCOUTD_EMBED_BACKEND", "ollama"),
		OllamaAddr:    envOr("SCOUTD_OLLAMA_ADDR", "http://localhost:11434"),
		QdrantAddr:    os.Getenv("SCOUTD_QDRANT_ADDR"),

		NATSURL:      os.Getenv("SCOUTD_NATS_URL"),
		ReviewPoll:   envDuration("SCOUTD_REVIEW_POLL", 60*time.Second),
		GeminiKey:    os.Getenv("GEMINI_API_KEY"),
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		SearchKey:    os.Getenv("GOOGLE_CSE_KEY"),
		SearchCX:     os.Getenv("GOOGLE_CSE_CX"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		XAPIKey:            os.Getenv("X_API_KEY"),
		XAPISecret:         os.Getenv("X_API_SECRET"),
		XAccessToken:       os.Getenv("X_ACCESS_TOKEN"),
		XAccessTokenSecret: os.Getenv("X_ACCESS_TOKEN_SECRET"),
	}

	if err := os.MkdirAll(cfg.LogDir(), 0o755); err != nil {
		return Config{}, fmt.Errorf("config: create log dir: %w", err)
	}
	return cfg, nil
}

// LogDir is the root for the application log and per-run scout logs.
func (c Config) LogDir() string { return filepath.Join(c.Home, "logs") }

// PIDPath is the scheduler's PID lock file.
func (c Config) PIDPath() string { return filepath.Join(c.Home, "scoutd.pid") }

// SlogLevel maps the configured level name to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scoutd"
	}
	return filepath.Join(home, ".scoutd")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
