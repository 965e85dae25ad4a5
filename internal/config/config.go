// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. TrustUserHeader honors
// X-User-ID outside development; set it only behind a proxy that
// authenticates callers and sets the header.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	AllowedOrigins     []string
	MaxRequestBodySize int64
	InsightCacheTTL    time.Duration
	NudgeCooldown      time.Duration
	TrustUserHeader    bool
	Generation         GenerationConfig
}

// GenerationConfig configures the text generation provider. An empty APIKey
// leaves generation unconfigured and every insight falls back to local text.
type GenerationConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxParallel int
	MaxRetries  int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/ritual.db"),
		AllowedOrigins:     getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		InsightCacheTTL:    getEnvDuration("INSIGHT_CACHE_TTL", time.Hour),
		NudgeCooldown:      getEnvDuration("NUDGE_COOLDOWN", time.Hour),
		TrustUserHeader:    getEnvBool("TRUST_USER_HEADER", false),
		Generation: GenerationConfig{
			APIKey:      getEnv("GENERATION_API_KEY", ""),
			BaseURL:     getEnv("GENERATION_BASE_URL", "https://api.openai.com/v1"),
			Model:       getEnv("GENERATION_MODEL", "gpt-4o-mini"),
			Timeout:     getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
			MaxParallel: getEnvInt("GENERATION_MAX_PARALLEL", 8),
			MaxRetries:  getEnvInt("GENERATION_MAX_RETRIES", 2),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.InsightCacheTTL <= 0 {
		return fmt.Errorf("INSIGHT_CACHE_TTL must be > 0")
	}
	if c.NudgeCooldown <= 0 {
		return fmt.Errorf("NUDGE_COOLDOWN must be > 0")
	}
	if c.Generation.Timeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	if c.Generation.MaxParallel <= 0 {
		return fmt.Errorf("GENERATION_MAX_PARALLEL must be > 0")
	}
	if c.Generation.MaxRetries < 0 {
		return fmt.Errorf("GENERATION_MAX_RETRIES must be >= 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// UserHeaderTrusted reports whether X-User-ID identifies callers.
func (c *Config) UserHeaderTrusted() bool {
	return c.IsDevelopment() || c.TrustUserHeader
}

// GenerationEnabled reports whether a generation provider is configured.
func (c *Config) GenerationEnabled() bool {
	return c.Generation.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90m") or a plain number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
