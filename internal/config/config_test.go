package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Empty or malformed values fall back to defaults.
	t.Setenv("FRONTEND_URL", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("GENERATION_API_KEY", "")
	t.Setenv("INSIGHT_CACHE_TTL", "not-a-duration")
	t.Setenv("NUDGE_COOLDOWN", "1h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, time.Hour, cfg.InsightCacheTTL)
	assert.Equal(t, time.Hour, cfg.NudgeCooldown)
	assert.False(t, cfg.GenerationEnabled())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadGenerationRetries(t *testing.T) {
	t.Setenv("GENERATION_MAX_RETRIES", "0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Generation.MaxRetries)

	t.Setenv("GENERATION_MAX_RETRIES", "-1")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FRONTEND_URL", "https://ritual.example.com")
	t.Setenv("DB_PATH", "/var/lib/ritual.db")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("MAX_REQUEST_BODY_SIZE", "2048")
	t.Setenv("INSIGHT_CACHE_TTL", "90m")
	t.Setenv("NUDGE_COOLDOWN", "600")
	t.Setenv("GENERATION_API_KEY", "sk-test")
	t.Setenv("GENERATION_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("GENERATION_MODEL", "llama3")
	t.Setenv("GENERATION_TIMEOUT", "5s")
	t.Setenv("GENERATION_MAX_PARALLEL", "3")
	t.Setenv("GENERATION_MAX_RETRIES", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxRequestBodySize)
	assert.Equal(t, 90*time.Minute, cfg.InsightCacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.NudgeCooldown)
	assert.Equal(t, GenerationConfig{
		APIKey:      "sk-test",
		BaseURL:     "http://localhost:11434/v1",
		Model:       "llama3",
		Timeout:     5 * time.Second,
		MaxParallel: 3,
		MaxRetries:  4,
	}, cfg.Generation)
	assert.True(t, cfg.GenerationEnabled())
	assert.False(t, cfg.IsDevelopment())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:               "8080",
			DBPath:             "x.db",
			MaxRequestBodySize: 1,
			InsightCacheTTL:    time.Hour,
			NudgeCooldown:      time.Hour,
			Generation:         GenerationConfig{Timeout: time.Second, MaxParallel: 1},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"empty port":        func(c *Config) { c.Port = "" },
		"empty db path":     func(c *Config) { c.DBPath = "" },
		"zero body size":    func(c *Config) { c.MaxRequestBodySize = 0 },
		"zero cache ttl":    func(c *Config) { c.InsightCacheTTL = 0 },
		"zero cooldown":     func(c *Config) { c.NudgeCooldown = 0 },
		"zero timeout":      func(c *Config) { c.Generation.Timeout = 0 },
		"zero max parallel": func(c *Config) { c.Generation.MaxParallel = 0 },
		"negative retries":  func(c *Config) { c.Generation.MaxRetries = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestGetEnvDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("X_DURATION", "soon")
	assert.Equal(t, time.Minute, getEnvDuration("X_DURATION", time.Minute))
}

func TestUserHeaderTrusted(t *testing.T) {
	tests := []struct {
		name        string
		frontendURL string
		trust       bool
		want        bool
	}{
		{"development", "http://localhost:3000", false, true},
		{"production", "https://ritual.example.com", false, false},
		{"production behind proxy", "https://ritual.example.com", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{FrontendURL: tt.frontendURL, TrustUserHeader: tt.trust}
			assert.Equal(t, tt.want, c.UserHeaderTrusted())
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("X_FLAG", "true")
	assert.True(t, getEnvBool("X_FLAG", false))
	t.Setenv("X_FLAG", "maybe")
	assert.False(t, getEnvBool("X_FLAG", false))
}
