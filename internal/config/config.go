// Package config loads process-wide settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Settings holds every configuration value a component in this module
// needs. It is read once at process start and passed by reference into
// every constructor; nothing reads the environment after Load returns.
type Settings struct {
	DatabaseURL string
	RedisURL    string

	ShoppingAPIKey        string
	OpenExchangeRatesKey  string
	DebugRetentionBucket  string // empty disables debug retention
	SerpAPIDebugSave      bool

	LLMEnabled                   bool
	OpenAIAPIKey                 string
	OpenAIBaseURL                string
	OpenAIModelParse             string
	LLMMaxCallsPerReconcile      int
	LLMMaxFractionPerReconcile   float64
	PatternSuggestMaxConcurrency int

	Verbose bool
}

// Load reads a local .env file if present (non-fatal if missing, matching
// the teacher's startup convention) and then populates Settings from the
// environment, applying the same defaults the original service shipped
// with.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{
		DatabaseURL:                  getEnv("DATABASE_URL", "postgres://localhost:5432/marketcompass?sslmode=disable"),
		RedisURL:                     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		ShoppingAPIKey:               getEnv("SHOPPING_API_KEY", ""),
		OpenExchangeRatesKey:         getEnv("OPENEXCHANGERATES_API_KEY", ""),
		DebugRetentionBucket:         getEnv("DEBUG_RETENTION_S3_BUCKET", ""),
		SerpAPIDebugSave:             getEnvBool("SERPAPI_DEBUG", false),
		LLMEnabled:                   getEnvBool("LLM_ENABLED", false),
		OpenAIAPIKey:                 getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:                getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModelParse:             getEnv("OPENAI_MODEL_PARSE", "gpt-5-mini"),
		LLMMaxCallsPerReconcile:      getEnvInt("LLM_MAX_CALLS_PER_RECONCILE", 50),
		LLMMaxFractionPerReconcile:   getEnvFloat("LLM_MAX_FRACTION_PER_RECONCILE", 0.2),
		PatternSuggestMaxConcurrency: getEnvInt("PATTERN_SUGGEST_MAX_CONCURRENCY", 2),
		Verbose:                      getEnvBool("VERBOSE", false),
	}

	if s.LLMMaxCallsPerReconcile < 0 || s.LLMMaxCallsPerReconcile > 5000 {
		return nil, fmt.Errorf("LLM_MAX_CALLS_PER_RECONCILE must be in [0,5000], got %d", s.LLMMaxCallsPerReconcile)
	}
	if s.LLMMaxFractionPerReconcile < 0 || s.LLMMaxFractionPerReconcile > 1 {
		return nil, fmt.Errorf("LLM_MAX_FRACTION_PER_RECONCILE must be in [0,1], got %f", s.LLMMaxFractionPerReconcile)
	}
	if s.PatternSuggestMaxConcurrency < 1 || s.PatternSuggestMaxConcurrency > 8 {
		return nil, fmt.Errorf("PATTERN_SUGGEST_MAX_CONCURRENCY must be in [1,8], got %d", s.PatternSuggestMaxConcurrency)
	}

	return s, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return f
}
