package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EmbedBackendONNX    = "onnx"
	EmbedBackendHashing = "hashing"
)

type Config struct {
	APIPort  string
	LogLevel string

	IndexPath  string
	ChunksPath string

	EmbedBackend    string
	EmbedModelPath  string
	EmbedModelRepo  string
	EmbedModelName  string
	EmbedDimensions int
	EmbedCacheSize  int
	ModelCacheDir   string
	ORTLibraryPath  string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAITimeout time.Duration
	PromptsPath   string

	ClassifierModel     string
	ClassifierMaxTokens int

	GeneratorModel       string
	GeneratorTemperature float64
	GeneratorMaxTokens   int

	RAGTopK int

	APIRateLimitRPS     float64
	APIRateLimitBurst   int
	APIMaxInFlight      int
	APIBackpressureWait time.Duration
	APIKey              string

	BreakerEnabled      bool
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		IndexPath:  mustEnv("INDEX_PATH", "./vector_dbs/memorization_vdb"),
		ChunksPath: mustEnv("CHUNKS_PATH", "./vector_dbs/chunks.json"),

		EmbedBackend:    strings.ToLower(mustEnv("EMBED_BACKEND", EmbedBackendONNX)),
		EmbedModelPath:  mustEnv("EMBED_MODEL_PATH", "./models/sentence-transformers_all-MiniLM-L6-v2"),
		EmbedModelRepo:  mustEnv("EMBED_MODEL_REPO", "sentence-transformers/all-MiniLM-L6-v2"),
		EmbedModelName:  mustEnv("EMBED_MODEL_NAME", "all-MiniLM-L6-v2"),
		EmbedDimensions: mustEnvInt("EMBED_DIMENSIONS", 384),
		EmbedCacheSize:  mustEnvInt("EMBED_CACHE_SIZE", 1024),
		ModelCacheDir:   mustEnv("MODEL_CACHE_DIR", "./models"),
		ORTLibraryPath:  mustEnv("ORT_LIBRARY_PATH", ""),

		OpenAIAPIKey:  mustEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: mustEnv("OPENAI_BASE_URL", ""),
		OpenAITimeout: mustEnvDuration("OPENAI_TIMEOUT", 60*time.Second),
		PromptsPath:   mustEnv("PROMPTS_PATH", ""),

		ClassifierModel:     mustEnv("CLASSIFIER_MODEL", "gpt-4o-mini"),
		ClassifierMaxTokens: mustEnvInt("CLASSIFIER_MAX_TOKENS", 10),

		GeneratorModel:       mustEnv("GENERATOR_MODEL", "gpt-4-turbo"),
		GeneratorTemperature: mustEnvFloat("GENERATOR_TEMPERATURE", 0.3),
		GeneratorMaxTokens:   mustEnvInt("GENERATOR_MAX_TOKENS", 600),

		RAGTopK: mustEnvInt("RAG_TOP_K", 5),

		APIRateLimitRPS:     mustEnvFloat("API_RATE_LIMIT_RPS", 10),
		APIRateLimitBurst:   mustEnvInt("API_RATE_LIMIT_BURST", 20),
		APIMaxInFlight:      mustEnvInt("API_MAX_IN_FLIGHT", 16),
		APIBackpressureWait: mustEnvDuration("API_BACKPRESSURE_WAIT", 250*time.Millisecond),
		APIKey:              mustEnv("API_KEY", ""),

		BreakerEnabled:      mustEnvBool("BREAKER_ENABLED", true),
		BreakerMinRequests:  mustEnvInt("BREAKER_MIN_REQUESTS", 5),
		BreakerFailureRatio: mustEnvFloat("BREAKER_FAILURE_RATIO", 0.6),
		BreakerOpenTimeout:  mustEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
	}
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.RAGTopK <= 0 {
		errs = append(errs, fmt.Errorf("RAG_TOP_K must be positive, got %d", c.RAGTopK))
	}
	if c.EmbedDimensions <= 0 {
		errs = append(errs, fmt.Errorf("EMBED_DIMENSIONS must be positive, got %d", c.EmbedDimensions))
	}
	if c.GeneratorTemperature <= 0 || c.GeneratorTemperature > 2 {
		errs = append(errs, fmt.Errorf("GENERATOR_TEMPERATURE must be in (0, 2], got %g", c.GeneratorTemperature))
	}
	if c.GeneratorMaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("GENERATOR_MAX_TOKENS must be positive, got %d", c.GeneratorMaxTokens))
	}
	if c.EmbedBackend != EmbedBackendONNX && c.EmbedBackend != EmbedBackendHashing {
		errs = append(errs, fmt.Errorf("EMBED_BACKEND must be %q or %q, got %q", EmbedBackendONNX, EmbedBackendHashing, c.EmbedBackend))
	}
	if strings.TrimSpace(c.IndexPath) == "" || strings.TrimSpace(c.ChunksPath) == "" {
		errs = append(errs, errors.New("INDEX_PATH and CHUNKS_PATH are required"))
	}
	return errors.Join(errs...)
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
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
