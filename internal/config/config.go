package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the spoken-chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	AllowAnyOrigin bool

	// Completion backend (OpenAI-compatible /v1/chat/completions).
	LLMBaseURL      string
	LLMModel        string
	LLMAPIKey       string
	LLMDialAttempts int
	SystemPrompt    string
	ContextLimit    int

	// Synthesis backend (OpenAI-compatible /v1/audio/speech).
	TTSBaseURL string
	TTSModel   string
	TTSAPIKey  string
	TTSVoice   string
	TTSSpeed   float64

	// Segmentation thresholds; see internal/segment.
	MinChunkChars      int
	MaxChunkChars      int
	FirstChunkMinChars int
	FastStartDelay     time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "lector"),
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		ShutdownTimeout:  15 * time.Second,

		LLMBaseURL:      envOrDefault("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMModel:        envOrDefault("LLM_MODEL", "llama3"),
		LLMAPIKey:       stringsTrimSpace("LLM_API_KEY"),
		LLMDialAttempts: 3,
		SystemPrompt:    envOrDefault("LLM_SYSTEM_PROMPT", ""),
		ContextLimit:    40,

		TTSBaseURL: envOrDefault("TTS_BASE_URL", "http://localhost:8880/v1"),
		TTSModel:   envOrDefault("TTS_MODEL", "kokoro"),
		TTSAPIKey:  stringsTrimSpace("TTS_API_KEY"),
		TTSVoice:   envOrDefault("TTS_VOICE", "af_heart"),
		TTSSpeed:   1.0,

		MinChunkChars:      20,
		MaxChunkChars:      240,
		FirstChunkMinChars: 60,
		FastStartDelay:     350 * time.Millisecond,

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMDialAttempts, err = intFromEnv("LLM_DIAL_ATTEMPTS", cfg.LLMDialAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextLimit, err = intFromEnv("LLM_CONTEXT_LIMIT", cfg.ContextLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSSpeed, err = floatFromEnv("TTS_SPEED", cfg.TTSSpeed)
	if err != nil {
		return Config{}, err
	}
	cfg.MinChunkChars, err = intFromEnv("TTS_MIN_CHUNK_CHARS", cfg.MinChunkChars)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxChunkChars, err = intFromEnv("TTS_MAX_CHUNK_CHARS", cfg.MaxChunkChars)
	if err != nil {
		return Config{}, err
	}
	cfg.FirstChunkMinChars, err = intFromEnv("TTS_FIRST_CHUNK_MIN_CHARS", cfg.FirstChunkMinChars)
	if err != nil {
		return Config{}, err
	}
	cfg.FastStartDelay, err = durationFromEnv("TTS_FAST_START_DELAY", cfg.FastStartDelay)
	if err != nil {
		return Config{}, err
	}

	if cfg.MinChunkChars <= 0 {
		return Config{}, fmt.Errorf("TTS_MIN_CHUNK_CHARS must be positive")
	}
	if cfg.MaxChunkChars < cfg.MinChunkChars {
		return Config{}, fmt.Errorf("TTS_MAX_CHUNK_CHARS must be >= TTS_MIN_CHUNK_CHARS")
	}
	if cfg.FirstChunkMinChars < cfg.MinChunkChars {
		return Config{}, fmt.Errorf("TTS_FIRST_CHUNK_MIN_CHARS must be >= TTS_MIN_CHUNK_CHARS")
	}
	if cfg.FirstChunkMinChars > cfg.MaxChunkChars {
		return Config{}, fmt.Errorf("TTS_FIRST_CHUNK_MIN_CHARS must be <= TTS_MAX_CHUNK_CHARS")
	}
	if cfg.FastStartDelay <= 0 {
		return Config{}, fmt.Errorf("TTS_FAST_START_DELAY must be positive")
	}
	if cfg.TTSSpeed <= 0 {
		return Config{}, fmt.Errorf("TTS_SPEED must be positive")
	}
	if cfg.LLMDialAttempts <= 0 {
		return Config{}, fmt.Errorf("LLM_DIAL_ATTEMPTS must be positive")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("APP_LOG_LEVEL must be one of debug, info, warn, error")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
