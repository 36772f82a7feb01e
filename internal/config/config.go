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
)

// Config contains all runtime settings for the voice chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	CORSOrigins      []string
	MaxUploadBytes   int64

	LogLevel  string
	LogFormat string

	VoiceProvider      string
	SarvamAPIKey       string
	SarvamBaseURL      string
	SarvamSTTModel     string
	SarvamTTSModel     string
	SarvamTTSSpeaker   string
	SarvamTimeout      time.Duration
	DefaultLanguage    string
	FFmpegPath         string
	TranscodeTimeout   time.Duration
	RequireCredentials bool

	CompletionProvider string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	OpenAISystemPrompt string
	OpenAITimeout      time.Duration
	ChatHistoryLimit   int

	DatabaseURL          string
	StoreTimeout         time.Duration
	PersistFailurePolicy string
}

// LoadDotEnv loads key=value pairs from path into the process environment.
// A missing file is not an error. Variables already set win over the file.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":5000"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "voicechat"),
		CORSOrigins:        listFromEnv("APP_CORS_ORIGINS", []string{"*"}),
		MaxUploadBytes:     25 << 20,
		LogLevel:           strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		VoiceProvider:      strings.ToLower(envOrDefault("VOICE_PROVIDER", "auto")),
		SarvamAPIKey:       strings.TrimSpace(os.Getenv("SARVAM_API_KEY")),
		SarvamBaseURL:      envOrDefault("SARVAM_BASE_URL", "https://api.sarvam.ai"),
		SarvamSTTModel:     envOrDefault("SARVAM_STT_MODEL", "saaras:v2"),
		SarvamTTSModel:     envOrDefault("SARVAM_TTS_MODEL", "bulbul:v2"),
		SarvamTTSSpeaker:   envOrDefault("SARVAM_TTS_SPEAKER", "anushka"),
		DefaultLanguage:    envOrDefault("DEFAULT_LANGUAGE_CODE", "en-IN"),
		FFmpegPath:         envOrDefault("FFMPEG_PATH", "ffmpeg"),
		CompletionProvider: strings.ToLower(envOrDefault("COMPLETION_PROVIDER", "auto")),
		OpenAIAPIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:      strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		OpenAIModel:        envOrDefault("OPENAI_MODEL", "gpt-4o"),
		OpenAISystemPrompt: envOrDefault("OPENAI_SYSTEM_PROMPT", "You are a helpful assistant."),
		ChatHistoryLimit:   10,
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		// Reference behavior: a failed mid-turn append does not stop the reply.
		PersistFailurePolicy: strings.ToLower(envOrDefault("PERSIST_FAILURE_POLICY", "continue")),
		ShutdownTimeout:      15 * time.Second,
		SarvamTimeout:        30 * time.Second,
		TranscodeTimeout:     30 * time.Second,
		OpenAITimeout:        60 * time.Second,
		StoreTimeout:         5 * time.Second,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SarvamTimeout, err = durationFromEnv("SARVAM_TIMEOUT", cfg.SarvamTimeout); err != nil {
		return Config{}, err
	}
	if cfg.TranscodeTimeout, err = durationFromEnv("TRANSCODE_TIMEOUT", cfg.TranscodeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.OpenAITimeout, err = durationFromEnv("OPENAI_TIMEOUT", cfg.OpenAITimeout); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = durationFromEnv("STORE_TIMEOUT", cfg.StoreTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ChatHistoryLimit, err = intFromEnv("CHAT_HISTORY_LIMIT", cfg.ChatHistoryLimit); err != nil {
		return Config{}, err
	}
	maxUpload, err := intFromEnv("APP_MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)
	if cfg.RequireCredentials, err = boolFromEnv("REQUIRE_CREDENTIALS", false); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for name, d := range map[string]time.Duration{
		"APP_SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
		"SARVAM_TIMEOUT":       c.SarvamTimeout,
		"TRANSCODE_TIMEOUT":    c.TranscodeTimeout,
		"OPENAI_TIMEOUT":       c.OpenAITimeout,
		"STORE_TIMEOUT":        c.StoreTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("APP_MAX_UPLOAD_BYTES must be positive")
	}
	if c.ChatHistoryLimit < 0 {
		return fmt.Errorf("CHAT_HISTORY_LIMIT must be >= 0")
	}
	switch c.VoiceProvider {
	case "auto", "sarvam", "mock":
	default:
		return fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|sarvam|mock)", c.VoiceProvider)
	}
	switch c.CompletionProvider {
	case "auto", "openai", "mock":
	default:
		return fmt.Errorf("invalid COMPLETION_PROVIDER: %q (expected auto|openai|mock)", c.CompletionProvider)
	}
	switch c.PersistFailurePolicy {
	case "continue", "abort":
	default:
		return fmt.Errorf("invalid PERSIST_FAILURE_POLICY: %q (expected continue|abort)", c.PersistFailurePolicy)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %q (expected json|text)", c.LogFormat)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.RequireCredentials {
		if c.VoiceProvider != "mock" && c.SarvamAPIKey == "" {
			return fmt.Errorf("SARVAM_API_KEY is required when REQUIRE_CREDENTIALS is set")
		}
		if c.CompletionProvider != "mock" && c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when REQUIRE_CREDENTIALS is set")
		}
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL parse error: %w", err)
	}
	return lvl, nil
}

// AbortOnPersistFailure reports whether an unapplied append ends the turn.
func (c Config) AbortOnPersistFailure() bool {
	return c.PersistFailurePolicy == "abort"
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func listFromEnv(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
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
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
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
