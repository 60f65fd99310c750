package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the realtime session gateway.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Realtime model endpoint the transport adapter dials.
	RealtimeURL    string
	RealtimeAPIKey string
	RealtimeModel  string

	// Endpoint the session authenticator calls for a short-lived credential.
	CredentialURL string

	// Transport tuning.
	ConnectTimeout time.Duration
	PreferredCodec string

	// Conversation tuning.
	DefaultAgent          string
	TranscriptionLanguage string

	// Push-to-talk tuning.
	MinCaptureDuration  time.Duration
	CreateRetryDelay    time.Duration
	CaptureDumpDir      string
	CaptureSampleRateHz int

	SessionInactivityTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "wayfarer"),
		AllowAnyOrigin:   false,
		RealtimeURL:      envOrDefault("REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeAPIKey:   trimmedEnv("REALTIME_API_KEY"),
		RealtimeModel:    envOrDefault("REALTIME_MODEL", "gpt-realtime"),
		CredentialURL:    trimmedEnv("REALTIME_CREDENTIAL_URL"),
		// Opus is what browser callers negotiate; the endpoint falls back
		// silently when the requested codec is unavailable.
		PreferredCodec:           envOrDefault("REALTIME_PREFERRED_CODEC", "opus"),
		DefaultAgent:             envOrDefault("AGENT_DEFAULT", "concierge"),
		TranscriptionLanguage:    envOrDefault("TRANSCRIPTION_LANGUAGE", "en"),
		CaptureDumpDir:           trimmedEnv("PTT_CAPTURE_DUMP_DIR"),
		CaptureSampleRateHz:      16000,
		ConnectTimeout:           8 * time.Second,
		MinCaptureDuration:       150 * time.Millisecond,
		CreateRetryDelay:         250 * time.Millisecond,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		DatabaseURL:              trimmedEnv("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("REALTIME_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MinCaptureDuration, err = durationFromEnv("PTT_MIN_CAPTURE_DURATION", cfg.MinCaptureDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.CreateRetryDelay, err = durationFromEnv("PTT_CREATE_RETRY_DELAY", cfg.CreateRetryDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureSampleRateHz, err = intFromEnv("PTT_CAPTURE_SAMPLE_RATE_HZ", cfg.CaptureSampleRateHz)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("REALTIME_CONNECT_TIMEOUT must be positive")
	}
	if cfg.MinCaptureDuration < 0 {
		return Config{}, fmt.Errorf("PTT_MIN_CAPTURE_DURATION must not be negative")
	}
	if cfg.CreateRetryDelay <= 0 {
		return Config{}, fmt.Errorf("PTT_CREATE_RETRY_DELAY must be positive")
	}
	if cfg.CaptureSampleRateHz <= 0 {
		return Config{}, fmt.Errorf("PTT_CAPTURE_SAMPLE_RATE_HZ must be positive")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
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

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
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
	v := trimmedEnv(key)
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
	v := strings.ToLower(trimmedEnv(key))
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
