package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultInferenceURL = "https://inference.do-ai.run/v1/async-invoke"
	DefaultModelID      = "fal-ai/flux/schnell"
	DefaultOutputFormat = "landscape_4_3"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	ModelAccessKey   string
	InferenceURL     string
	ModelID          string
	OutputFormat     string
	PollInterval     time.Duration
	PollTimeout      time.Duration
	UpstreamTimeout  time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// A missing MODEL_ACCESS_KEY is not an error here; the generate handler reports it per request.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		ModelAccessKey:   strings.TrimSpace(os.Getenv("MODEL_ACCESS_KEY")),
		InferenceURL:     strings.TrimRight(getEnv("INFERENCE_API_URL", DefaultInferenceURL), "/"),
		ModelID:          getEnv("MODEL_ID", DefaultModelID),
		OutputFormat:     getEnv("OUTPUT_FORMAT", DefaultOutputFormat),
		PollInterval:     time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 3)),
		PollTimeout:      time.Second * time.Duration(getEnvInt("POLL_TIMEOUT_SECONDS", 120)),
		UpstreamTimeout:  time.Second * time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 30)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 150)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		AllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS"),
	}

	parsed, err := url.Parse(cfg.InferenceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("INFERENCE_API_URL must be an absolute http(s) url, got %q", cfg.InferenceURL)
	}

	// The server must not cut the response off while the poll loop is still running.
	if cfg.HTTPWriteTimeout <= cfg.PollTimeout {
		cfg.HTTPWriteTimeout = cfg.PollTimeout + 30*time.Second
	}

	return cfg, nil
}

// HasCredentials reports whether outbound calls can be authorized.
func (c *Config) HasCredentials() bool {
	return c.ModelAccessKey != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// getEnvInt only accepts positive integers; anything else yields the fallback.
func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
