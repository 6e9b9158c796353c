package admission

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// ServerConfig is the environment-driven configuration for admissiond.
type ServerConfig struct {
	// Addr is the HTTP listen address.
	Addr string

	// Conferencing credential material.
	APIKey       string
	APISecret    string
	TransportURL string

	// TokenTTL bounds minted access tokens.
	TokenTTL time.Duration

	// SeedFile optionally preloads candidate round records (JSON array).
	SeedFile string

	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadServerConfigFromEnv() (ServerConfig, error) {
	cfg := ServerConfig{
		Addr:                envOr("ADMISSION_ADDR", ":8090"),
		APIKey:              envOr("LIVEKIT_API_KEY", ""),
		APISecret:           envOr("LIVEKIT_API_SECRET", ""),
		TransportURL:        envOr("LIVEKIT_URL", ""),
		TokenTTL:            envDurationOr("ADMISSION_TOKEN_TTL", 24*time.Hour),
		SeedFile:            envOr("ADMISSION_SEED_FILE", ""),
		ReadHeaderTimeout:   envDurationOr("ADMISSION_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("ADMISSION_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("ADMISSION_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.APIKey == "" {
		return ServerConfig{}, fmt.Errorf("LIVEKIT_API_KEY must be set")
	}
	if cfg.APISecret == "" {
		return ServerConfig{}, fmt.Errorf("LIVEKIT_API_SECRET must be set")
	}
	if cfg.TransportURL == "" {
		return ServerConfig{}, fmt.Errorf("LIVEKIT_URL must be set")
	}
	if cfg.TokenTTL <= 0 {
		return ServerConfig{}, fmt.Errorf("ADMISSION_TOKEN_TTL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return ServerConfig{}, fmt.Errorf("ADMISSION_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return ServerConfig{}, fmt.Errorf("ADMISSION_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return ServerConfig{}, fmt.Errorf("ADMISSION_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
