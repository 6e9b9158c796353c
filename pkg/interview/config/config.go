// Package config loads the interview daemon configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// AdmissionBaseURL is the credential and completion service.
	AdmissionBaseURL string
	// AgentURL is the voice-agent websocket endpoint.
	AgentURL string
	// AgentCredential authenticates the voice-agent session.
	AgentCredential string

	// MetricsAddr serves Prometheus metrics; empty disables the listener.
	MetricsAddr string

	// Agent session shape.
	AgentModel string
	AgentVoice string

	// Capture profile.
	CaptureWidth     int
	CaptureHeight    int
	CaptureFrameRate int

	// Readiness pacing.
	SettleDelay    time.Duration
	Fallback       time.Duration
	AutoStartDelay time.Duration

	// Voice bridge.
	BridgeTrackName string
	BridgeLabel     string

	// Operational defaults.
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		AdmissionBaseURL:    envOr("INTERVIEW_ADMISSION_URL", ""),
		AgentURL:            envOr("INTERVIEW_AGENT_URL", ""),
		AgentCredential:     envOr("INTERVIEW_AGENT_CREDENTIAL", ""),
		MetricsAddr:         envOr("INTERVIEW_METRICS_ADDR", ""),
		AgentModel:          envOr("INTERVIEW_AGENT_MODEL", "gpt-4o-mini"),
		AgentVoice:          envOr("INTERVIEW_AGENT_VOICE", "11labs"),
		CaptureWidth:        envIntOr("INTERVIEW_CAPTURE_WIDTH", 1280),
		CaptureHeight:       envIntOr("INTERVIEW_CAPTURE_HEIGHT", 720),
		CaptureFrameRate:    envIntOr("INTERVIEW_CAPTURE_FPS", 30),
		SettleDelay:         envDurationOr("INTERVIEW_SETTLE_DELAY", 1500*time.Millisecond),
		Fallback:            envDurationOr("INTERVIEW_READINESS_FALLBACK", 10*time.Second),
		AutoStartDelay:      envDurationOr("INTERVIEW_AUTO_START_DELAY", time.Second),
		BridgeTrackName:     envOr("INTERVIEW_BRIDGE_TRACK_NAME", "ai_interviewer_voice"),
		BridgeLabel:         envOr("INTERVIEW_BRIDGE_LABEL", "ai_interviewer"),
		ShutdownGracePeriod: envDurationOr("INTERVIEW_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if strings.TrimSpace(cfg.AdmissionBaseURL) == "" {
		return Config{}, fmt.Errorf("INTERVIEW_ADMISSION_URL must be set")
	}
	if cfg.CaptureWidth <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_CAPTURE_WIDTH must be > 0")
	}
	if cfg.CaptureHeight <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_CAPTURE_HEIGHT must be > 0")
	}
	if cfg.CaptureFrameRate <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_CAPTURE_FPS must be > 0")
	}
	if cfg.SettleDelay <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_SETTLE_DELAY must be > 0")
	}
	if cfg.Fallback <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_READINESS_FALLBACK must be > 0")
	}
	if cfg.Fallback <= cfg.SettleDelay {
		return Config{}, fmt.Errorf("INTERVIEW_READINESS_FALLBACK must be > INTERVIEW_SETTLE_DELAY")
	}
	if cfg.AutoStartDelay <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_AUTO_START_DELAY must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_SHUTDOWN_GRACE_PERIOD must be > 0")
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

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
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
