package config

import (
	"strings"
	"time"

	redisclient "github.com/vietddude/vaultprobe/internal/infra/redis"
)

// Scheme names a deployment family. Each scheme selects a set of defaults.
const (
	SchemeUnlimited = "unlimited"
	SchemeLimited   = "limited"
	SchemeAdvanced  = "advanced"
	SchemeQuantum   = "quantum"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Deployment DeploymentConfig   `yaml:"deployment"`
	Search     SearchConfig       `yaml:"search"`
	Logging    LoggingConfig      `yaml:"logging"`
	Metrics    MetricsConfig      `yaml:"metrics"`
	Redis      redisclient.Config `yaml:"redis"`
}

// DeploymentConfig describes the guarded service.
type DeploymentConfig struct {
	Name            string          `yaml:"name"`
	BaseURL         string          `yaml:"base_url"`
	Scheme          string          `yaml:"scheme"`
	Endpoints       EndpointsConfig `yaml:"endpoints"`
	TokenHeader     string          `yaml:"token_header"`
	SpoofAddress    *bool           `yaml:"spoof_address"`
	RotateSignature *bool           `yaml:"rotate_signature"`
	SessionBody     string          `yaml:"session_body"`
}

// EndpointsConfig holds endpoint paths relative to BaseURL (absolute URLs are kept as is).
type EndpointsConfig struct {
	Check   string `yaml:"check"`
	Session string `yaml:"session"`
	Rotate  string `yaml:"rotate"`
	Inspect string `yaml:"inspect"`
	Vault   string `yaml:"vault"`
}

// SearchConfig holds the controller and token-lifecycle settings.
type SearchConfig struct {
	RetryCapPerCandidate       int           `yaml:"retry_cap_per_candidate"`
	ProactiveRotationThreshold *int          `yaml:"proactive_rotation_threshold"` // 0 = off
	BaseDelay                  time.Duration `yaml:"base_delay"`
	ErrorRetryDelay            time.Duration `yaml:"error_retry_delay"`
	TokenErrorRetryDelay       time.Duration `yaml:"token_error_retry_delay"`
	RequestTimeout             time.Duration `yaml:"request_timeout"`
	Direction                  string        `yaml:"direction"` // ascending, descending
	Start                      *int          `yaml:"start"`
	RateLimitDefault           time.Duration `yaml:"rate_limit_default"`
	RateLimitMargin            time.Duration `yaml:"rate_limit_margin"`
	MaxTokenFetchAttempts      int           `yaml:"max_token_fetch_attempts"`
	TokenFetchRetryDelay       time.Duration `yaml:"token_fetch_retry_delay"`
	TokenRotationRounds        int           `yaml:"token_rotation_rounds"`
	TokenRotationDelay         time.Duration `yaml:"token_rotation_delay"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig holds the /metrics and /health server settings.
type MetricsConfig struct {
	Port int `yaml:"port"` // 0 = disabled
}

// URL resolves an endpoint path against the base URL. Empty paths stay empty.
func (d DeploymentConfig) URL(path string) string {
	if path == "" {
		return ""
	}
	if strings.Contains(path, "://") {
		return path
	}
	return strings.TrimRight(d.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Guarded reports whether the deployment issues session tokens.
func (d DeploymentConfig) Guarded() bool {
	return d.Endpoints.Session != ""
}

// Defaults returns the configuration a scheme implies before any overrides.
func Defaults(scheme string) AppConfig {
	threshold := 0
	cfg := AppConfig{
		Deployment: DeploymentConfig{
			Name:            scheme,
			Scheme:          scheme,
			Endpoints:       EndpointsConfig{Check: "/api/vault"},
			SpoofAddress:    boolPtr(false),
			RotateSignature: boolPtr(false),
		},
		Search: SearchConfig{
			RetryCapPerCandidate:       3,
			ProactiveRotationThreshold: &threshold,
			BaseDelay:                  10 * time.Millisecond,
			ErrorRetryDelay:            3 * time.Second,
			TokenErrorRetryDelay:       10 * time.Second,
			RequestTimeout:             5 * time.Second,
			Direction:                  "ascending",
			RateLimitDefault:           60 * time.Second,
			RateLimitMargin:            2 * time.Second,
			MaxTokenFetchAttempts:      5,
			TokenFetchRetryDelay:       10 * time.Second,
			TokenRotationRounds:        3,
			TokenRotationDelay:         4 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Redis:   redisclient.Config{TTL: 24 * time.Hour},
	}

	switch scheme {
	case SchemeLimited:
		cfg.Deployment.SpoofAddress = boolPtr(true)
		cfg.Search.RateLimitDefault = 10 * time.Second

	case SchemeAdvanced:
		cfg.Deployment.Endpoints.Session = "/api/session"
		cfg.Deployment.TokenHeader = "X-Session-Token"
		cfg.Deployment.SessionBody = `{"success":true}`
		cfg.Deployment.SpoofAddress = boolPtr(true)
		cfg.Deployment.RotateSignature = boolPtr(true)
		cfg.Search.Direction = "descending"

	case SchemeQuantum:
		cfg.Deployment.Endpoints = EndpointsConfig{
			Check:   "/api/quantum-verify",
			Session: "/api/quantum-session",
			Rotate:  "/api/rotate-token",
			Inspect: "/api/inspect-token",
			Vault:   "/api/quantum-vault",
		}
		cfg.Deployment.TokenHeader = "X-Quantum-Token"
		cfg.Deployment.SpoofAddress = boolPtr(true)
		threshold = 2
		cfg.Search.BaseDelay = 50 * time.Millisecond
		cfg.Search.ErrorRetryDelay = 1500 * time.Millisecond
		cfg.Search.MaxTokenFetchAttempts = 9
		cfg.Search.TokenFetchRetryDelay = 60 * time.Second
	}
	return cfg
}

func boolPtr(b bool) *bool {
	return &b
}
