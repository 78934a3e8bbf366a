package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/vaultprobe/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills scheme defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Deployment.Scheme == "" {
		cfg.Deployment.Scheme = SchemeUnlimited
	}
	applyDefaults(&cfg, Defaults(cfg.Deployment.Scheme))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ForScheme returns a validated configuration for scheme against baseURL
// with every other setting at its default.
func ForScheme(scheme, baseURL string) (*AppConfig, error) {
	cfg := Defaults(scheme)
	cfg.Deployment.BaseURL = baseURL
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills every zero field of cfg from def.
func applyDefaults(cfg *AppConfig, def AppConfig) {
	d := &cfg.Deployment
	if d.Name == "" {
		d.Name = def.Deployment.Name
	}
	if d.Endpoints == (EndpointsConfig{}) {
		d.Endpoints = def.Deployment.Endpoints
	} else if d.Endpoints.Check == "" {
		d.Endpoints.Check = def.Deployment.Endpoints.Check
	}
	if d.TokenHeader == "" {
		d.TokenHeader = def.Deployment.TokenHeader
	}
	if d.SpoofAddress == nil {
		d.SpoofAddress = def.Deployment.SpoofAddress
	}
	if d.RotateSignature == nil {
		d.RotateSignature = def.Deployment.RotateSignature
	}
	if d.SessionBody == "" {
		d.SessionBody = def.Deployment.SessionBody
	}

	s := &cfg.Search
	if s.RetryCapPerCandidate == 0 {
		s.RetryCapPerCandidate = def.Search.RetryCapPerCandidate
	}
	if s.ProactiveRotationThreshold == nil {
		s.ProactiveRotationThreshold = def.Search.ProactiveRotationThreshold
	}
	if s.BaseDelay == 0 {
		s.BaseDelay = def.Search.BaseDelay
	}
	if s.ErrorRetryDelay == 0 {
		s.ErrorRetryDelay = def.Search.ErrorRetryDelay
	}
	if s.TokenErrorRetryDelay == 0 {
		s.TokenErrorRetryDelay = def.Search.TokenErrorRetryDelay
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = def.Search.RequestTimeout
	}
	if s.Direction == "" {
		s.Direction = def.Search.Direction
	}
	if s.RateLimitDefault == 0 {
		s.RateLimitDefault = def.Search.RateLimitDefault
	}
	if s.RateLimitMargin == 0 {
		s.RateLimitMargin = def.Search.RateLimitMargin
	}
	if s.MaxTokenFetchAttempts == 0 {
		s.MaxTokenFetchAttempts = def.Search.MaxTokenFetchAttempts
	}
	if s.TokenFetchRetryDelay == 0 {
		s.TokenFetchRetryDelay = def.Search.TokenFetchRetryDelay
	}
	if s.TokenRotationRounds == 0 {
		s.TokenRotationRounds = def.Search.TokenRotationRounds
	}
	if s.TokenRotationDelay == 0 {
		s.TokenRotationDelay = def.Search.TokenRotationDelay
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = def.Redis.TTL
	}
}

// Validate checks the configuration for values the search cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error
	d := c.Deployment
	s := c.Search

	switch d.Scheme {
	case SchemeUnlimited, SchemeLimited, SchemeAdvanced, SchemeQuantum:
	default:
		errs = append(errs, fmt.Errorf("deployment.scheme: unknown scheme %q", d.Scheme))
	}

	if u, err := url.Parse(d.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("deployment.base_url: %q is not an absolute URL", d.BaseURL))
	}
	if d.Endpoints.Check == "" {
		errs = append(errs, errors.New("deployment.endpoints.check is required"))
	}
	if (d.Scheme == SchemeAdvanced || d.Scheme == SchemeQuantum) && d.Endpoints.Session == "" {
		errs = append(errs, fmt.Errorf("deployment.endpoints.session is required for scheme %s", d.Scheme))
	}
	if d.Guarded() && d.TokenHeader == "" {
		errs = append(errs, errors.New("deployment.token_header is required with a session endpoint"))
	}
	if !d.Guarded() && (d.Endpoints.Rotate != "" || d.Endpoints.Inspect != "") {
		errs = append(errs, errors.New("deployment.endpoints.rotate/inspect need a session endpoint"))
	}

	if s.RetryCapPerCandidate <= 0 {
		errs = append(errs, errors.New("search.retry_cap_per_candidate must be positive"))
	}
	if s.ProactiveRotationThreshold != nil && *s.ProactiveRotationThreshold < 0 {
		errs = append(errs, errors.New("search.proactive_rotation_threshold must not be negative"))
	}
	if _, err := domain.ParseDirection(s.Direction); err != nil {
		errs = append(errs, fmt.Errorf("search.direction: %w", err))
	}
	if s.Start != nil && !domain.Candidate(*s.Start).Valid() {
		errs = append(errs, fmt.Errorf("search.start: %d outside [%s, %s]", *s.Start, domain.MinCandidate, domain.MaxCandidate))
	}
	if s.RequestTimeout <= 0 {
		errs = append(errs, errors.New("search.request_timeout must be positive"))
	}
	for name, v := range map[string]int64{
		"base_delay":              int64(s.BaseDelay),
		"error_retry_delay":       int64(s.ErrorRetryDelay),
		"token_error_retry_delay": int64(s.TokenErrorRetryDelay),
		"rate_limit_default":      int64(s.RateLimitDefault),
		"rate_limit_margin":       int64(s.RateLimitMargin),
		"token_fetch_retry_delay": int64(s.TokenFetchRetryDelay),
		"token_rotation_delay":    int64(s.TokenRotationDelay),
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("search.%s must not be negative", name))
		}
	}
	if s.MaxTokenFetchAttempts <= 0 || s.TokenRotationRounds <= 0 {
		errs = append(errs, errors.New("search.max_token_fetch_attempts and search.token_rotation_rounds must be positive"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics.port: %d out of range", c.Metrics.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
